package dialogue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/resilience"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

// maxHistory bounds how many prior utterances are sent as context
const maxHistory = 20

// OpenAI generates replies with a chat completion model
type OpenAI struct {
	client       *openai.Client
	model        string
	systemPrompt string
	retry        *resilience.RetryConfig
	logger       zerolog.Logger
}

// NewOpenAI creates a chat-completion responder
func NewOpenAI(cfg *config.Config) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.OpenAIModel,
		systemPrompt: cfg.SystemPrompt,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.WithComponent(observability.GetLogger(), "openai"),
	}
}

// Reply implements Responder
func (o *OpenAI) Reply(ctx context.Context, history []transcript.Utterance, text string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.messages(history, text),
	}

	var reply string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if transient(err) {
				return resilience.NewRetryableError(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return resilience.Permanent(errors.New("no choices in completion"))
		}
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
		if reply == "" {
			return resilience.Permanent(errors.New("empty completion"))
		}
		return nil
	}, o.retry, resilience.IsRetryable)
	if err != nil {
		o.logger.Warn().Err(err).Str("model", o.model).Msg("Chat completion failed")
		return "", voiceerr.New(voiceerr.Dialogue, "dialogue.reply", fmt.Errorf("chat completion: %w", err))
	}

	o.logger.Debug().Int("history", len(history)).Int("chars", len(reply)).Msg("Generated reply")
	return reply, nil
}

func (o *OpenAI) messages(history []transcript.Utterance, text string) []openai.ChatCompletionMessage {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if o.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	}
	for _, u := range history {
		role := openai.ChatMessageRoleUser
		if u.Speaker == transcript.Assistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: u.Text})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
}

// transient reports transport failures, rate limits and server errors
func transient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return resilience.IsRetryableNetworkError(err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

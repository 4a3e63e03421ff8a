package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

// messageCallbackHandler embeds the SDK's default handler and overrides
// only the events the recognizer consumes
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	recognizer *DeepgramRecognizer
}

func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	m.recognizer.handleMessage(msg)
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	m.recognizer.flush()
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.recognizer.handleError(errorResponse)
	return nil
}

func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	m.recognizer.handleClose()
	return nil
}

// DeepgramRecognizer streams linear16 audio to Deepgram's live API
type DeepgramRecognizer struct {
	config *config.Config
	logger zerolog.Logger

	mu       sync.Mutex
	client   *listenClient.WSCallback
	events   RecognizerEvents
	segments []string
	ended    bool
}

// NewDeepgramFactory returns a factory that reports an unsupported
// environment when no Deepgram key is configured
func NewDeepgramFactory(cfg *config.Config) RecognizerFactory {
	return func() (Recognizer, error) {
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("deepgram api key not configured: %w", voiceerr.ErrUnsupported)
		}
		return NewDeepgramRecognizer(cfg), nil
	}
}

// NewDeepgramRecognizer creates a recognizer; Start opens the stream
func NewDeepgramRecognizer(cfg *config.Config) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		config: cfg,
		logger: observability.WithComponent(observability.GetLogger(), "deepgram"),
	}
}

// Start implements Recognizer
func (d *DeepgramRecognizer) Start(ctx context.Context, events RecognizerEvents) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return fmt.Errorf("deepgram recognizer is already started")
	}
	d.events = events

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.config.CaptureSampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		recognizer:             d,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.config.DeepgramAPIKey, nil, tOptions, callback)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return fmt.Errorf("failed to connect to Deepgram")
	}
	d.client = client

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Int("sample_rate", d.config.CaptureSampleRate).
		Msg("Deepgram streaming recognizer started")
	return nil
}

// handleMessage turns Deepgram results into interim and final events.
// is_final segments accumulate until speech_final or UtteranceEnd.
func (d *DeepgramRecognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]

	d.mu.Lock()
	events := d.events
	if !msg.IsFinal {
		partial := strings.TrimSpace(strings.Join(append(append([]string{}, d.segments...), alt.Transcript), " "))
		d.mu.Unlock()
		if partial != "" && events.OnResult != nil {
			events.OnResult(partial, false)
		}
		return
	}

	if alt.Transcript != "" {
		d.segments = append(d.segments, alt.Transcript)
	}
	d.mu.Unlock()

	d.logger.Debug().
		Str("text", alt.Transcript).
		Float64("confidence", alt.Confidence).
		Bool("speech_final", msg.SpeechFinal).
		Msg("Deepgram final segment")

	if msg.SpeechFinal {
		d.flush()
	}
}

func (d *DeepgramRecognizer) flush() {
	d.mu.Lock()
	text := strings.TrimSpace(strings.Join(d.segments, " "))
	d.segments = nil
	events := d.events
	d.mu.Unlock()

	if text != "" && events.OnResult != nil {
		events.OnResult(text, true)
	}
}

func (d *DeepgramRecognizer) handleError(errorResponse *msginterfaces.ErrorResponse) {
	d.mu.Lock()
	events := d.events
	d.mu.Unlock()

	d.logger.Error().Msgf("Deepgram error: %+v", errorResponse)
	if events.OnError != nil {
		events.OnError(fmt.Errorf("deepgram error: %+v", errorResponse))
	}
}

func (d *DeepgramRecognizer) handleClose() {
	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		return
	}
	d.ended = true
	events := d.events
	d.mu.Unlock()

	if events.OnEnd != nil {
		events.OnEnd()
	}
}

// Write implements Recognizer
func (d *DeepgramRecognizer) Write(pcm []byte) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return fmt.Errorf("deepgram recognizer is not started")
	}
	if _, err := client.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// Stop implements Recognizer
func (d *DeepgramRecognizer) Stop() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.ended = true
	d.mu.Unlock()

	if client != nil {
		client.Finish()
		d.logger.Info().Msg("Deepgram streaming recognizer stopped")
	}
	return nil
}

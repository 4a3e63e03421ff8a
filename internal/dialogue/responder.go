package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
)

// Responder decides what the assistant says next. history holds the
// utterances before text, oldest first.
type Responder interface {
	Reply(ctx context.Context, history []transcript.Utterance, text string) (string, error)
}

// Echo answers every utterance with a fixed sentence built from Template
type Echo struct {
	Template string
}

// NewEcho creates an echo responder. The template may contain one %s.
func NewEcho(template string) *Echo {
	return &Echo{Template: template}
}

// Reply implements Responder
func (e *Echo) Reply(ctx context.Context, history []transcript.Utterance, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.Contains(e.Template, "%s") {
		return e.Template, nil
	}
	return fmt.Sprintf(e.Template, text), nil
}

// New picks the OpenAI responder when a key is configured, else Echo
func New(cfg *config.Config) Responder {
	if cfg.OpenAIAPIKey != "" {
		return NewOpenAI(cfg)
	}
	return NewEcho(cfg.EchoReply)
}

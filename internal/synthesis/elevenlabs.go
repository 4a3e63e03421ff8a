package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/resilience"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

const op = "synthesis.synthesize"

// ErrBusy is returned when a second request is issued while one is in flight
var ErrBusy = errors.New("synthesis request already in flight")

// Client calls the ElevenLabs text-to-speech REST API. It allows a single
// request in flight and never retries.
type Client struct {
	endpoint       string
	apiKey         string
	modelID        string
	format         Format
	settings       VoiceSettings
	timeout        time.Duration
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger

	mu       sync.Mutex
	inFlight bool
}

// NewClient creates a new ElevenLabs client
func NewClient(cfg *config.Config) (*Client, error) {
	format, err := ParseFormat(cfg.ElevenLabsOutputFormat)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(cfg.ElevenLabsBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ElevenLabs base URL: %w", err)
	}
	endpoint := base.JoinPath("v1", "text-to-speech", cfg.ElevenLabsVoiceID)
	q := endpoint.Query()
	q.Set("output_format", format.String())
	endpoint.RawQuery = q.Encode()

	return &Client{
		endpoint: endpoint.String(),
		apiKey:   cfg.ElevenLabsAPIKey,
		modelID:  cfg.ElevenLabsModelID,
		format:   format,
		settings: VoiceSettings{
			Stability:       cfg.VoiceStability,
			SimilarityBoost: cfg.VoiceSimilarityBoost,
			Style:           cfg.VoiceStyle,
			SpeakerBoost:    cfg.VoiceSpeakerBoost,
		},
		timeout:    cfg.SynthesisTimeout(),
		httpClient: &http.Client{},
		circuitBreaker: resilience.NewCircuitBreaker(
			"elevenlabs",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.WithComponent(observability.GetLogger(), "elevenlabs"),
	}, nil
}

// Format returns the audio format the client requests
func (c *Client) Format() Format {
	return c.format
}

// Synthesize converts text to audio. Failures are *voiceerr.Error of kind
// Synthesis with the HTTP status (0 for transport errors).
func (c *Client) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, voiceerr.WithStatus(op, 0, errors.New("empty text"))
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, voiceerr.WithStatus(op, 0, ErrBusy)
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var result *Audio
	var callErr error
	err := c.circuitBreaker.Call(func() error {
		result, callErr = c.do(ctx, text)
		// Cancellation is the caller's choice, not a service failure
		if callErr != nil && errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, voiceerr.WithStatus(op, 0, err)
	}
	if callErr != nil {
		return nil, callErr
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, text string) (*Audio, error) {
	body, err := json.Marshal(Request{
		Text:          text,
		ModelID:       c.modelID,
		VoiceSettings: c.settings,
	})
	if err != nil {
		return nil, voiceerr.WithStatus(op, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, voiceerr.WithStatus(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)
	if c.format.Codec == CodecMP3 {
		req.Header.Set("Accept", "audio/mpeg")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, voiceerr.WithStatus(op, 0, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("detail", strings.TrimSpace(string(detail))).
			Msg("ElevenLabs request failed")
		return nil, voiceerr.WithStatus(op, resp.StatusCode, fmt.Errorf("elevenlabs API returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, voiceerr.WithStatus(op, 0, fmt.Errorf("failed to read audio: %w", err))
	}
	if len(data) == 0 {
		return nil, voiceerr.WithStatus(op, resp.StatusCode, errors.New("elevenlabs returned empty audio"))
	}

	c.logger.Debug().
		Int("bytes", len(data)).
		Int("chars", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Synthesized speech")

	return &Audio{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Format:      c.format,
		Text:        text,
	}, nil
}

// HealthCheck reports unhealthy while the circuit breaker is open
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if c.apiKey == "" {
		return false, errors.New("elevenlabs api key not configured")
	}
	state, requests, failures, rate := c.circuitBreaker.GetStats()
	if state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %d of %d requests failed (%.0f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
	}
	return true, nil
}

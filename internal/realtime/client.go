// Package realtime is a call-style client for a hosted voice agent. The agent
// does its own recognition and synthesis; the client relays microphone audio
// up and assistant audio, speech and message events down.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/audio"
	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

const connectTimeout = 15 * time.Second

// Event types sent by the agent
const (
	EventCallStart   = "call-start"
	EventCallEnd     = "call-end"
	EventSpeechStart = "speech-start"
	EventSpeechEnd   = "speech-end"
	EventMessage     = "message"
	EventError       = "error"
)

var (
	ErrNotStarted     = errors.New("call not started")
	ErrAlreadyStarted = errors.New("call already started")
	ErrStopped        = errors.New("call stopped while connecting")
)

// Message is a JSON frame in either direction
type Message struct {
	Type        string `json:"type"`
	AssistantID string `json:"assistantId,omitempty"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Handlers receive agent events on the read goroutine. Any field may be nil.
// A handler must not call Stop.
type Handlers struct {
	OnCallStart   func()
	OnCallEnd     func()
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnMessage     func(role, text string, final bool)
	OnError       func(err error)
	// OnAudio receives assistant PCM16 audio scaled by the current volume
	OnAudio func(pcm []byte)
}

// Client holds at most one call
type Client struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	dial    *pendingDial
	volume  float64
	closing bool
	ended   bool
	done    chan struct{}

	writeMu sync.Mutex
}

// pendingDial is a Start still connecting. Stop cancels it.
type pendingDial struct {
	cancel  context.CancelFunc
	stopped bool
}

// NewClient creates a client for the agent at url (ws:// or wss://)
func NewClient(url, apiKey string) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		dialer: websocket.DefaultDialer,
		logger: observability.WithComponent(observability.GetLogger(), "realtime"),
		volume: 1,
	}
}

// NewClientFromConfig reads the agent URL and key from cfg
func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.RealtimeURL, cfg.RealtimeAPIKey)
}

// Start dials the agent and requests a call with assistantID. call-start
// arrives through the handlers once the agent accepts.
func (c *Client) Start(ctx context.Context, assistantID string, h Handlers) error {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		dialCtx, cancelTimeout = context.WithTimeout(dialCtx, connectTimeout)
		defer cancelTimeout()
	}

	c.mu.Lock()
	if c.conn != nil || c.dial != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	dial := &pendingDial{cancel: cancel}
	c.dial = dial
	c.mu.Unlock()

	conn, err := c.connect(dialCtx, assistantID)

	c.mu.Lock()
	c.dial = nil
	if dial.stopped {
		if conn != nil {
			_ = conn.Close()
		}
		err = ErrStopped
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.conn = conn
	c.closing = false
	c.ended = false
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, h, done)
	c.logger.Info().Str("assistant_id", assistantID).Msg("Voice agent call requested")
	return nil
}

func (c *Client) connect(ctx context.Context, assistantID string) (*websocket.Conn, error) {
	headers := make(http.Header)
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, voiceerr.New(voiceerr.Capability, "realtime.start", err)
	}
	if err := conn.WriteJSON(Message{Type: "start", AssistantID: assistantID}); err != nil {
		_ = conn.Close()
		return nil, voiceerr.New(voiceerr.Capability, "realtime.start", fmt.Errorf("send start: %w", err))
	}
	return conn, nil
}

// Send injects a text message into the call
func (c *Client) Send(text string) error {
	return c.writeJSON(Message{Type: "send", Role: "user", Text: text})
}

// SendAudio streams microphone PCM16 audio to the agent
func (c *Client) SendAudio(pcm []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// SetVolume scales assistant audio, clamped to [0, 1]
func (c *Client) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

// Volume returns the current playback gain
func (c *Client) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Stop hangs up and waits for the read loop to finish. call-end is
// delivered once. A Start still connecting is abandoned and returns
// ErrStopped.
func (c *Client) Stop() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		if c.dial != nil {
			c.dial.stopped = true
			c.dial.cancel()
		}
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteJSON(Message{Type: "stop"})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	<-done

	c.logger.Info().Msg("Voice agent call stopped")
	return nil
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closing {
		return nil, ErrNotStarted
	}
	return c.conn, nil
}

func (c *Client) writeJSON(v any) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn, h Handlers, done chan struct{}) {
	defer close(done)
	defer c.end(conn, h)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Voice agent connection lost")
				if h.OnError != nil {
					h.OnError(voiceerr.New(voiceerr.Capability, "realtime.read", err))
				}
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn().Err(err).Msg("Ignoring malformed agent frame")
				continue
			}
			if msg.Type == EventCallEnd {
				return
			}
			c.dispatch(msg, h)
		case websocket.BinaryMessage:
			if h.OnAudio != nil {
				h.OnAudio(audio.ApplyGain(data, c.Volume()))
			}
		}
	}
}

func (c *Client) dispatch(msg Message, h Handlers) {
	switch msg.Type {
	case EventCallStart:
		if h.OnCallStart != nil {
			h.OnCallStart()
		}
	case EventSpeechStart:
		if h.OnSpeechStart != nil {
			h.OnSpeechStart()
		}
	case EventSpeechEnd:
		if h.OnSpeechEnd != nil {
			h.OnSpeechEnd()
		}
	case EventMessage:
		if h.OnMessage != nil {
			h.OnMessage(msg.Role, msg.Text, msg.Final)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(voiceerr.New(voiceerr.Dialogue, "realtime.agent", errors.New(msg.Error)))
		}
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown agent event")
	}
}

// end releases the connection and reports call-end once
func (c *Client) end(conn *websocket.Conn, h Handlers) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	fire := !c.ended
	c.ended = true
	c.mu.Unlock()

	if fire && h.OnCallEnd != nil {
		h.OnCallEnd()
	}
}

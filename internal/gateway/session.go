// Package gateway serves voice tutoring sessions to browsers over a
// websocket. Each connection owns one engine: microphone audio and control
// commands flow in, assistant audio, whiteboard draw operations, waveform
// frames and conversation events flow out.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/capture"
	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/conversation"
	"github.com/chakravyuh/voice-tutor/internal/dialogue"
	"github.com/chakravyuh/voice-tutor/internal/engine"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/playback"
	"github.com/chakravyuh/voice-tutor/internal/realtime"
	"github.com/chakravyuh/voice-tutor/internal/synthesis"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

const (
	defaultCols = 60
	writeWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Browsers connect from the tutor page's own origin or a dev server
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Backend supplies the per-session pipeline pieces
type Backend struct {
	Recognizers capture.RecognizerFactory
	Synthesizer conversation.Synthesizer
	Responder   dialogue.Responder
	// NewCall, when set, routes sessions through a hosted voice agent
	// instead of the local pipeline
	NewCall func() engine.Caller
}

// NewBackend builds the production backend from cfg
func NewBackend(cfg *config.Config) (Backend, error) {
	synth, err := synthesis.NewClient(cfg)
	if err != nil {
		return Backend{}, err
	}
	b := Backend{
		Recognizers: capture.NewDeepgramFactory(cfg),
		Synthesizer: synth,
		Responder:   dialogue.New(cfg),
	}
	if cfg.RealtimeURL != "" {
		b.NewCall = func() engine.Caller { return realtime.NewClientFromConfig(cfg) }
	}
	return b, nil
}

// Checks returns readiness probes for the backend pieces that support them
func (b Backend) Checks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{}
	if hc, ok := b.Synthesizer.(interface {
		HealthCheck(ctx context.Context) (bool, error)
	}); ok {
		checks["elevenlabs"] = hc.HealthCheck
	}
	return checks
}

// driver is the session surface shared by engine.Engine and engine.Agent
type driver interface {
	StartSession(ctx context.Context) error
	EndSession()
	ToggleMute() bool
	Resize()
}

// Session is one browser connection
type Session struct {
	conn   *websocket.Conn
	id     string
	logger zerolog.Logger

	writeMu sync.Mutex

	canvas *whiteboard.RecordingCanvas
	driver driver

	// local pipeline only
	adapter *capture.Adapter
	player  *playback.Manager
	sink    *playback.PacedSink

	// hosted agent only
	agent *engine.Agent
}

// HandleVoiceWS is the entry point for browser voice connections
func HandleVoiceWS(cfg *config.Config, backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		s := NewSession(conn, cfg, backend)
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("Voice connection established")
		s.Run(r.Context())
		s.logger.Info().Msg("Voice connection closed")
	}
}

// NewSession wires a connection to a fresh engine or agent
func NewSession(conn *websocket.Conn, cfg *config.Config, backend Backend) *Session {
	id := observability.NewSessionID()
	s := &Session{
		conn:   conn,
		id:     id,
		logger: observability.WithComponent(observability.WithSession(id), "gateway"),
		canvas: whiteboard.NewRecordingCanvas(defaultCols, 1, 1),
	}
	s.canvas.SetListener(func(op whiteboard.Op) {
		s.send(Event{Type: EventWhiteboard, Op: &op})
	})

	display := engine.DisplayFromConfig(cfg, s.canvas, surface{s})
	if backend.NewCall != nil {
		s.agent = engine.NewAgent(backend.NewCall(), cfg.RealtimeAssistantID, display, s.host(), func(pcm []byte) {
			if err := s.writeAudio(pcm); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to send agent audio")
			}
		})
		s.driver = s.agent
		return s
	}

	s.adapter = capture.NewAdapter(backend.Recognizers, cfg)
	s.adapter.SetLogger(s.logger)
	s.sink = playback.NewPacedSink(cfg.PlaybackSampleRate, time.Duration(cfg.PlaybackFrameMs)*time.Millisecond, s.writeAudio)
	s.player = playback.NewManager(s.sink, nil)
	s.driver = engine.New(conversation.Deps{
		Capture:     s.adapter,
		Synthesizer: backend.Synthesizer,
		Player:      s.player,
		Responder:   backend.Responder,
	}, display, s.host())
	return s
}

// Run serves the connection until the browser goes away
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if s.sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.sink.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("Audio output stopped")
			}
		}()
	}

	s.readLoop(ctx)

	s.driver.EndSession()
	cancel()
	if s.player != nil {
		s.player.Close()
	}
	wg.Wait()
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleAudio(data)
		case websocket.TextMessage:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				s.logger.Error().Err(err).Msg("Failed to parse command")
				continue
			}
			s.handleCommand(ctx, cmd)
		}
	}
}

func (s *Session) handleAudio(pcm []byte) {
	var err error
	if s.agent != nil {
		err = s.agent.Write(pcm)
	} else {
		err = s.adapter.Write(pcm)
	}
	if err != nil && !errors.Is(err, capture.ErrNotActive) && !errors.Is(err, realtime.ErrNotStarted) {
		s.logger.Debug().Err(err).Msg("Dropped microphone frame")
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdStart:
		if err := s.driver.StartSession(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Session did not start")
			if errors.Is(err, conversation.ErrSessionActive) {
				s.sendError(err)
			}
		}
	case CmdEnd:
		s.driver.EndSession()
	case CmdMute:
		s.driver.ToggleMute()
	case CmdResize:
		if cmd.Cols <= 0 {
			return
		}
		s.canvas.SetWidth(float64(cmd.Cols))
		s.driver.Resize()
	case CmdMicDenied:
		if s.adapter != nil {
			s.adapter.ReportPermissionDenied()
			return
		}
		s.sendError(voiceerr.New(voiceerr.Permission, "capture.microphone", voiceerr.ErrPermissionDenied))
		s.driver.EndSession()
	case CmdSay:
		if s.agent == nil {
			s.sendError(voiceerr.New(voiceerr.Dialogue, "gateway.say", errors.New("typed messages need a voice agent session")))
			return
		}
		if err := s.agent.Send(cmd.Text); err != nil {
			s.sendError(voiceerr.New(voiceerr.Dialogue, "gateway.say", err))
		}
	default:
		s.logger.Warn().Str("type", cmd.Type).Msg("Unknown command")
	}
}

func (s *Session) host() engine.Host {
	return engine.Host{
		Callbacks: conversation.Callbacks{
			OnStateChange: func(from, to conversation.State) {
				s.send(Event{Type: EventState, From: from.String(), To: to.String()})
			},
			OnInterim: func(text string) {
				s.send(Event{Type: EventInterim, Text: text})
			},
			OnTranscript: func(u transcript.Utterance) {
				s.send(Event{Type: EventTranscript, Text: u.Text, Speaker: string(u.Speaker)})
			},
			OnMessage: func(u transcript.Utterance) {
				s.send(Event{Type: EventMessage, Text: u.Text, Speaker: string(u.Speaker)})
			},
			OnSpeechStart: func() { s.send(Event{Type: EventSpeechStart}) },
			OnSpeechEnd:   func() { s.send(Event{Type: EventSpeechEnd}) },
			OnMuteChange: func(muted bool) {
				s.send(Event{Type: EventMute, Muted: &muted})
			},
			OnError:      s.sendError,
			OnSessionEnd: func() { s.send(Event{Type: EventSessionEnd}) },
		},
		OnRenderComplete: func() { s.send(Event{Type: EventRenderComplete}) },
	}
}

func (s *Session) sendError(err error) {
	ev := Event{Type: EventError, Error: err.Error(), Fatal: voiceerr.IsFatal(err)}
	if kind, ok := voiceerr.KindOf(err); ok {
		ev.Kind = kind.String()
	}
	s.send(ev)
}

// send writes one event. Failures are logged; the read loop notices a dead
// connection.
func (s *Session) send(ev Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(ev); err != nil {
		s.logger.Debug().Err(err).Str("type", ev.Type).Msg("Failed to send event")
	}
}

func (s *Session) writeAudio(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// surface forwards waveform frames to the browser
type surface struct{ s *Session }

func (w surface) Render(f waveform.Frame) {
	w.s.send(Event{Type: EventWaveform, Frame: &f})
}

func (w surface) Clear() {
	w.s.send(Event{Type: EventWaveform})
}

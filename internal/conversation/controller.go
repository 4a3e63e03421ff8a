package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/capture"
	"github.com/chakravyuh/voice-tutor/internal/dialogue"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/playback"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

var (
	// ErrSessionActive is returned by StartSession when a session exists
	ErrSessionActive = errors.New("session already active")
	// ErrSessionEnded is returned by StartSession when EndSession won the race
	ErrSessionEnded = errors.New("session ended during start")
)

// Deps are the collaborators a controller composes
type Deps struct {
	Capture     Capture
	Synthesizer Synthesizer
	Player      Player
	Responder   dialogue.Responder
}

// Controller is the half-duplex turn-taking state machine. All events are
// serialized under mu. Asynchronous results carry the epoch they were
// issued in and are dropped when it no longer matches.
type Controller struct {
	capture   Capture
	synth     Synthesizer
	player    Player
	responder dialogue.Responder
	callbacks Callbacks

	mu         sync.Mutex
	state      State
	epoch      uint64
	turn       uint64
	clip       playback.ClipID
	muted      bool
	session    *Session
	started    bool
	store      *transcript.Store
	metrics    *observability.Metrics
	logger     zerolog.Logger
	cancel     context.CancelFunc
	turnCancel context.CancelFunc

	pending  []func()
	draining bool
}

// NewController wires the collaborators together
func NewController(deps Deps, callbacks Callbacks) *Controller {
	c := &Controller{
		capture:   deps.Capture,
		synth:     deps.Synthesizer,
		player:    deps.Player,
		responder: deps.Responder,
		callbacks: callbacks,
		store:     transcript.NewStore(),
		metrics:   observability.NewSessionMetrics(""),
		logger:    observability.WithComponent(observability.GetLogger(), "conversation"),
	}
	c.player.SetOnEnded(c.handlePlaybackEnded)
	c.player.SetOnError(c.handlePlaybackError)
	return c
}

// StartSession opens a session and starts capture. On failure the error
// is delivered through OnError, the controller returns to Idle and the
// same error is returned.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrSessionActive
	}

	c.epoch++
	epoch := c.epoch
	id := observability.NewSessionID()
	c.session = &Session{ID: id, StartedAt: time.Now(), Muted: c.muted}
	c.started = false
	c.store = transcript.NewStore()
	c.metrics = observability.NewSessionMetrics(id)
	c.logger = observability.WithComponent(observability.WithSession(id), "conversation")
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.transition(Starting)
	c.unlockAndFlush()

	err := c.capture.Start(sessionCtx, c.captureHandler(epoch))

	c.mu.Lock()
	if c.epoch != epoch {
		c.unlockAndFlush()
		if err == nil {
			_ = c.capture.Stop()
		}
		return ErrSessionEnded
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to start speech capture")
		c.fail(err, "capture")
		c.teardown()
		c.unlockAndFlush()
		return err
	}

	c.started = true
	c.metrics.RecordSessionStart()
	c.transition(Listening)
	c.logger.Info().Msg("Session started")
	c.unlockAndFlush()
	return nil
}

// EndSession returns to Idle from any state. Capture stops, audio is
// released and the in-flight request is cancelled before it returns.
func (c *Controller) EndSession() {
	c.mu.Lock()
	if c.state == Idle {
		c.unlockAndFlush()
		return
	}
	from := c.state
	c.teardown()
	c.logger.Info().Str("from", from.String()).Msg("Session ended")
	c.unlockAndFlush()
}

// ToggleMute flips the muted flag and returns the new value. State is not
// affected and playback events keep firing.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	c.muted = !c.muted
	muted := c.muted
	if c.session != nil {
		c.session.Muted = muted
	}
	c.player.Mute(muted)
	if fn := c.callbacks.OnMuteChange; fn != nil {
		c.pending = append(c.pending, func() { fn(muted) })
	}
	c.unlockAndFlush()
	return muted
}

// Transcript returns the utterances of the current or last session
func (c *Controller) Transcript() []transcript.Utterance {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	return store.All()
}

// Snapshot returns the controller flags
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		Active:    c.started && c.state != Idle,
		Listening: c.state == Listening,
		Speaking:  c.state == Speaking,
		Muted:     c.muted,
		Epoch:     c.epoch,
	}
}

// Session returns a copy of the current session, if any
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	s := *c.session
	return s, true
}

func (c *Controller) captureHandler(epoch uint64) capture.Handler {
	return capture.Handler{
		OnInterim: func(text string) {
			c.mu.Lock()
			if c.epoch == epoch && c.state == Listening {
				if fn := c.callbacks.OnInterim; fn != nil {
					c.pending = append(c.pending, func() { fn(text) })
				}
			}
			c.unlockAndFlush()
		},
		OnFinal: func(text string) {
			c.mu.Lock()
			if c.epoch == epoch {
				c.handleFinal(epoch, text)
			}
			c.unlockAndFlush()
		},
		OnError: func(err error) {
			c.mu.Lock()
			if c.epoch == epoch && c.state != Idle {
				c.handleCaptureError(err)
			}
			c.unlockAndFlush()
		},
		OnActivity: func(level float64, speaking bool) {
			c.mu.Lock()
			if c.epoch == epoch && c.state == Listening {
				if fn := c.callbacks.OnActivity; fn != nil {
					c.pending = append(c.pending, func() { fn(level, speaking) })
				}
			}
			c.unlockAndFlush()
		},
	}
}

// handleFinal must be called with mu held
func (c *Controller) handleFinal(epoch uint64, text string) {
	switch c.state {
	case Listening:
	case Synthesizing, Speaking:
		c.metrics.RecordDiscardedFinal()
		c.logger.Debug().Str("state", c.state.String()).Str("text", text).Msg("Discarding final transcript while assistant holds the turn")
		return
	default:
		return
	}

	history := c.store.All()
	u := c.store.Append(transcript.User, text)
	c.metrics.RecordUtterance(string(transcript.User))
	if fn := c.callbacks.OnTranscript; fn != nil {
		c.pending = append(c.pending, func() { fn(u) })
	}

	c.transition(Synthesizing)
	c.capture.Pause()

	c.turn++
	turnCtx, cancel := context.WithCancel(context.Background())
	c.turnCancel = cancel
	go c.runTurn(turnCtx, epoch, c.turn, c.metrics, history, text)
}

// runTurn asks the responder for a reply and synthesizes it
func (c *Controller) runTurn(ctx context.Context, epoch, turn uint64, metrics *observability.Metrics, history []transcript.Utterance, text string) {
	metrics.RecordReplyStart()
	reply, err := c.responder.Reply(ctx, history, text)
	metrics.RecordReplyEnd(err == nil)
	if err != nil {
		c.turnFailed(epoch, turn, asKind(voiceerr.Dialogue, "dialogue.reply", err), "dialogue")
		return
	}

	metrics.RecordSynthesisStart()
	clip, err := c.synth.Synthesize(ctx, reply)
	metrics.RecordSynthesisEnd(err == nil)
	if err != nil {
		c.turnFailed(epoch, turn, asKind(voiceerr.Synthesis, "synthesis.synthesize", err), "synthesis")
		return
	}
	metrics.RecordAudioBytes("outbound", int64(len(clip.Data)))

	c.mu.Lock()
	defer c.unlockAndFlush()
	if !c.currentTurn(epoch, turn) {
		c.logger.Debug().Uint64("epoch", epoch).Msg("Dropping stale synthesis result")
		return
	}
	c.finishTurn()

	id, err := c.player.Play(clip)
	if err != nil {
		c.recover(err, "playback")
		return
	}
	c.clip = id
	c.transition(Speaking)

	u := c.store.Append(transcript.Assistant, reply)
	c.metrics.RecordUtterance(string(transcript.Assistant))
	if fn := c.callbacks.OnMessage; fn != nil {
		c.pending = append(c.pending, func() { fn(u) })
	}
	c.notify(c.callbacks.OnSpeechStart)
}

func (c *Controller) turnFailed(epoch, turn uint64, err error, component string) {
	c.mu.Lock()
	defer c.unlockAndFlush()
	if !c.currentTurn(epoch, turn) {
		return
	}
	c.finishTurn()
	c.logger.Warn().Err(err).Str("component", component).Msg("Turn failed")
	if voiceerr.IsFatal(err) {
		c.fail(err, component)
		c.teardown()
		return
	}
	c.recover(err, component)
}

// currentTurn must be called with mu held
func (c *Controller) currentTurn(epoch, turn uint64) bool {
	return c.epoch == epoch && c.turn == turn && c.state == Synthesizing
}

// finishTurn must be called with mu held
func (c *Controller) finishTurn() {
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
}

func (c *Controller) handlePlaybackEnded(id playback.ClipID) {
	c.mu.Lock()
	defer c.unlockAndFlush()
	if c.state != Speaking || c.clip != id {
		return
	}
	c.clip = 0
	c.transition(Listening)
	c.capture.Resume()
	c.notify(c.callbacks.OnSpeechEnd)
}

func (c *Controller) handlePlaybackError(id playback.ClipID, err error) {
	c.mu.Lock()
	defer c.unlockAndFlush()
	if c.state != Speaking || c.clip != id {
		return
	}
	c.clip = 0
	c.notify(c.callbacks.OnSpeechEnd)
	c.recover(err, "playback")
}

// handleCaptureError must be called with mu held
func (c *Controller) handleCaptureError(err error) {
	if voiceerr.IsFatal(err) {
		c.logger.Error().Err(err).Msg("Fatal capture error")
		if c.state == Speaking {
			c.notify(c.callbacks.OnSpeechEnd)
		}
		c.fail(err, "capture")
		c.teardown()
		return
	}
	c.logger.Warn().Err(err).Msg("Recoverable capture error")
	c.report(err, "capture")
}

// recover moves through Error back to Listening. mu must be held.
func (c *Controller) recover(err error, component string) {
	c.fail(err, component)
	c.transition(Listening)
	c.capture.Resume()
}

// fail enters Error and reports err. mu must be held.
func (c *Controller) fail(err error, component string) {
	c.transition(Error)
	c.report(err, component)
}

// report must be called with mu held
func (c *Controller) report(err error, component string) {
	kind := "unknown"
	if k, ok := voiceerr.KindOf(err); ok {
		kind = k.String()
	}
	c.metrics.RecordError(kind, component)
	if fn := c.callbacks.OnError; fn != nil {
		c.pending = append(c.pending, func() { fn(err) })
	}
}

// teardown releases everything and returns to Idle. mu must be held.
func (c *Controller) teardown() {
	if c.state == Speaking {
		c.notify(c.callbacks.OnSpeechEnd)
	}
	c.epoch++
	c.finishTurn()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.player.Stop()
	c.clip = 0
	if err := c.capture.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to stop capture")
	}

	c.transition(Idle)
	if c.session != nil {
		now := time.Now()
		c.session.EndedAt = &now
	}
	if c.started {
		c.metrics.RecordSessionEnd()
		c.notify(c.callbacks.OnSessionEnd)
	}
	c.started = false
}

// transition must be called with mu held
func (c *Controller) transition(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if c.session != nil {
		c.session.State = to
	}
	c.metrics.RecordTransition(from.String(), to.String())
	c.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State transition")
	if fn := c.callbacks.OnStateChange; fn != nil {
		c.pending = append(c.pending, func() { fn(from, to) })
	}
}

// notify queues a no-argument callback. mu must be held.
func (c *Controller) notify(fn func()) {
	if fn != nil {
		c.pending = append(c.pending, fn)
	}
}

// unlockAndFlush releases mu and delivers queued callbacks in order. A
// callback that re-enters the controller has its own notifications
// delivered by the goroutine already draining.
func (c *Controller) unlockAndFlush() {
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

// asKind wraps err as a voiceerr of kind unless it is already classified
func asKind(kind voiceerr.Kind, op string, err error) error {
	var ve *voiceerr.Error
	if errors.As(err, &ve) {
		return err
	}
	return voiceerr.New(kind, op, fmt.Errorf("turn: %w", err))
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/audio"
	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/resilience"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

var (
	// ErrNotActive is returned by Write when capture has not been started
	ErrNotActive = errors.New("capture is not active")

	errStale = errors.New("capture generation superseded")
)

// Adapter wraps a Recognizer into continuous capture with automatic restart.
// Every start, restart and stop bumps a generation counter; recognizer
// events carrying an old generation are dropped.
type Adapter struct {
	newRecognizer RecognizerFactory
	reconnect     *resilience.ReconnectConfig
	logger        zerolog.Logger

	mu          sync.Mutex
	gen         uint64
	active      bool
	paused      bool
	handler     Handler
	rec         Recognizer
	ctx         context.Context
	cancel      context.CancelFunc
	lastInterim string
	backlog     *audio.RingBuffer
	lost        int64
	vad         *audio.VADDetector
}

// NewAdapter creates a capture adapter
func NewAdapter(factory RecognizerFactory, cfg *config.Config) *Adapter {
	return &Adapter{
		newRecognizer: factory,
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  10 * time.Second,
		},
		logger:  observability.WithComponent(observability.GetLogger(), "capture"),
		backlog: audio.NewRingBuffer(cfg.AudioBufferSize),
		vad: audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		}),
	}
}

// SetLogger replaces the adapter's logger, typically with a session logger
func (a *Adapter) SetLogger(logger zerolog.Logger) {
	a.mu.Lock()
	a.logger = observability.WithComponent(logger, "capture")
	a.mu.Unlock()
}

// Start opens the recognizer. Initialization failures are returned once as
// a capability (or permission) error and no events follow.
func (a *Adapter) Start(ctx context.Context, h Handler) error {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return fmt.Errorf("capture already started")
	}
	a.gen++
	gen := a.gen
	a.active = true
	a.paused = false
	a.handler = h
	a.lastInterim = ""
	a.ctx, a.cancel = context.WithCancel(ctx)
	runCtx := a.ctx
	a.backlog.Clear()
	a.lost = 0
	a.vad.Reset()
	a.mu.Unlock()

	if err := a.open(runCtx, gen); err != nil {
		a.mu.Lock()
		if a.gen == gen {
			a.deactivate()
		}
		a.mu.Unlock()
		if errors.Is(err, errStale) {
			return nil
		}
		return classifyStartErr("capture.start", err)
	}

	a.logger.Info().Msg("Speech capture started")
	return nil
}

// open builds and starts a recognizer for gen and commits it if gen is
// still current
func (a *Adapter) open(ctx context.Context, gen uint64) error {
	rec, err := a.newRecognizer()
	if err != nil {
		return err
	}
	if err := rec.Start(ctx, a.events(gen)); err != nil {
		_ = rec.Stop()
		return err
	}

	a.mu.Lock()
	if a.gen != gen || !a.active {
		a.mu.Unlock()
		_ = rec.Stop()
		return errStale
	}
	a.rec = rec
	pending := a.backlog.Drain()
	lost := a.lost
	a.lost = 0
	a.mu.Unlock()

	if lost > 0 {
		a.logger.Warn().Int64("dropped_bytes", lost).Msg("Restart backlog overflowed, oldest audio lost")
	}
	if len(pending) > 0 {
		if err := rec.Write(pending); err != nil {
			a.logger.Warn().Err(err).Int("bytes", len(pending)).Msg("Failed to flush buffered audio")
		}
	}
	return nil
}

func (a *Adapter) events(gen uint64) RecognizerEvents {
	return RecognizerEvents{
		OnResult: func(text string, final bool) { a.handleResult(gen, text, final) },
		OnError:  func(err error) { a.handleError(gen, err) },
		OnEnd:    func() { a.handleEnd(gen) },
	}
}

func (a *Adapter) handleResult(gen uint64, text string, final bool) {
	if text == "" {
		return
	}

	a.mu.Lock()
	if a.gen != gen || !a.active || a.paused {
		a.mu.Unlock()
		return
	}
	h := a.handler
	if final {
		a.lastInterim = ""
		a.mu.Unlock()
		if h.OnFinal != nil {
			h.OnFinal(text)
		}
		return
	}
	if text == a.lastInterim {
		a.mu.Unlock()
		return
	}
	a.lastInterim = text
	a.mu.Unlock()

	if h.OnInterim != nil {
		h.OnInterim(text)
	}
}

func (a *Adapter) handleError(gen uint64, err error) {
	a.mu.Lock()
	if a.gen != gen || !a.active {
		a.mu.Unlock()
		return
	}
	h := a.handler
	a.mu.Unlock()

	a.logger.Warn().Err(err).Msg("Recognizer reported an error")
	a.emitError(h, voiceerr.New(voiceerr.Recognition, "capture.recognize", err))
}

// handleEnd restarts the recognizer when it stops while capture is active
func (a *Adapter) handleEnd(gen uint64) {
	a.mu.Lock()
	if a.gen != gen || !a.active {
		a.mu.Unlock()
		return
	}
	a.gen++
	next := a.gen
	old := a.rec
	a.rec = nil
	a.lastInterim = ""
	ctx := a.ctx
	a.mu.Unlock()

	if old != nil {
		_ = old.Stop()
	}
	a.logger.Info().Msg("Recognizer ended unexpectedly, restarting")
	go a.restart(ctx, next)
}

func (a *Adapter) restart(ctx context.Context, gen uint64) {
	err := resilience.Reconnect(ctx, func(ctx context.Context) error {
		err := a.open(ctx, gen)
		if errors.Is(err, errStale) || errors.Is(err, voiceerr.ErrUnsupported) || errors.Is(err, voiceerr.ErrPermissionDenied) {
			return resilience.Permanent(err)
		}
		return err
	}, a.reconnect)

	if err == nil {
		observability.RecordRecognizerRestart(true)
		return
	}
	if errors.Is(err, errStale) || errors.Is(err, context.Canceled) {
		return
	}
	observability.RecordRecognizerRestart(false)

	a.mu.Lock()
	if a.gen != gen || !a.active {
		a.mu.Unlock()
		return
	}
	h := a.handler
	a.deactivate()
	a.mu.Unlock()

	a.logger.Error().Err(err).Msg("Recognizer could not be restarted")
	a.emitError(h, classifyStartErr("capture.restart", err))
}

// Write feeds PCM16 mono audio. While the recognizer restarts, audio is
// buffered and flushed once it is back.
func (a *Adapter) Write(pcm []byte) error {
	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return ErrNotActive
	}
	act := a.vad.ProcessFrame(samples)
	rec := a.rec
	var lost int64
	if rec == nil {
		before := a.backlog.Dropped()
		a.backlog.Write(pcm)
		lost = a.backlog.Dropped() - before
		a.lost += lost
	}
	paused := a.paused
	h := a.handler
	a.mu.Unlock()

	if lost > 0 {
		observability.RecordBacklogDropped(lost)
	}

	if !paused && h.OnActivity != nil {
		h.OnActivity(act.Level, act.Speaking)
	}
	if rec == nil {
		return nil
	}
	if err := rec.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to recognizer: %w", err)
	}
	return nil
}

// Pause drops recognizer results until Resume. The stream stays open.
func (a *Adapter) Pause() {
	a.mu.Lock()
	a.paused = true
	a.lastInterim = ""
	a.mu.Unlock()
}

// Resume re-enables recognizer results
func (a *Adapter) Resume() {
	a.mu.Lock()
	a.paused = false
	a.vad.Reset()
	a.mu.Unlock()
}

// ReportPermissionDenied is called by the host when microphone access is
// refused or revoked. Capture stops and a permission error is delivered.
func (a *Adapter) ReportPermissionDenied() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	h := a.handler
	rec := a.rec
	a.deactivate()
	a.mu.Unlock()

	if rec != nil {
		_ = rec.Stop()
	}
	a.emitError(h, voiceerr.New(voiceerr.Permission, "capture.microphone", voiceerr.ErrPermissionDenied))
}

// Stop ends capture. No events are delivered afterwards and no restart is
// attempted.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return nil
	}
	rec := a.rec
	a.deactivate()
	a.mu.Unlock()

	a.logger.Info().Msg("Speech capture stopped")
	if rec == nil {
		return nil
	}
	if err := rec.Stop(); err != nil {
		return fmt.Errorf("failed to stop recognizer: %w", err)
	}
	return nil
}

// Active reports whether capture is running
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// deactivate must be called with mu held
func (a *Adapter) deactivate() {
	a.gen++
	a.active = false
	a.paused = false
	a.rec = nil
	a.handler = Handler{}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.backlog.Clear()
	a.lost = 0
	a.vad.Reset()
}

func (a *Adapter) emitError(h Handler, err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func classifyStartErr(op string, err error) error {
	var ve *voiceerr.Error
	if errors.As(err, &ve) {
		return ve
	}
	if errors.Is(err, voiceerr.ErrPermissionDenied) {
		return voiceerr.New(voiceerr.Permission, op, err)
	}
	return voiceerr.New(voiceerr.Capability, op, err)
}

package playback

import (
	"fmt"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/synthesis"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

const resampleQuality = 4

// ClipID identifies one Play call
type ClipID uint64

// Sink consumes the single active clip stream
type Sink interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Clear()
}

// Manager owns at most one playing clip. Natural completion is reported
// through OnEnded exactly once per clip, on its own goroutine; clips that
// are stopped or superseded are released silently.
type Manager struct {
	sink   Sink
	decode Decoder
	logger zerolog.Logger

	mu      sync.Mutex
	nextID  ClipID
	active  *clip
	muted   bool
	onEnded func(ClipID)
	onError func(ClipID, error)
}

// NewManager creates a playback manager on sink. A nil decoder uses Decode.
func NewManager(sink Sink, decode Decoder) *Manager {
	if decode == nil {
		decode = Decode
	}
	return &Manager{
		sink:   sink,
		decode: decode,
		logger: observability.WithComponent(observability.GetLogger(), "playback"),
	}
}

// SetOnEnded registers the natural-completion callback
func (m *Manager) SetOnEnded(fn func(ClipID)) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

// SetOnError registers the callback for clips that fail mid-stream
func (m *Manager) SetOnError(fn func(ClipID, error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// Play stops and releases the active clip, then starts audio
func (m *Manager) Play(audio *synthesis.Audio) (ClipID, error) {
	m.mu.Lock()
	m.releaseActive("superseded")
	m.mu.Unlock()

	source, format, err := m.decode(audio)
	if err != nil {
		return 0, voiceerr.New(voiceerr.Playback, "playback.play", err)
	}

	var stream beep.Streamer = source
	if target := m.sink.SampleRate(); format.SampleRate != target {
		stream = beep.Resample(resampleQuality, format.SampleRate, target, stream)
	}
	ctrl := &beep.Ctrl{Streamer: stream}
	volume := &effects.Volume{Streamer: ctrl, Base: 2}

	m.mu.Lock()
	m.releaseActive("superseded")
	m.nextID++
	c := &clip{
		id:     m.nextID,
		mgr:    m,
		source: source,
		ctrl:   ctrl,
		volume: volume,
	}
	volume.Silent = m.muted
	m.active = c
	m.mu.Unlock()

	m.sink.Play(c)
	m.logger.Debug().
		Uint64("clip", uint64(c.id)).
		Int("sample_rate", int(format.SampleRate)).
		Int("bytes", len(audio.Data)).
		Msg("Playing clip")
	return c.id, nil
}

// Pause suspends the active clip
func (m *Manager) Pause() {
	m.setPaused(true)
}

// Resume continues a paused clip
func (m *Manager) Resume() {
	m.setPaused(false)
}

func (m *Manager) setPaused(paused bool) {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ctrl.Paused = paused
	c.mu.Unlock()
}

// Mute silences output without affecting the clip lifecycle
func (m *Manager) Mute(muted bool) {
	m.mu.Lock()
	m.muted = muted
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	c.volume.Silent = muted
	c.mu.Unlock()
}

// Muted reports the mute flag
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Stop releases the active clip without an OnEnded event
func (m *Manager) Stop() {
	m.mu.Lock()
	m.releaseActive("stopped")
	m.mu.Unlock()
}

// Active returns the playing clip, if any
func (m *Manager) Active() (ClipID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0, false
	}
	return m.active.id, true
}

// Close stops playback and clears the sink
func (m *Manager) Close() {
	m.Stop()
	m.sink.Clear()
}

// releaseActive must be called with mu held
func (m *Manager) releaseActive(outcome string) {
	if m.active == nil {
		return
	}
	c := m.active
	m.active = nil
	c.release()
	observability.RecordClip(outcome)
	m.logger.Debug().Uint64("clip", uint64(c.id)).Str("outcome", outcome).Msg("Released clip")
}

// finish runs when a clip drains on its own
func (m *Manager) finish(c *clip, streamErr error) {
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.active = nil
	c.release()
	onEnded, onError := m.onEnded, m.onError
	m.mu.Unlock()

	if streamErr != nil {
		observability.RecordClip("failed")
		m.logger.Warn().Err(streamErr).Uint64("clip", uint64(c.id)).Msg("Clip failed during playback")
		if onError != nil {
			onError(c.id, voiceerr.New(voiceerr.Playback, "playback.stream", streamErr))
		}
		return
	}

	observability.RecordClip("completed")
	if onEnded != nil {
		onEnded(c.id)
	}
}

// clip is the streamer handed to the sink
type clip struct {
	id     ClipID
	mgr    *Manager
	source beep.StreamCloser
	ctrl   *beep.Ctrl
	volume *effects.Volume

	mu       sync.Mutex
	released bool
	drained  bool
}

func (c *clip) Stream(samples [][2]float64) (int, bool) {
	c.mu.Lock()
	if c.released || c.drained {
		c.mu.Unlock()
		return 0, false
	}
	n, ok := c.volume.Stream(samples)
	var streamErr error
	if !ok {
		c.drained = true
		streamErr = c.source.Err()
	}
	c.mu.Unlock()

	if !ok {
		go c.mgr.finish(c, streamErr)
	}
	return n, ok
}

func (c *clip) Err() error {
	return nil
}

func (c *clip) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	if err := c.source.Close(); err != nil {
		c.mgr.logger.Warn().Err(fmt.Errorf("failed to close clip: %w", err)).Msg("Clip release")
	}
}

package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chakravyuh/voice-tutor/internal/audio"
	"github.com/chakravyuh/voice-tutor/internal/conversation"
	"github.com/chakravyuh/voice-tutor/internal/observability"
	"github.com/chakravyuh/voice-tutor/internal/realtime"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

// Caller is a hosted voice agent call. *realtime.Client implements it.
type Caller interface {
	Start(ctx context.Context, assistantID string, h realtime.Handlers) error
	Stop() error
	Send(text string) error
	SendAudio(pcm []byte) error
	SetVolume(v float64)
}

// Agent drives the same host callbacks and presenters as Engine, with the
// turns taken by a hosted voice agent instead of the local pipeline
type Agent struct {
	call        Caller
	assistantID string
	host        conversation.Callbacks
	view        *presenter
	onAudio     func(pcm []byte)
	logger      zerolog.Logger

	mu       sync.Mutex
	state    conversation.State
	store    *transcript.Store
	muted    bool
	started  bool
	epoch    uint64
	metrics  *observability.Metrics
	speaking bool
}

// NewAgent creates an agent session driver. onAudio receives assistant
// audio and may be nil.
func NewAgent(call Caller, assistantID string, display Display, host Host, onAudio func(pcm []byte)) *Agent {
	return &Agent{
		call:        call,
		assistantID: assistantID,
		host:        host.Callbacks,
		view:        newPresenter(display, host),
		onAudio:     onAudio,
		logger:      observability.WithComponent(observability.GetLogger(), "agent"),
		state:       conversation.Idle,
		store:       transcript.NewStore(),
	}
}

// StartSession places the call. The agent reports Listening once it
// accepts.
func (a *Agent) StartSession(ctx context.Context) error {
	a.mu.Lock()
	if a.state != conversation.Idle {
		a.mu.Unlock()
		return conversation.ErrSessionActive
	}
	a.epoch++
	epoch := a.epoch
	id := observability.NewSessionID()
	a.store = transcript.NewStore()
	a.started = false
	a.speaking = false
	a.metrics = observability.NewSessionMetrics(id)
	a.logger = observability.WithComponent(observability.WithSession(id), "agent")
	notify := a.transition(conversation.Starting)
	a.mu.Unlock()
	notify()

	if err := a.call.Start(ctx, a.assistantID, a.handlers(epoch)); err != nil {
		a.mu.Lock()
		if a.epoch != epoch {
			a.mu.Unlock()
			return conversation.ErrSessionEnded
		}
		a.epoch++
		a.metrics.RecordError(kindOf(err), "agent")
		toError := a.transition(conversation.Error)
		toIdle := a.transition(conversation.Idle)
		a.mu.Unlock()

		a.logger.Error().Err(err).Msg("Voice agent call failed to start")
		toError()
		if a.host.OnError != nil {
			a.host.OnError(err)
		}
		toIdle()
		a.view.stop()
		return err
	}

	if !a.current(epoch) {
		// ended while connecting
		if err := a.call.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("Voice agent stop failed")
		}
		return conversation.ErrSessionEnded
	}
	return nil
}

// EndSession hangs up. Session end is reported before it returns, and no
// later agent event can revive the session.
func (a *Agent) EndSession() {
	a.mu.Lock()
	if a.state == conversation.Idle {
		a.mu.Unlock()
		return
	}
	finish := a.end()
	a.mu.Unlock()

	finish()
	if err := a.call.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("Voice agent stop failed")
	}
}

// ToggleMute silences assistant audio without ending the call
func (a *Agent) ToggleMute() bool {
	a.mu.Lock()
	a.muted = !a.muted
	muted := a.muted
	a.mu.Unlock()

	if muted {
		a.call.SetVolume(0)
	} else {
		a.call.SetVolume(1)
	}
	if a.host.OnMuteChange != nil {
		a.host.OnMuteChange(muted)
	}
	return muted
}

// Send injects a typed user message into the call
func (a *Agent) Send(text string) error {
	return a.call.Send(text)
}

// Write forwards microphone PCM16 audio and reports its loudness while
// listening
func (a *Agent) Write(pcm []byte) error {
	if err := a.call.SendAudio(pcm); err != nil {
		return err
	}

	a.mu.Lock()
	listening := a.state == conversation.Listening
	metrics := a.metrics
	a.mu.Unlock()
	if metrics != nil {
		metrics.RecordAudioBytes("inbound", int64(len(pcm)))
	}
	if !listening {
		return nil
	}

	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return nil
	}
	level := audio.Level(audio.CalculateRMS(samples))
	a.view.level(level)
	if a.host.OnActivity != nil {
		a.host.OnActivity(level, level > 0)
	}
	return nil
}

// Resize re-lays the whiteboard after its canvas changed size
func (a *Agent) Resize() {
	a.view.board.Resize()
}

func (a *Agent) Snapshot() conversation.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return conversation.Snapshot{
		State:     a.state,
		Active:    a.started && a.state != conversation.Idle,
		Listening: a.state == conversation.Listening,
		Speaking:  a.state == conversation.Speaking,
		Muted:     a.muted,
		Epoch:     a.epoch,
	}
}

func (a *Agent) Whiteboard() *whiteboard.Renderer { return a.view.board }

func (a *Agent) Waveform() *waveform.Visualizer { return a.view.wave }

func (a *Agent) Transcript() []transcript.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.All()
}

func (a *Agent) handlers(epoch uint64) realtime.Handlers {
	return realtime.Handlers{
		OnCallStart: func() { a.handleCallStart(epoch) },
		OnCallEnd:   func() { a.handleCallEnd(epoch) },
		OnSpeechStart: func() {
			a.handleSpeech(epoch, true)
		},
		OnSpeechEnd: func() {
			a.handleSpeech(epoch, false)
		},
		OnMessage: func(role, text string, final bool) {
			a.handleMessage(epoch, role, text, final)
		},
		OnError: func(err error) { a.handleError(epoch, err) },
		OnAudio: func(pcm []byte) {
			if a.current(epoch) && a.onAudio != nil {
				a.onAudio(pcm)
			}
		},
	}
}

func (a *Agent) current(epoch uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch == epoch
}

func (a *Agent) handleCallStart(epoch uint64) {
	a.mu.Lock()
	if a.epoch != epoch || a.state != conversation.Starting {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.metrics.RecordSessionStart()
	notify := a.transition(conversation.Listening)
	a.mu.Unlock()

	a.logger.Info().Msg("Voice agent call started")
	notify()
}

func (a *Agent) handleSpeech(epoch uint64, on bool) {
	from, to := conversation.Listening, conversation.Speaking
	if !on {
		from, to = conversation.Speaking, conversation.Listening
	}

	a.mu.Lock()
	if a.epoch != epoch || a.state != from {
		a.mu.Unlock()
		return
	}
	a.speaking = on
	notify := a.transition(to)
	a.mu.Unlock()

	notify()
	a.view.speaking(on)
	if on && a.host.OnSpeechStart != nil {
		a.host.OnSpeechStart()
	}
	if !on && a.host.OnSpeechEnd != nil {
		a.host.OnSpeechEnd()
	}
}

func (a *Agent) handleMessage(epoch uint64, role, text string, final bool) {
	speaker := transcript.Assistant
	if role == string(transcript.User) {
		speaker = transcript.User
	}

	a.mu.Lock()
	if a.epoch != epoch || a.state == conversation.Idle || a.state == conversation.Starting {
		a.mu.Unlock()
		return
	}
	if !final {
		a.mu.Unlock()
		if speaker == transcript.User && a.host.OnInterim != nil {
			a.host.OnInterim(text)
		}
		return
	}
	u := a.store.Append(speaker, text)
	a.metrics.RecordUtterance(string(speaker))
	a.mu.Unlock()

	if speaker == transcript.User {
		if a.host.OnTranscript != nil {
			a.host.OnTranscript(u)
		}
		return
	}
	a.view.message(u.Text)
	if a.host.OnMessage != nil {
		a.host.OnMessage(u)
	}
}

func (a *Agent) handleError(epoch uint64, err error) {
	a.mu.Lock()
	if a.epoch != epoch {
		a.mu.Unlock()
		return
	}
	a.metrics.RecordError(kindOf(err), "agent")
	a.mu.Unlock()

	a.logger.Warn().Err(err).Msg("Voice agent error")
	if a.host.OnError != nil {
		a.host.OnError(err)
	}
}

// handleCallEnd ends the session when the agent hangs up
func (a *Agent) handleCallEnd(epoch uint64) {
	a.mu.Lock()
	if a.epoch != epoch || a.state == conversation.Idle {
		a.mu.Unlock()
		return
	}
	finish := a.end()
	a.mu.Unlock()
	finish()
}

// end must be called with mu held. It retires the current call's events
// and returns the notifications to deliver after unlocking.
func (a *Agent) end() func() {
	a.epoch++
	speaking := a.speaking
	a.speaking = false
	started := a.started
	a.started = false
	if started {
		a.metrics.RecordSessionEnd()
	}
	notify := a.transition(conversation.Idle)

	return func() {
		if speaking {
			a.view.speaking(false)
			if a.host.OnSpeechEnd != nil {
				a.host.OnSpeechEnd()
			}
		}
		notify()
		a.view.stop()
		a.logger.Info().Bool("started", started).Msg("Voice agent call ended")
		if started && a.host.OnSessionEnd != nil {
			a.host.OnSessionEnd()
		}
	}
}

// transition must be called with mu held. The returned func delivers the
// notification and must be called after unlocking.
func (a *Agent) transition(to conversation.State) func() {
	from := a.state
	if from == to {
		return func() {}
	}
	a.state = to
	if a.metrics != nil {
		a.metrics.RecordTransition(from.String(), to.String())
	}
	return func() {
		a.view.state(to)
		if a.host.OnStateChange != nil {
			a.host.OnStateChange(from, to)
		}
	}
}

func kindOf(err error) string {
	if kind, ok := voiceerr.KindOf(err); ok {
		return kind.String()
	}
	return "unknown"
}

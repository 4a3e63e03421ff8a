package engine

import (
	"context"

	"github.com/chakravyuh/voice-tutor/internal/conversation"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

// Engine is a conversation controller with its presenters attached
type Engine struct {
	ctrl *conversation.Controller
	view *presenter
}

// New wires deps into a controller whose events also drive the display
func New(deps conversation.Deps, display Display, host Host) *Engine {
	e := &Engine{view: newPresenter(display, host)}
	hc := host.Callbacks

	e.ctrl = conversation.NewController(deps, conversation.Callbacks{
		OnStateChange: func(from, to conversation.State) {
			e.view.state(to)
			if hc.OnStateChange != nil {
				hc.OnStateChange(from, to)
			}
		},
		OnInterim:    hc.OnInterim,
		OnTranscript: hc.OnTranscript,
		OnMessage: func(u transcript.Utterance) {
			e.view.message(u.Text)
			if hc.OnMessage != nil {
				hc.OnMessage(u)
			}
		},
		OnSpeechStart: func() {
			e.view.speaking(true)
			if hc.OnSpeechStart != nil {
				hc.OnSpeechStart()
			}
		},
		OnSpeechEnd: func() {
			e.view.speaking(false)
			if hc.OnSpeechEnd != nil {
				hc.OnSpeechEnd()
			}
		},
		OnMuteChange: hc.OnMuteChange,
		OnActivity: func(level float64, speaking bool) {
			e.view.level(level)
			if hc.OnActivity != nil {
				hc.OnActivity(level, speaking)
			}
		},
		OnError: hc.OnError,
		OnSessionEnd: func() {
			e.view.stop()
			if hc.OnSessionEnd != nil {
				hc.OnSessionEnd()
			}
		},
	})
	return e
}

// StartSession starts a conversation
func (e *Engine) StartSession(ctx context.Context) error {
	return e.ctrl.StartSession(ctx)
}

// EndSession ends the conversation and cancels rendering and animation
// before returning
func (e *Engine) EndSession() {
	e.ctrl.EndSession()
	e.view.stop()
}

// ToggleMute flips output muting
func (e *Engine) ToggleMute() bool {
	return e.ctrl.ToggleMute()
}

// Resize re-lays the whiteboard after its canvas changed size
func (e *Engine) Resize() {
	e.view.board.Resize()
}

func (e *Engine) Snapshot() conversation.Snapshot { return e.ctrl.Snapshot() }

func (e *Engine) Transcript() []transcript.Utterance { return e.ctrl.Transcript() }

func (e *Engine) Whiteboard() *whiteboard.Renderer { return e.view.board }

func (e *Engine) Waveform() *waveform.Visualizer { return e.view.wave }

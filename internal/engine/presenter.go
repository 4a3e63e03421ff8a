// Package engine composes the conversation pipeline with the whiteboard and
// waveform presenters and exposes one set of host callbacks, whether the
// turns come from the local controller or a hosted voice agent.
package engine

import (
	"time"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/conversation"
	"github.com/chakravyuh/voice-tutor/internal/schedule"
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

// Host is what the UI layer receives. Every field is optional.
type Host struct {
	conversation.Callbacks
	OnRenderComplete func()
}

// Display configures the whiteboard and waveform
type Display struct {
	Canvas        whiteboard.Canvas
	Surface       waveform.Surface
	Scheduler     schedule.Scheduler
	Timing        whiteboard.Timing
	FrameInterval time.Duration
	Bars          int
}

// DisplayFromConfig fills pacing and animation settings from cfg
func DisplayFromConfig(cfg *config.Config, canvas whiteboard.Canvas, surface waveform.Surface) Display {
	return Display{
		Canvas:        canvas,
		Surface:       surface,
		Scheduler:     schedule.System{},
		Timing:        whiteboard.TimingFromConfig(cfg),
		FrameInterval: time.Duration(cfg.WaveformFrameMs) * time.Millisecond,
		Bars:          cfg.WaveformBars,
	}
}

// presenter drives the whiteboard and waveform from conversation events
type presenter struct {
	board *whiteboard.Renderer
	wave  *waveform.Visualizer
}

func newPresenter(d Display, host Host) *presenter {
	sched := d.Scheduler
	if sched == nil {
		sched = schedule.System{}
	}
	p := &presenter{
		board: whiteboard.NewRenderer(d.Canvas, sched, d.Timing),
		wave:  waveform.NewVisualizer(d.Surface, sched, d.FrameInterval, d.Bars),
	}
	p.board.SetOnRenderComplete(func() {
		if host.OnRenderComplete != nil {
			host.OnRenderComplete()
		}
	})
	return p
}

func (p *presenter) state(to conversation.State) {
	switch to {
	case conversation.Listening:
		p.wave.SetState(true, waveform.Listening)
	case conversation.Speaking:
		p.wave.SetState(true, waveform.Speaking)
	case conversation.Synthesizing, conversation.Starting:
		p.wave.SetState(true, waveform.Idle)
	case conversation.Idle:
		p.wave.SetState(false, waveform.Idle)
	}
}

func (p *presenter) message(text string) { p.board.SetText(text) }

func (p *presenter) speaking(on bool) { p.board.SetSpeaking(on) }

func (p *presenter) level(level float64) { p.wave.SetLevel(level) }

// stop cancels rendering and animation
func (p *presenter) stop() {
	p.board.Cancel()
	p.wave.Stop()
}

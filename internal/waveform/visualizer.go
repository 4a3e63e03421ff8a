// Package waveform animates a bar visualizer reflecting the conversation
// state. The loop runs on an explicit scheduler handle and stops whenever
// the visualizer becomes inactive.
package waveform

import (
	"math"
	"sync"
	"time"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/schedule"
)

// Mode selects the animation style
type Mode int

const (
	Idle Mode = iota
	Listening
	Speaking
)

func (m Mode) String() string {
	switch m {
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// Params shape the animation for a mode. Speed is in radians per second.
type Params struct {
	Color  string  `json:"color"`
	Radius float64 `json:"radius"`
	Speed  float64 `json:"speed"`
	Bars   int     `json:"bars"`
}

// ParamsFor returns the animation parameters for mode
func ParamsFor(mode Mode, bars int) Params {
	switch mode {
	case Listening:
		return Params{Color: "#22C55E", Radius: 2, Speed: 4, Bars: bars}
	case Speaking:
		return Params{Color: "#6366F1", Radius: 3, Speed: 9, Bars: bars}
	default:
		return Params{Color: "#6B7280", Radius: 1, Speed: 1, Bars: bars}
	}
}

// Frame is one rendered animation step. Heights are in 0..1.
type Frame struct {
	Seq     uint64    `json:"seq"`
	Mode    string    `json:"mode"`
	Params  Params    `json:"params"`
	Heights []float64 `json:"heights"`
}

// Surface displays frames
type Surface interface {
	Render(f Frame)
	Clear()
}

// Visualizer owns the animation loop
type Visualizer struct {
	surface  Surface
	sched    schedule.Scheduler
	interval time.Duration
	bars     int

	mu     sync.Mutex
	active bool
	mode   Mode
	level  float64
	phase  float64
	seq    uint64
	gen    uint64
	handle schedule.Handle
}

// NewVisualizer creates a stopped visualizer drawing bars on surface every
// interval
func NewVisualizer(surface Surface, sched schedule.Scheduler, interval time.Duration, bars int) *Visualizer {
	if bars < 1 {
		bars = 1
	}
	return &Visualizer{surface: surface, sched: sched, interval: interval, bars: bars}
}

// NewVisualizerFromConfig reads frame interval and bar count from cfg
func NewVisualizerFromConfig(surface Surface, sched schedule.Scheduler, cfg *config.Config) *Visualizer {
	return NewVisualizer(surface, sched, time.Duration(cfg.WaveformFrameMs)*time.Millisecond, cfg.WaveformBars)
}

// SetState starts the loop when active and cancels it otherwise
func (v *Visualizer) SetState(active bool, mode Mode) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.mode = mode
	if !active {
		v.stop()
		return
	}
	v.active = true
	if v.handle == nil {
		v.gen++
		v.schedule()
	}
}

// SetLevel feeds the current input loudness (0..1)
func (v *Visualizer) SetLevel(level float64) {
	v.mu.Lock()
	v.level = math.Max(0, math.Min(1, level))
	v.mu.Unlock()
}

// Stop cancels the loop and clears the surface
func (v *Visualizer) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stop()
}

// Running reports whether a tick is scheduled
func (v *Visualizer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.handle != nil
}

// stop must be called with mu held
func (v *Visualizer) stop() {
	v.gen++
	if v.handle != nil {
		v.handle.Cancel()
		v.handle = nil
	}
	if v.active {
		v.active = false
		v.surface.Clear()
	}
}

// schedule must be called with mu held
func (v *Visualizer) schedule() {
	gen := v.gen
	v.handle = v.sched.AfterFunc(v.interval, func() { v.tick(gen) })
}

func (v *Visualizer) tick(gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || !v.active {
		return
	}

	params := ParamsFor(v.mode, v.bars)
	v.phase = math.Mod(v.phase+params.Speed*v.interval.Seconds(), 2*math.Pi)
	v.seq++
	v.surface.Render(Frame{
		Seq:     v.seq,
		Mode:    v.mode.String(),
		Params:  params,
		Heights: heights(v.mode, v.bars, v.phase, v.level),
	})
	v.schedule()
}

// heights computes bar heights. Listening bars follow the input level;
// speaking bars oscillate on their own.
func heights(mode Mode, bars int, phase, level float64) []float64 {
	out := make([]float64, bars)
	for i := range out {
		wave := 0.5 + 0.5*math.Sin(phase+float64(i)*0.6)
		switch mode {
		case Listening:
			out[i] = 0.1 + 0.9*level*wave
		case Speaking:
			out[i] = 0.3 + 0.7*wave
		default:
			out[i] = 0.05 + 0.1*wave
		}
	}
	return out
}

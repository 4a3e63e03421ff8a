package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/chakravyuh/voice-tutor/internal/audio"
)

// SpeakerSink plays through the local audio device
type SpeakerSink struct {
	sampleRate beep.SampleRate
}

// NewSpeakerSink initializes the device at sampleRate with the given buffer
// latency
func NewSpeakerSink(sampleRate int, latency time.Duration) (*SpeakerSink, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(latency)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	return &SpeakerSink{sampleRate: sr}, nil
}

func (s *SpeakerSink) SampleRate() beep.SampleRate { return s.sampleRate }

func (s *SpeakerSink) Play(st beep.Streamer) { speaker.Play(st) }

func (s *SpeakerSink) Clear() { speaker.Clear() }

// FrameWriter receives PCM16 mono frames from a PacedSink
type FrameWriter func(frame []byte) error

// PacedSink pulls the active stream at real-time pace and hands PCM16 mono
// frames to a writer, e.g. a websocket connection. Nothing is sent while no
// clip is active. A paused or muted clip still sends zero-valued frames so
// the receiver keeps its timing.
type PacedSink struct {
	sampleRate beep.SampleRate
	frame      time.Duration
	write      FrameWriter

	mu     sync.Mutex
	stream beep.Streamer
}

// NewPacedSink creates a sink emitting one frame every frame duration
func NewPacedSink(sampleRate int, frame time.Duration, write FrameWriter) *PacedSink {
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	return &PacedSink{
		sampleRate: beep.SampleRate(sampleRate),
		frame:      frame,
		write:      write,
	}
}

func (p *PacedSink) SampleRate() beep.SampleRate { return p.sampleRate }

// Play replaces the current stream
func (p *PacedSink) Play(st beep.Streamer) {
	p.mu.Lock()
	p.stream = st
	p.mu.Unlock()
}

// Clear drops the current stream
func (p *PacedSink) Clear() {
	p.mu.Lock()
	p.stream = nil
	p.mu.Unlock()
}

// Run pumps frames until ctx is cancelled or the writer fails
func (p *PacedSink) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.frame)
	defer ticker.Stop()

	buf := make([][2]float64, p.sampleRate.N(p.frame))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame := p.pull(buf)
		if len(frame) == 0 {
			continue
		}
		if err := p.write(frame); err != nil {
			return fmt.Errorf("failed to write audio frame: %w", err)
		}
	}
}

// pull streams one frame from the current stream, dropping it once drained
func (p *PacedSink) pull(buf [][2]float64) []byte {
	p.mu.Lock()
	st := p.stream
	p.mu.Unlock()
	if st == nil {
		return nil
	}

	n, ok := st.Stream(buf)
	if !ok {
		p.mu.Lock()
		if p.stream == st {
			p.stream = nil
		}
		p.mu.Unlock()
	}
	if n == 0 {
		return nil
	}

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = toInt16(buf[i][0])
	}
	return audio.SamplesToBytes(samples)
}

func toInt16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	default:
		return int16(v * 32767)
	}
}

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/chakravyuh/voice-tutor/internal/capture"
	"github.com/chakravyuh/voice-tutor/internal/playback"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

const speakerLatency = 100 * time.Millisecond

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22C55E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	boardStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#6366F1")).Padding(0, 1)
)

// lineCapture turns typed lines into final transcripts
type lineCapture struct {
	in io.Reader

	mu      sync.Mutex
	handler capture.Handler
	active  bool
	eof     chan struct{}
	once    sync.Once
}

func newLineCapture(in io.Reader) *lineCapture {
	return &lineCapture{in: in, eof: make(chan struct{})}
}

func (l *lineCapture) Start(ctx context.Context, h capture.Handler) error {
	l.mu.Lock()
	l.handler = h
	l.active = true
	l.mu.Unlock()

	l.once.Do(func() { go l.scan() })
	return nil
}

func (l *lineCapture) scan() {
	defer close(l.eof)
	scanner := bufio.NewScanner(l.in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		l.mu.Lock()
		h, active := l.handler, l.active
		l.mu.Unlock()
		if active && h.OnFinal != nil {
			h.OnFinal(text)
		}
	}
}

func (l *lineCapture) Stop() error {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
	return nil
}

// Typed input is never paused; the conversation drops lines sent while the
// tutor is talking.
func (l *lineCapture) Pause()  {}
func (l *lineCapture) Resume() {}

// Done is closed when input reaches EOF
func (l *lineCapture) Done() <-chan struct{} { return l.eof }

// speaker opens the local audio device at the configured playback rate
func speaker(sampleRate int) (*playback.Manager, error) {
	sink, err := playback.NewSpeakerSink(sampleRate, speakerLatency)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	return playback.NewManager(sink, nil), nil
}

// printBoard draws the whiteboard grid in a frame
func printBoard(w io.Writer, grid *whiteboard.GridCanvas) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, boardStyle.Render(grid.String()))
}

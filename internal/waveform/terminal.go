package waveform

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var levels = []rune("▁▂▃▄▅▆▇█")

// TerminalSurface draws frames as a single line of block characters,
// rewriting the line in place
type TerminalSurface struct {
	mu    sync.Mutex
	out   io.Writer
	label lipgloss.Style
}

// NewTerminalSurface writes frames to out
func NewTerminalSurface(out io.Writer) *TerminalSurface {
	return &TerminalSurface{
		out:   out,
		label: lipgloss.NewStyle().Bold(true).Width(13),
	}
}

// Render implements Surface
func (t *TerminalSurface) Render(f Frame) {
	bars := make([]rune, len(f.Heights))
	for i, h := range f.Heights {
		idx := int(h * float64(len(levels)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		bars[i] = levels[idx]
	}

	style := lipgloss.NewStyle().Foreground(lipgloss.Color(f.Params.Color))
	line := t.label.Render(f.Mode) + style.Render(string(bars))

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, "\r"+line)
}

// Clear implements Surface
func (t *TerminalSurface) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, "\r"+strings.Repeat(" ", 40)+"\r")
}

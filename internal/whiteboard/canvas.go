package whiteboard

import (
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
)

// Canvas is a drawing surface measured in its own units
type Canvas interface {
	Width() float64
	LineHeight() float64
	Measure(s string) float64
	Clear()
	DrawText(s string, x, y float64)
}

// GridCanvas lays text out on terminal cells. East Asian wide runes take two
// cells.
type GridCanvas struct {
	mu    sync.Mutex
	cols  int
	lines [][]rune
}

// NewGridCanvas creates a canvas cols cells wide
func NewGridCanvas(cols int) *GridCanvas {
	if cols < 1 {
		cols = 1
	}
	return &GridCanvas{cols: cols}
}

// SetCols changes the width. Call Renderer.Resize afterwards.
func (g *GridCanvas) SetCols(cols int) {
	if cols < 1 {
		cols = 1
	}
	g.mu.Lock()
	g.cols = cols
	g.mu.Unlock()
}

func (g *GridCanvas) Width() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.cols)
}

func (g *GridCanvas) LineHeight() float64 { return 1 }

func (g *GridCanvas) Measure(s string) float64 {
	return float64(runewidth.StringWidth(s))
}

func (g *GridCanvas) Clear() {
	g.mu.Lock()
	g.lines = nil
	g.mu.Unlock()
}

// DrawText writes s starting at cell (x, y). Wide runes occupy their cell
// and a zero placeholder.
func (g *GridCanvas) DrawText(s string, x, y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	row, col := int(y), int(x)
	for len(g.lines) <= row {
		g.lines = append(g.lines, nil)
	}
	line := g.lines[row]
	for _, r := range s {
		w := runewidth.RuneWidth(r)
		for len(line) < col+w {
			line = append(line, ' ')
		}
		line[col] = r
		for i := 1; i < w; i++ {
			line[col+i] = 0
		}
		col += w
	}
	g.lines[row] = line
}

// Lines returns the rendered rows without trailing blanks
func (g *GridCanvas) Lines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, len(g.lines))
	for i, line := range g.lines {
		var b strings.Builder
		for _, r := range line {
			if r != 0 {
				b.WriteRune(r)
			}
		}
		out[i] = strings.TrimRight(b.String(), " ")
	}
	return out
}

// String joins Lines with newlines
func (g *GridCanvas) String() string {
	return strings.Join(g.Lines(), "\n")
}

// OpKind names a recorded draw operation
type OpKind string

const (
	OpClear OpKind = "clear"
	OpText  OpKind = "text"
)

// Op is one draw operation, suitable for JSON transport
type Op struct {
	Kind OpKind  `json:"op"`
	Text string  `json:"text,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// RecordingCanvas measures text with a fixed advance per cell and forwards
// every draw operation to a listener, e.g. a browser canvas on the other end
// of a websocket.
type RecordingCanvas struct {
	mu         sync.Mutex
	width      float64
	cellWidth  float64
	lineHeight float64
	ops        []Op
	listener   func(Op)
}

// NewRecordingCanvas creates a canvas width units wide. cellWidth is the
// advance of a narrow rune.
func NewRecordingCanvas(width, cellWidth, lineHeight float64) *RecordingCanvas {
	return &RecordingCanvas{width: width, cellWidth: cellWidth, lineHeight: lineHeight}
}

// SetListener registers the receiver for new operations
func (c *RecordingCanvas) SetListener(fn func(Op)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// SetWidth changes the width. Call Renderer.Resize afterwards.
func (c *RecordingCanvas) SetWidth(width float64) {
	c.mu.Lock()
	c.width = width
	c.mu.Unlock()
}

func (c *RecordingCanvas) Width() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

func (c *RecordingCanvas) LineHeight() float64 { return c.lineHeight }

func (c *RecordingCanvas) Measure(s string) float64 {
	return float64(runewidth.StringWidth(s)) * c.cellWidth
}

func (c *RecordingCanvas) Clear() {
	c.mu.Lock()
	c.ops = c.ops[:0]
	c.mu.Unlock()
	c.emit(Op{Kind: OpClear})
}

func (c *RecordingCanvas) DrawText(s string, x, y float64) {
	op := Op{Kind: OpText, Text: s, X: x, Y: y}
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
	c.emit(op)
}

// Ops returns the text operations drawn since the last Clear
func (c *RecordingCanvas) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.ops...)
}

func (c *RecordingCanvas) emit(op Op) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(op)
	}
}

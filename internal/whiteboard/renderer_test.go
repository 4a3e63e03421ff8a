package whiteboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/schedule"
)

func newTestRenderer(cols int) (*Renderer, *GridCanvas, *schedule.Manual, *int) {
	canvas := NewGridCanvas(cols)
	clock := schedule.NewManual()
	r := NewRenderer(canvas, clock, DefaultTiming())
	completions := 0
	r.SetOnRenderComplete(func() { completions++ })
	return r, canvas, clock, &completions
}

func TestRevealInterval(t *testing.T) {
	timing := DefaultTiming()
	tests := []struct {
		word string
		want time.Duration
	}{
		{"a", 100 * time.Millisecond},
		{"the", 135 * time.Millisecond},
		{"Hello", 225 * time.Millisecond},
		{"velocity", 300 * time.Millisecond},
		{"extraordinarily", 300 * time.Millisecond},
		{"日本", 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.want, RevealInterval(tt.word, timing))
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"Hello", "world", "foo"}, Tokenize("  Hello \n world\tfoo "))
	assert.Empty(t, Tokenize("   "))
}

func TestTimingFromConfig(t *testing.T) {
	timing := TimingFromConfig(&config.Config{WhiteboardMinIntervalMs: 80, WhiteboardMaxIntervalMs: 250, WhiteboardPerRuneMs: 30})
	assert.Equal(t, Timing{Min: 80 * time.Millisecond, Max: 250 * time.Millisecond, PerRune: 30 * time.Millisecond}, timing)
}

func TestRenderer_RevealsAllWordsOnce(t *testing.T) {
	r, canvas, clock, completions := newTestRenderer(80)

	r.SetText("Hello world foo")
	r.SetSpeaking(true)
	clock.Advance(time.Second)

	assert.Equal(t, []string{"Hello", "world", "foo"}, r.Revealed())
	assert.Equal(t, 1, *completions)
	assert.Equal(t, "Hello world foo", canvas.String())
	assert.False(t, r.Rendering())

	clock.Advance(time.Second)
	assert.Equal(t, 1, *completions)
	assert.Equal(t, []string{"Hello", "world", "foo"}, r.Revealed())
	assert.Zero(t, clock.Pending())
}

func TestRenderer_PacesByNextWord(t *testing.T) {
	r, _, clock, _ := newTestRenderer(80)
	r.SetText("Hello world foo")
	r.SetSpeaking(true)

	clock.Advance(224 * time.Millisecond)
	assert.Empty(t, r.Revealed())
	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"Hello"}, r.Revealed())

	clock.Advance(225 * time.Millisecond)
	assert.Equal(t, []string{"Hello", "world"}, r.Revealed())
	clock.Advance(134 * time.Millisecond)
	assert.Len(t, r.Revealed(), 2)
	clock.Advance(time.Millisecond)
	assert.Len(t, r.Revealed(), 3)
}

func TestRenderer_WaitsForSpeaking(t *testing.T) {
	r, _, clock, completions := newTestRenderer(80)
	r.SetText("Hello world")
	clock.Advance(time.Second)
	assert.Empty(t, r.Revealed())
	assert.Zero(t, *completions)

	r.SetSpeaking(true)
	clock.Advance(time.Second)
	assert.Len(t, r.Revealed(), 2)
	assert.Equal(t, 1, *completions)
}

func TestRenderer_StopsWhenSpeakingEnds(t *testing.T) {
	r, canvas, clock, completions := newTestRenderer(80)
	r.SetText("Hello world foo")
	r.SetSpeaking(true)
	clock.Advance(225 * time.Millisecond)
	require.Equal(t, []string{"Hello"}, r.Revealed())

	r.SetSpeaking(false)
	assert.Equal(t, 1, *completions)
	assert.Zero(t, clock.Pending(), "no orphaned tick")

	r.SetSpeaking(true)
	clock.Advance(time.Second)
	assert.Equal(t, []string{"Hello"}, r.Revealed(), "partial text stays as-is")
	assert.Equal(t, "Hello", canvas.String())
	assert.Equal(t, 1, *completions)
}

func TestRenderer_CancelCompletesOnce(t *testing.T) {
	r, _, clock, completions := newTestRenderer(80)
	r.SetText("Hello world foo")
	r.SetSpeaking(true)

	r.Cancel()
	r.Cancel()
	clock.Advance(time.Second)
	assert.Empty(t, r.Revealed())
	assert.Equal(t, 1, *completions)
}

func TestRenderer_NewTextReplacesOld(t *testing.T) {
	r, canvas, clock, completions := newTestRenderer(80)
	r.SetSpeaking(true)
	r.SetText("Hello world foo")
	clock.Advance(225 * time.Millisecond)

	r.SetText("Next answer")
	assert.Equal(t, 1, *completions, "unfinished text completes when replaced")
	assert.Empty(t, r.Revealed())
	assert.Equal(t, Cursor{}, r.Cursor())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"Next", "answer"}, r.Revealed())
	assert.Equal(t, "Next answer", canvas.String())
	assert.Equal(t, 2, *completions)
}

func TestRenderer_EmptyText(t *testing.T) {
	r, _, clock, completions := newTestRenderer(80)
	r.SetSpeaking(true)
	r.SetText("   ")
	assert.Zero(t, clock.Pending())
	r.Cancel()
	assert.Zero(t, *completions)
}

func TestRenderer_WrapsLines(t *testing.T) {
	r, canvas, clock, _ := newTestRenderer(11)
	r.SetText("Hello world foo")
	r.SetSpeaking(true)
	clock.Advance(time.Second)

	assert.Equal(t, []string{"Hello world", "foo"}, canvas.Lines())
	assert.Equal(t, Cursor{WordIndex: 3, X: 3, Y: 1}, r.Cursor())
}

func TestRenderer_BreaksLongWords(t *testing.T) {
	r, canvas, clock, _ := newTestRenderer(4)
	r.SetText("abcdefghij ok")
	r.SetSpeaking(true)
	clock.Advance(time.Second)

	assert.Equal(t, []string{"abcd", "efgh", "ij", "ok"}, canvas.Lines())
}

func TestRenderer_ResizeReplaysRevealedWords(t *testing.T) {
	r, canvas, clock, completions := newTestRenderer(80)
	r.SetText("Hello world foo")
	r.SetSpeaking(true)
	clock.Advance(450 * time.Millisecond)
	require.Equal(t, []string{"Hello", "world"}, r.Revealed())

	canvas.SetCols(5)
	r.Resize()
	assert.Equal(t, []string{"Hello", "world"}, canvas.Lines())
	assert.Equal(t, Cursor{WordIndex: 2, X: 5, Y: 1}, r.Cursor())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"Hello", "world", "foo"}, canvas.Lines())
	assert.Equal(t, []string{"Hello", "world", "foo"}, r.Revealed())
	assert.Equal(t, 1, *completions)
}

func TestRecordingCanvas_StreamsOps(t *testing.T) {
	canvas := NewRecordingCanvas(120, 10, 20)
	var ops []Op
	canvas.SetListener(func(op Op) { ops = append(ops, op) })

	clock := schedule.NewManual()
	r := NewRenderer(canvas, clock, DefaultTiming())
	r.SetText("Hello world")
	r.SetSpeaking(true)
	clock.Advance(time.Second)

	require.Len(t, ops, 3)
	assert.Equal(t, OpClear, ops[0].Kind)
	assert.Equal(t, Op{Kind: OpText, Text: "Hello", X: 0, Y: 0}, ops[1])
	assert.Equal(t, Op{Kind: OpText, Text: "world", X: 60, Y: 0}, ops[2])

	canvas.SetWidth(60)
	r.Resize()
	assert.Equal(t, []Op{
		{Kind: OpText, Text: "Hello", X: 0, Y: 0},
		{Kind: OpText, Text: "world", X: 0, Y: 20},
	}, canvas.Ops(), "resize replays without duplicates")
}

func TestGridCanvas_WideRunes(t *testing.T) {
	canvas := NewGridCanvas(10)
	assert.Equal(t, float64(4), canvas.Measure("日本"))
	canvas.DrawText("日本", 0, 0)
	canvas.DrawText("go", 5, 0)
	assert.Equal(t, []string{"日本 go"}, canvas.Lines())
}

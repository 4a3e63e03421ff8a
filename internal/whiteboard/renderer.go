// Package whiteboard reveals assistant text word by word on a canvas at a
// pace that approximates speech.
package whiteboard

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/schedule"
)

// Cursor is the next draw position
type Cursor struct {
	WordIndex int
	X, Y      float64
}

// Timing bounds the delay before each word
type Timing struct {
	Min     time.Duration
	Max     time.Duration
	PerRune time.Duration
}

// DefaultTiming reveals words every 100-300ms
func DefaultTiming() Timing {
	return Timing{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond, PerRune: 45 * time.Millisecond}
}

// TimingFromConfig reads the whiteboard pacing settings
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		Min:     time.Duration(cfg.WhiteboardMinIntervalMs) * time.Millisecond,
		Max:     time.Duration(cfg.WhiteboardMaxIntervalMs) * time.Millisecond,
		PerRune: time.Duration(cfg.WhiteboardPerRuneMs) * time.Millisecond,
	}
}

// Tokenize splits text into words on whitespace
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// RevealInterval is the delay before word is revealed
func RevealInterval(word string, t Timing) time.Duration {
	d := time.Duration(utf8.RuneCountInString(word)) * t.PerRune
	if d < t.Min {
		return t.Min
	}
	if d > t.Max {
		return t.Max
	}
	return d
}

// Renderer reveals one word per tick while speaking is true. Completion is
// reported once per text: after the last word, or when rendering stops
// early.
type Renderer struct {
	canvas Canvas
	sched  schedule.Scheduler
	timing Timing

	mu         sync.Mutex
	words      []string
	revealed   int
	cursor     Cursor
	speaking   bool
	finished   bool
	gen        uint64
	handle     schedule.Handle
	onComplete func()
}

// NewRenderer creates a renderer drawing on canvas
func NewRenderer(canvas Canvas, sched schedule.Scheduler, timing Timing) *Renderer {
	return &Renderer{canvas: canvas, sched: sched, timing: timing, finished: true}
}

// SetOnRenderComplete registers the completion callback
func (r *Renderer) SetOnRenderComplete(fn func()) {
	r.mu.Lock()
	r.onComplete = fn
	r.mu.Unlock()
}

// SetText replaces the text and clears the canvas. Unfinished rendering of
// the previous text completes as cancelled.
func (r *Renderer) SetText(text string) {
	r.mu.Lock()
	complete := r.stop()
	r.gen++
	r.words = Tokenize(text)
	r.revealed = 0
	r.cursor = Cursor{}
	r.finished = len(r.words) == 0
	r.canvas.Clear()
	if r.speaking && !r.finished {
		r.scheduleNext()
	}
	r.mu.Unlock()
	r.fire(complete)
}

// SetSpeaking starts or stops the reveal. Turning it off ends rendering of
// the current text, leaving revealed words in place.
func (r *Renderer) SetSpeaking(speaking bool) {
	r.mu.Lock()
	if speaking == r.speaking {
		r.mu.Unlock()
		return
	}
	r.speaking = speaking
	var complete func()
	if speaking {
		if !r.finished && r.handle == nil {
			r.scheduleNext()
		}
	} else {
		complete = r.stop()
	}
	r.mu.Unlock()
	r.fire(complete)
}

// Cancel stops rendering, e.g. when the session ends
func (r *Renderer) Cancel() {
	r.mu.Lock()
	r.speaking = false
	complete := r.stop()
	r.mu.Unlock()
	r.fire(complete)
}

// Resize replays the revealed words into the canvas's current geometry
func (r *Renderer) Resize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canvas.Clear()
	r.cursor = Cursor{}
	for i := 0; i < r.revealed; i++ {
		r.place(r.words[i])
		r.cursor.WordIndex = i + 1
	}
}

// Revealed returns the words drawn so far
func (r *Renderer) Revealed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.words[:r.revealed]...)
}

// Cursor returns the current draw position
func (r *Renderer) Cursor() Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Rendering reports whether words are still pending for the current text
func (r *Renderer) Rendering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.finished
}

// scheduleNext must be called with mu held
func (r *Renderer) scheduleNext() {
	gen := r.gen
	delay := RevealInterval(r.words[r.revealed], r.timing)
	r.handle = r.sched.AfterFunc(delay, func() { r.tick(gen) })
}

func (r *Renderer) tick(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || !r.speaking || r.finished {
		r.mu.Unlock()
		return
	}
	r.handle = nil
	r.place(r.words[r.revealed])
	r.revealed++
	r.cursor.WordIndex = r.revealed

	var complete func()
	if r.revealed == len(r.words) {
		r.finished = true
		complete = r.onComplete
	} else {
		r.scheduleNext()
	}
	r.mu.Unlock()
	r.fire(complete)
}

// stop cancels the pending tick and marks the text finished. It returns the
// completion callback if this call finished an unfinished text. mu must be
// held.
func (r *Renderer) stop() func() {
	r.gen++
	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
	if r.finished {
		return nil
	}
	r.finished = true
	return r.onComplete
}

func (r *Renderer) fire(fn func()) {
	if fn != nil {
		fn()
	}
}

// place draws word at the cursor, wrapping when it does not fit. Words wider
// than a full line are broken rune by rune. mu must be held.
func (r *Renderer) place(word string) {
	width := r.canvas.Width()
	lineHeight := r.canvas.LineHeight()
	w := r.canvas.Measure(word)

	x := r.cursor.X
	if x > 0 {
		x += r.canvas.Measure(" ")
	}

	if w <= width {
		if x+w > width && r.cursor.X > 0 {
			x = 0
			r.cursor.Y += lineHeight
		}
		r.canvas.DrawText(word, x, r.cursor.Y)
		r.cursor.X = x + w
		return
	}

	if x > 0 && x >= width {
		x = 0
		r.cursor.Y += lineHeight
	}
	for _, ch := range word {
		s := string(ch)
		cw := r.canvas.Measure(s)
		if x > 0 && x+cw > width {
			x = 0
			r.cursor.Y += lineHeight
		}
		r.canvas.DrawText(s, x, r.cursor.Y)
		x += cw
	}
	r.cursor.X = x
}

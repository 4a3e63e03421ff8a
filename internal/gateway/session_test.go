package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chakravyuh/voice-tutor/internal/audio"
	"github.com/chakravyuh/voice-tutor/internal/capture"
	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/dialogue"
	"github.com/chakravyuh/voice-tutor/internal/engine"
	"github.com/chakravyuh/voice-tutor/internal/realtime"
	"github.com/chakravyuh/voice-tutor/internal/synthesis"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

const readWait = 3 * time.Second

func testConfig() *config.Config {
	return &config.Config{
		CaptureSampleRate:       16000,
		PlaybackSampleRate:      16000,
		PlaybackFrameMs:         20,
		WhiteboardMinIntervalMs: 1,
		WhiteboardMaxIntervalMs: 1,
		WhiteboardPerRuneMs:     1,
		WaveformFrameMs:         1000,
		WaveformBars:            4,
		AudioBufferSize:         4096,
		VADEnergyThreshold:      500,
		VADSilenceFrames:        10,
		ReconnectMaxAttempts:    1,
		ReconnectBackoff:        10,
		RealtimeAssistantID:     "tutor-1",
	}
}

type fakeRecognizer struct {
	mu      sync.Mutex
	events  capture.RecognizerEvents
	written int
}

func (f *fakeRecognizer) Start(ctx context.Context, events capture.RecognizerEvents) error {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Write(pcm []byte) error {
	f.mu.Lock()
	f.written += len(pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Stop() error { return nil }

func (f *fakeRecognizer) result(text string, final bool) {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	ev.OnResult(text, final)
}

func (f *fakeRecognizer) bytesWritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// pcmSynth returns 40ms of a quiet tone at the playback rate
type pcmSynth struct{ rate int }

func (p pcmSynth) Synthesize(ctx context.Context, text string) (*synthesis.Audio, error) {
	samples := make([]int16, p.rate/25)
	for i := range samples {
		samples[i] = int16(1000 * (i%2*2 - 1))
	}
	return &synthesis.Audio{
		Data:   audio.SamplesToBytes(samples),
		Text:   text,
		Format: synthesis.Format{Codec: synthesis.CodecPCM, SampleRate: p.rate},
	}, nil
}

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames int
	ops    []whiteboard.Op
	seen   map[string]int
}

func dial(t *testing.T, cfg *config.Config, backend Backend) *wsClient {
	t.Helper()
	srv := httptest.NewServer(HandleVoiceWS(cfg, backend))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn, seen: map[string]int{}}
}

func (c *wsClient) command(cmd Command) {
	require.NoError(c.t, c.conn.WriteJSON(cmd))
}

// until reads frames until an event of type typ matching ok arrives,
// tallying audio frames, whiteboard ops and event types on the way
func (c *wsClient) until(typ string, ok func(Event) bool) Event {
	c.t.Helper()
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readWait)))
		mt, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		if mt == websocket.BinaryMessage {
			c.frames++
			continue
		}

		var ev Event
		require.NoError(c.t, json.Unmarshal(data, &ev))
		c.seen[ev.Type]++
		if ev.Type == EventWhiteboard && ev.Op != nil {
			if ev.Op.Kind == whiteboard.OpClear {
				c.ops = nil
			} else {
				c.ops = append(c.ops, *ev.Op)
			}
		}
		if ev.Type == typ && (ok == nil || ok(ev)) {
			return ev
		}
	}
}

func state(to string) func(Event) bool {
	return func(ev Event) bool { return ev.To == to }
}

func TestSession_TutoringTurn(t *testing.T) {
	cfg := testConfig()
	rec := &fakeRecognizer{}
	c := dial(t, cfg, Backend{
		Recognizers: func() (capture.Recognizer, error) { return rec, nil },
		Synthesizer: pcmSynth{rate: cfg.PlaybackSampleRate},
		Responder:   dialogue.NewEcho("You said: %s"),
	})

	c.command(Command{Type: CmdStart})
	c.until(EventState, state("starting"))
	c.until(EventState, state("listening"))

	mic := audio.SamplesToBytes(make([]int16, 320))
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, mic))
	require.Eventually(t, func() bool { return rec.bytesWritten() == len(mic) }, readWait, time.Millisecond)

	rec.result("hi", true)
	tr := c.until(EventTranscript, nil)
	assert.Equal(t, "hi", tr.Text)
	assert.Equal(t, "user", tr.Speaker)

	msg := c.until(EventMessage, nil)
	assert.Equal(t, "You said: hi", msg.Text)
	assert.Equal(t, "assistant", msg.Speaker)
	c.until(EventSpeechStart, nil)
	c.until(EventSpeechEnd, nil)
	if c.seen[EventRenderComplete] == 0 {
		c.until(EventRenderComplete, nil)
	}

	assert.Equal(t, 1, c.seen[EventRenderComplete])
	assert.Positive(t, c.frames, "assistant audio is streamed")
	assert.Equal(t, []whiteboard.Op{
		{Kind: whiteboard.OpText, Text: "You", X: 0, Y: 0},
		{Kind: whiteboard.OpText, Text: "said:", X: 4, Y: 0},
		{Kind: whiteboard.OpText, Text: "hi", X: 10, Y: 0},
	}, c.ops)

	c.command(Command{Type: CmdResize, Cols: 5})
	c.until(EventWhiteboard, func(ev Event) bool { return ev.Op != nil && ev.Op.Text == "hi" })
	assert.Equal(t, []whiteboard.Op{
		{Kind: whiteboard.OpText, Text: "You", X: 0, Y: 0},
		{Kind: whiteboard.OpText, Text: "said:", X: 0, Y: 1},
		{Kind: whiteboard.OpText, Text: "hi", X: 0, Y: 2},
	}, c.ops)

	c.command(Command{Type: CmdMute})
	mute := c.until(EventMute, nil)
	require.NotNil(t, mute.Muted)
	assert.True(t, *mute.Muted)

	c.command(Command{Type: CmdEnd})
	c.until(EventState, state("idle"))
	c.until(EventSessionEnd, nil)
}

func TestSession_UnsupportedRecognizer(t *testing.T) {
	c := dial(t, testConfig(), Backend{
		Recognizers: func() (capture.Recognizer, error) {
			return nil, fmt.Errorf("no speech service: %w", voiceerr.ErrUnsupported)
		},
		Synthesizer: pcmSynth{rate: 16000},
		Responder:   dialogue.NewEcho("%s"),
	})

	c.command(Command{Type: CmdStart})
	ev := c.until(EventError, nil)
	assert.Equal(t, "CapabilityError", ev.Kind)
	assert.True(t, ev.Fatal)
	c.until(EventState, state("idle"))
	assert.Zero(t, c.seen[EventSessionEnd])
}

func TestSession_MicrophoneDenied(t *testing.T) {
	c := dial(t, testConfig(), Backend{
		Recognizers: func() (capture.Recognizer, error) { return &fakeRecognizer{}, nil },
		Synthesizer: pcmSynth{rate: 16000},
		Responder:   dialogue.NewEcho("%s"),
	})

	c.command(Command{Type: CmdStart})
	c.until(EventState, state("listening"))
	c.command(Command{Type: CmdMicDenied})

	ev := c.until(EventError, nil)
	assert.Equal(t, "PermissionError", ev.Kind)
	assert.True(t, ev.Fatal)
	c.until(EventSessionEnd, nil)
}

func TestSession_SayNeedsAgent(t *testing.T) {
	c := dial(t, testConfig(), Backend{
		Recognizers: func() (capture.Recognizer, error) { return &fakeRecognizer{}, nil },
		Synthesizer: pcmSynth{rate: 16000},
		Responder:   dialogue.NewEcho("%s"),
	})

	c.command(Command{Type: CmdSay, Text: "hello"})
	ev := c.until(EventError, nil)
	assert.Equal(t, "DialogueError", ev.Kind)
	assert.False(t, ev.Fatal)
}

// fakeCall stands in for the hosted voice agent
type fakeCall struct {
	mu      sync.Mutex
	h       realtime.Handlers
	started chan struct{}
	sent    []string
}

func (f *fakeCall) Start(ctx context.Context, assistantID string, h realtime.Handlers) error {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	close(f.started)
	return nil
}

func (f *fakeCall) Stop() error {
	f.mu.Lock()
	h := f.h
	f.h = realtime.Handlers{}
	f.mu.Unlock()
	if h.OnCallEnd != nil {
		h.OnCallEnd()
	}
	return nil
}

func (f *fakeCall) Send(text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	h := f.h
	f.mu.Unlock()
	h.OnMessage("user", text, true)
	h.OnSpeechStart()
	h.OnAudio([]byte{1, 0, 2, 0})
	h.OnMessage("assistant", "Reply to "+text, true)
	h.OnSpeechEnd()
	return nil
}

func (f *fakeCall) SendAudio(pcm []byte) error { return nil }
func (f *fakeCall) SetVolume(v float64)        {}

func TestSession_VoiceAgent(t *testing.T) {
	call := &fakeCall{started: make(chan struct{})}
	c := dial(t, testConfig(), Backend{
		NewCall: func() engine.Caller { return call },
	})

	c.command(Command{Type: CmdStart})
	c.until(EventState, state("starting"))
	<-call.started
	call.mu.Lock()
	h := call.h
	call.mu.Unlock()
	h.OnCallStart()
	c.until(EventState, state("listening"))

	c.command(Command{Type: CmdSay, Text: "why is the sky blue"})
	tr := c.until(EventTranscript, nil)
	assert.Equal(t, "why is the sky blue", tr.Text)
	msg := c.until(EventMessage, nil)
	assert.Equal(t, "Reply to why is the sky blue", msg.Text)
	c.until(EventSpeechEnd, nil)
	assert.Equal(t, 1, c.frames)

	c.command(Command{Type: CmdEnd})
	c.until(EventSessionEnd, nil)
}

type checkedSynth struct{ pcmSynth }

func (checkedSynth) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

func TestBackend_Checks(t *testing.T) {
	assert.Empty(t, Backend{Synthesizer: pcmSynth{rate: 16000}}.Checks())

	checks := Backend{Synthesizer: checkedSynth{}}.Checks()
	require.Contains(t, checks, "elevenlabs")
	ok, err := checks["elevenlabs"](context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestHandleVoiceWS_RejectsPlainHTTP(t *testing.T) {
	var built bool
	backend := Backend{
		Recognizers: func() (capture.Recognizer, error) {
			built = true
			return &fakeRecognizer{}, nil
		},
	}
	srv := httptest.NewServer(HandleVoiceWS(testConfig(), backend))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, built, "no session is created without an upgrade")
}

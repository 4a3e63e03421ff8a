package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chakravyuh/voice-tutor/internal/audio"
	"github.com/chakravyuh/voice-tutor/internal/conversation"
	"github.com/chakravyuh/voice-tutor/internal/realtime"
	"github.com/chakravyuh/voice-tutor/internal/schedule"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

type fakeCall struct {
	mu       sync.Mutex
	startErr error
	dialing  chan struct{}
	h        realtime.Handlers
	last     realtime.Handlers
	sent     []string
	audio    [][]byte
	volumes  []float64
	stops    int
}

func (f *fakeCall) Start(ctx context.Context, assistantID string, h realtime.Handlers) error {
	f.mu.Lock()
	dialing := f.dialing
	f.mu.Unlock()
	if dialing != nil {
		<-dialing
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.h = h
	f.last = h
	return nil
}

// Stop mirrors the client: call-end is delivered before Stop returns
func (f *fakeCall) Stop() error {
	f.mu.Lock()
	f.stops++
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
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) SendAudio(pcm []byte) error {
	f.mu.Lock()
	f.audio = append(f.audio, pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) SetVolume(v float64) {
	f.mu.Lock()
	f.volumes = append(f.volumes, v)
	f.mu.Unlock()
}

func (f *fakeCall) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeCall) handlers() realtime.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

type agentRig struct {
	agent   *Agent
	call    *fakeCall
	clock   *schedule.Manual
	surface *surface
	log     *hostLog
	heard   [][]byte
}

func newAgentRig() *agentRig {
	r := &agentRig{
		call:    &fakeCall{},
		clock:   schedule.NewManual(),
		surface: &surface{},
		log:     &hostLog{},
	}
	display := Display{
		Canvas:        whiteboard.NewRecordingCanvas(80, 1, 1),
		Surface:       r.surface,
		Scheduler:     r.clock,
		Timing:        whiteboard.DefaultTiming(),
		FrameInterval: 33 * time.Millisecond,
		Bars:          8,
	}
	r.agent = NewAgent(r.call, "tutor-1", display, r.log.host(), func(pcm []byte) {
		r.heard = append(r.heard, pcm)
	})
	return r
}

func TestAgent_CallLifecycle(t *testing.T) {
	r := newAgentRig()
	require.NoError(t, r.agent.StartSession(context.Background()))
	assert.Equal(t, conversation.Starting, r.agent.Snapshot().State)
	assert.False(t, r.agent.Snapshot().Active)

	h := r.call.handlers()
	h.OnCallStart()
	snap := r.agent.Snapshot()
	assert.True(t, snap.Active)
	assert.True(t, snap.Listening)
	assert.True(t, r.agent.Waveform().Running())

	h.OnMessage("user", "what is veloc", false)
	h.OnMessage("user", "What is velocity?", true)
	h.OnSpeechStart()
	h.OnMessage("assistant", "Speed with direction.", true)
	h.OnAudio([]byte{1, 0})
	assert.True(t, r.agent.Snapshot().Speaking)
	assert.True(t, r.agent.Whiteboard().Rendering())

	r.clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"Speed", "with", "direction."}, r.agent.Whiteboard().Revealed())
	assert.Equal(t, 1, r.log.count("render-complete"))

	h.OnSpeechEnd()
	assert.True(t, r.agent.Snapshot().Listening)

	u := r.agent.Transcript()
	require.Len(t, u, 2)
	assert.Equal(t, transcript.User, u[0].Speaker)
	assert.Equal(t, transcript.Assistant, u[1].Speaker)
	assert.Equal(t, [][]byte{{1, 0}}, r.heard)

	r.agent.EndSession()
	assert.Equal(t, conversation.Idle, r.agent.Snapshot().State)
	assert.Zero(t, r.clock.Pending())
	assert.Equal(t, 1, r.log.count("session-end"))
	assert.Equal(t, []string{
		"state:starting", "state:listening", "transcript", "state:speaking", "speech-start",
		"message", "render-complete", "state:listening", "speech-end", "state:idle", "session-end",
	}, withoutActivity(r.log.events))
}

func withoutActivity(events []string) []string {
	var out []string
	for _, e := range events {
		if e != "activity" {
			out = append(out, e)
		}
	}
	return out
}

func TestAgent_HangupWhileSpeakingEndsSpeech(t *testing.T) {
	r := newAgentRig()
	require.NoError(t, r.agent.StartSession(context.Background()))
	h := r.call.handlers()
	h.OnCallStart()
	h.OnSpeechStart()

	r.agent.EndSession()
	assert.Equal(t, 1, r.log.count("speech-end"))
	assert.Equal(t, 1, r.log.count("session-end"))

	h.OnSpeechEnd()
	h.OnMessage("assistant", "late", true)
	assert.Equal(t, 1, r.log.count("speech-end"))
	assert.Empty(t, r.agent.Transcript())
}

func TestAgent_StartFailure(t *testing.T) {
	r := newAgentRig()
	r.call.startErr = voiceerr.New(voiceerr.Capability, "realtime.start", errors.New("dial refused"))

	err := r.agent.StartSession(context.Background())
	require.Error(t, err)
	assert.True(t, voiceerr.IsFatal(err))
	assert.Equal(t, conversation.Idle, r.agent.Snapshot().State)
	assert.Equal(t, []string{"state:starting", "state:error", "error", "state:idle"}, r.log.events)
	assert.Zero(t, r.log.count("session-end"))
	assert.False(t, r.agent.Waveform().Running())
}

func TestAgent_StartTwice(t *testing.T) {
	r := newAgentRig()
	require.NoError(t, r.agent.StartSession(context.Background()))
	assert.ErrorIs(t, r.agent.StartSession(context.Background()), conversation.ErrSessionActive)
}

func TestAgent_AgentHangsUp(t *testing.T) {
	r := newAgentRig()
	require.NoError(t, r.agent.StartSession(context.Background()))
	h := r.call.handlers()
	h.OnCallStart()
	h.OnError(voiceerr.New(voiceerr.Capability, "realtime.read", errors.New("reset")))
	h.OnCallEnd()

	assert.Equal(t, conversation.Idle, r.agent.Snapshot().State)
	assert.Equal(t, 1, r.log.count("error"))
	assert.Equal(t, 1, r.log.count("session-end"))

	require.NoError(t, r.agent.StartSession(context.Background()))
	assert.Equal(t, conversation.Starting, r.agent.Snapshot().State)
}

func TestAgent_MuteAndAudio(t *testing.T) {
	r := newAgentRig()
	require.NoError(t, r.agent.StartSession(context.Background()))
	r.call.handlers().OnCallStart()

	assert.True(t, r.agent.ToggleMute())
	assert.False(t, r.agent.ToggleMute())
	assert.Equal(t, []float64{0, 1}, r.call.volumes)
	assert.Equal(t, 2, r.log.count("mute"))

	pcm := audio.SamplesToBytes([]int16{8000, -8000, 8000, -8000})
	require.NoError(t, r.agent.Write(pcm))
	assert.Equal(t, [][]byte{pcm}, r.call.audio)
	assert.Equal(t, 1, r.log.count("activity"))

	require.NoError(t, r.agent.Send("hello"))
	assert.Equal(t, []string{"hello"}, r.call.sent)
}

func TestAgent_EndSessionWhileConnecting(t *testing.T) {
	r := newAgentRig()
	r.call.dialing = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- r.agent.StartSession(context.Background()) }()
	require.Eventually(t, func() bool {
		return r.agent.Snapshot().State == conversation.Starting
	}, time.Second, time.Millisecond)

	r.agent.EndSession()
	assert.Equal(t, conversation.Idle, r.agent.Snapshot().State)
	assert.Equal(t, 1, r.call.stopCount())

	close(r.call.dialing)
	assert.ErrorIs(t, <-errc, conversation.ErrSessionEnded)
	assert.Equal(t, 2, r.call.stopCount())

	r.call.mu.Lock()
	late := r.call.last
	r.call.mu.Unlock()
	late.OnCallStart()
	late.OnSpeechStart()
	late.OnMessage("assistant", "too late", true)

	snap := r.agent.Snapshot()
	assert.Equal(t, conversation.Idle, snap.State)
	assert.False(t, snap.Active)
	assert.Empty(t, r.agent.Transcript())
	assert.Zero(t, r.log.count("session-end"))
	assert.Equal(t, []string{"state:starting", "state:idle"}, withoutActivity(r.log.events))
	assert.False(t, r.agent.Waveform().Running())
}

func TestAgent_EndSessionWhenIdleIsNoop(t *testing.T) {
	r := newAgentRig()
	r.agent.EndSession()
	assert.Zero(t, r.call.stopCount())
	assert.Empty(t, r.log.events)
}

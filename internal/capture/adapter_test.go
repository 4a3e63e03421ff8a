package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chakravyuh/voice-tutor/internal/audio"
	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/voiceerr"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	events   RecognizerEvents
	started  bool
	stopped  bool
	written  bytes.Buffer
	startErr error
}

func (f *fakeRecognizer) Start(ctx context.Context, events RecognizerEvents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.events = events
	f.started = true
	return nil
}

func (f *fakeRecognizer) Write(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(pcm)
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeRecognizer) emit() RecognizerEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeRecognizer) bytesWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

// recognizerPool hands out fake recognizers and records every one created
type recognizerPool struct {
	mu      sync.Mutex
	created []*fakeRecognizer
	failN   int // factory calls that fail before succeeding
	err     error
	hold    chan struct{}
}

func (p *recognizerPool) factory() (Recognizer, error) {
	p.mu.Lock()
	hold := p.hold
	p.mu.Unlock()
	if hold != nil {
		<-hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.failN > 0 {
		p.failN--
		return nil, errors.New("connection refused")
	}
	r := &fakeRecognizer{}
	p.created = append(p.created, r)
	return r, nil
}

func (p *recognizerPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

func (p *recognizerPool) get(i int) *fakeRecognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created[i]
}

type recorder struct {
	mu       sync.Mutex
	interims []string
	finals   []string
	errs     []error
	levels   []float64
}

func (r *recorder) handler() Handler {
	return Handler{
		OnInterim: func(text string) {
			r.mu.Lock()
			r.interims = append(r.interims, text)
			r.mu.Unlock()
		},
		OnFinal: func(text string) {
			r.mu.Lock()
			r.finals = append(r.finals, text)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnActivity: func(level float64, speaking bool) {
			r.mu.Lock()
			r.levels = append(r.levels, level)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func testConfig() *config.Config {
	return &config.Config{
		AudioBufferSize:      4096,
		VADEnergyThreshold:   500,
		VADSilenceFrames:     10,
		ReconnectMaxAttempts: 3,
		ReconnectBackoff:     1,
	}
}

func TestAdapter_StartCapabilityError(t *testing.T) {
	pool := &recognizerPool{err: voiceerr.ErrUnsupported}
	a := NewAdapter(pool.factory, testConfig())

	err := a.Start(context.Background(), Handler{})
	require.Error(t, err)
	kind, ok := voiceerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, voiceerr.Capability, kind)
	assert.False(t, a.Active())
}

func TestAdapter_StartPermissionError(t *testing.T) {
	pool := &recognizerPool{err: voiceerr.ErrPermissionDenied}
	a := NewAdapter(pool.factory, testConfig())

	err := a.Start(context.Background(), Handler{})
	kind, _ := voiceerr.KindOf(err)
	assert.Equal(t, voiceerr.Permission, kind)
}

func TestAdapter_InterimAndFinal(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	ev := pool.get(0).emit()
	ev.OnResult("what is", false)
	ev.OnResult("what is", false) // duplicate interim is suppressed
	ev.OnResult("what is velocity", false)
	ev.OnResult("", true)
	ev.OnResult("What is velocity?", true)

	assert.Equal(t, []string{"what is", "what is velocity"}, rec.interims)
	assert.Equal(t, []string{"What is velocity?"}, rec.finals)
}

func TestAdapter_PauseDropsResults(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	a.Pause()
	ev := pool.get(0).emit()
	ev.OnResult("ignored", true)
	a.Resume()
	ev.OnResult("kept", true)

	assert.Equal(t, []string{"kept"}, rec.finals)
}

func TestAdapter_StopIgnoresLateEvents(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	first := pool.get(0)
	require.NoError(t, a.Stop())
	assert.True(t, first.stopped)

	ev := first.emit()
	ev.OnResult("late", true)
	ev.OnEnd()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.finals)
	assert.Equal(t, 1, pool.count(), "no restart after Stop")
	assert.ErrorIs(t, a.Write(make([]byte, 4)), ErrNotActive)
}

func TestAdapter_RestartsAndFlushesBacklog(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	pool.mu.Lock()
	pool.failN = 1 // first restart attempt fails, second succeeds
	pool.mu.Unlock()

	first := pool.get(0)
	first.emit().OnEnd()

	held := audio.SamplesToBytes([]int16{1, 2, 3, 4})
	require.NoError(t, a.Write(held))

	require.Eventually(t, func() bool { return pool.count() == 2 }, time.Second, time.Millisecond)
	second := pool.get(1)
	require.Eventually(t, func() bool { return bytes.Equal(second.bytesWritten(), held) }, time.Second, time.Millisecond)

	// Events from the replaced recognizer are stale
	first.emit().OnResult("stale", true)
	second.emit().OnResult("fresh", true)
	assert.Equal(t, []string{"fresh"}, rec.finals)
	assert.Empty(t, rec.errors())
}

func TestAdapter_RestartBacklogKeepsNewestAudio(t *testing.T) {
	pool := &recognizerPool{}
	cfg := testConfig()
	cfg.AudioBufferSize = 9 // holds 8 bytes
	a := NewAdapter(pool.factory, cfg)
	require.NoError(t, a.Start(context.Background(), (&recorder{}).handler()))

	hold := make(chan struct{})
	pool.mu.Lock()
	pool.hold = hold
	pool.mu.Unlock()
	pool.get(0).emit().OnEnd()

	require.NoError(t, a.Write(audio.SamplesToBytes([]int16{1, 2, 3, 4})))
	require.NoError(t, a.Write(audio.SamplesToBytes([]int16{5, 6})))
	assert.Equal(t, int64(4), a.backlog.Dropped())

	close(hold)
	require.Eventually(t, func() bool { return pool.count() == 2 }, time.Second, time.Millisecond)
	second := pool.get(1)
	want := audio.SamplesToBytes([]int16{3, 4, 5, 6})
	require.Eventually(t, func() bool { return bytes.Equal(second.bytesWritten(), want) }, time.Second, time.Millisecond)

	a.mu.Lock()
	assert.Zero(t, a.lost)
	a.mu.Unlock()
}

func TestAdapter_RestartExhausted(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	pool.mu.Lock()
	pool.failN = 10
	pool.mu.Unlock()
	pool.get(0).emit().OnEnd()

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, voiceerr.IsFatal(rec.errors()[0]))
	assert.False(t, a.Active())
}

func TestAdapter_RecognizerErrorIsRecoverable(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	pool.get(0).emit().OnError(errors.New("network"))

	errs := rec.errors()
	require.Len(t, errs, 1)
	kind, _ := voiceerr.KindOf(errs[0])
	assert.Equal(t, voiceerr.Recognition, kind)
	assert.True(t, a.Active())
}

func TestAdapter_ReportPermissionDenied(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	a.ReportPermissionDenied()

	errs := rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], voiceerr.ErrPermissionDenied)
	assert.False(t, a.Active())
	assert.True(t, pool.get(0).stopped)
}

func TestAdapter_WriteReportsActivity(t *testing.T) {
	pool := &recognizerPool{}
	rec := &recorder{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), rec.handler()))

	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 8000
	}
	pcm := audio.SamplesToBytes(loud)
	require.NoError(t, a.Write(pcm))

	require.Len(t, rec.levels, 1)
	assert.Greater(t, rec.levels[0], 0.0)
	assert.Equal(t, pcm, pool.get(0).bytesWritten())
	assert.Error(t, a.Write([]byte{1}), "odd-length PCM is rejected")
}

func TestAdapter_DoubleStart(t *testing.T) {
	pool := &recognizerPool{}
	a := NewAdapter(pool.factory, testConfig())
	require.NoError(t, a.Start(context.Background(), Handler{}))
	assert.Error(t, a.Start(context.Background(), Handler{}))
}

// Package schedule provides cancellable deferred callbacks for the render and
// animation loops, with a manual clock for deterministic tests.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Handle cancels a scheduled callback
type Handle interface {
	// Cancel prevents the callback from running. It reports false if the
	// callback already ran or was already cancelled.
	Cancel() bool
}

// Scheduler runs f once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Handle
}

// System schedules on the runtime timer
type System struct{}

// AfterFunc implements Scheduler
func (System) AfterFunc(d time.Duration, f func()) Handle {
	return systemHandle{time.AfterFunc(d, f)}
}

type systemHandle struct {
	t *time.Timer
}

func (h systemHandle) Cancel() bool {
	return h.t.Stop()
}

// Manual is a Scheduler driven by Advance
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	m    *Manual
	at   time.Duration
	seq  uint64
	f    func()
	done bool
}

// NewManual creates a manual scheduler at time zero
func NewManual() *Manual {
	return &Manual{}
}

// AfterFunc implements Scheduler
func (m *Manual) AfterFunc(d time.Duration, f func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTask{m: m, at: m.now + d, seq: m.seq, f: f}
	m.tasks = append(m.tasks, t)
	return t
}

func (t *manualTask) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.m.remove(t)
	return true
}

func (m *Manual) remove(t *manualTask) {
	for i, task := range m.tasks {
		if task == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, running every callback that becomes
// due in time order. Callbacks run without the lock held, so they may
// schedule further work; work due within the window also runs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.at
		next.done = true
		m.remove(next)
		m.mu.Unlock()

		next.f()
	}
}

func (m *Manual) nextDue(target time.Duration) *manualTask {
	if len(m.tasks) == 0 {
		return nil
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at == m.tasks[j].at {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].at < m.tasks[j].at
	})
	if m.tasks[0].at > target {
		return nil
	}
	return m.tasks[0]
}

// Pending returns the number of scheduled callbacks not yet run or cancelled
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Now returns the elapsed manual time
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Package pollertest provides a deterministic scheduler for poller tests.
package pollertest

import (
	"sync"
	"time"

	"github.com/maauso/veo-studio-api/internal/poller"
)

// Scheduler records scheduled tasks and runs them only when asked,
// so tests never wait on wall-clock time.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
}

// Task is a scheduled function.
type Task struct {
	Delay time.Duration

	s       *Scheduler
	f       func()
	fired   bool
	stopped bool
}

// Stop implements poller.Timer.
func (t *Task) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// AfterFunc implements poller.Scheduler.
func (s *Scheduler) AfterFunc(d time.Duration, f func()) poller.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Task{Delay: d, s: s, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Pending returns the number of tasks that have neither run nor been stopped.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// Delays returns the delay of every task ever scheduled, in order.
func (s *Scheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Delay
	}
	return out
}

// Tasks returns every task ever scheduled, in order.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Fire runs t even if it was stopped, to simulate a timer that had already
// fired when Stop was called.
func (s *Scheduler) Fire(t *Task) {
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
}

// RunNext runs the oldest pending task synchronously and reports whether one ran.
func (s *Scheduler) RunNext() bool {
	s.mu.Lock()
	var next *Task
	for _, t := range s.tasks {
		if !t.fired && !t.stopped {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	s.mu.Unlock()

	next.f()
	return true
}

// RunAll runs pending tasks until none remain or limit tasks have run.
// It returns the number of tasks run.
func (s *Scheduler) RunAll(limit int) int {
	n := 0
	for n < limit && s.RunNext() {
		n++
	}
	return n
}

// Compile-time check that Scheduler implements poller.Scheduler.
var _ poller.Scheduler = (*Scheduler)(nil)

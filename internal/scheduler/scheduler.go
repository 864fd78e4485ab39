// Package scheduler owns every timer of a session as a named, cancellable
// task.
package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
)

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// Clock abstracts time so tests can drive tasks deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// Clockwork adapts a clockwork clock, real or fake, to Clock.
type Clockwork struct {
	clockwork.Clock
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return Clockwork{Clock: clockwork.NewRealClock()}
}

// AfterFunc implements Clock.
func (c Clockwork) AfterFunc(d time.Duration, f func()) func() bool {
	return c.Clock.AfterFunc(d, f).Stop
}

type task struct {
	name   string
	period time.Duration
	fn     func()
	stop   func() bool
}

// Scheduler runs named tasks. Scheduling a name that is already pending
// replaces the pending task. Callbacks never run with the scheduler lock
// held, so they may schedule or cancel tasks themselves.
type Scheduler struct {
	clock  Clock
	logger zerolog.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

// New creates a scheduler. A nil clock uses RealClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		clock:  clock,
		logger: logging.Component("scheduler"),
		tasks:  make(map[string]*task),
	}
}

// Now returns the scheduler clock's time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// After runs fn once after d.
func (s *Scheduler) After(name string, d time.Duration, fn func()) error {
	return s.schedule(&task{name: name, fn: fn}, d)
}

// Every runs fn every period until cancelled. The first run is one period
// from now.
func (s *Scheduler) Every(name string, period time.Duration, fn func()) error {
	if period <= 0 {
		return errors.New("scheduler: period must be positive")
	}
	return s.schedule(&task{name: name, period: period, fn: fn}, period)
}

func (s *Scheduler) schedule(t *task, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.tasks[t.name]; ok {
		prev.stop()
	}
	s.tasks[t.name] = t
	t.stop = s.clock.AfterFunc(d, func() { s.fire(t) })
	return nil
}

func (s *Scheduler) fire(t *task) {
	s.mu.Lock()
	if s.closed || s.tasks[t.name] != t {
		s.mu.Unlock()
		return
	}
	if t.period == 0 {
		delete(s.tasks, t.name)
	}
	s.mu.Unlock()

	s.run(t)

	if t.period == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.tasks[t.name] != t {
		return
	}
	t.stop = s.clock.AfterFunc(t.period, func() { s.fire(t) })
}

func (s *Scheduler) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("task", t.name).Interface("panic", r).Msg("scheduled task panicked")
		}
	}()
	t.fn()
}

// Cancel stops the named task. It reports whether a task was pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	t.stop()
	delete(s.tasks, name)
	return true
}

// Has reports whether name is pending.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Names lists pending tasks in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close cancels every task and rejects further scheduling. Safe to call
// more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	cancelled := len(s.tasks)
	for name, t := range s.tasks {
		t.stop()
		delete(s.tasks, name)
	}
	s.logger.Debug().Int("cancelled", cancelled).Msg("scheduler closed")
}

// Package cooldown derives the time left before the self account may send
// again from its latest send.
package cooldown

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/scheduler"
	"github.com/tOgg1/gmic/internal/timestamp"
)

const (
	// DefaultWindow is the cooldown length after a send.
	DefaultWindow = 24 * time.Hour

	// DefaultTick is the countdown refresh period.
	DefaultTick = time.Second

	// TaskTick names the countdown task.
	TaskTick = "cooldown:tick"
)

// State of the machine.
type State int

const (
	// Idle means cooldown is disabled.
	Idle State = iota
	// Counting means time remains before the next send.
	Counting
	// Ready means sending is allowed.
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Counting:
		return "counting"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is the observable machine state.
type Snapshot struct {
	State         State
	Enabled       bool
	LastActionMs  int64
	HasLastAction bool
	Remaining     time.Duration
}

// Remaining computes max(0, last+window-now) when enabled. A missing last
// action means no cooldown.
func Remaining(enabled bool, lastActionMs int64, hasLastAction bool, now time.Time, window time.Duration) time.Duration {
	if !enabled || !hasLastAction {
		return 0
	}
	left := lastActionMs + window.Milliseconds() - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// Options tune a Machine.
type Options struct {
	Window time.Duration
	Tick   time.Duration
}

// Machine runs the countdown on a scheduler task.
type Machine struct {
	sched  *scheduler.Scheduler
	window time.Duration
	tick   time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	snap      Snapshot
	listeners []func(Snapshot)
}

// New creates an idle machine.
func New(sched *scheduler.Scheduler, opts Options) *Machine {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Machine{
		sched:  sched,
		window: opts.Window,
		tick:   opts.Tick,
		logger: logging.Component("cooldown"),
		snap:   Snapshot{State: Idle},
	}
}

// Window returns the configured cooldown length.
func (m *Machine) Window() time.Duration { return m.window }

// OnChange registers fn to run after every state or remaining change.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// SetEnabled flips the enablement flag and re-evaluates.
func (m *Machine) SetEnabled(enabled bool) {
	m.update(func(s *Snapshot) { s.Enabled = enabled }, false)
}

// ObserveLastAction records a unit-ambiguous last-send timestamp and
// re-evaluates at once. Unparseable input clears the last action, which
// leaves the machine Ready.
func (m *Machine) ObserveLastAction(raw any) {
	ms, ok := timestamp.Normalize(raw)
	if !ok && raw != nil {
		m.logger.Debug().Interface("raw", raw).Str("reason", "bad-timestamp").Msg("ignoring last action")
	}
	m.update(func(s *Snapshot) {
		s.LastActionMs = ms
		s.HasLastAction = ok
	}, false)
}

// ClearLastAction forgets the last send.
func (m *Machine) ClearLastAction() {
	m.update(func(s *Snapshot) {
		s.LastActionMs = 0
		s.HasLastAction = false
	}, false)
}

// Stop cancels the countdown task.
func (m *Machine) Stop() {
	m.sched.Cancel(TaskTick)
}

func (m *Machine) onTick() {
	m.update(func(*Snapshot) {}, true)
}

func (m *Machine) update(mutate func(*Snapshot), fromTick bool) {
	m.mu.Lock()
	prev := m.snap
	next := prev
	mutate(&next)

	next.Remaining = Remaining(next.Enabled, next.LastActionMs, next.HasLastAction, m.sched.Now(), m.window)
	if fromTick && prev.State == Counting && next.Remaining > prev.Remaining {
		// Ticks never move the countdown backwards, even if the wall clock does.
		next.Remaining = prev.Remaining
	}
	switch {
	case !next.Enabled:
		next.State = Idle
	case next.Remaining > 0:
		next.State = Counting
	default:
		next.State = Ready
	}
	m.snap = next
	listeners := append([]func(Snapshot){}, m.listeners...)
	m.mu.Unlock()

	if next.State == Counting {
		if prev.State != Counting || !m.sched.Has(TaskTick) {
			if err := m.sched.Every(TaskTick, m.tick, m.onTick); err != nil {
				m.logger.Debug().Err(err).Msg("countdown not scheduled")
			}
		}
	} else if prev.State == Counting || m.sched.Has(TaskTick) {
		m.sched.Cancel(TaskTick)
	}

	if next != prev {
		if next.State != prev.State {
			m.logger.Debug().
				Stringer("from", prev.State).
				Stringer("to", next.State).
				Dur("remaining", next.Remaining).
				Msg("cooldown transition")
		}
		for _, fn := range listeners {
			fn(next)
		}
	}
}

// Format renders d as "HHh MMm SSs".
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02dh %02dm %02ds", total/3600, (total%3600)/60, total%60)
}

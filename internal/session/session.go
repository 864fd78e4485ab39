// Package session ties reconciliation, refresh, cooldown and ephemeral
// signals to one connected account.
package session

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tOgg1/gmic/internal/conversation"
	"github.com/tOgg1/gmic/internal/cooldown"
	"github.com/tOgg1/gmic/internal/dedup"
	"github.com/tOgg1/gmic/internal/events"
	"github.com/tOgg1/gmic/internal/feed"
	"github.com/tOgg1/gmic/internal/kv"
	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/scheduler"
	"github.com/tOgg1/gmic/internal/signals"
)

var (
	// ErrNoSelf is returned by Open without a self address.
	ErrNoSelf = errors.New("session requires a self address")

	// ErrNoSource is returned by Open without a feed source.
	ErrNoSource = errors.New("session requires a feed source")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Options configure a session. Zero values take the package defaults.
type Options struct {
	Self    string
	ChainID string

	Source   feed.Source
	Cooldown feed.CooldownSource
	Notifier feed.Notifier
	Prefs    *kv.Prefs

	// Clock drives every timer. Defaults to the wall clock.
	Clock scheduler.Clock

	// Pinned is used when Prefs holds no pinned list for Self.
	Pinned []string

	BackfillThreshold int
	MaxEvents         int
	IdentityCapacity  int

	Refresh RefreshOptions

	CooldownWindow time.Duration
	CooldownTick   time.Duration

	BannerTTL    time.Duration
	MarkerTTL    time.Duration
	MarkerBounds signals.Bounds
	MaxMarkers   int
	Rand         *rand.Rand
}

// View is a consistent snapshot of what a client renders.
type View struct {
	Self      string
	Partner   string
	Summaries []models.ConversationSummary
	Passes    int
	Cooldown  cooldown.Snapshot
	Banners   []signals.Banner
	Markers   []signals.Marker
}

// Session is the state of one connected account. Open creates it on connect,
// Close releases every timer and goroutine on disconnect.
type Session struct {
	opts     Options
	self     string
	logger   zerolog.Logger
	sched    *scheduler.Scheduler
	agg      *conversation.Aggregator
	machine  *cooldown.Machine
	banners  *signals.Banners
	markers  *signals.Markers
	activity *events.InMemoryPublisher
	flight   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	partner     string
	pinned      []string
	generation  uint64
	lastTrigger time.Time
	triggered   bool
	retries     int
	closed      bool
	listeners   []func(Pass)
}

// Open starts a session for opts.Self. It schedules polling and, when a
// notifier is configured, subscribes to change notifications. No feed is
// read until the first Refresh or Trigger.
func Open(ctx context.Context, opts Options) (*Session, error) {
	self := models.NormalizeAddress(opts.Self)
	if self == "" {
		return nil, ErrNoSelf
	}
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock()
	}
	opts.Refresh = opts.Refresh.withDefaults()

	logger := logging.WithAccount(self).With().Str("component", "session").Logger()
	sched := scheduler.New(opts.Clock)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Session{
		opts:    opts,
		self:    self,
		logger:  logger,
		sched:   sched,
		agg:     conversation.NewAggregator(logger),
		machine: cooldown.New(sched, cooldown.Options{Window: opts.CooldownWindow, Tick: opts.CooldownTick}),
		banners: signals.NewBanners(sched, opts.BannerTTL),
		markers: signals.NewMarkers(sched, signals.MarkerOptions{
			TTL:       opts.MarkerTTL,
			Bounds:    opts.MarkerBounds,
			MaxActive: opts.MaxMarkers,
			Rand:      opts.Rand,
		}),
		activity: events.NewInMemoryPublisher(),
		ctx:      runCtx,
		cancel:   cancel,
		pinned:   models.NormalizeAddresses(opts.Pinned),
	}
	s.state = s.emptyState()
	s.watchCooldown()

	if opts.Prefs != nil {
		if pinned := opts.Prefs.Pinned(ctx, self); pinned != nil {
			s.pinned = pinned
		}
		if enabled, known := opts.Prefs.CooldownEnabled(ctx); known {
			s.machine.SetEnabled(enabled)
		}
	}
	s.state = Resummarize(s.state, s.input(), s.agg)

	if err := sched.Every(TaskPoll, opts.Refresh.PollInterval, func() { s.Trigger("poll") }); err != nil {
		cancel()
		sched.Close()
		return nil, err
	}
	if opts.Notifier != nil {
		if err := s.listen(); err != nil {
			cancel()
			sched.Close()
			return nil, err
		}
	}

	logger.Info().Str("chain", opts.ChainID).Msg("session opened")
	return s, nil
}

// Close stops polling, retries, notifications and every signal timer. It
// waits for in-flight refreshes to observe cancellation.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.sched.Close()
	s.wg.Wait()
	s.activity.Close()
	s.logger.Info().Msg("session closed")
	return nil
}

// Self returns the canonical self address.
func (s *Session) Self() string { return s.self }

// Scheduler returns the session's scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// Banners returns the banner set.
func (s *Session) Banners() *signals.Banners { return s.banners }

// Markers returns the marker set.
func (s *Session) Markers() *signals.Markers { return s.markers }

// Cooldown returns the cooldown machine.
func (s *Session) Cooldown() *cooldown.Machine { return s.machine }

// Events returns the activity publisher. Handlers run on the goroutine that
// committed the pass and must not block.
func (s *Session) Events() *events.InMemoryPublisher { return s.activity }

// OnPass registers fn to run after each committed pass.
func (s *Session) OnPass(fn func(Pass)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Partner returns the focused partner, or "".
func (s *Session) Partner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partner
}

// SetPartner focuses a conversation. The processed set starts over so the
// partner's history is a fresh backfill; in-flight refreshes for the old
// view are discarded.
func (s *Session) SetPartner(partner string) {
	partner = models.NormalizeAddress(partner)

	s.mu.Lock()
	if partner == s.partner {
		s.mu.Unlock()
		return
	}
	s.partner = partner
	s.generation++
	s.state = Resummarize(s.emptyState(), s.input(), s.agg)
	s.mu.Unlock()

	s.sched.Cancel(TaskRetry)
	s.logger.Debug().Str("partner", partner).Msg("partner changed")
}

// Pinned returns the pinned contacts.
func (s *Session) Pinned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pinned)
}

// Pin adds address to the pinned contacts and persists the list.
func (s *Session) Pin(address string) {
	address = models.NormalizeAddress(address)
	if address == "" {
		return
	}
	s.mu.Lock()
	if slices.Contains(s.pinned, address) {
		s.mu.Unlock()
		return
	}
	s.pinned = append(slices.Clone(s.pinned), address)
	s.state = Resummarize(s.state, s.input(), s.agg)
	pinned := slices.Clone(s.pinned)
	s.mu.Unlock()
	s.persistPinned(pinned)
}

// Unpin removes address from the pinned contacts and persists the list.
func (s *Session) Unpin(address string) {
	address = models.NormalizeAddress(address)
	s.mu.Lock()
	if !slices.Contains(s.pinned, address) {
		s.mu.Unlock()
		return
	}
	s.pinned = slices.DeleteFunc(slices.Clone(s.pinned), func(x string) bool { return x == address })
	s.state = Resummarize(s.state, s.input(), s.agg)
	pinned := slices.Clone(s.pinned)
	s.mu.Unlock()
	s.persistPinned(pinned)
}

func (s *Session) persistPinned(pinned []string) {
	if s.opts.Prefs != nil {
		s.opts.Prefs.SetPinned(s.ctx, s.self, pinned)
	}
}

// Summaries returns the current conversation list.
func (s *Session) Summaries() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Summaries
}

// View returns a snapshot of everything a client renders.
func (s *Session) View() View {
	s.mu.Lock()
	view := View{
		Self:      s.self,
		Partner:   s.partner,
		Summaries: s.state.Summaries,
		Passes:    s.state.Passes,
	}
	s.mu.Unlock()

	view.Cooldown = s.machine.Snapshot()
	view.Banners = s.banners.Active()
	view.Markers = s.markers.Active()
	return view
}

// Apply reconciles batch against the committed state. New events produce
// markers unless the pass is the initial backfill.
func (s *Session) Apply(batch []models.RawEvent) Pass {
	s.mu.Lock()
	c := s.commitLocked(batch)
	s.mu.Unlock()

	s.publish(c)
	return c.pass
}

// commit is a pass plus what publishing it needs from under the lock.
type commit struct {
	pass          Pass
	listeners     []func(Pass)
	partner       string
	conversations int
}

func (s *Session) commitLocked(batch []models.RawEvent) commit {
	return commit{
		pass:          s.applyLocked(batch),
		listeners:     slices.Clone(s.listeners),
		partner:       s.partner,
		conversations: len(s.state.Summaries),
	}
}

func (s *Session) applyLocked(batch []models.RawEvent) Pass {
	next, pass := Reconcile(s.state, batch, s.input(), s.agg)
	s.state = next
	for _, r := range pass.Rejected {
		s.logger.Debug().
			Str("reason", r.Reason).
			Str("sender", r.Event.Sender).
			Str("timestamp", r.Event.Timestamp).
			Msg("dropping event")
	}
	return pass
}

func (s *Session) publish(c commit) {
	pass := c.pass
	now := s.sched.Now()
	if len(pass.New) > 0 {
		if pass.Backfill {
			s.logger.Debug().Int("events", len(pass.New)).Msg("initial backfill, markers suppressed")
			s.activity.Publish(&events.Event{
				Type:          events.TypeBackfill,
				Account:       s.self,
				Partner:       c.partner,
				At:            now,
				Count:         len(pass.New),
				Conversations: c.conversations,
			})
		} else {
			s.markers.Emit(pass.New)
			for _, k := range pass.New {
				counterpart, isSent := conversation.Counterpart(k.ID.Sender, k.ID.Recipient, s.self)
				if counterpart == "" {
					s.logger.Debug().Str("reason", conversation.DropNoCounterpart).Str("event", k.ID.String()).Msg("activity skipped")
					continue
				}
				if k.Event.Content == nil {
					s.logger.Debug().Str("reason", conversation.DropUnsupportedContent).Str("event", k.ID.String()).Msg("activity skipped")
					continue
				}
				msg := models.MessageFromEvent(k.Event, k.ID.TimestampMs, isSent)
				s.activity.Publish(&events.Event{
					Type:    events.TypeMessage,
					Account: s.self,
					Partner: counterpart,
					At:      now,
					Message: &msg,
				})
			}
		}
	}
	for _, fn := range c.listeners {
		fn(pass)
	}
}

// watchCooldown publishes cooldown state transitions. Ticks that only move
// the remaining time are not published.
func (s *Session) watchCooldown() {
	var mu sync.Mutex
	last := s.machine.Snapshot().State
	s.machine.OnChange(func(snap cooldown.Snapshot) {
		mu.Lock()
		changed := snap.State != last
		last = snap.State
		mu.Unlock()
		if !changed {
			return
		}
		s.activity.Publish(&events.Event{
			Type:     events.TypeCooldown,
			Account:  s.self,
			At:       s.sched.Now(),
			Cooldown: &snap,
		})
	})
}

func (s *Session) emptyState() State {
	in := Input{MaxEvents: s.opts.MaxEvents, IdentityCapacity: s.opts.IdentityCapacity}.withDefaults()
	return State{Seen: dedup.NewIdentitySet(in.IdentityCapacity)}
}

// input must be called with mu held.
func (s *Session) input() Input {
	return Input{
		Self:              s.self,
		Pinned:            s.pinned,
		BackfillThreshold: s.opts.BackfillThreshold,
		MaxEvents:         s.opts.MaxEvents,
		IdentityCapacity:  s.opts.IdentityCapacity,
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/gmic/internal/dedup"
	"github.com/tOgg1/gmic/internal/events"
	"github.com/tOgg1/gmic/internal/feed"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/signals"
)

// Scheduler task names.
const (
	TaskPoll  = "refresh:poll"
	TaskRetry = "refresh:retry"
)

// Refresh defaults.
const (
	DefaultMinInterval      = 5 * time.Second
	DefaultPollInterval     = 10 * time.Second
	DefaultRetryBase        = 2 * time.Second
	DefaultMaxRetries       = 3
	DefaultConcurrency      = 5
	DefaultQueryTimeout     = 15 * time.Second
	DefaultNotificationSeen = 100
)

// ErrAllFeedsFailed is returned when no feed of a refresh answered.
var ErrAllFeedsFailed = errors.New("all feeds failed")

// ErrStale is returned when the view changed while a refresh was in flight.
var ErrStale = errors.New("refresh result is stale")

// RefreshFailedMessage is the banner posted once retries are exhausted.
const RefreshFailedMessage = "Could not load messages. Check your connection."

// RefreshOptions tune refresh orchestration.
type RefreshOptions struct {
	// MinInterval is the minimum spacing between triggered refreshes.
	MinInterval time.Duration
	// PollInterval is the period of the poll task.
	PollInterval time.Duration
	// RetryBase is multiplied by the attempt number.
	RetryBase  time.Duration
	MaxRetries int
	// Concurrency caps parallel feed queries.
	Concurrency  int
	QueryTimeout time.Duration
	// NotificationSeen bounds the notification id set.
	NotificationSeen int
}

func (o RefreshOptions) withDefaults() RefreshOptions {
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultMinInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.NotificationSeen <= 0 {
		o.NotificationSeen = DefaultNotificationSeen
	}
	return o
}

// FeedError records one failed feed of a refresh.
type FeedError struct {
	Kind feed.Kind
	Err  error
}

func (e FeedError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e FeedError) Unwrap() error { return e.Err }

// Refresh reads every feed of the current plan and applies the union.
// Feeds that fail are skipped; the pass still commits the rest. Concurrent
// calls for the same view share one fetch.
func (s *Session) Refresh(ctx context.Context) (Pass, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Pass{}, ErrClosed
	}
	generation := s.generation
	params := feed.Params{Self: s.self, Partner: s.partner, ChainID: s.opts.ChainID}
	s.mu.Unlock()

	key := strconv.FormatUint(generation, 10)
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.refresh(s.ctx, generation, params)
	})
	select {
	case <-ctx.Done():
		return Pass{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Pass{}, res.Err
		}
		return res.Val.(Pass), nil
	}
}

func (s *Session) refresh(ctx context.Context, generation uint64, params feed.Params) (Pass, error) {
	batch, failures := s.fetch(ctx, params)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Pass{}, ErrClosed
	}
	if generation != s.generation {
		s.mu.Unlock()
		s.logger.Debug().Str("reason", "stale").Msg("discarding refresh result")
		return Pass{}, ErrStale
	}
	if len(failures) == len(feed.Plan(params)) {
		s.mu.Unlock()
		return Pass{}, fmt.Errorf("%w: %w", ErrAllFeedsFailed, errors.Join(failures...))
	}
	c := s.commitLocked(batch)
	pass := c.pass
	s.mu.Unlock()

	s.publish(c)
	s.logger.Debug().
		Int("events", len(batch)).
		Int("new", len(pass.New)).
		Int("failed_feeds", len(failures)).
		Bool("backfill", pass.Backfill).
		Msg("refresh applied")
	return pass, nil
}

func (s *Session) fetch(ctx context.Context, params feed.Params) ([]models.RawEvent, []error) {
	kinds := feed.Plan(params)
	results := make([][]models.RawEvent, len(kinds))
	errs := make([]error, len(kinds))

	var g errgroup.Group
	g.SetLimit(s.opts.Refresh.Concurrency)
	for i, kind := range kinds {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, s.opts.Refresh.QueryTimeout)
			defer cancel()
			events, err := s.opts.Source.Query(qctx, kind, params)
			if err != nil {
				errs[i] = FeedError{Kind: kind, Err: err}
				s.logger.Warn().Err(err).Str("feed", string(kind)).Msg("feed query failed")
				return nil
			}
			results[i] = events
			return nil
		})
	}
	_ = g.Wait()

	var batch []models.RawEvent
	var failures []error
	for i := range kinds {
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		batch = append(batch, results[i]...)
	}
	return batch, failures
}

// Trigger starts a background refresh unless one was triggered within the
// minimum interval. It reports whether a refresh was started.
func (s *Session) Trigger(reason string) bool {
	now := s.sched.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.triggered && now.Sub(s.lastTrigger) < s.opts.Refresh.MinInterval {
		s.mu.Unlock()
		s.logger.Debug().Str("reason", reason).Msg("refresh throttled")
		return false
	}
	s.triggered = true
	s.lastTrigger = now
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug().Str("reason", reason).Msg("refresh triggered")
	go s.background(reason)
	return true
}

func (s *Session) retry() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go s.background("retry")
}

// background runs one refresh, then either resets the retry counter or
// schedules the next attempt. The caller has already added to wg.
func (s *Session) background(reason string) {
	defer s.wg.Done()
	_, err := s.Refresh(s.ctx)
	switch {
	case err == nil:
		s.mu.Lock()
		s.retries = 0
		s.mu.Unlock()
		s.sched.Cancel(TaskRetry)
		if s.opts.Cooldown != nil {
			_ = s.RefreshCooldown(s.ctx)
		}
	case errors.Is(err, ErrStale), errors.Is(err, ErrClosed), s.ctx.Err() != nil:
	default:
		s.scheduleRetry(reason, err)
	}
}

func (s *Session) scheduleRetry(reason string, cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.retries++
	attempt := s.retries
	s.mu.Unlock()

	if attempt > s.opts.Refresh.MaxRetries {
		s.mu.Lock()
		s.retries = 0
		s.mu.Unlock()
		s.logger.Error().Err(cause).Str("reason", reason).Msg("refresh failed, retries exhausted")
		s.banners.Post(RefreshFailedMessage, signals.KindError)
		s.activity.Publish(&events.Event{
			Type:    events.TypeRefreshFailed,
			Account: s.self,
			Partner: s.Partner(),
			At:      s.sched.Now(),
			Err:     cause,
		})
		return
	}

	delay := time.Duration(attempt) * s.opts.Refresh.RetryBase
	s.logger.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("refresh failed, retrying")
	if err := s.sched.After(TaskRetry, delay, s.retry); err != nil {
		s.logger.Debug().Err(err).Msg("retry not scheduled")
	}
}

// listen consumes change notifications until the session closes. Each
// notification id triggers at most one refresh.
func (s *Session) listen() error {
	notes, err := s.opts.Notifier.Subscribe(s.ctx, s.opts.ChainID)
	if err != nil {
		return fmt.Errorf("subscribe to notifications: %w", err)
	}

	seen := dedup.NewBoundedSet[string](s.opts.Refresh.NotificationSeen)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case note, ok := <-notes:
				if !ok {
					s.logger.Debug().Msg("notification stream ended")
					return
				}
				s.notify(note, seen)
			}
		}
	}()
	return nil
}

// notify triggers a refresh for a notification id not seen before.
func (s *Session) notify(note feed.Notification, seen *dedup.BoundedSet[string]) bool {
	if note.ID != "" {
		if seen.Has(note.ID) {
			s.logger.Debug().Str("reason", "duplicate-notification").Str("id", note.ID).Msg("ignoring notification")
			return false
		}
		seen.Add(note.ID)
	}
	return s.Trigger("notification")
}

// RefreshCooldown reads the remote cooldown record into the machine. A
// failed read falls back to the cached enabled flag with no last action,
// which leaves sending allowed.
func (s *Session) RefreshCooldown(ctx context.Context) error {
	if s.opts.Cooldown == nil {
		return nil
	}
	status, err := s.opts.Cooldown.CooldownStatus(ctx, s.self)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cooldown status unavailable, allowing sends")
		if s.opts.Prefs != nil {
			if enabled, known := s.opts.Prefs.CooldownEnabled(ctx); known {
				s.machine.SetEnabled(enabled)
			}
		}
		s.machine.ClearLastAction()
		return fmt.Errorf("read cooldown status: %w", err)
	}

	s.machine.SetEnabled(status.Enabled)
	if s.opts.Prefs != nil {
		s.opts.Prefs.SetCooldownEnabled(ctx, status.Enabled)
	}
	if status.LastSend == nil {
		s.machine.ClearLastAction()
	} else {
		s.machine.ObserveLastAction(status.LastSend)
	}
	return nil
}

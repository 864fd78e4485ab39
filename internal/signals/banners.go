// Package signals keeps short-lived presentation state: status banners and
// celebratory markers. Every entry owns a scheduler task that removes it.
package signals

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/scheduler"
)

// DefaultBannerTTL is how long a banner stays up.
const DefaultBannerTTL = 2 * time.Second

// Kind classifies a banner.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Banner is one status message.
type Banner struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

var overlayWords = []string{"send", "sent", "connect", "connected", "voice"}

// IsOverlay reports whether a banner replaces the active set instead of
// stacking: send and connection confirmations.
func IsOverlay(message string, kind Kind) bool {
	if kind != KindSuccess {
		return false
	}
	lower := strings.ToLower(message)
	for _, word := range overlayWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// Banners is the active banner set.
type Banners struct {
	sched  *scheduler.Scheduler
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	active    []Banner
	listeners []func([]Banner)
}

// NewBanners creates an empty set. Non-positive ttl uses DefaultBannerTTL.
func NewBanners(sched *scheduler.Scheduler, ttl time.Duration) *Banners {
	if ttl <= 0 {
		ttl = DefaultBannerTTL
	}
	return &Banners{
		sched:  sched,
		ttl:    ttl,
		logger: logging.Component("banners"),
	}
}

func bannerTask(id string) string { return "banner:" + id }

// Post shows a banner and schedules its removal.
func (b *Banners) Post(message string, kind Kind) Banner {
	banner := Banner{
		ID:        uuid.NewString(),
		Message:   message,
		Kind:      kind,
		CreatedAt: b.sched.Now(),
	}

	b.mu.Lock()
	var replaced []Banner
	if IsOverlay(message, kind) {
		replaced = b.active
		b.active = []Banner{banner}
	} else {
		b.active = append(b.active, banner)
	}
	// Expiry tasks change under the lock, together with the active set.
	for _, old := range replaced {
		b.sched.Cancel(bannerTask(old.ID))
	}
	if err := b.sched.After(bannerTask(banner.ID), b.ttl, func() { b.expire(banner.ID) }); err != nil {
		b.logger.Debug().Err(err).Str("banner", banner.ID).Msg("banner expiry not scheduled")
	}
	snapshot := slices.Clone(b.active)
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	b.logger.Debug().Str("kind", string(kind)).Str("message", message).Msg("banner posted")
	notify(listeners, snapshot)
	return banner
}

// Dismiss removes a banner before its TTL. Unknown ids are a no-op.
func (b *Banners) Dismiss(id string) bool {
	b.sched.Cancel(bannerTask(id))
	return b.remove(id)
}

func (b *Banners) expire(id string) {
	b.remove(id)
}

func (b *Banners) remove(id string) bool {
	b.mu.Lock()
	idx := slices.IndexFunc(b.active, func(x Banner) bool { return x.ID == id })
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	b.active = slices.Delete(b.active, idx, idx+1)
	snapshot := slices.Clone(b.active)
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// Clear removes every banner and cancels their tasks.
func (b *Banners) Clear() {
	b.mu.Lock()
	old := b.active
	b.active = nil
	b.mu.Unlock()
	for _, banner := range old {
		b.sched.Cancel(bannerTask(banner.ID))
	}
}

// Active returns the visible banners, oldest first.
func (b *Banners) Active() []Banner {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.active)
}

// OnChange registers fn to receive the banner set after each change.
func (b *Banners) OnChange(fn func([]Banner)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func notify[T any](listeners []func([]T), snapshot []T) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}

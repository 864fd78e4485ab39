package signals

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/gmic/internal/dedup"
	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/scheduler"
)

// DefaultMarkerTTL is how long a marker stays up.
const DefaultMarkerTTL = 5 * time.Second

// Position is a marker's placement, fixed at creation.
type Position struct {
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
}

// Bounds is the inclusive region markers are placed in.
type Bounds struct {
	MinLeft   int `mapstructure:"min_left"`
	MaxLeft   int `mapstructure:"max_left"`
	MinBottom int `mapstructure:"min_bottom"`
	MaxBottom int `mapstructure:"max_bottom"`
}

// DefaultBounds matches the lower-left corner of the chat view.
var DefaultBounds = Bounds{MinLeft: 20, MaxLeft: 300, MinBottom: 20, MaxBottom: 200}

func (b Bounds) valid() bool {
	return b.MaxLeft >= b.MinLeft && b.MaxBottom >= b.MinBottom
}

// Marker celebrates one newly observed event.
type Marker struct {
	ID            string    `json:"id"`
	SourceAddress string    `json:"source_address"`
	Position      Position  `json:"position"`
	CreatedAt     time.Time `json:"created_at"`
}

// MarkerOptions tune Markers.
type MarkerOptions struct {
	TTL    time.Duration
	Bounds Bounds

	// MaxActive caps concurrent markers, evicting the oldest. Zero means
	// only the TTL bounds the set.
	MaxActive int

	// Rand places markers. Defaults to a time-seeded source.
	Rand *rand.Rand

	// Suffix makes marker ids unique. Defaults to a short random id.
	Suffix func() string
}

// Markers is the active marker set.
type Markers struct {
	sched  *scheduler.Scheduler
	opts   MarkerOptions
	logger zerolog.Logger

	mu        sync.Mutex
	active    []Marker
	listeners []func([]Marker)
}

// NewMarkers creates an empty set.
func NewMarkers(sched *scheduler.Scheduler, opts MarkerOptions) *Markers {
	if opts.TTL <= 0 {
		opts.TTL = DefaultMarkerTTL
	}
	if opts.Bounds == (Bounds{}) || !opts.Bounds.valid() {
		opts.Bounds = DefaultBounds
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Suffix == nil {
		opts.Suffix = func() string { return uuid.NewString()[:8] }
	}
	return &Markers{
		sched:  sched,
		opts:   opts,
		logger: logging.Component("markers"),
	}
}

func markerTask(id string) string { return "marker:" + id }

const maxSuffixAttempts = 4

// Emit creates one marker per event with a sender. Callers pass only the
// events that are new on a live pass.
func (m *Markers) Emit(events []dedup.Keyed) []Marker {
	if len(events) == 0 {
		return nil
	}
	now := m.sched.Now()

	m.mu.Lock()
	var created, evicted []Marker
	for _, k := range events {
		if k.ID.Sender == "" {
			continue
		}
		id, ok := m.uniqueIDLocked(k.ID.String())
		if !ok {
			m.logger.Debug().Str("identity", k.ID.String()).Msg("marker id collision, skipped")
			continue
		}
		marker := Marker{
			ID:            id,
			SourceAddress: k.ID.Sender,
			Position:      m.placeLocked(),
			CreatedAt:     now,
		}
		m.active = append(m.active, marker)
		created = append(created, marker)

		if m.opts.MaxActive > 0 && len(m.active) > m.opts.MaxActive {
			drop := len(m.active) - m.opts.MaxActive
			evicted = append(evicted, m.active[:drop]...)
			m.active = slices.Clone(m.active[drop:])
		}
	}
	snapshot := slices.Clone(m.active)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, old := range evicted {
		m.sched.Cancel(markerTask(old.ID))
	}
	for _, marker := range created {
		if slices.ContainsFunc(evicted, func(x Marker) bool { return x.ID == marker.ID }) {
			continue
		}
		id := marker.ID
		if err := m.sched.After(markerTask(id), m.opts.TTL, func() { m.remove(id) }); err != nil {
			m.logger.Debug().Err(err).Str("marker", id).Msg("marker expiry not scheduled")
		}
	}
	if len(created) > 0 {
		notify(listeners, snapshot)
	}
	return created
}

func (m *Markers) uniqueIDLocked(base string) (string, bool) {
	for i := 0; i < maxSuffixAttempts; i++ {
		id := base + "-" + m.opts.Suffix()
		if !slices.ContainsFunc(m.active, func(x Marker) bool { return x.ID == id }) {
			return id, true
		}
	}
	return "", false
}

func (m *Markers) placeLocked() Position {
	b := m.opts.Bounds
	return Position{
		Left:   b.MinLeft + m.opts.Rand.Intn(b.MaxLeft-b.MinLeft+1),
		Bottom: b.MinBottom + m.opts.Rand.Intn(b.MaxBottom-b.MinBottom+1),
	}
}

func (m *Markers) remove(id string) bool {
	m.mu.Lock()
	idx := slices.IndexFunc(m.active, func(x Marker) bool { return x.ID == id })
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.active = slices.Delete(m.active, idx, idx+1)
	snapshot := slices.Clone(m.active)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// Dismiss removes a marker early. Unknown ids are a no-op.
func (m *Markers) Dismiss(id string) bool {
	m.sched.Cancel(markerTask(id))
	return m.remove(id)
}

// Clear removes every marker and cancels their tasks.
func (m *Markers) Clear() {
	m.mu.Lock()
	old := m.active
	m.active = nil
	m.mu.Unlock()
	for _, marker := range old {
		m.sched.Cancel(markerTask(marker.ID))
	}
}

// Active returns the visible markers, oldest first.
func (m *Markers) Active() []Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.active)
}

// OnChange registers fn to receive the marker set after each change.
func (m *Markers) OnChange(fn func([]Marker)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

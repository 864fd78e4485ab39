package session

import (
	"slices"
	"strings"

	"github.com/tOgg1/gmic/internal/conversation"
	"github.com/tOgg1/gmic/internal/dedup"
	"github.com/tOgg1/gmic/internal/models"
)

// Reconciliation defaults.
const (
	DefaultBackfillThreshold = 3
	DefaultMaxEvents         = 5000
)

// State is everything one pass derives from. It is replaced, never
// mutated, so a pass computed from a stale State cannot corrupt the
// committed one.
type State struct {
	// Seen holds identities observed by earlier passes.
	Seen *dedup.IdentitySet

	// Events is the known event set, newest first, one per identity.
	Events []dedup.Keyed

	Summaries []models.ConversationSummary

	Passes int
}

// Input is the view a pass is computed for.
type Input struct {
	Self   string
	Pinned []string

	// BackfillThreshold: a pass on an empty Seen set with more new events
	// than this is history, not live activity.
	BackfillThreshold int

	// MaxEvents bounds Events, keeping the newest.
	MaxEvents int

	// IdentityCapacity bounds Seen when it is created. It is raised to
	// MaxEvents so nothing still held in Events can fall out of Seen.
	IdentityCapacity int
}

func (in Input) withDefaults() Input {
	if in.BackfillThreshold <= 0 {
		in.BackfillThreshold = DefaultBackfillThreshold
	}
	if in.MaxEvents <= 0 {
		in.MaxEvents = DefaultMaxEvents
	}
	if in.IdentityCapacity <= 0 {
		in.IdentityCapacity = dedup.DefaultCapacity
	}
	in.IdentityCapacity = max(in.IdentityCapacity, in.MaxEvents)
	return in
}

// Pass describes what one reconciliation observed.
type Pass struct {
	// New are events whose identity no earlier pass had seen.
	New []dedup.Keyed

	// Backfill marks the initial history load; it emits no markers.
	Backfill bool

	Rejected []dedup.Rejection
}

// Reconcile folds batch into prev and recomputes every summary.
func Reconcile(prev State, batch []models.RawEvent, in Input, agg *conversation.Aggregator) (State, Pass) {
	in = in.withDefaults()

	seen := prev.Seen
	if seen == nil {
		seen = dedup.NewIdentitySet(in.IdentityCapacity)
	}
	result := dedup.Dedupe(seen, batch)
	fresh := unknown(result.NewEvents, prev.Events)

	events := mergeEvents(prev.Events, result.All, in.MaxEvents)
	raw := make([]models.RawEvent, len(events))
	for i, k := range events {
		raw[i] = k.Event
	}

	next := State{
		Seen:      result.Updated,
		Events:    events,
		Summaries: agg.Aggregate(raw, in.Self, in.Pinned),
		Passes:    prev.Passes + 1,
	}
	pass := Pass{
		New:      fresh,
		Backfill: seen.Len() == 0 && len(fresh) > in.BackfillThreshold,
		Rejected: result.Rejected,
	}
	return next, pass
}

// unknown drops events already held in known. Seen may have evicted an
// identity that Events still carries; that event is not new.
func unknown(candidates, known []dedup.Keyed) []dedup.Keyed {
	if len(candidates) == 0 || len(known) == 0 {
		return candidates
	}
	held := make(map[dedup.Identity]struct{}, len(known))
	for _, k := range known {
		held[k.ID] = struct{}{}
	}
	out := candidates[:0:0]
	for _, k := range candidates {
		if _, ok := held[k.ID]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Resummarize recomputes summaries for a changed view without new data.
func Resummarize(prev State, in Input, agg *conversation.Aggregator) State {
	raw := make([]models.RawEvent, len(prev.Events))
	for i, k := range prev.Events {
		raw[i] = k.Event
	}
	prev.Summaries = agg.Aggregate(raw, in.Self, in.Pinned)
	return prev
}

func mergeEvents(known, incoming []dedup.Keyed, limit int) []dedup.Keyed {
	index := make(map[dedup.Identity]int, len(known)+len(incoming))
	out := make([]dedup.Keyed, 0, len(known)+len(incoming))
	for _, k := range known {
		index[k.ID] = len(out)
		out = append(out, k)
	}
	for _, k := range incoming {
		if i, ok := index[k.ID]; ok {
			out[i].Event = dedup.Merge(out[i].Event, k.Event)
			continue
		}
		index[k.ID] = len(out)
		out = append(out, k)
	}

	slices.SortFunc(out, func(a, b dedup.Keyed) int {
		if a.ID.TimestampMs != b.ID.TimestampMs {
			if a.ID.TimestampMs > b.ID.TimestampMs {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

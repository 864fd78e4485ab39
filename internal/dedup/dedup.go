// Package dedup assigns identities to feed events and filters batches down to
// events not seen before.
//
// Feeds carry no message id, so identity is the (sender, recipient,
// normalized timestamp) triple. Two distinct messages between the same pair
// in the same millisecond collapse into one; this is a known limitation.
package dedup

import (
	"fmt"
	"strings"

	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/timestamp"
)

// DefaultCapacity bounds the identity set of a long-lived session.
const DefaultCapacity = 2048

// Rejection reasons.
const (
	ReasonBadTimestamp  = "bad-timestamp"
	ReasonMissingSender = "missing-sender"
)

// Identity is the dedup key of an event.
type Identity struct {
	Sender      string
	Recipient   string
	TimestampMs int64
}

func (id Identity) String() string {
	return fmt.Sprintf("%s-%s-%d", id.Sender, id.Recipient, id.TimestampMs)
}

// IdentitySet is the processed-event set carried between passes.
type IdentitySet = BoundedSet[Identity]

// NewIdentitySet returns an empty identity set.
func NewIdentitySet(capacity int) *IdentitySet {
	return NewBoundedSet[Identity](capacity)
}

// IdentityOf computes the identity of e. It fails when the timestamp cannot
// be normalized or the sender is missing.
func IdentityOf(e models.RawEvent) (Identity, bool) {
	id, reason := identityOf(e)
	return id, reason == ""
}

func identityOf(e models.RawEvent) (Identity, string) {
	sender := models.NormalizeAddress(e.Sender)
	if sender == "" {
		return Identity{}, ReasonMissingSender
	}
	ms, ok := timestamp.Normalize(e.Timestamp)
	if !ok {
		return Identity{}, ReasonBadTimestamp
	}
	return Identity{
		Sender:      sender,
		Recipient:   models.NormalizeAddress(e.Recipient),
		TimestampMs: ms,
	}, ""
}

// Rejection is an event that could not be assigned an identity.
type Rejection struct {
	Event  models.RawEvent
	Reason string
}

// Keyed pairs an event with its identity.
type Keyed struct {
	ID    Identity
	Event models.RawEvent
}

// Result is the outcome of one Dedupe call.
type Result struct {
	// NewEvents are batch events absent from the previous set, one per
	// identity, in first-seen batch order.
	NewEvents []Keyed

	// All is every accepted batch event collapsed by identity, new or not.
	All []Keyed

	// Updated is previous plus every accepted identity in the batch.
	Updated *IdentitySet

	Rejected []Rejection
}

// Events returns the raw events of NewEvents.
func (r Result) Events() []models.RawEvent {
	out := make([]models.RawEvent, len(r.NewEvents))
	for i, k := range r.NewEvents {
		out[i] = k.Event
	}
	return out
}

// Dedupe filters batch against previous. previous is never modified; a nil
// previous is an empty set of DefaultCapacity.
func Dedupe(previous *IdentitySet, batch []models.RawEvent) Result {
	updated := previous.Clone()

	index := make(map[Identity]int, len(batch))
	var all []Keyed
	var rejected []Rejection
	for _, e := range batch {
		id, reason := identityOf(e)
		if reason != "" {
			rejected = append(rejected, Rejection{Event: e, Reason: reason})
			continue
		}
		if i, ok := index[id]; ok {
			all[i].Event = Merge(all[i].Event, e)
			continue
		}
		index[id] = len(all)
		all = append(all, Keyed{ID: id, Event: e})
	}

	var fresh []Keyed
	for _, k := range all {
		if !previous.Has(k.ID) {
			fresh = append(fresh, k)
		}
		updated.Add(k.ID)
	}

	return Result{NewEvents: fresh, All: all, Updated: updated, Rejected: rejected}
}

// Merge reconciles two records of the same logical event. The more complete
// record wins, ties go to the record whose optional fields sort lower, and
// the winner's missing fields are filled from the other. The result does not
// depend on argument order.
func Merge(a, b models.RawEvent) models.RawEvent {
	if prefer(b, a) {
		a, b = b, a
	}
	return a.FillMissing(b)
}

func prefer(a, b models.RawEvent) bool {
	if ca, cb := a.Completeness(), b.Completeness(); ca != cb {
		return ca > cb
	}
	if c := strings.Compare(a.OptionalKey(), b.OptionalKey()); c != 0 {
		return c < 0
	}
	if c := strings.Compare(contentKey(a.Content), contentKey(b.Content)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c < 0
	}
	return a.Feed < b.Feed
}

func contentKey(c models.Content) string {
	if c == nil {
		return "\xff"
	}
	return string(c.Type()) + "\x00" + c.Body()
}

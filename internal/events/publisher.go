// Package events fans session activity out to in-process subscribers.
package events

import (
	"slices"
	"sync"
	"time"

	"github.com/tOgg1/gmic/internal/cooldown"
	"github.com/tOgg1/gmic/internal/models"
)

// Type classifies an event.
type Type string

const (
	// TypeMessage is a newly observed message outside the initial backfill.
	TypeMessage Type = "message"
	// TypeBackfill reports the initial history load of a view.
	TypeBackfill Type = "backfill"
	// TypeRefreshFailed is published once refresh retries are exhausted.
	TypeRefreshFailed Type = "refresh.failed"
	// TypeCooldown is published when the cooldown state changes.
	TypeCooldown Type = "cooldown"
)

// Event is one piece of session activity.
type Event struct {
	Type    Type
	Account string

	// Partner is the counterpart of Message, or the focused partner for
	// view-level events.
	Partner string
	At      time.Time

	Message *models.Message

	// Count and Conversations describe a backfill.
	Count         int
	Conversations int

	Cooldown *cooldown.Snapshot
	Err      error
}

// Handler is invoked when an event matches a subscription.
type Handler func(event *Event)

// Filter defines criteria for matching events.
type Filter struct {
	// Types filters by event type (nil = all types).
	Types []Type

	// Partner filters to one counterpart (empty = all).
	Partner string
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, event.Type) {
		return false
	}
	if f.Partner != "" && !models.SameAddress(f.Partner, event.Partner) {
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines the interface for event publishing and subscription.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(event *Event)

	// Subscribe registers a handler to receive events matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher using in-process pub/sub.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	order         []string
}

// NewInMemoryPublisher creates a new in-memory event publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{subscriptions: make(map[string]*subscription)}
}

// Publish sends an event to all matching subscribers in subscription order.
// Handlers run on the caller's goroutine, outside the lock.
func (p *InMemoryPublisher) Publish(event *Event) {
	if event == nil {
		return
	}

	p.mu.RLock()
	var handlers []Handler
	for _, id := range p.order {
		sub := p.subscriptions[id]
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler to receive events matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	filter.Partner = models.NormalizeAddress(filter.Partner)
	p.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	p.order = append(p.order, id)
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(p.subscriptions, id)
	p.order = slices.DeleteFunc(p.order, func(x string) bool { return x == id })
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// UpdateSubscription updates the filter for an existing subscription.
func (p *InMemoryPublisher) UpdateSubscription(id string, filter Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, exists := p.subscriptions[id]
	if !exists {
		return ErrSubscriptionNotFound
	}
	filter.Partner = models.NormalizeAddress(filter.Partner)
	sub.filter = filter
	return nil
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
	p.order = nil
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}

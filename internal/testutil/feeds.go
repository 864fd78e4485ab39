package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/tOgg1/gmic/internal/feed"
	"github.com/tOgg1/gmic/internal/models"
)

// FakeSource serves canned feed results.
type FakeSource struct {
	mu     sync.Mutex
	events map[feed.Kind][]models.RawEvent
	errs   map[feed.Kind]error
	calls  map[feed.Kind]int
	gate   chan struct{}
}

// NewFakeSource returns an empty source.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		events: make(map[feed.Kind][]models.RawEvent),
		errs:   make(map[feed.Kind]error),
		calls:  make(map[feed.Kind]int),
	}
}

// Set replaces the events returned for kind.
func (f *FakeSource) Set(kind feed.Kind, events ...models.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[kind] = slices.Clone(events)
}

// Add appends events to kind.
func (f *FakeSource) Add(kind feed.Kind, events ...models.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[kind] = append(f.events[kind], events...)
}

// Fail makes kind return err. A nil err clears the failure.
func (f *FakeSource) Fail(kind feed.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, kind)
		return
	}
	f.errs[kind] = err
}

// FailAll makes every kind return err.
func (f *FakeSource) FailAll(err error) {
	for _, kind := range feed.Kinds {
		f.Fail(kind, err)
	}
}

// Hold blocks queries until the returned release func is called.
func (f *FakeSource) Hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how often kind was queried.
func (f *FakeSource) Calls(kind feed.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

// TotalCalls sums calls over every kind.
func (f *FakeSource) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Query implements feed.Source.
func (f *FakeSource) Query(ctx context.Context, kind feed.Kind, params feed.Params) ([]models.RawEvent, error) {
	f.mu.Lock()
	f.calls[kind]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return feed.Filter(kind, params, slices.Clone(f.events[kind])), nil
}

// FakeCooldown serves a fixed cooldown status.
type FakeCooldown struct {
	mu     sync.Mutex
	status feed.CooldownStatus
	err    error
}

// Set replaces the status and clears any error.
func (f *FakeCooldown) Set(status feed.CooldownStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = status, nil
}

// Fail makes the next reads return err.
func (f *FakeCooldown) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// CooldownStatus implements feed.CooldownSource.
func (f *FakeCooldown) CooldownStatus(context.Context, string) (feed.CooldownStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

// FakeNotifier hands out one channel the test pushes into.
type FakeNotifier struct {
	ch chan feed.Notification
}

// NewFakeNotifier returns a notifier with a buffered channel.
func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{ch: make(chan feed.Notification, 16)}
}

// Send pushes a notification.
func (f *FakeNotifier) Send(note feed.Notification) {
	f.ch <- note
}

// Subscribe implements feed.Notifier.
func (f *FakeNotifier) Subscribe(context.Context, string) (<-chan feed.Notification, error) {
	return f.ch, nil
}

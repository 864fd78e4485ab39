package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/gmic/internal/conversation"
	"github.com/tOgg1/gmic/internal/cooldown"
	"github.com/tOgg1/gmic/internal/dedup"
	"github.com/tOgg1/gmic/internal/events"
	"github.com/tOgg1/gmic/internal/feed"
	"github.com/tOgg1/gmic/internal/kv"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/signals"
	"github.com/tOgg1/gmic/internal/testutil"
)

const (
	self    = "0xaa"
	partner = "0xbb"
)

var errDown = errors.New("indexer unavailable")

func gm(sender, recipient string, ms int64, body string) models.RawEvent {
	return models.RawEvent{
		Sender:    sender,
		Recipient: recipient,
		Timestamp: strconv.FormatInt(ms, 10),
		Content:   models.Text{Value: body},
	}
}

func inbound(n int) []models.RawEvent {
	base := testutil.Epoch.UnixMilli()
	events := make([]models.RawEvent, n)
	for i := range events {
		events[i] = gm(partner, self, base+int64(i), fmt.Sprintf("gm %d", i))
	}
	return events
}

type fixture struct {
	session  *Session
	clock    *testutil.FakeClock
	source   *testutil.FakeSource
	cooldown *testutil.FakeCooldown
	prefs    *kv.Prefs
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		clock:    testutil.NewFakeClock(time.Time{}),
		source:   testutil.NewFakeSource(),
		cooldown: &testutil.FakeCooldown{},
		prefs:    kv.NewPrefs(kv.NewMemory()),
	}
	opts := Options{
		Self:     self,
		ChainID:  "chain-1",
		Source:   f.source,
		Cooldown: f.cooldown,
		Prefs:    f.prefs,
		Clock:    f.clock,
		Rand:     rand.New(rand.NewSource(1)),
		Refresh:  RefreshOptions{PollInterval: time.Hour},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Open(t.Context(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f.session = s
	return f
}

func TestReconcileFlagsBackfill(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	in := Input{Self: self}

	state, pass := Reconcile(State{}, inbound(10), in, agg)
	require.True(t, pass.Backfill)
	require.Len(t, pass.New, 10)
	require.Len(t, state.Summaries, 1)
	require.Equal(t, 10, state.Summaries[0].MessageCount)

	state, pass = Reconcile(state, inbound(11), in, agg)
	require.False(t, pass.Backfill)
	require.Len(t, pass.New, 1)
	require.Equal(t, 11, state.Summaries[0].MessageCount)
	require.Equal(t, 2, state.Passes)
}

func TestReconcileSmallFirstPassIsLive(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	_, pass := Reconcile(State{}, inbound(DefaultBackfillThreshold), Input{Self: self}, agg)
	require.False(t, pass.Backfill)
	require.Len(t, pass.New, DefaultBackfillThreshold)
}

func TestReconcileIsIdempotent(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	in := Input{Self: self}

	first, _ := Reconcile(State{}, inbound(5), in, agg)
	second, pass := Reconcile(first, inbound(5), in, agg)
	require.Empty(t, pass.New)
	require.Equal(t, first.Summaries, second.Summaries)
	require.Equal(t, first.Events, second.Events)
}

func TestReconcileRedeliveryBeyondIdentityCapacity(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	in := Input{Self: self}
	history := inbound(dedup.DefaultCapacity + 100)

	state, pass := Reconcile(State{}, history, in, agg)
	require.True(t, pass.Backfill)
	require.Len(t, pass.New, len(history))

	for range 3 {
		state, pass = Reconcile(state, history, in, agg)
		require.Empty(t, pass.New)
		require.False(t, pass.Backfill)
	}
	require.Equal(t, len(history), state.Summaries[0].MessageCount)
}

func TestReconcileKnownEventsAreNotNewAfterSeenEviction(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	in := Input{Self: self}
	history := inbound(50)

	state, _ := Reconcile(State{Seen: dedup.NewIdentitySet(10)}, history, in, agg)
	require.Equal(t, 10, state.Seen.Len())
	require.Len(t, state.Events, 50)

	_, pass := Reconcile(state, history, in, agg)
	require.Empty(t, pass.New)
}

func TestInputIdentityCapacityCoversMaxEvents(t *testing.T) {
	require.Equal(t, DefaultMaxEvents, Input{}.withDefaults().IdentityCapacity)
	require.Equal(t, 8000, Input{IdentityCapacity: 8000}.withDefaults().IdentityCapacity)
	require.Equal(t, 40, Input{MaxEvents: 40, IdentityCapacity: 10}.withDefaults().IdentityCapacity)
}

func TestReconcileMergesHintsIntoKnownEvents(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	in := Input{Self: self}
	plain := gm(partner, self, testutil.Epoch.UnixMilli(), "gm")
	hinted := plain
	hinted.SenderName = "Bob"

	state, _ := Reconcile(State{}, []models.RawEvent{plain}, in, agg)
	state, pass := Reconcile(state, []models.RawEvent{hinted}, in, agg)
	require.Empty(t, pass.New)
	require.Len(t, state.Events, 1)
	require.Equal(t, "Bob", state.Events[0].Event.SenderName)
	require.Equal(t, "Bob", state.Summaries[0].LatestMessage.SenderName)
}

func TestReconcileBoundsEvents(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	state, _ := Reconcile(State{}, inbound(10), Input{Self: self, MaxEvents: 4}, agg)
	require.Len(t, state.Events, 4)
	newest := testutil.Epoch.UnixMilli() + 9
	require.Equal(t, newest, state.Events[0].ID.TimestampMs)
	require.Equal(t, newest-3, state.Events[3].ID.TimestampMs)
}

func TestReconcileRecordsRejections(t *testing.T) {
	agg := conversation.NewAggregator(zerolog.Nop())
	bad := gm(partner, self, 0, "gm")
	bad.Timestamp = "soon"
	_, pass := Reconcile(State{}, []models.RawEvent{bad}, Input{Self: self}, agg)
	require.Empty(t, pass.New)
	require.Len(t, pass.Rejected, 1)
	require.Equal(t, dedup.ReasonBadTimestamp, pass.Rejected[0].Reason)
}

func TestOpenValidates(t *testing.T) {
	_, err := Open(t.Context(), Options{Source: testutil.NewFakeSource()})
	require.ErrorIs(t, err, ErrNoSelf)
	_, err = Open(t.Context(), Options{Self: self})
	require.ErrorIs(t, err, ErrNoSource)
}

func TestApplySuppressesMarkersOnBackfill(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session

	pass := s.Apply(inbound(10))
	require.True(t, pass.Backfill)
	require.Empty(t, s.Markers().Active())

	pass = s.Apply(inbound(11))
	require.False(t, pass.Backfill)
	markers := s.Markers().Active()
	require.Len(t, markers, 1)
	require.Equal(t, partner, markers[0].SourceAddress)

	f.clock.Advance(signals.DefaultMarkerTTL)
	require.Empty(t, s.Markers().Active())
}

func TestApplyNotifiesListeners(t *testing.T) {
	f := newFixture(t, nil)
	var passes []Pass
	f.session.OnPass(func(p Pass) { passes = append(passes, p) })

	f.session.Apply(inbound(2))
	f.session.Apply(inbound(2))
	require.Len(t, passes, 2)
	require.Len(t, passes[0].New, 2)
	require.Empty(t, passes[1].New)
	require.Len(t, f.session.Markers().Active(), 2)
}

func TestApplyPublishesActivity(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	var got []*events.Event
	require.NoError(t, s.Events().Subscribe("test", events.Filter{}, func(e *events.Event) { got = append(got, e) }))

	s.Apply(inbound(5))
	require.Len(t, got, 1)
	require.Equal(t, events.TypeBackfill, got[0].Type)
	require.Equal(t, 5, got[0].Count)
	require.Equal(t, 1, got[0].Conversations)

	base := testutil.Epoch.UnixMilli()
	s.Apply([]models.RawEvent{
		gm(partner, self, base+100, "inbound"),
		gm(self, "0xcc", base+200, "outbound"),
	})
	require.Len(t, got, 3)
	require.Equal(t, events.TypeMessage, got[1].Type)
	require.Equal(t, partner, got[1].Partner)
	require.False(t, got[1].Message.IsSent)
	require.Equal(t, "0xcc", got[2].Partner)
	require.True(t, got[2].Message.IsSent)
	require.Equal(t, base+200, got[2].Message.TimestampMs)
}

func TestApplySkipsActivityBetweenOtherAccounts(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	s.Apply(inbound(5))

	var got []*events.Event
	require.NoError(t, s.Events().Subscribe("stranger", events.Filter{Types: []events.Type{events.TypeMessage}, Partner: "0xcc"}, func(e *events.Event) {
		got = append(got, e)
	}))

	pass := s.Apply([]models.RawEvent{gm("0xcc", "0xdd", testutil.Epoch.UnixMilli()+100, "not for us")})
	require.Len(t, pass.New, 1)
	require.Empty(t, got)
	require.Len(t, s.Markers().Active(), 1)

	view := s.View()
	require.Len(t, view.Summaries, 1)
	require.Equal(t, partner, view.Summaries[0].PartnerAddress)
}

func TestRefreshToleratesPartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.source.Set(feed.ReceivedByMe, inbound(2)...)
	f.source.Fail(feed.Stream, errDown)

	pass, err := f.session.Refresh(t.Context())
	require.NoError(t, err)
	require.Len(t, pass.New, 2)
	require.Len(t, f.session.Summaries(), 1)
	require.Equal(t, 1, f.source.Calls(feed.SentByMe))
	require.Equal(t, 1, f.source.Calls(feed.Stream))
	require.Zero(t, f.source.Calls(feed.SentByPartner))
}

func TestRefreshAllFailedKeepsSummaries(t *testing.T) {
	f := newFixture(t, nil)
	f.source.Set(feed.ReceivedByMe, inbound(2)...)
	_, err := f.session.Refresh(t.Context())
	require.NoError(t, err)

	f.source.FailAll(errDown)
	_, err = f.session.Refresh(t.Context())
	require.ErrorIs(t, err, ErrAllFeedsFailed)
	require.ErrorIs(t, err, errDown)
	require.Len(t, f.session.Summaries(), 1)
}

func TestRefreshWithPartnerReadsEveryFeed(t *testing.T) {
	f := newFixture(t, nil)
	f.session.SetPartner("BB")
	require.Equal(t, partner, f.session.Partner())

	_, err := f.session.Refresh(t.Context())
	require.NoError(t, err)
	for _, kind := range feed.Kinds {
		require.Equal(t, 1, f.source.Calls(kind), string(kind))
	}
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	f := newFixture(t, nil)
	f.source.Set(feed.ReceivedByMe, inbound(1)...)
	release := f.source.Hold()

	type result struct {
		pass Pass
		err  error
	}
	results := make(chan result, 2)
	refresh := func() {
		pass, err := f.session.Refresh(context.Background())
		results <- result{pass, err}
	}

	go refresh()
	require.Eventually(t, func() bool { return f.source.TotalCalls() == 3 }, time.Second, time.Millisecond)
	go refresh()
	time.Sleep(10 * time.Millisecond)
	release()

	for range 2 {
		r := <-results
		require.NoError(t, r.err)
		require.Len(t, r.pass.New, 1)
	}
	require.Equal(t, 3, f.source.TotalCalls())
}

func TestSetPartnerDiscardsInFlightRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.source.Set(feed.ReceivedByMe, inbound(1)...)
	release := f.source.Hold()

	errs := make(chan error, 1)
	go func() {
		_, err := f.session.Refresh(context.Background())
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.source.TotalCalls() == 3 }, time.Second, time.Millisecond)

	f.session.SetPartner(partner)
	release()
	require.ErrorIs(t, <-errs, ErrStale)
	require.Empty(t, f.session.Summaries())
}

func TestSetPartnerRestartsBackfill(t *testing.T) {
	f := newFixture(t, nil)
	f.session.Apply(inbound(2))
	f.session.Markers().Clear()

	f.session.SetPartner(partner)
	pass := f.session.Apply(inbound(5))
	require.True(t, pass.Backfill)
	require.Empty(t, f.session.Markers().Active())
}

func TestTriggerIsThrottled(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session

	require.True(t, s.Trigger("test"))
	require.False(t, s.Trigger("test"))
	s.wg.Wait()
	require.Equal(t, 3, f.source.TotalCalls())

	f.clock.Advance(DefaultMinInterval - time.Millisecond)
	require.False(t, s.Trigger("test"))
	f.clock.Advance(time.Millisecond)
	require.True(t, s.Trigger("test"))
	s.wg.Wait()
	require.Equal(t, 6, f.source.TotalCalls())
}

func TestPollTriggersRefresh(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Refresh.PollInterval = 0 })
	require.True(t, f.session.Scheduler().Has(TaskPoll))

	f.clock.Advance(DefaultPollInterval)
	f.session.wg.Wait()
	require.Equal(t, 3, f.source.TotalCalls())

	f.clock.Advance(DefaultPollInterval)
	f.session.wg.Wait()
	require.Equal(t, 6, f.source.TotalCalls())
}

func TestRetryBacksOffThenPostsBanner(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	f.source.FailAll(errDown)
	var failures []*events.Event
	require.NoError(t, s.Events().Subscribe("failures", events.Filter{Types: []events.Type{events.TypeRefreshFailed}},
		func(e *events.Event) { failures = append(failures, e) }))

	require.True(t, s.Trigger("test"))
	s.wg.Wait()
	require.True(t, s.Scheduler().Has(TaskRetry))

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		require.Empty(t, s.Banners().Active())
		f.clock.Advance(time.Duration(attempt)*DefaultRetryBase - time.Millisecond)
		require.Equal(t, 3*attempt, f.source.TotalCalls())
		f.clock.Advance(time.Millisecond)
		s.wg.Wait()
		require.Equal(t, 3*(attempt+1), f.source.TotalCalls())
	}

	require.False(t, s.Scheduler().Has(TaskRetry))
	banners := s.Banners().Active()
	require.Len(t, banners, 1)
	require.Equal(t, signals.KindError, banners[0].Kind)
	require.Equal(t, RefreshFailedMessage, banners[0].Message)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0].Err, errDown)
}

func TestRetryRecovers(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	f.source.FailAll(errDown)

	require.True(t, s.Trigger("test"))
	s.wg.Wait()

	f.source.FailAll(nil)
	f.source.Set(feed.ReceivedByMe, inbound(1)...)
	f.clock.Advance(DefaultRetryBase)
	s.wg.Wait()

	require.False(t, s.Scheduler().Has(TaskRetry))
	require.Len(t, s.Summaries(), 1)
	require.Empty(t, s.Banners().Active())
}

func TestNotificationsAreDeduplicated(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Refresh.MinInterval = time.Millisecond })
	s := f.session
	seen := dedup.NewBoundedSet[string](DefaultNotificationSeen)

	require.True(t, s.notify(feed.Notification{ID: "block-1-aa"}, seen))
	s.wg.Wait()
	f.clock.Advance(time.Second)
	require.False(t, s.notify(feed.Notification{ID: "block-1-aa"}, seen))
	require.True(t, s.notify(feed.Notification{ID: "block-2-bb"}, seen))
	s.wg.Wait()
	require.Equal(t, 6, f.source.TotalCalls())
}

func TestNotificationTriggersRefresh(t *testing.T) {
	notifier := testutil.NewFakeNotifier()
	f := newFixture(t, func(o *Options) { o.Notifier = notifier })
	f.source.Set(feed.ReceivedByMe, inbound(1)...)

	notifier.Send(feed.Notification{ID: "block-7-aa", Height: 7, Hash: "aa"})
	require.Eventually(t, func() bool { return len(f.session.Summaries()) == 1 }, time.Second, time.Millisecond)
}

func TestRefreshCooldown(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	lastSend := testutil.Epoch.Add(-time.Hour)
	var states []cooldown.State
	require.NoError(t, s.Events().Subscribe("cooldown", events.Filter{Types: []events.Type{events.TypeCooldown}},
		func(e *events.Event) { states = append(states, e.Cooldown.State) }))

	f.cooldown.Set(feed.CooldownStatus{Enabled: true, LastSend: json.Number(strconv.FormatInt(lastSend.Unix(), 10))})
	require.NoError(t, s.RefreshCooldown(t.Context()))
	snap := s.Cooldown().Snapshot()
	require.Equal(t, cooldown.Counting, snap.State)
	require.Equal(t, 23*time.Hour, snap.Remaining)

	enabled, known := f.prefs.CooldownEnabled(t.Context())
	require.True(t, enabled)
	require.True(t, known)

	f.cooldown.Fail(errDown)
	require.ErrorIs(t, s.RefreshCooldown(t.Context()), errDown)
	snap = s.Cooldown().Snapshot()
	require.Equal(t, cooldown.Ready, snap.State)
	require.True(t, snap.Enabled)
	require.Zero(t, snap.Remaining)
	require.Equal(t, []cooldown.State{cooldown.Ready, cooldown.Counting, cooldown.Ready}, states)
}

func TestRefreshCooldownDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.cooldown.Set(feed.CooldownStatus{Enabled: false, LastSend: testutil.Epoch.UnixMilli()})
	require.NoError(t, f.session.RefreshCooldown(t.Context()))
	require.Equal(t, cooldown.Idle, f.session.Cooldown().Snapshot().State)
}

func TestPinnedContactsPersist(t *testing.T) {
	f := newFixture(t, nil)
	f.session.Pin("0xCC")
	f.session.Pin("0xcc")

	summaries := f.session.Summaries()
	require.Len(t, summaries, 1)
	require.Equal(t, "0xcc", summaries[0].PartnerAddress)
	require.True(t, summaries[0].Pinned)
	require.Nil(t, summaries[0].LatestMessage)
	require.Equal(t, []string{"0xcc"}, f.prefs.Pinned(t.Context(), self))

	reopened, err := Open(t.Context(), Options{Self: self, Source: f.source, Prefs: f.prefs, Clock: f.clock})
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, []string{"0xcc"}, reopened.Pinned())

	f.session.Unpin("0xcc")
	require.Empty(t, f.session.Summaries())
	require.Empty(t, f.prefs.Pinned(t.Context(), self))
}

func TestViewSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.session.SetPartner(partner)
	f.session.Apply(inbound(1))
	f.session.Banners().Post("GM sent", signals.KindSuccess)

	view := f.session.View()
	require.Equal(t, self, view.Self)
	require.Equal(t, partner, view.Partner)
	require.Len(t, view.Summaries, 1)
	require.Len(t, view.Markers, 1)
	require.Len(t, view.Banners, 1)
	require.Equal(t, 1, view.Passes)
}

func TestCloseStopsEverything(t *testing.T) {
	notifier := testutil.NewFakeNotifier()
	f := newFixture(t, func(o *Options) { o.Notifier = notifier })
	s := f.session
	s.Apply(inbound(1))
	s.Banners().Post("hello", signals.KindInfo)
	require.NotZero(t, s.Scheduler().Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Zero(t, s.Scheduler().Len())
	require.Zero(t, f.clock.Pending())
	require.False(t, s.Trigger("test"))
	_, err := s.Refresh(t.Context())
	require.ErrorIs(t, err, ErrClosed)
}

func TestManagerFollowsAccount(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m := NewManager(Options{Source: testutil.NewFakeSource(), Clock: clock})
	require.False(t, m.Connected())

	first, err := m.Connect(t.Context(), "0xAA")
	require.NoError(t, err)
	require.Equal(t, self, first.Self())
	require.True(t, m.Connected())

	second, err := m.Connect(t.Context(), partner)
	require.NoError(t, err)
	require.Same(t, second, m.Current())
	_, err = first.Refresh(t.Context())
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, m.Disconnect())
	require.False(t, m.Connected())
	require.NoError(t, m.Disconnect())
	require.Zero(t, clock.Pending())

	_, err = m.Connect(t.Context(), "")
	require.ErrorIs(t, err, ErrNoSelf)
}

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/gmic/internal/testutil"
)

func TestAfterFiresOnce(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := New(clock)

	fired := 0
	require.NoError(t, s.After("banner:1", 2*time.Second, func() { fired++ }))
	require.True(t, s.Has("banner:1"))

	clock.Advance(1999 * time.Millisecond)
	require.Equal(t, 0, fired)
	clock.Advance(time.Millisecond)
	require.Equal(t, 1, fired)
	require.False(t, s.Has("banner:1"))

	clock.Advance(time.Minute)
	require.Equal(t, 1, fired)
}

func TestAfterReplacesSameName(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := New(clock)

	var got []string
	require.NoError(t, s.After("refresh:retry", time.Second, func() { got = append(got, "first") }))
	require.NoError(t, s.After("refresh:retry", 3*time.Second, func() { got = append(got, "second") }))
	require.Equal(t, 1, s.Len())

	clock.Advance(5 * time.Second)
	require.Equal(t, []string{"second"}, got)
	require.Equal(t, 0, clock.Pending())
}

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := New(clock)

	ticks := 0
	require.NoError(t, s.Every("cooldown:tick", time.Second, func() {
		ticks++
		if ticks == 3 {
			s.Cancel("cooldown:tick")
		}
	}))

	clock.Advance(10 * time.Second)
	require.Equal(t, 3, ticks)
	require.False(t, s.Has("cooldown:tick"))
	require.Equal(t, 0, clock.Pending())

	require.Error(t, s.Every("bad", 0, func() {}))
}

func TestCallbackMaySchedule(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := New(clock)

	var order []string
	require.NoError(t, s.After("a", time.Second, func() {
		order = append(order, "a")
		require.NoError(t, s.After("b", time.Second, func() { order = append(order, "b") }))
	}))
	clock.Advance(3 * time.Second)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestCloseCancelsEverything(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := New(clock)

	fired := false
	require.NoError(t, s.After("marker:x", time.Second, func() { fired = true }))
	require.NoError(t, s.Every("refresh:poll", 10*time.Second, func() { fired = true }))
	require.Equal(t, []string{"marker:x", "refresh:poll"}, s.Names())

	s.Close()
	s.Close()
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, clock.Pending())
	require.ErrorIs(t, s.After("late", time.Second, func() {}), ErrClosed)

	clock.Advance(time.Minute)
	require.False(t, fired)
}

func TestCancelUnknown(t *testing.T) {
	s := New(testutil.NewFakeClock(time.Time{}))
	require.False(t, s.Cancel("nope"))
}

func TestPanickingTaskDoesNotKillScheduler(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := New(clock)

	ticks := 0
	require.NoError(t, s.Every("flaky", time.Second, func() {
		ticks++
		panic("boom")
	}))
	clock.Advance(3 * time.Second)
	require.Equal(t, 3, ticks)
	require.True(t, s.Has("flaky"))
	s.Close()
}

func TestClockworkAdapterDrivesTasks(t *testing.T) {
	fake := clockwork.NewFakeClockAt(testutil.Epoch)
	s := New(Clockwork{Clock: fake})
	t.Cleanup(s.Close)
	require.Equal(t, testutil.Epoch, s.Now())

	var fired atomic.Int32
	require.NoError(t, s.After("marker:1", time.Second, func() { fired.Add(1) }))
	require.NoError(t, s.After("marker:2", time.Second, func() { fired.Add(10) }))
	require.True(t, s.Cancel("marker:2"))
	require.NoError(t, fake.BlockUntilContext(t.Context(), 1))

	fake.Advance(time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !s.Has("marker:1") }, 5*time.Second, time.Millisecond)
}

func TestRealClockFires(t *testing.T) {
	s := New(nil)
	t.Cleanup(s.Close)

	done := make(chan struct{})
	require.NoError(t, s.After("poll", time.Millisecond, func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not fire")
	}
}

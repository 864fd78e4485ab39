package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/gmic/internal/models"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := t.Context()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "activeTab", "settings"))
	require.NoError(t, store.Set(ctx, "activeTab", "messages"))
	value, ok, err := store.Get(ctx, "activeTab")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "messages", value)

	require.NoError(t, store.Delete(ctx, "activeTab"))
	_, ok, err = store.Get(ctx, "activeTab")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	exerciseStore(t, store)
	require.NoError(t, store.Close())
	_, _, err := store.Get(t.Context(), "x")
	require.ErrorIs(t, err, ErrClosed)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.db")
	store, err := OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Set(t.Context(), "k", "persisted"))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	defer reopened.Close()
	value, ok, err := reopened.Get(t.Context(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", value)
}

func TestOpen(t *testing.T) {
	store, err := Open(t.Context(), Options{})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, store)

	store, err = Open(t.Context(), Options{Backend: "SQLite", Path: ":memory:"})
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Close())

	_, err = Open(t.Context(), Options{Backend: "etcd"})
	require.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(t.Context(), Options{Backend: BackendRedis, URL: "not-a-url"})
	require.Error(t, err)

	_, err = OpenSQLite(t.Context(), "")
	require.Error(t, err)
}

func TestIsBusyError(t *testing.T) {
	require.True(t, isBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	require.False(t, isBusyError(context.Canceled))
	require.False(t, isBusyError(errors.New("no such table")))
	require.False(t, isBusyError(nil))
}

func TestWithRetryStopsOnBusyLimit(t *testing.T) {
	attempts := 0
	err := withRetry(t.Context(), func() error {
		attempts++
		return errors.New("database is busy")
	})
	require.Error(t, err)
	require.Equal(t, retryAttempts, attempts)
}

type brokenStore struct{ Memory }

func (*brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func (*brokenStore) Set(context.Context, string, string) error {
	return errors.New("disk on fire")
}

func TestPrefsFallBackOnFailure(t *testing.T) {
	prefs := NewPrefs(&brokenStore{})
	ctx := t.Context()

	prefs.SetActiveTab(ctx, TabSettings)
	require.Equal(t, DefaultTab, prefs.ActiveTab(ctx))
	enabled, known := prefs.CooldownEnabled(ctx)
	require.False(t, enabled)
	require.False(t, known)
	require.Equal(t, "e476", prefs.TargetChainID(ctx, "e476"))
	require.Nil(t, prefs.Pinned(ctx, "0xaa"))
	_, ok := prefs.Profile(ctx, "0xaa")
	require.False(t, ok)
}

func TestPrefsRoundTrip(t *testing.T) {
	store := NewMemory()
	prefs := NewPrefs(store)
	ctx := t.Context()

	require.Equal(t, DefaultTab, prefs.ActiveTab(ctx))
	prefs.SetActiveTab(ctx, TabLeaderboards)
	prefs.SetActiveTab(ctx, "bogus")
	require.Equal(t, TabLeaderboards, prefs.ActiveTab(ctx))

	prefs.SetCooldownEnabled(ctx, true)
	enabled, known := prefs.CooldownEnabled(ctx)
	require.True(t, enabled)
	require.True(t, known)

	prefs.SetTargetChainID(ctx, "chain-2")
	require.Equal(t, "chain-2", prefs.TargetChainID(ctx, "e476"))

	prefs.SetProfile(ctx, "0xAA", models.Profile{Name: "Alice", Avatar: "🦊"})
	profile, ok := prefs.Profile(ctx, "aa")
	require.True(t, ok)
	require.Equal(t, "Alice", profile.Name)

	require.Equal(t, []string{"0xbb"}, prefs.Pin(ctx, "0xaa", "BB"))
	require.Equal(t, []string{"0xbb", "0xcc"}, prefs.Pin(ctx, "0xaa", "0xcc"))
	require.Equal(t, []string{"0xbb", "0xcc"}, prefs.Pin(ctx, "0xaa", "0xbb"))
	require.Equal(t, []string{"0xcc"}, prefs.Unpin(ctx, "0xaa", "0xBB"))
	require.Equal(t, []string{"0xcc"}, prefs.Pinned(ctx, "0xaa"))

	require.NoError(t, store.Set(ctx, keyPinnedPrefix+"0xaa", "{not json"))
	require.Nil(t, prefs.Pinned(ctx, "0xaa"))
}

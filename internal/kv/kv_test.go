package kv_test

import (
	"MarginTrading/internal/kv"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails the first n calls of every operation.
type failingStore struct {
	*kv.MemoryStore
	failures int
	calls    int
}

var errUnavailable = errors.New("store unavailable")

func (f *failingStore) Get(ctx context.Context, key string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errUnavailable
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.calls++
	if f.calls <= f.failures {
		return errUnavailable
	}
	return f.MemoryStore.Set(ctx, key, value, ttl)
}

func fastRetry() kv.RetryPolicy {
	return kv.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
}

// ============================================================================
// Test: MemoryStore
// ============================================================================

func TestMemoryStore_GetMissing(t *testing.T) {
	s := kv.NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestMemoryStore_TryAddOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemoryStore()

	ok, err := s.TryAdd(ctx, "k", "a", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAdd(ctx, "k", "b", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", "v1", 0))

	ok, err := s.CompareAndSwap(ctx, "k", "other", "v2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, "k", "v1", "v2")
	require.NoError(t, err)
	assert.True(t, ok)

	v, _ := s.Get(ctx, "k")
	assert.Equal(t, "v2", v)

	ok, err = s.CompareAndSwap(ctx, "absent", "", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpires(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", "v", 5*time.Millisecond))

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "k")
		return errors.Is(err, kv.ErrNotFound)
	}, time.Second, time.Millisecond)

	ok, err := s.TryAdd(ctx, "k", "again", 0)
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be free for TryAdd")
}

// ============================================================================
// Test: Flag
// ============================================================================

func TestFlag_MissingReadsFalse(t *testing.T) {
	f := kv.NewFlag(kv.NewMemoryStore(), "flag", fastRetry())
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, v)
}

func TestFlag_SetGet(t *testing.T) {
	ctx := context.Background()
	f := kv.NewFlag(kv.NewMemoryStore(), "flag", fastRetry())

	require.NoError(t, f.Set(ctx, true))
	v, err := f.Get(ctx)
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, f.Set(ctx, false))
	v, err = f.Get(ctx)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestFlag_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: kv.NewMemoryStore(), failures: 2}
	f := kv.NewFlag(store, "flag", fastRetry())

	require.NoError(t, f.Set(ctx, true))
	assert.Equal(t, 3, store.calls)
}

func TestFlag_GivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: kv.NewMemoryStore(), failures: 10}
	f := kv.NewFlag(store, "flag", fastRetry())

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 3, store.calls)
}

func TestFlag_NonBooleanValue(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "flag", "maybe", 0))

	_, err := kv.NewFlag(store, "flag", kv.RetryPolicy{Attempts: 1}).Get(ctx)
	assert.Error(t, err)
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := kv.RetryPolicy{Attempts: 5, Backoff: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errUnavailable
	})
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 1, calls)
}

// ============================================================================
// Test: LiquidationRegistry
// ============================================================================

func TestLiquidationRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	r := kv.NewLiquidationRegistry(kv.NewMemoryStore(), time.Hour)

	running, err := r.IsRunning(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, running)

	ok, err := r.Start(ctx, "acc-1", "op-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Start(ctx, "acc-1", "op-2")
	require.NoError(t, err)
	assert.False(t, ok, "second liquidation for the same account must be refused")

	ok, err = r.Handover(ctx, "acc-1", "op-1", "op-2")
	require.NoError(t, err)
	assert.True(t, ok)

	running, err = r.IsRunning(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, r.Finish(ctx, "acc-1"))
	running, err = r.IsRunning(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, running)
}

// ============================================================================
// Test: Record
// ============================================================================

type window struct {
	Enabled bool      `json:"enabled"`
	Day     time.Time `json:"day"`
}

func TestRecord_MissingReportsNotFound(t *testing.T) {
	r := kv.NewRecord[window](kv.NewMemoryStore(), "window", fastRetry())
	_, ok, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecord_SetGet(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	require.NoError(t, kv.NewRecord[window](store, "window", fastRetry()).Set(ctx, window{Day: day}))

	got, ok, err := kv.NewRecord[window](store, "window", fastRetry()).Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.True(t, day.Equal(got.Day))
}

func TestRecord_CorruptValue(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "window", "{", 0))

	_, _, err := kv.NewRecord[window](store, "window", kv.RetryPolicy{Attempts: 1}).Get(ctx)
	assert.Error(t, err)
}

package evidence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/attendly/presence-engine/pkg/evidence"
	"github.com/stretchr/testify/require"
)

// fakeClock is a mutable time source for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) (*evidence.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(0)}
	store := evidence.NewMemoryStore(evidence.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestPutGetDel(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutWithTTL(ctx, "k", []byte("v"), time.Minute))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, store.Del(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, evidence.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	_, err := store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, evidence.ErrNotFound)
}

func TestExpiry(t *testing.T) {
	t.Parallel()
	store, clock := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutWithTTL(ctx, "k", []byte("v"), time.Second))

	clock.Advance(999 * time.Millisecond)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(2 * time.Millisecond)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, evidence.ErrNotFound)
}

func TestPutIfAbsent(t *testing.T) {
	t.Parallel()
	store, clock := newStore(t)
	ctx := context.Background()

	won, err := store.PutIfAbsent(ctx, "k", []byte("first"), time.Second)
	require.NoError(t, err)
	require.True(t, won)

	won, err = store.PutIfAbsent(ctx, "k", []byte("second"), time.Second)
	require.NoError(t, err)
	require.False(t, won)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)

	// After expiry the key is claimable again.
	clock.Advance(2 * time.Second)
	won, err = store.PutIfAbsent(ctx, "k", []byte("second"), time.Second)
	require.NoError(t, err)
	require.True(t, won)
}

func TestSetMembers(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddSetMember(ctx, "set", "p1", time.Minute))
	require.NoError(t, store.AddSetMember(ctx, "set", "p2", time.Minute))
	require.NoError(t, store.AddSetMember(ctx, "set", "p1", time.Minute))

	members, err := store.SetMembers(ctx, "set")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"p1", "p2"}, members)
}

func TestSetExpiry(t *testing.T) {
	t.Parallel()
	store, clock := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddSetMember(ctx, "set", "p1", time.Second))
	clock.Advance(2 * time.Second)

	members, err := store.SetMembers(ctx, "set")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "k")
	require.ErrorIs(t, err, evidence.ErrUnavailable)
	err = store.PutWithTTL(ctx, "k", nil, time.Second)
	require.ErrorIs(t, err, evidence.ErrUnavailable)
}

func TestConcurrentPutIfAbsent(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	const writers = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.PutIfAbsent(ctx, "race", []byte("v"), time.Minute)
			require.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins)
}

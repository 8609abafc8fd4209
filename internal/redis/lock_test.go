package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_ReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 5*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), "slot:a", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:slot:a"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:slot:a"))
}

func TestRedisLocker_ContendedKeyIsRejected(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 5*time.Second)

	require.NoError(t, mr.Set("lock:slot:a", "someone-else"))

	err := locker.WithLock(context.Background(), "slot:a", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)

	// the foreign holder's token is untouched
	got, err := mr.Get("lock:slot:a")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_PropagatesCallbackError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Second)

	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "reminder-sweep", func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:reminder-sweep"))
}

func TestSlotKey_IsZoneIndependent(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	local := time.Date(2025, 1, 10, 13, 0, 0, 0, loc)
	assert.Equal(t, SlotKey(local), SlotKey(local.UTC()))
	assert.Equal(t, "slot:2025-01-10T19:00:00Z", SlotKey(local))
}

func TestDeduper_FirstSeenOnce(t *testing.T) {
	mr, client := newTestClient(t)
	d := NewDeduper(client, time.Hour)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Hour)
	afterWindow, err := d.FirstSeen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, afterWindow)
}

func TestLocalLocker_RejectsNestedHolder(t *testing.T) {
	locker := NewLocalLocker()

	err := locker.WithLock(context.Background(), "slot:a", func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "slot:a", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		other := locker.WithLock(ctx, "slot:b", func(context.Context) error { return nil })
		assert.NoError(t, other)
		return nil
	})
	require.NoError(t, err)

	// released after the outer call returns
	require.NoError(t, locker.WithLock(context.Background(), "slot:a", func(context.Context) error { return nil }))
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client, time.Second)
	locker.retry = time.Millisecond
	return locker, mr
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "authz:role:admin:lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("authz:role:admin:lock"))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "authz:role:admin:lock")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	require.False(t, mr.Exists("authz:role:admin:lock"))

	again, err := locker.Lock(ctx, "authz:role:admin:lock")
	require.NoError(t, err)
	again()
}

func TestLockerReleaseKeepsForeignLease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	// Lease expired and another holder took it over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("k", "other-holder"))

	unlock()
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "other-holder", got)
}

func TestLockerLeaseExpires(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(1500 * time.Millisecond)

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	unlock()
}

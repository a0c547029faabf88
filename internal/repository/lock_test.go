package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	withLockService(t, func(s *RedisLockService, mr *miniredis.Miniredis) {
		ctx := context.Background()

		lease, err := s.Acquire(ctx, 1, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), lease.ClusterID)
		assert.NotEmpty(t, lease.Token)

		require.NoError(t, s.Release(ctx, lease))

		// Free again after release.
		lease2, err := s.Acquire(ctx, 1, 10*time.Second)
		require.NoError(t, err)
		assert.NotEqual(t, lease.Token, lease2.Token)
	})
}

func TestAcquireBusy(t *testing.T) {
	withLockService(t, func(s *RedisLockService, mr *miniredis.Miniredis) {
		ctx := context.Background()

		_, err := s.Acquire(ctx, 1, 10*time.Second)
		require.NoError(t, err)

		_, err = s.Acquire(ctx, 1, 10*time.Second)
		var busy *ErrLockBusy
		require.ErrorAs(t, err, &busy)
		assert.Equal(t, int64(1), busy.ClusterID)

		// A different cluster is unaffected.
		_, err = s.Acquire(ctx, 2, 10*time.Second)
		assert.NoError(t, err)
	})
}

func TestReleaseWithStaleTokenIsNoOp(t *testing.T) {
	withLockService(t, func(s *RedisLockService, mr *miniredis.Miniredis) {
		ctx := context.Background()

		first, err := s.Acquire(ctx, 1, 50*time.Millisecond)
		require.NoError(t, err)

		// Lease expires and a successor takes over.
		mr.FastForward(100 * time.Millisecond)
		second, err := s.Acquire(ctx, 1, 10*time.Second)
		require.NoError(t, err)

		// The slow first worker releasing must not free the successor's lock.
		require.NoError(t, s.Release(ctx, first))
		_, err = s.Acquire(ctx, 1, 10*time.Second)
		var busy *ErrLockBusy
		require.ErrorAs(t, err, &busy)

		require.NoError(t, s.Release(ctx, second))
		_, err = s.Acquire(ctx, 1, 10*time.Second)
		assert.NoError(t, err)
	})
}

func TestLockExpiresAfterTtl(t *testing.T) {
	withLockService(t, func(s *RedisLockService, mr *miniredis.Miniredis) {
		ctx := context.Background()

		_, err := s.Acquire(ctx, 1, 50*time.Millisecond)
		require.NoError(t, err)

		mr.FastForward(100 * time.Millisecond)

		_, err = s.Acquire(ctx, 1, 10*time.Second)
		assert.NoError(t, err)
	})
}

func TestLeaseExpired(t *testing.T) {
	lease := &Lease{AcquiredAt: time.Now(), TTL: time.Hour}
	assert.False(t, lease.Expired())

	lease = &Lease{AcquiredAt: time.Now().Add(-2 * time.Hour), TTL: time.Hour}
	assert.True(t, lease.Expired())
}

func withLockService(t *testing.T, action func(s *RedisLockService, mr *miniredis.Miniredis)) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	action(NewRedisLockService(client), mr)
}

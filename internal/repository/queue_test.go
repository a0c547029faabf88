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

func TestEnqueueReserveAck(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 1, EnqueuedAt: time.Now().UTC()}))
		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 2, EnqueuedAt: time.Now().UTC()}))

		// FIFO order.
		first, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, int64(1), first.DeploymentID)

		second, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, int64(2), second.DeploymentID)

		// Reserved jobs are hidden.
		third, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		assert.Nil(t, third)

		require.NoError(t, q.Ack(ctx, first))
		require.NoError(t, q.Ack(ctx, second))

		status, err := q.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.Queued)
		assert.Equal(t, int64(0), status.Started)
		assert.Equal(t, int64(2), status.Finished)
	})
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 7, EnqueuedAt: time.Now().UTC()}))

		job, err := q.Reserve(ctx, 30*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)

		// Not yet due for redelivery.
		redelivered, err := q.Reserve(ctx, 30*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, redelivered)

		// Worker dies without acking; after the visibility timeout the job
		// is delivered again.
		time.Sleep(60 * time.Millisecond)
		redelivered, err = q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, redelivered)
		assert.Equal(t, int64(7), redelivered.DeploymentID)
	})
}

func TestNackReturnsJobImmediately(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 3, EnqueuedAt: time.Now().UTC()}))
		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 4, EnqueuedAt: time.Now().UTC()}))

		job, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, int64(3), job.DeploymentID)

		require.NoError(t, q.Nack(ctx, job))

		// Nacked job is redelivered ahead of the rest of the queue.
		again, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, int64(3), again.DeploymentID)
	})
}

func TestDelayedJobsPromoteWhenDue(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		require.NoError(t, q.EnqueueAfter(ctx, Job{DeploymentID: 5, EnqueuedAt: time.Now().UTC()}, 40*time.Millisecond))

		// Not yet due.
		moved, err := q.PromoteDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), moved)
		job, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		assert.Nil(t, job)

		time.Sleep(80 * time.Millisecond)
		moved, err = q.PromoteDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), moved)

		job, err = q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, int64(5), job.DeploymentID)
	})
}

func TestFailRecordsInFailedRegistry(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 9, EnqueuedAt: time.Now().UTC()}))
		job, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)

		require.NoError(t, q.Fail(ctx, job))

		status, err := q.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.Queued)
		assert.Equal(t, int64(0), status.Started)
		assert.Equal(t, int64(1), status.Failed)
	})
}

func TestContains(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 1, EnqueuedAt: time.Now().UTC()}))
		require.NoError(t, q.EnqueueAfter(ctx, Job{DeploymentID: 2, EnqueuedAt: time.Now().UTC()}, time.Hour))

		// On the main queue.
		ok, err := q.Contains(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		// On the delayed queue.
		ok, err = q.Contains(ctx, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		// Reserved jobs still count as in flight.
		job, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		ok, err = q.Contains(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		// Gone once acked.
		require.NoError(t, q.Ack(ctx, job))
		ok, err = q.Contains(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = q.Contains(ctx, 42)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDuplicateDeliveriesAreDistinctJobs(t *testing.T) {
	withQueueService(t, func(q *RedisQueueService) {
		ctx := context.Background()

		enqueued := time.Now().UTC()
		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 6, Attempt: 1, EnqueuedAt: enqueued}))
		require.NoError(t, q.Enqueue(ctx, Job{DeploymentID: 6, Attempt: 2, EnqueuedAt: enqueued}))

		first, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, first)
		second, err := q.Reserve(ctx, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, int64(6), first.DeploymentID)
		assert.Equal(t, int64(6), second.DeploymentID)
	})
}

func withQueueService(t *testing.T, action func(q *RedisQueueService)) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	action(NewRedisQueueService(client))
}

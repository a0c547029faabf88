package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	mainQueueKey        = "deployments"
	delayedQueueKey     = "deployments:delayed"
	reservedQueueKey    = "deployments:reserved"
	startedRegistryKey  = "deployments:started"
	finishedRegistryKey = "deployments:finished"
	failedRegistryKey   = "deployments:failed"
)

// Job is the queue payload. The deployment id is the sole source of truth;
// attempt and enqueued_at are hints the worker re-reads from the store.
type Job struct {
	DeploymentID int64     `json:"deployment_id"`
	Attempt      int32     `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// ReservedJob is a job taken off the main queue that must be acked, nacked
// or failed before its visibility timeout elapses, otherwise it is
// re-delivered to another worker.
type ReservedJob struct {
	Job
	raw string
}

type QueueStatus struct {
	Queued   int64
	Started  int64
	Finished int64
	Failed   int64
}

// QueueService is the at-least-once job pipeline between admission and the
// workers: a FIFO main queue with visibility timeouts, a delayed queue for
// deferred retries, and observational started/finished/failed registries.
type QueueService interface {
	Enqueue(ctx context.Context, job Job) error
	EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error
	// Reserve pops the next job and hides it for visibilityTimeout.
	// Returns (nil, nil) when the queue is empty.
	Reserve(ctx context.Context, visibilityTimeout time.Duration) (*ReservedJob, error)
	Ack(ctx context.Context, job *ReservedJob) error
	// Nack returns the job to the front of the main queue for prompt
	// re-delivery.
	Nack(ctx context.Context, job *ReservedJob) error
	// Fail acks the job and records it in the failed registry.
	Fail(ctx context.Context, job *ReservedJob) error
	// PromoteDue moves all due jobs from the delayed queue onto the main
	// queue and returns how many were moved.
	PromoteDue(ctx context.Context) (int64, error)
	// Contains reports whether the deployment id is present on any queue or
	// in the started registry. Used by the recovery sweeper.
	Contains(ctx context.Context, deploymentID int64) (bool, error)
	Status(ctx context.Context) (QueueStatus, error)
}

type RedisQueueService struct {
	db redis.UniversalClient
}

func NewRedisQueueService(db redis.UniversalClient) *RedisQueueService {
	return &RedisQueueService{db: db}
}

// reserveScript first returns any reservation whose visibility deadline has
// passed to the front of the main queue, then pops one job and reserves it
// until the new deadline.
var reserveScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for i, member in ipairs(expired) do
	redis.call('ZREM', KEYS[2], member)
	redis.call('LPUSH', KEYS[1], member)
end
local member = redis.call('LPOP', KEYS[1])
if member then
	redis.call('ZADD', KEYS[2], ARGV[2], member)
end
return member
`)

// promoteScript moves every due job from the delayed queue to the back of
// the main queue.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

func (q *RedisQueueService) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(q.db.RPush(ctx, mainQueueKey, data).Err(), "error enqueueing job")
}

func (q *RedisQueueService) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.WithStack(err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	err = q.db.ZAdd(ctx, delayedQueueKey, redis.Z{Score: due, Member: string(data)}).Err()
	return errors.Wrap(err, "error enqueueing delayed job")
}

func (q *RedisQueueService) Reserve(ctx context.Context, visibilityTimeout time.Duration) (*ReservedJob, error) {
	now := time.Now()
	deadline := now.Add(visibilityTimeout)
	result, err := reserveScript.Run(ctx, q.db,
		[]string{mainQueueKey, reservedQueueKey},
		now.UnixMilli(), deadline.UnixMilli(),
	).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error reserving job")
	}

	job := &ReservedJob{raw: result}
	if err := json.Unmarshal([]byte(result), &job.Job); err != nil {
		// Drop the malformed payload so it cannot wedge the queue.
		q.db.ZRem(ctx, reservedQueueKey, result)
		return nil, errors.Wrap(err, "malformed job payload")
	}
	if err := q.db.SAdd(ctx, startedRegistryKey, job.DeploymentID).Err(); err != nil {
		return nil, errors.Wrap(err, "error updating started registry")
	}
	return job, nil
}

func (q *RedisQueueService) Ack(ctx context.Context, job *ReservedJob) error {
	pipe := q.db.TxPipeline()
	pipe.ZRem(ctx, reservedQueueKey, job.raw)
	pipe.SRem(ctx, startedRegistryKey, job.DeploymentID)
	pipe.SAdd(ctx, finishedRegistryKey, job.DeploymentID)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "error acking job")
}

func (q *RedisQueueService) Nack(ctx context.Context, job *ReservedJob) error {
	pipe := q.db.TxPipeline()
	pipe.ZRem(ctx, reservedQueueKey, job.raw)
	pipe.SRem(ctx, startedRegistryKey, job.DeploymentID)
	pipe.LPush(ctx, mainQueueKey, job.raw)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "error nacking job")
}

func (q *RedisQueueService) Fail(ctx context.Context, job *ReservedJob) error {
	pipe := q.db.TxPipeline()
	pipe.ZRem(ctx, reservedQueueKey, job.raw)
	pipe.SRem(ctx, startedRegistryKey, job.DeploymentID)
	pipe.SAdd(ctx, failedRegistryKey, job.DeploymentID)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "error recording failed job")
}

func (q *RedisQueueService) PromoteDue(ctx context.Context) (int64, error) {
	moved, err := promoteScript.Run(ctx, q.db,
		[]string{delayedQueueKey, mainQueueKey},
		time.Now().UnixMilli(),
	).Int64()
	if err != nil && err != redis.Nil {
		return 0, errors.Wrap(err, "error promoting delayed jobs")
	}
	return moved, nil
}

func (q *RedisQueueService) Contains(ctx context.Context, deploymentID int64) (bool, error) {
	queued, err := q.db.LRange(ctx, mainQueueKey, 0, -1).Result()
	if err != nil {
		return false, errors.Wrap(err, "error reading main queue")
	}
	if containsDeployment(queued, deploymentID) {
		return true, nil
	}

	for _, key := range []string{delayedQueueKey, reservedQueueKey} {
		members, err := q.db.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return false, errors.Wrapf(err, "error reading %s", key)
		}
		if containsDeployment(members, deploymentID) {
			return true, nil
		}
	}

	started, err := q.db.SIsMember(ctx, startedRegistryKey, deploymentID).Result()
	if err != nil {
		return false, errors.Wrap(err, "error reading started registry")
	}
	return started, nil
}

func containsDeployment(payloads []string, deploymentID int64) bool {
	for _, p := range payloads {
		var job Job
		if err := json.Unmarshal([]byte(p), &job); err != nil {
			continue
		}
		if job.DeploymentID == deploymentID {
			return true
		}
	}
	return false
}

func (q *RedisQueueService) Status(ctx context.Context) (QueueStatus, error) {
	pipe := q.db.TxPipeline()
	queued := pipe.LLen(ctx, mainQueueKey)
	delayed := pipe.ZCard(ctx, delayedQueueKey)
	started := pipe.SCard(ctx, startedRegistryKey)
	finished := pipe.SCard(ctx, finishedRegistryKey)
	failed := pipe.SCard(ctx, failedRegistryKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStatus{}, errors.Wrap(err, "error reading queue status")
	}
	return QueueStatus{
		Queued:   queued.Val() + delayed.Val(),
		Started:  started.Val(),
		Finished: finished.Val(),
		Failed:   failed.Val(),
	}, nil
}

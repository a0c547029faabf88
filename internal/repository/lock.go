package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:cluster:"

// Lease proves ownership of a per-cluster lock for its TTL. Holders must
// check Expired before committing work done under the lease; once expired
// the lock may already belong to a successor.
type Lease struct {
	ClusterID  int64
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

func (l *Lease) Expired() bool {
	return time.Since(l.AcquiredAt) > l.TTL
}

func (l *Lease) key() string {
	return lockKey(l.ClusterID)
}

func lockKey(clusterID int64) string {
	return fmt.Sprintf("%s%d", lockKeyPrefix, clusterID)
}

type LockService interface {
	// Acquire takes the cluster lease or returns ErrLockBusy.
	Acquire(ctx context.Context, clusterID int64, ttl time.Duration) (*Lease, error)
	// Release frees the lease only if the stored token still matches.
	// A mismatch (lease expired and re-acquired by a successor) is a no-op.
	Release(ctx context.Context, lease *Lease) error
}

type RedisLockService struct {
	db redis.UniversalClient
}

func NewRedisLockService(db redis.UniversalClient) *RedisLockService {
	return &RedisLockService{db: db}
}

// releaseScript deletes the lock key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end
`)

func (s *RedisLockService) Acquire(ctx context.Context, clusterID int64, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := s.db.SetNX(ctx, lockKey(clusterID), token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error acquiring cluster lock")
	}
	if !ok {
		return nil, &ErrLockBusy{ClusterID: clusterID}
	}
	return &Lease{
		ClusterID:  clusterID,
		Token:      token,
		AcquiredAt: time.Now(),
		TTL:        ttl,
	}, nil
}

func (s *RedisLockService) Release(ctx context.Context, lease *Lease) error {
	err := releaseScript.Run(ctx, s.db, []string{lease.key()}, lease.Token).Err()
	if err != nil && err != redis.Nil {
		return errors.Wrap(err, "error releasing cluster lock")
	}
	return nil
}

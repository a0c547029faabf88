package configuration

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type SchedulerConfig struct {
	MetricsPort uint16

	Postgres PostgresConfig
	Redis    redis.UniversalOptions

	Scheduling SchedulingConfig
}

type PostgresConfig struct {
	// Connection is passed through as libpq key/value pairs,
	// e.g. host, port, user, password, dbname, sslmode.
	Connection map[string]string
}

type SchedulingConfig struct {
	// Number of concurrent worker loops.
	Concurrency int
	// How long a reserved job stays hidden before redelivery. Must exceed
	// LockTtl plus the expected commit latency.
	QueueVisibilityTimeout time.Duration
	// Per-cluster lease duration; long enough to cover one scheduling
	// decision plus store commit.
	LockTtl time.Duration
	// How long an idle worker waits before polling the queue again.
	PollInterval time.Duration
	// Base and cap of the exponential backoff applied to deferred retries.
	RetryBase time.Duration
	RetryCap  time.Duration
	// Fixed re-enqueue delay for preempted deployments.
	PreemptedRequeueDelay time.Duration
	// Deferred deployments that reach this many attempts fail as
	// unschedulable.
	MaxAttempts int32
	// Interval of the lost-deployment recovery sweep.
	SweepInterval time.Duration
	// Interval at which due delayed jobs are promoted to the main queue.
	PromoteInterval time.Duration
}

func DefaultSchedulingConfig() SchedulingConfig {
	return SchedulingConfig{
		Concurrency:            2,
		QueueVisibilityTimeout: 30 * time.Second,
		LockTtl:                10 * time.Second,
		PollInterval:           time.Second,
		RetryBase:              5 * time.Second,
		RetryCap:               60 * time.Second,
		PreemptedRequeueDelay:  2 * time.Second,
		MaxAttempts:            20,
		SweepInterval:          time.Minute,
		PromoteInterval:        time.Second,
	}
}

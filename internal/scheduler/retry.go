package scheduler

import (
	"math/rand"
	"time"
)

// RetryPolicy controls re-enqueue delays and the poison-pill cutoff.
type RetryPolicy struct {
	// Base delay for the first deferred retry.
	Base time.Duration
	// Cap bounds the exponential growth of the defer delay.
	Cap time.Duration
	// PreemptedDelay is the fixed re-enqueue delay for evicted deployments,
	// small so they don't immediately contend with the deployment that
	// evicted them.
	PreemptedDelay time.Duration
	// MaxAttempts is the number of scheduling attempts after which a
	// deferred deployment is failed as unschedulable.
	MaxAttempts int32
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:           5 * time.Second,
		Cap:            60 * time.Second,
		PreemptedDelay: 2 * time.Second,
		MaxAttempts:    20,
	}
}

// DeferDelay returns the capped exponential backoff for the given attempt
// number (1-based), with up to 10% jitter to spread redeliveries.
func (p RetryPolicy) DeferDelay(attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := int32(1); i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}

// Exhausted reports whether a deployment with the given attempt count has
// used up its scheduling attempts.
func (p RetryPolicy) Exhausted(attempts int32) bool {
	return attempts >= p.MaxAttempts
}

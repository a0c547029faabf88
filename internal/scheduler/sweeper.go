package scheduler

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/namanarora00/scheduler/internal/repository"
)

// Sweeper is the reconciliation loop closing the commit-then-crash gap: a
// deployment can be committed as pending or preempted and then lost if the
// process dies before the follow-up enqueue. Each sweep re-enqueues any such
// deployment that is absent from the main, delayed and reserved queues and
// from the started registry; the finished and failed registries are not
// consulted.
type Sweeper struct {
	store    repository.Store
	queue    repository.QueueService
	interval time.Duration
}

func NewSweeper(store repository.Store, queue repository.QueueService, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		queue:    queue,
		interval: interval,
	}
}

// Run sweeps once immediately and then once per interval until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Sweep(ctx); err != nil {
		log.WithError(err).Warn("Sweep failed")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.WithError(err).Warn("Sweep failed")
			}
		}
	}
}

// Sweep enqueues every pending or preempted deployment not currently on a
// queue. Duplicated enqueues are harmless: the worker's status precheck
// makes processing idempotent.
func (s *Sweeper) Sweep(ctx context.Context) error {
	deployments, err := s.store.DeploymentsByStatus(ctx, repository.StatusPending, repository.StatusPreempted)
	if err != nil {
		return err
	}

	var result *multierror.Error
	requeued := 0
	for _, d := range deployments {
		queued, err := s.queue.Contains(ctx, d.ID)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if queued {
			continue
		}
		job := repository.Job{
			DeploymentID: d.ID,
			Attempt:      d.AttemptCount,
			EnqueuedAt:   time.Now().UTC(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		requeued++
		log.WithField("deploymentId", d.ID).Info("Re-enqueued lost deployment")
	}
	if requeued > 0 {
		sweeperRequeuedCounter.Add(float64(requeued))
	}
	return result.ErrorOrNil()
}

// Mover promotes due jobs from the delayed queue onto the main queue.
type Mover struct {
	queue    repository.QueueService
	interval time.Duration
}

func NewMover(queue repository.QueueService, interval time.Duration) *Mover {
	return &Mover{queue: queue, interval: interval}
}

func (m *Mover) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			moved, err := m.queue.PromoteDue(ctx)
			if err != nil {
				log.WithError(err).Warn("Error promoting delayed jobs")
				continue
			}
			if moved > 0 {
				log.WithField("count", moved).Debug("Promoted delayed jobs")
			}
		}
	}
}

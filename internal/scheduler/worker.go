package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/namanarora00/scheduler/internal/repository"
)

const (
	reasonClusterDeleted = "cluster deleted"
	reasonUnschedulable  = "unschedulable: retry attempts exhausted"
)

// errLeaseLost aborts a decision whose cluster lease expired before commit.
// The transaction rolls back and the visibility timeout redelivers the job.
var errLeaseLost = errors.New("cluster lease lost before commit")

// Worker drains the deployment queue one job at a time. Each job is a
// deployment id; the worker re-reads all state from the store, serializes
// per-cluster decisions through the lock service and commits every decision
// in a single transaction. Workers share nothing in memory and any number of
// them may run concurrently.
type Worker struct {
	store repository.Store
	queue repository.QueueService
	locks repository.LockService

	policy            RetryPolicy
	visibilityTimeout time.Duration
	lockTTL           time.Duration
	pollInterval      time.Duration
}

func NewWorker(
	store repository.Store,
	queue repository.QueueService,
	locks repository.LockService,
	policy RetryPolicy,
	visibilityTimeout time.Duration,
	lockTTL time.Duration,
	pollInterval time.Duration,
) *Worker {
	return &Worker{
		store:             store,
		queue:             queue,
		locks:             locks,
		policy:            policy,
		visibilityTimeout: visibilityTimeout,
		lockTTL:           lockTTL,
		pollInterval:      pollInterval,
	}
}

// Run processes jobs until ctx is cancelled. It never returns an error for
// a failed decision: unacked jobs are redelivered after the visibility
// timeout, so each cycle is free to abandon work on any backend failure.
func (w *Worker) Run(ctx context.Context) error {
	log.Info("Scheduler worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler worker stopped")
			return nil
		default:
		}

		job, err := w.queue.Reserve(ctx, w.visibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Error reserving job")
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}
		if job == nil {
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		start := time.Now()
		err = w.ProcessOne(ctx, job)
		decisionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			log.WithError(err).
				WithField("deploymentId", job.DeploymentID).
				Warn("Abandoning decision; job will be redelivered")
		}
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.pollInterval):
		return true
	}
}

// ProcessOne handles a single reserved job to completion: ack, nack or
// abandon. Returning an error means the job was neither acked nor nacked
// and will reappear after the visibility timeout.
func (w *Worker) ProcessOne(ctx context.Context, job *repository.ReservedJob) error {
	d, err := w.store.GetDeployment(ctx, job.DeploymentID)
	var notFound *repository.ErrNotFound
	if errors.As(err, &notFound) {
		log.WithField("deploymentId", job.DeploymentID).Warn("Job references unknown deployment")
		return w.queue.Fail(ctx, job)
	}
	if err != nil {
		return err
	}

	// Re-delivered jobs for deployments that already reached a decision are
	// acked without mutation. This is what makes at-least-once delivery safe.
	if !d.Status.Schedulable() {
		return w.queue.Ack(ctx, job)
	}

	lease, err := w.locks.Acquire(ctx, d.ClusterID, w.lockTTL)
	var busy *repository.ErrLockBusy
	if errors.As(err, &busy) {
		return w.queue.Nack(ctx, job)
	}
	if err != nil {
		return err
	}

	var (
		outcome   DecisionKind
		failed    bool
		preempted []*repository.Deployment
	)
	err = w.store.WithTx(ctx, func(tx repository.Tx) error {
		cluster, err := tx.GetClusterForUpdate(ctx, d.ClusterID)
		if err != nil {
			return err
		}
		d, err = tx.GetDeploymentForUpdate(ctx, d.ID)
		if err != nil {
			return err
		}
		if !d.Status.Schedulable() {
			return &repository.ErrInvalidTransition{DeploymentID: d.ID, From: d.Status, To: repository.StatusRunning}
		}
		if err := tx.IncrementAttempts(ctx, d); err != nil {
			return err
		}

		if cluster.Deleted {
			failed = true
			return tx.UpdateStatus(ctx, d, repository.StatusFailed, reasonClusterDeleted)
		}

		running, err := tx.RunningDeployments(ctx, cluster.ID)
		if err != nil {
			return err
		}

		decision := Plan(d, running, cluster.Capacity)
		outcome = decision.Kind
		switch decision.Kind {
		case DecisionAdmit:
			if err := tx.UpdateStatus(ctx, d, repository.StatusRunning, ""); err != nil {
				return err
			}
		case DecisionPreempt:
			for _, p := range decision.Preempt {
				reason := fmt.Sprintf("preempted by deployment %d", d.ID)
				if err := tx.UpdateStatus(ctx, p, repository.StatusPreempted, reason); err != nil {
					return err
				}
			}
			if err := tx.UpdateStatus(ctx, d, repository.StatusRunning, ""); err != nil {
				return err
			}
			preempted = decision.Preempt
		case DecisionDefer:
			if w.policy.Exhausted(d.AttemptCount) {
				failed = true
				return tx.UpdateStatus(ctx, d, repository.StatusFailed, reasonUnschedulable)
			}
		}

		// The lease must still be ours when the transaction commits. If it
		// expired mid-decision a successor may already hold the lock, so the
		// only safe move is to roll back and let the job be redelivered.
		if lease.Expired() {
			return errLeaseLost
		}
		return nil
	})

	var conflict *repository.ErrInvalidTransition
	if errors.As(err, &conflict) {
		// Handled concurrently (e.g. cancelled between precheck and lock).
		w.release(ctx, lease)
		return w.queue.Ack(ctx, job)
	}
	if errors.Is(err, errLeaseLost) {
		return err
	}
	if err != nil {
		w.release(ctx, lease)
		return err
	}

	if failed {
		decisionCounter.WithLabelValues("failed").Inc()
		if err := w.queue.Fail(ctx, job); err != nil {
			return err
		}
		w.release(ctx, lease)
		return nil
	}

	decisionCounter.WithLabelValues(outcome.String()).Inc()
	if err := w.queue.Ack(ctx, job); err != nil {
		return err
	}
	w.release(ctx, lease)

	// Re-enqueues happen strictly after commit; a crash in between is
	// recovered by the sweeper.
	switch outcome {
	case DecisionPreempt:
		preemptedCounter.Add(float64(len(preempted)))
		for _, p := range preempted {
			w.enqueueAfter(ctx, p, w.policy.PreemptedDelay)
		}
	case DecisionDefer:
		w.enqueueAfter(ctx, d, w.policy.DeferDelay(d.AttemptCount))
	}
	return nil
}

func (w *Worker) release(ctx context.Context, lease *repository.Lease) {
	if lease.Expired() {
		return
	}
	if err := w.locks.Release(ctx, lease); err != nil {
		log.WithError(err).WithField("clusterId", lease.ClusterID).Warn("Error releasing cluster lock")
	}
}

func (w *Worker) enqueueAfter(ctx context.Context, d *repository.Deployment, delay time.Duration) {
	job := repository.Job{
		DeploymentID: d.ID,
		Attempt:      d.AttemptCount,
		EnqueuedAt:   time.Now().UTC(),
	}
	if err := w.queue.EnqueueAfter(ctx, job, delay); err != nil {
		// The sweeper re-enqueues any pending or preempted deployment that
		// fell off the queues.
		log.WithError(err).
			WithField("deploymentId", d.ID).
			Warn("Error re-enqueueing deployment; the sweeper will recover it")
	}
}

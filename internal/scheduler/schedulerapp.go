package scheduler

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/namanarora00/scheduler/internal/common"
	"github.com/namanarora00/scheduler/internal/common/database"
	"github.com/namanarora00/scheduler/internal/configuration"
	"github.com/namanarora00/scheduler/internal/repository"
)

// Run wires up the scheduler process: store, queue and lock backends, the
// configured number of worker loops, the delayed-job mover and the recovery
// sweeper. It blocks until SIGINT/SIGTERM and returns nil on clean shutdown;
// any error it returns indicates an unrecoverable backend failure and the
// process should exit non-zero.
func Run(config configuration.SchedulerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenPgxPool(ctx, config.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.UpdateDatabase(ctx, db); err != nil {
		return err
	}

	redisClient, err := database.ConnectRedis(ctx, &config.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store := repository.NewPostgresStore(db)
	queue := repository.NewRedisQueueService(redisClient)
	locks := repository.NewRedisLockService(redisClient)

	metricsServer := common.ServeMetrics(config.MetricsPort)
	defer metricsServer.Close()

	policy := RetryPolicy{
		Base:           config.Scheduling.RetryBase,
		Cap:            config.Scheduling.RetryCap,
		PreemptedDelay: config.Scheduling.PreemptedRequeueDelay,
		MaxAttempts:    config.Scheduling.MaxAttempts,
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < config.Scheduling.Concurrency; i++ {
		worker := NewWorker(
			store, queue, locks, policy,
			config.Scheduling.QueueVisibilityTimeout,
			config.Scheduling.LockTtl,
			config.Scheduling.PollInterval,
		)
		g.Go(func() error { return worker.Run(ctx) })
	}
	g.Go(func() error { return NewMover(queue, config.Scheduling.PromoteInterval).Run(ctx) })
	g.Go(func() error { return NewSweeper(store, queue, config.Scheduling.SweepInterval).Run(ctx) })

	log.WithField("concurrency", config.Scheduling.Concurrency).Info("Scheduler running")
	return g.Wait()
}

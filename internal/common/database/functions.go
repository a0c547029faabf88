package database

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/namanarora00/scheduler/internal/configuration"
)

func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	result := ""
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	for k, v := range values {
		result += k + "='" + replacer.Replace(v) + "' "
	}
	return result
}

// OpenPgxPool connects to postgres, retrying while the database comes up.
func OpenPgxPool(ctx context.Context, config configuration.PostgresConfig) (*pgxpool.Pool, error) {
	var db *pgxpool.Pool
	err := retry.Do(
		func() error {
			var err error
			db, err = pgxpool.Connect(ctx, CreateConnectionString(config.Connection))
			if err != nil {
				return err
			}
			return db.Ping(ctx)
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Could not connect to postgres (attempt %d)", n+1)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to postgres")
	}
	return db, nil
}

// ConnectRedis connects to the queue and lock backend, retrying while it
// comes up.
func ConnectRedis(ctx context.Context, options *redis.UniversalOptions) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(options)
	err := retry.Do(
		func() error {
			return client.Ping(ctx).Err()
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Could not connect to redis (attempt %d)", n+1)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to redis")
	}
	return client, nil
}

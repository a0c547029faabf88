package repository

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
)

type migration struct {
	id   int
	name string
	sql  string
}

var migrations = []migration{
	{
		id:   1,
		name: "initial_schema",
		sql: `
CREATE TABLE IF NOT EXISTS organisation (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	organisation_id BIGINT NOT NULL REFERENCES organisation (id),
	password_hash TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cluster (
	id BIGSERIAL PRIMARY KEY,
	organisation_id BIGINT NOT NULL REFERENCES organisation (id),
	name TEXT NOT NULL,
	cpu_total BIGINT NOT NULL CHECK (cpu_total >= 0),
	ram_total BIGINT NOT NULL CHECK (ram_total >= 0),
	gpu_total BIGINT NOT NULL CHECK (gpu_total >= 0),
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deployment (
	id BIGSERIAL PRIMARY KEY,
	cluster_id BIGINT NOT NULL REFERENCES cluster (id),
	owner_id BIGINT NOT NULL,
	name TEXT NOT NULL,
	cpu BIGINT NOT NULL CHECK (cpu >= 0),
	ram BIGINT NOT NULL CHECK (ram >= 0),
	gpu BIGINT NOT NULL CHECK (gpu >= 0),
	priority INT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	attempt_count INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_deployment_cluster_status ON deployment (cluster_id, status);
CREATE INDEX IF NOT EXISTS idx_deployment_status ON deployment (status);

CREATE TABLE IF NOT EXISTS invite_code (
	code TEXT PRIMARY KEY,
	organisation_id BIGINT NOT NULL REFERENCES organisation (id),
	role TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	used BOOLEAN NOT NULL DEFAULT FALSE
);
`,
	},
}

// UpdateDatabase applies any migrations the database hasn't seen yet.
func UpdateDatabase(ctx context.Context, db *pgxpool.Pool) error {
	log.Info("Updating postgres...")
	version, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	log.Infof("Current schema version %v", version)

	for _, m := range migrations {
		if m.id > version {
			log.Infof("Applying migration %d (%s)", m.id, m.name)
			_, err := db.Exec(ctx, m.sql)
			if err != nil {
				return err
			}
			version = m.id
			err = setVersion(ctx, db, version)
			if err != nil {
				return err
			}
		}
	}
	log.Info("Database updated.")
	return nil
}

func readVersion(ctx context.Context, db *pgxpool.Pool) (int, error) {
	_, err := db.Exec(ctx,
		`CREATE SEQUENCE IF NOT EXISTS schema_version START WITH 0 MINVALUE 0;`)
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow(ctx, `SELECT last_value FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setVersion(ctx context.Context, db *pgxpool.Pool, version int) error {
	_, err := db.Exec(ctx, `SELECT setval('schema_version', $1)`, version)
	return err
}

package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/namanarora00/scheduler/internal/common/resource"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func prefixColumns(prefix string, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ", ")
}

// DeploymentFilter narrows ListDeployments. A zero ClusterID means all
// clusters of the organisation.
type DeploymentFilter struct {
	OrganisationID int64
	ClusterID      int64
	IncludeDeleted bool
}

// Store is the durable persistence contract. Reads outside WithTx see only
// committed state; all scheduler mutations happen through a Tx whose scope
// is exactly one decision.
type Store interface {
	WithTx(ctx context.Context, f func(tx Tx) error) error

	GetDeployment(ctx context.Context, id int64) (*Deployment, error)
	GetCluster(ctx context.Context, id int64) (*Cluster, error)
	ListClusters(ctx context.Context, organisationID int64, includeDeleted bool) ([]*Cluster, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*Deployment, error)
	// DeploymentsByStatus returns all deployments in any of the given
	// statuses, oldest first. Used by the recovery sweeper.
	DeploymentsByStatus(ctx context.Context, statuses ...Status) ([]*Deployment, error)
}

// Tx is a single store transaction. GetClusterForUpdate takes a row lock on
// the cluster, which serializes every writer touching that cluster's RUNNING
// set for the duration of the transaction.
type Tx interface {
	CreateCluster(ctx context.Context, c *Cluster) error
	CreateDeployment(ctx context.Context, d *Deployment) error

	GetClusterForUpdate(ctx context.Context, id int64) (*Cluster, error)
	GetDeploymentForUpdate(ctx context.Context, id int64) (*Deployment, error)
	RunningDeployments(ctx context.Context, clusterID int64) ([]*Deployment, error)
	PendingDeploymentByName(ctx context.Context, clusterID int64, name string) (*Deployment, error)

	// UpdateStatus validates the transition against the lifecycle table and,
	// for transitions into running, re-checks the cluster capacity invariant.
	// On success d is updated in place.
	UpdateStatus(ctx context.Context, d *Deployment, to Status, reason string) error
	IncrementAttempts(ctx context.Context, d *Deployment) error
	MarkClusterDeleted(ctx context.Context, c *Cluster) error
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, f func(tx Tx) error) error {
	return s.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return f(&postgresTx{tx: tx})
	})
}

const deploymentColumns = "id, cluster_id, owner_id, name, cpu, ram, gpu, priority, status, reason, created_at, updated_at, attempt_count"

const clusterColumns = "id, organisation_id, name, cpu_total, ram_total, gpu_total, deleted, created_at, updated_at"

func scanDeployment(row pgx.Row) (*Deployment, error) {
	d := &Deployment{}
	err := row.Scan(
		&d.ID, &d.ClusterID, &d.OwnerID, &d.Name,
		&d.Request.Cpu, &d.Request.Ram, &d.Request.Gpu,
		&d.Priority, &d.Status, &d.Reason,
		&d.CreatedAt, &d.UpdatedAt, &d.AttemptCount,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanCluster(row pgx.Row) (*Cluster, error) {
	c := &Cluster{}
	err := row.Scan(
		&c.ID, &c.OrganisationID, &c.Name,
		&c.Capacity.Cpu, &c.Capacity.Ram, &c.Capacity.Gpu,
		&c.Deleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id int64) (*Deployment, error) {
	return getDeployment(ctx, s.db, id, "")
}

func (s *PostgresStore) GetCluster(ctx context.Context, id int64) (*Cluster, error) {
	return getCluster(ctx, s.db, id, "")
}

func (s *PostgresStore) ListClusters(ctx context.Context, organisationID int64, includeDeleted bool) ([]*Cluster, error) {
	query := "SELECT " + clusterColumns + " FROM cluster WHERE organisation_id = $1"
	if !includeDeleted {
		query += " AND NOT deleted"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.Query(ctx, query, organisationID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var clusters []*Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		clusters = append(clusters, c)
	}
	return clusters, errors.WithStack(rows.Err())
}

func (s *PostgresStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*Deployment, error) {
	query := "SELECT " + prefixColumns("d", deploymentColumns) + ` FROM deployment d
		JOIN cluster c ON c.id = d.cluster_id
		WHERE c.organisation_id = $1`
	args := []interface{}{filter.OrganisationID}
	if filter.ClusterID != 0 {
		query += " AND d.cluster_id = $2"
		args = append(args, filter.ClusterID)
	}
	if !filter.IncludeDeleted {
		query += " AND d.status <> '" + string(StatusDeleted) + "'"
	}
	query += " ORDER BY d.priority DESC, d.created_at DESC, d.id DESC"

	return queryDeployments(ctx, s.db, query, args...)
}

func (s *PostgresStore) DeploymentsByStatus(ctx context.Context, statuses ...Status) ([]*Deployment, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	query := "SELECT " + deploymentColumns + ` FROM deployment
		WHERE status = ANY($1) ORDER BY created_at ASC, id ASC`
	return queryDeployments(ctx, s.db, query, values)
}

func queryDeployments(ctx context.Context, db interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}, query string, args ...interface{},
) ([]*Deployment, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var deployments []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		deployments = append(deployments, d)
	}
	return deployments, errors.WithStack(rows.Err())
}

func getDeployment(ctx context.Context, db interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}, id int64, suffix string,
) (*Deployment, error) {
	row := db.QueryRow(ctx, "SELECT "+deploymentColumns+" FROM deployment WHERE id = $1"+suffix, id)
	d, err := scanDeployment(row)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Type: "deployment", Value: itoa(id)}
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return d, nil
}

func getCluster(ctx context.Context, db interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}, id int64, suffix string,
) (*Cluster, error) {
	row := db.QueryRow(ctx, "SELECT "+clusterColumns+" FROM cluster WHERE id = $1"+suffix, id)
	c, err := scanCluster(row)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Type: "cluster", Value: itoa(id)}
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return c, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) CreateCluster(ctx context.Context, c *Cluster) error {
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx,
		`INSERT INTO cluster (organisation_id, name, cpu_total, ram_total, gpu_total, deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6) RETURNING id`,
		c.OrganisationID, c.Name, c.Capacity.Cpu, c.Capacity.Ram, c.Capacity.Gpu, now,
	).Scan(&c.ID)
	if err != nil {
		return errors.WithStack(err)
	}
	c.Deleted = false
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (t *postgresTx) CreateDeployment(ctx context.Context, d *Deployment) error {
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx,
		`INSERT INTO deployment (cluster_id, owner_id, name, cpu, ram, gpu, priority, status, reason, created_at, updated_at, attempt_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $9, 0) RETURNING id`,
		d.ClusterID, d.OwnerID, d.Name,
		d.Request.Cpu, d.Request.Ram, d.Request.Gpu,
		d.Priority, StatusPending, now,
	).Scan(&d.ID)
	if err != nil {
		return errors.WithStack(err)
	}
	d.Status = StatusPending
	d.CreatedAt = now
	d.UpdatedAt = now
	d.AttemptCount = 0
	return nil
}

func (t *postgresTx) GetClusterForUpdate(ctx context.Context, id int64) (*Cluster, error) {
	return getCluster(ctx, t.tx, id, " FOR UPDATE")
}

func (t *postgresTx) GetDeploymentForUpdate(ctx context.Context, id int64) (*Deployment, error) {
	return getDeployment(ctx, t.tx, id, " FOR UPDATE")
}

func (t *postgresTx) RunningDeployments(ctx context.Context, clusterID int64) ([]*Deployment, error) {
	return queryDeployments(ctx, t.tx,
		"SELECT "+deploymentColumns+" FROM deployment WHERE cluster_id = $1 AND status = $2 ORDER BY created_at ASC, id ASC",
		clusterID, StatusRunning)
}

func (t *postgresTx) PendingDeploymentByName(ctx context.Context, clusterID int64, name string) (*Deployment, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT "+deploymentColumns+" FROM deployment WHERE cluster_id = $1 AND name = $2 AND status = $3 LIMIT 1",
		clusterID, name, StatusPending)
	d, err := scanDeployment(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return d, nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, d *Deployment, to Status, reason string) error {
	if !d.Status.CanTransitionTo(to) {
		return &ErrInvalidTransition{DeploymentID: d.ID, From: d.Status, To: to}
	}
	if to == StatusRunning {
		if err := t.checkCapacity(ctx, d); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	_, err := t.tx.Exec(ctx,
		"UPDATE deployment SET status = $1, reason = $2, updated_at = $3 WHERE id = $4",
		to, reason, now, d.ID)
	if err != nil {
		return errors.WithStack(err)
	}
	d.Status = to
	d.Reason = reason
	d.UpdatedAt = now
	return nil
}

// checkCapacity re-verifies the cluster invariant inside the transaction:
// the running set plus d must fit within the cluster capacity.
func (t *postgresTx) checkCapacity(ctx context.Context, d *Deployment) error {
	cluster, err := getCluster(ctx, t.tx, d.ClusterID, "")
	if err != nil {
		return err
	}
	used := resource.ResourceList{}
	err = t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(cpu), 0), COALESCE(SUM(ram), 0), COALESCE(SUM(gpu), 0)
		 FROM deployment WHERE cluster_id = $1 AND status = $2 AND id <> $3`,
		d.ClusterID, StatusRunning, d.ID,
	).Scan(&used.Cpu, &used.Ram, &used.Gpu)
	if err != nil {
		return errors.WithStack(err)
	}
	if !used.Add(d.Request).FitsIn(cluster.Capacity) {
		return &ErrCapacityExceeded{ClusterID: cluster.ID, DeploymentID: d.ID}
	}
	return nil
}

func (t *postgresTx) IncrementAttempts(ctx context.Context, d *Deployment) error {
	err := t.tx.QueryRow(ctx,
		"UPDATE deployment SET attempt_count = attempt_count + 1 WHERE id = $1 RETURNING attempt_count",
		d.ID).Scan(&d.AttemptCount)
	return errors.WithStack(err)
}

func (t *postgresTx) MarkClusterDeleted(ctx context.Context, c *Cluster) error {
	now := time.Now().UTC()
	_, err := t.tx.Exec(ctx,
		"UPDATE cluster SET deleted = TRUE, updated_at = $1 WHERE id = $2",
		now, c.ID)
	if err != nil {
		return errors.WithStack(err)
	}
	c.Deleted = true
	c.UpdatedAt = now
	return nil
}

// Package testfixtures provides an in-memory repository.Store with the same
// transactional semantics as the postgres implementation: mutations roll
// back when the transaction function returns an error, transitions are
// validated against the lifecycle table and transitions into running
// re-check the cluster capacity invariant.
package testfixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/namanarora00/scheduler/internal/common/resource"
	"github.com/namanarora00/scheduler/internal/repository"
)

type InMemoryStore struct {
	mu               sync.Mutex
	clusters         map[int64]*repository.Cluster
	deployments      map[int64]*repository.Deployment
	nextClusterID    int64
	nextDeploymentID int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		clusters:    map[int64]*repository.Cluster{},
		deployments: map[int64]*repository.Deployment{},
	}
}

// AddCluster seeds a cluster, assigning an id if unset.
func (s *InMemoryStore) AddCluster(c *repository.Cluster) *repository.Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextClusterID++
		c.ID = s.nextClusterID
	} else if c.ID > s.nextClusterID {
		s.nextClusterID = c.ID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
	}
	stored := *c
	s.clusters[c.ID] = &stored
	return c
}

// AddDeployment seeds a deployment, assigning an id if unset.
func (s *InMemoryStore) AddDeployment(d *repository.Deployment) *repository.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		s.nextDeploymentID++
		d.ID = s.nextDeploymentID
	} else if d.ID > s.nextDeploymentID {
		s.nextDeploymentID = d.ID
	}
	if d.Status == "" {
		d.Status = repository.StatusPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
		d.UpdatedAt = d.CreatedAt
	}
	stored := *d
	s.deployments[d.ID] = &stored
	return d
}

func (s *InMemoryStore) WithTx(ctx context.Context, f func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshotClusters := make(map[int64]*repository.Cluster, len(s.clusters))
	for id, c := range s.clusters {
		copied := *c
		snapshotClusters[id] = &copied
	}
	snapshotDeployments := make(map[int64]*repository.Deployment, len(s.deployments))
	for id, d := range s.deployments {
		copied := *d
		snapshotDeployments[id] = &copied
	}

	err := f(&memTx{store: s})
	if err != nil {
		s.clusters = snapshotClusters
		s.deployments = snapshotDeployments
	}
	return err
}

func (s *InMemoryStore) GetDeployment(ctx context.Context, id int64) (*repository.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDeployment(id)
}

func (s *InMemoryStore) getDeployment(id int64) (*repository.Deployment, error) {
	d, ok := s.deployments[id]
	if !ok {
		return nil, &repository.ErrNotFound{Type: "deployment", Value: fmt.Sprint(id)}
	}
	copied := *d
	return &copied, nil
}

func (s *InMemoryStore) GetCluster(ctx context.Context, id int64) (*repository.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCluster(id)
}

func (s *InMemoryStore) getCluster(id int64) (*repository.Cluster, error) {
	c, ok := s.clusters[id]
	if !ok {
		return nil, &repository.ErrNotFound{Type: "cluster", Value: fmt.Sprint(id)}
	}
	copied := *c
	return &copied, nil
}

func (s *InMemoryStore) ListClusters(ctx context.Context, organisationID int64, includeDeleted bool) ([]*repository.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var clusters []*repository.Cluster
	for _, c := range s.clusters {
		if c.OrganisationID != organisationID {
			continue
		}
		if c.Deleted && !includeDeleted {
			continue
		}
		copied := *c
		clusters = append(clusters, &copied)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if !clusters[i].CreatedAt.Equal(clusters[j].CreatedAt) {
			return clusters[i].CreatedAt.After(clusters[j].CreatedAt)
		}
		return clusters[i].ID > clusters[j].ID
	})
	return clusters, nil
}

func (s *InMemoryStore) ListDeployments(ctx context.Context, filter repository.DeploymentFilter) ([]*repository.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deployments []*repository.Deployment
	for _, d := range s.deployments {
		cluster, ok := s.clusters[d.ClusterID]
		if !ok || cluster.OrganisationID != filter.OrganisationID {
			continue
		}
		if filter.ClusterID != 0 && d.ClusterID != filter.ClusterID {
			continue
		}
		if d.Status == repository.StatusDeleted && !filter.IncludeDeleted {
			continue
		}
		copied := *d
		deployments = append(deployments, &copied)
	}
	sort.Slice(deployments, func(i, j int) bool {
		if deployments[i].Priority != deployments[j].Priority {
			return deployments[i].Priority > deployments[j].Priority
		}
		if !deployments[i].CreatedAt.Equal(deployments[j].CreatedAt) {
			return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
		}
		return deployments[i].ID > deployments[j].ID
	})
	return deployments, nil
}

func (s *InMemoryStore) DeploymentsByStatus(ctx context.Context, statuses ...repository.Status) ([]*repository.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deployments []*repository.Deployment
	for _, d := range s.deployments {
		for _, st := range statuses {
			if d.Status == st {
				copied := *d
				deployments = append(deployments, &copied)
				break
			}
		}
	}
	sort.Slice(deployments, func(i, j int) bool {
		if !deployments[i].CreatedAt.Equal(deployments[j].CreatedAt) {
			return deployments[i].CreatedAt.Before(deployments[j].CreatedAt)
		}
		return deployments[i].ID < deployments[j].ID
	})
	return deployments, nil
}

type memTx struct {
	store *InMemoryStore
}

func (t *memTx) CreateCluster(ctx context.Context, c *repository.Cluster) error {
	s := t.store
	s.nextClusterID++
	c.ID = s.nextClusterID
	now := time.Now().UTC()
	c.Deleted = false
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := *c
	s.clusters[c.ID] = &stored
	return nil
}

func (t *memTx) CreateDeployment(ctx context.Context, d *repository.Deployment) error {
	s := t.store
	s.nextDeploymentID++
	d.ID = s.nextDeploymentID
	now := time.Now().UTC()
	d.Status = repository.StatusPending
	d.CreatedAt = now
	d.UpdatedAt = now
	d.AttemptCount = 0
	stored := *d
	s.deployments[d.ID] = &stored
	return nil
}

func (t *memTx) GetClusterForUpdate(ctx context.Context, id int64) (*repository.Cluster, error) {
	return t.store.getCluster(id)
}

func (t *memTx) GetDeploymentForUpdate(ctx context.Context, id int64) (*repository.Deployment, error) {
	return t.store.getDeployment(id)
}

func (t *memTx) RunningDeployments(ctx context.Context, clusterID int64) ([]*repository.Deployment, error) {
	var running []*repository.Deployment
	for _, d := range t.store.deployments {
		if d.ClusterID == clusterID && d.Status == repository.StatusRunning {
			copied := *d
			running = append(running, &copied)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		if !running[i].CreatedAt.Equal(running[j].CreatedAt) {
			return running[i].CreatedAt.Before(running[j].CreatedAt)
		}
		return running[i].ID < running[j].ID
	})
	return running, nil
}

func (t *memTx) PendingDeploymentByName(ctx context.Context, clusterID int64, name string) (*repository.Deployment, error) {
	for _, d := range t.store.deployments {
		if d.ClusterID == clusterID && d.Name == name && d.Status == repository.StatusPending {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, d *repository.Deployment, to repository.Status, reason string) error {
	if !d.Status.CanTransitionTo(to) {
		return &repository.ErrInvalidTransition{DeploymentID: d.ID, From: d.Status, To: to}
	}
	if to == repository.StatusRunning {
		cluster, err := t.store.getCluster(d.ClusterID)
		if err != nil {
			return err
		}
		used := resource.ResourceList{}
		for _, other := range t.store.deployments {
			if other.ClusterID == d.ClusterID && other.Status == repository.StatusRunning && other.ID != d.ID {
				used = used.Add(other.Request)
			}
		}
		if !used.Add(d.Request).FitsIn(cluster.Capacity) {
			return &repository.ErrCapacityExceeded{ClusterID: cluster.ID, DeploymentID: d.ID}
		}
	}
	d.Status = to
	d.Reason = reason
	d.UpdatedAt = time.Now().UTC()
	stored := *d
	t.store.deployments[d.ID] = &stored
	return nil
}

func (t *memTx) IncrementAttempts(ctx context.Context, d *repository.Deployment) error {
	rec, ok := t.store.deployments[d.ID]
	if !ok {
		return &repository.ErrNotFound{Type: "deployment", Value: fmt.Sprint(d.ID)}
	}
	rec.AttemptCount++
	d.AttemptCount = rec.AttemptCount
	return nil
}

func (t *memTx) MarkClusterDeleted(ctx context.Context, c *repository.Cluster) error {
	rec, ok := t.store.clusters[c.ID]
	if !ok {
		return &repository.ErrNotFound{Type: "cluster", Value: fmt.Sprint(c.ID)}
	}
	rec.Deleted = true
	rec.UpdatedAt = time.Now().UTC()
	c.Deleted = true
	c.UpdatedAt = rec.UpdatedAt
	return nil
}

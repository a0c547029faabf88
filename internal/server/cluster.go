package server

import (
	"context"
	"fmt"

	"github.com/namanarora00/scheduler/internal/common/resource"
	"github.com/namanarora00/scheduler/internal/repository"
)

type CreateClusterRequest struct {
	Name     string
	Capacity resource.ResourceList
}

// CreateCluster registers a new cluster for the actor's organisation.
// Admin only; names are unique among the organisation's active clusters.
func (s *Server) CreateCluster(ctx context.Context, actor Actor, req CreateClusterRequest) (*repository.Cluster, error) {
	if err := checkAdmin(actor, "create a cluster"); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, &repository.ErrValidation{Message: "cluster name must not be empty"}
	}
	if !req.Capacity.IsValid() {
		return nil, &repository.ErrValidation{Message: "cluster capacity must be non-negative"}
	}

	existing, err := s.store.ListClusters(ctx, actor.OrganisationID, false)
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if c.Name == req.Name {
			return nil, &repository.ErrValidation{
				Message: fmt.Sprintf("a cluster named %q already exists in this organisation", req.Name),
			}
		}
	}

	cluster := &repository.Cluster{
		OrganisationID: actor.OrganisationID,
		Name:           req.Name,
		Capacity:       req.Capacity,
	}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.CreateCluster(ctx, cluster)
	})
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

// DeleteCluster soft-deletes a cluster. Admin only. Pending and preempted
// deployments on it fail at their next worker cycle; running deployments
// keep their status. The cluster stays queryable with the include-deleted
// filter.
func (s *Server) DeleteCluster(ctx context.Context, actor Actor, clusterID int64) error {
	if err := checkAdmin(actor, "delete a cluster"); err != nil {
		return err
	}
	cluster, err := s.store.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if err := checkClusterAccess(actor, cluster, "delete a cluster"); err != nil {
		return err
	}
	if cluster.Deleted {
		return &repository.ErrValidation{Message: fmt.Sprintf("cluster %d is already deleted", clusterID)}
	}

	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		c, err := tx.GetClusterForUpdate(ctx, clusterID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return &repository.ErrValidation{Message: fmt.Sprintf("cluster %d is already deleted", clusterID)}
		}
		return tx.MarkClusterDeleted(ctx, c)
	})
}

// ListClusters returns the organisation's clusters, newest first.
func (s *Server) ListClusters(ctx context.Context, actor Actor, includeDeleted bool) ([]*repository.Cluster, error) {
	return s.store.ListClusters(ctx, actor.OrganisationID, includeDeleted)
}

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/namanarora00/scheduler/internal/common/resource"
	"github.com/namanarora00/scheduler/internal/repository"
)

// Server is the admission surface the HTTP shell binds to: plain functions
// over a validated actor. It creates and cancels deployments and answers
// read queries; every scheduling decision happens asynchronously in the
// workers.
type Server struct {
	store repository.Store
	queue repository.QueueService
}

func NewServer(store repository.Store, queue repository.QueueService) *Server {
	return &Server{store: store, queue: queue}
}

type SubmitRequest struct {
	ClusterID int64
	Name      string
	Request   resource.ResourceList
	Priority  int32
}

// SubmitDeployment validates the request against static constraints, creates
// the deployment as pending and enqueues it for the workers. The returned
// deployment carries the assigned id.
func (s *Server) SubmitDeployment(ctx context.Context, actor Actor, req SubmitRequest) (*repository.Deployment, error) {
	if req.Name == "" {
		return nil, &repository.ErrValidation{Message: "deployment name must not be empty"}
	}
	if !req.Request.IsValid() {
		return nil, &repository.ErrValidation{Message: "resource requests must be non-negative"}
	}
	if req.Priority < repository.MinPriority || req.Priority > repository.MaxPriority {
		return nil, &repository.ErrValidation{
			Message: fmt.Sprintf("priority must be between %d and %d", repository.MinPriority, repository.MaxPriority),
		}
	}

	cluster, err := s.store.GetCluster(ctx, req.ClusterID)
	var notFound *repository.ErrNotFound
	if errors.As(err, &notFound) {
		return nil, &repository.ErrValidation{Message: fmt.Sprintf("cluster %d does not exist", req.ClusterID)}
	}
	if err != nil {
		return nil, err
	}
	if err := checkClusterAccess(actor, cluster, "submit a deployment"); err != nil {
		return nil, err
	}
	if cluster.Deleted {
		return nil, &repository.ErrValidation{Message: fmt.Sprintf("cluster %d is deleted", cluster.ID)}
	}
	if !req.Request.FitsIn(cluster.Capacity) {
		return nil, &repository.ErrValidation{
			Message: fmt.Sprintf("requested resources (%s) exceed cluster capacity (%s)", req.Request, cluster.Capacity),
		}
	}

	d := &repository.Deployment{
		ClusterID: cluster.ID,
		OwnerID:   actor.UserID,
		Name:      req.Name,
		Request:   req.Request,
		Priority:  req.Priority,
	}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		existing, err := tx.PendingDeploymentByName(ctx, cluster.ID, req.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return &repository.ErrValidation{
				Message: fmt.Sprintf("a pending deployment named %q already exists on cluster %d", req.Name, cluster.ID),
			}
		}
		return tx.CreateDeployment(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	job := repository.Job{DeploymentID: d.ID, Attempt: 0, EnqueuedAt: time.Now().UTC()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The deployment is committed as pending; the sweeper will enqueue it.
		log.WithError(err).WithField("deploymentId", d.ID).Warn("Error enqueueing deployment; the sweeper will recover it")
	}
	return d, nil
}

// CancelDeployment soft-deletes a deployment from any non-terminal state.
// Workers discover the cancellation through their status precheck, so no
// queue surgery is needed.
func (s *Server) CancelDeployment(ctx context.Context, actor Actor, id int64) error {
	d, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	cluster, err := s.store.GetCluster(ctx, d.ClusterID)
	if err != nil {
		return err
	}
	if err := checkDeploymentAccess(actor, cluster, d, "cancel a deployment"); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		d, err := tx.GetDeploymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, d, repository.StatusDeleted, fmt.Sprintf("cancelled by user %d", actor.UserID))
	})
}

// GetDeployment returns one deployment, enforcing organisation scoping.
func (s *Server) GetDeployment(ctx context.Context, actor Actor, id int64) (*repository.Deployment, error) {
	d, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	cluster, err := s.store.GetCluster(ctx, d.ClusterID)
	if err != nil {
		return nil, err
	}
	if cluster.OrganisationID != actor.OrganisationID {
		// Resources in other organisations don't exist as far as callers can tell.
		return nil, &repository.ErrNotFound{Type: "deployment", Value: fmt.Sprint(id)}
	}
	return d, nil
}

// ListDeployments returns the organisation's deployments, optionally
// narrowed to one cluster, highest priority and newest first.
func (s *Server) ListDeployments(ctx context.Context, actor Actor, clusterID int64, includeDeleted bool) ([]*repository.Deployment, error) {
	if clusterID != 0 {
		cluster, err := s.store.GetCluster(ctx, clusterID)
		if err != nil {
			return nil, err
		}
		if err := checkClusterAccess(actor, cluster, "list deployments"); err != nil {
			return nil, err
		}
	}
	return s.store.ListDeployments(ctx, repository.DeploymentFilter{
		OrganisationID: actor.OrganisationID,
		ClusterID:      clusterID,
		IncludeDeleted: includeDeleted,
	})
}

// ClusterState is the operational view of one cluster: its capacity, the
// free vector and the deployments currently running or waiting.
type ClusterState struct {
	Cluster *repository.Cluster
	Used    resource.ResourceList
	Free    resource.ResourceList
	Running []*repository.Deployment
	Pending []*repository.Deployment
}

// ListClusterState returns capacity, free resources and the running and
// pending deployments of a cluster. Reads committed state only; it does not
// take the cluster lock.
func (s *Server) ListClusterState(ctx context.Context, actor Actor, clusterID int64) (*ClusterState, error) {
	cluster, err := s.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if err := checkClusterAccess(actor, cluster, "inspect cluster state"); err != nil {
		return nil, err
	}

	deployments, err := s.store.ListDeployments(ctx, repository.DeploymentFilter{
		OrganisationID: actor.OrganisationID,
		ClusterID:      clusterID,
	})
	if err != nil {
		return nil, err
	}

	state := &ClusterState{Cluster: cluster}
	used := resource.ResourceList{}
	for _, d := range deployments {
		switch d.Status {
		case repository.StatusRunning:
			state.Running = append(state.Running, d)
			used = used.Add(d.Request)
		case repository.StatusPending, repository.StatusPreempted:
			state.Pending = append(state.Pending, d)
		}
	}
	state.Used = used
	state.Free = cluster.Capacity.Sub(used)
	return state, nil
}

// QueueStatus exposes the queue counters backing the operational surface.
func (s *Server) QueueStatus(ctx context.Context) (repository.QueueStatus, error) {
	return s.queue.Status(ctx)
}

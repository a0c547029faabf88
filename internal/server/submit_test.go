package server

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namanarora00/scheduler/internal/common/resource"
	"github.com/namanarora00/scheduler/internal/repository"
	"github.com/namanarora00/scheduler/internal/scheduler/testfixtures"
)

var (
	admin = Actor{UserID: 1, OrganisationID: 1, Role: repository.RoleAdmin}
	dev   = Actor{UserID: 2, OrganisationID: 1, Role: repository.RoleDeveloper}
	// A developer from a different organisation.
	outsider = Actor{UserID: 3, OrganisationID: 2, Role: repository.RoleDeveloper}
)

func withServer(t *testing.T, action func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService)) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := testfixtures.NewInMemoryStore()
	queue := repository.NewRedisQueueService(client)
	action(NewServer(store, queue), store, queue)
}

func addCluster(store *testfixtures.InMemoryStore, orgID int64, name string, cpu, ram, gpu int64) *repository.Cluster {
	return store.AddCluster(&repository.Cluster{
		OrganisationID: orgID,
		Name:           name,
		Capacity:       resource.ResourceList{Cpu: cpu, Ram: ram, Gpu: gpu},
	})
}

func TestSubmitDeployment(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)

		d, err := s.SubmitDeployment(ctx, dev, SubmitRequest{
			ClusterID: cluster.ID,
			Name:      "web",
			Request:   resource.ResourceList{Cpu: 4, Ram: 8, Gpu: 1},
			Priority:  3,
		})
		require.NoError(t, err)
		assert.NotZero(t, d.ID)
		assert.Equal(t, repository.StatusPending, d.Status)
		assert.Equal(t, dev.UserID, d.OwnerID)

		// Enqueued for the workers.
		queued, err := queue.Contains(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, queued)
	})
}

func TestSubmitDeploymentValidation(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)

		cases := []struct {
			name string
			req  SubmitRequest
		}{
			{"empty name", SubmitRequest{ClusterID: cluster.ID, Request: resource.ResourceList{Cpu: 1, Ram: 1}, Priority: 3}},
			{"negative resources", SubmitRequest{ClusterID: cluster.ID, Name: "x", Request: resource.ResourceList{Cpu: -1, Ram: 1}, Priority: 3}},
			{"priority too low", SubmitRequest{ClusterID: cluster.ID, Name: "x", Request: resource.ResourceList{Cpu: 1, Ram: 1}, Priority: 0}},
			{"priority too high", SubmitRequest{ClusterID: cluster.ID, Name: "x", Request: resource.ResourceList{Cpu: 1, Ram: 1}, Priority: 6}},
			{"cpu exceeds capacity", SubmitRequest{ClusterID: cluster.ID, Name: "x", Request: resource.ResourceList{Cpu: 17, Ram: 1}, Priority: 3}},
			{"gpu exceeds capacity", SubmitRequest{ClusterID: cluster.ID, Name: "x", Request: resource.ResourceList{Cpu: 1, Ram: 1, Gpu: 5}, Priority: 3}},
			{"unknown cluster", SubmitRequest{ClusterID: 999, Name: "x", Request: resource.ResourceList{Cpu: 1, Ram: 1}, Priority: 3}},
		}
		for _, tc := range cases {
			_, err := s.SubmitDeployment(ctx, dev, tc.req)
			var validation *repository.ErrValidation
			assert.ErrorAs(t, err, &validation, tc.name)
		}

		// Nothing was created or enqueued.
		deployments, err := s.ListDeployments(ctx, dev, 0, true)
		require.NoError(t, err)
		assert.Empty(t, deployments)
	})
}

func TestSubmitDeploymentToDeletedClusterRejected(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := store.AddCluster(&repository.Cluster{
			OrganisationID: 1,
			Name:           "gone",
			Capacity:       resource.ResourceList{Cpu: 8, Ram: 8, Gpu: 0},
			Deleted:        true,
		})

		_, err := s.SubmitDeployment(ctx, dev, SubmitRequest{
			ClusterID: cluster.ID,
			Name:      "x",
			Request:   resource.ResourceList{Cpu: 1, Ram: 1},
			Priority:  3,
		})
		var validation *repository.ErrValidation
		assert.ErrorAs(t, err, &validation)
	})
}

func TestSubmitDeploymentCrossOrganisationDenied(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)

		_, err := s.SubmitDeployment(ctx, outsider, SubmitRequest{
			ClusterID: cluster.ID,
			Name:      "sneaky",
			Request:   resource.ResourceList{Cpu: 1, Ram: 1},
			Priority:  3,
		})
		var denied *repository.ErrNoPermission
		require.ErrorAs(t, err, &denied)

		// No row created, nothing enqueued.
		deployments, err := s.ListDeployments(ctx, admin, 0, true)
		require.NoError(t, err)
		assert.Empty(t, deployments)
		status, err := queue.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.Queued)
	})
}

func TestSubmitDeploymentDuplicatePendingNameRejected(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)

		req := SubmitRequest{
			ClusterID: cluster.ID,
			Name:      "web",
			Request:   resource.ResourceList{Cpu: 1, Ram: 1},
			Priority:  3,
		}
		_, err := s.SubmitDeployment(ctx, dev, req)
		require.NoError(t, err)

		_, err = s.SubmitDeployment(ctx, dev, req)
		var validation *repository.ErrValidation
		assert.ErrorAs(t, err, &validation)
	})
}

func TestCancelDeployment(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)

		d, err := s.SubmitDeployment(ctx, dev, SubmitRequest{
			ClusterID: cluster.ID,
			Name:      "web",
			Request:   resource.ResourceList{Cpu: 1, Ram: 1},
			Priority:  3,
		})
		require.NoError(t, err)

		require.NoError(t, s.CancelDeployment(ctx, dev, d.ID))
		got, err := s.GetDeployment(ctx, dev, d.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusDeleted, got.Status)

		// Cancelling twice conflicts: deleted is terminal.
		err = s.CancelDeployment(ctx, dev, d.ID)
		var conflict *repository.ErrInvalidTransition
		assert.ErrorAs(t, err, &conflict)
	})
}

func TestCancelDeploymentOwnership(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)

		d, err := s.SubmitDeployment(ctx, dev, SubmitRequest{
			ClusterID: cluster.ID,
			Name:      "web",
			Request:   resource.ResourceList{Cpu: 1, Ram: 1},
			Priority:  3,
		})
		require.NoError(t, err)

		// Another developer of the same organisation may not cancel it.
		otherDev := Actor{UserID: 9, OrganisationID: 1, Role: repository.RoleDeveloper}
		err = s.CancelDeployment(ctx, otherDev, d.ID)
		var denied *repository.ErrNoPermission
		require.ErrorAs(t, err, &denied)

		// A developer from another organisation may not either.
		err = s.CancelDeployment(ctx, outsider, d.ID)
		require.ErrorAs(t, err, &denied)

		// An admin of the owning organisation may.
		require.NoError(t, s.CancelDeployment(ctx, admin, d.ID))
	})
}

func TestListClusterState(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)
		store.AddDeployment(&repository.Deployment{
			ClusterID: cluster.ID,
			OwnerID:   dev.UserID,
			Name:      "running",
			Request:   resource.ResourceList{Cpu: 4, Ram: 8, Gpu: 1},
			Priority:  3,
			Status:    repository.StatusRunning,
		})
		store.AddDeployment(&repository.Deployment{
			ClusterID: cluster.ID,
			OwnerID:   dev.UserID,
			Name:      "waiting",
			Request:   resource.ResourceList{Cpu: 16, Ram: 8, Gpu: 0},
			Priority:  3,
			Status:    repository.StatusPending,
		})

		state, err := s.ListClusterState(ctx, dev, cluster.ID)
		require.NoError(t, err)
		assert.Equal(t, resource.ResourceList{Cpu: 4, Ram: 8, Gpu: 1}, state.Used)
		assert.Equal(t, resource.ResourceList{Cpu: 12, Ram: 24, Gpu: 3}, state.Free)
		require.Len(t, state.Running, 1)
		require.Len(t, state.Pending, 1)
		assert.Equal(t, "running", state.Running[0].Name)
		assert.Equal(t, "waiting", state.Pending[0].Name)

		// Cross-organisation access is denied.
		_, err = s.ListClusterState(ctx, outsider, cluster.ID)
		var denied *repository.ErrNoPermission
		assert.ErrorAs(t, err, &denied)
	})
}

func TestGetDeploymentHidesOtherOrganisations(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)
		d := store.AddDeployment(&repository.Deployment{
			ClusterID: cluster.ID,
			OwnerID:   dev.UserID,
			Name:      "web",
			Request:   resource.ResourceList{Cpu: 1, Ram: 1},
			Priority:  3,
		})

		_, err := s.GetDeployment(ctx, dev, d.ID)
		require.NoError(t, err)

		_, err = s.GetDeployment(ctx, outsider, d.ID)
		var notFound *repository.ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestListDeploymentsIncludeDeleted(t *testing.T) {
	withServer(t, func(s *Server, store *testfixtures.InMemoryStore, queue *repository.RedisQueueService) {
		ctx := context.Background()
		cluster := addCluster(store, 1, "a", 16, 32, 4)
		live := store.AddDeployment(&repository.Deployment{
			ClusterID: cluster.ID, OwnerID: dev.UserID, Name: "live",
			Request: resource.ResourceList{Cpu: 1, Ram: 1}, Priority: 3,
		})
		store.AddDeployment(&repository.Deployment{
			ClusterID: cluster.ID, OwnerID: dev.UserID, Name: "dead",
			Request: resource.ResourceList{Cpu: 1, Ram: 1}, Priority: 3,
			Status: repository.StatusDeleted,
		})

		visible, err := s.ListDeployments(ctx, dev, cluster.ID, false)
		require.NoError(t, err)
		require.Len(t, visible, 1)
		assert.Equal(t, live.ID, visible[0].ID)

		all, err := s.ListDeployments(ctx, dev, cluster.ID, true)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

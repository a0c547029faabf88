package scheduler

import (
	"github.com/namanarora00/scheduler/internal/common/resource"
	"github.com/namanarora00/scheduler/internal/repository"
)

// Used sums the request vectors of the given deployments.
func Used(deployments []*repository.Deployment) resource.ResourceList {
	return resource.Sum(repository.RequestsOf(deployments))
}

// Free returns capacity minus the sum of the running set's requests.
func Free(capacity resource.ResourceList, running []*repository.Deployment) resource.ResourceList {
	return capacity.Sub(Used(running))
}

// Fits reports whether d's request fits within the free vector.
func Fits(d *repository.Deployment, free resource.ResourceList) bool {
	return d.Request.FitsIn(free)
}

package scheduler

import (
	"golang.org/x/exp/slices"

	"github.com/namanarora00/scheduler/internal/common/resource"
	"github.com/namanarora00/scheduler/internal/repository"
)

type DecisionKind int

const (
	// DecisionAdmit: the deployment fits without evicting anything.
	DecisionAdmit DecisionKind = iota
	// DecisionPreempt: the deployment fits after evicting Preempt.
	DecisionPreempt
	// DecisionDefer: the deployment cannot run now; retry later.
	DecisionDefer
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAdmit:
		return "admit"
	case DecisionPreempt:
		return "preempt"
	case DecisionDefer:
		return "defer"
	}
	return "unknown"
}

// Decision is the planner's verdict for one pending deployment.
type Decision struct {
	Kind DecisionKind
	// Preempt is the set of running deployments to evict; only set for
	// DecisionPreempt and never contains the deployment being planned.
	Preempt []*repository.Deployment
}

// Plan decides whether d can run on a cluster with the given capacity and
// running set. It is a pure function of its inputs: equal inputs always
// produce equal outputs.
//
// Eviction candidates are the running deployments of strictly lower
// priority, ordered by (priority asc, created_at asc, id asc). Candidates
// are accumulated greedily in that order until d fits; the order makes both
// the decision and the returned eviction set deterministic. Deployments of
// equal or higher priority are never evicted.
func Plan(d *repository.Deployment, running []*repository.Deployment, capacity resource.ResourceList) Decision {
	free := Free(capacity, running)
	if Fits(d, free) {
		return Decision{Kind: DecisionAdmit}
	}

	var candidates []*repository.Deployment
	for _, r := range running {
		if r.Priority < d.Priority {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Decision{Kind: DecisionDefer}
	}

	slices.SortFunc(candidates, func(a, b *repository.Deployment) bool {
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	var preempt []*repository.Deployment
	for _, candidate := range candidates {
		preempt = append(preempt, candidate)
		free = free.Add(candidate.Request)
		if Fits(d, free) {
			return Decision{Kind: DecisionPreempt, Preempt: preempt}
		}
	}
	return Decision{Kind: DecisionDefer}
}

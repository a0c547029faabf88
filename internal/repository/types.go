package repository

import (
	"time"

	"github.com/namanarora00/scheduler/internal/common/resource"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "dev"
	RoleViewer    Role = "viewer"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPreempted Status = "preempted"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

const (
	MinPriority int32 = 1
	MaxPriority int32 = 5
)

// legalTransitions is the authoritative transition table for a deployment's
// status field. Anything not listed here is rejected.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed, StatusDeleted},
	StatusRunning:   {StatusPreempted, StatusFailed, StatusCompleted, StatusDeleted},
	StatusPreempted: {StatusRunning, StatusFailed, StatusDeleted},
	StatusFailed:    {},
	StatusCompleted: {},
	StatusDeleted:   {},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, t := range legalTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(legalTransitions[s]) == 0 && s.IsValid()
}

func (s Status) IsValid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// Schedulable reports whether a deployment in this status is still waiting
// for a scheduling decision.
func (s Status) Schedulable() bool {
	return s == StatusPending || s == StatusPreempted
}

type Organisation struct {
	ID   int64
	Name string
}

type User struct {
	ID             int64
	Email          string
	Role           Role
	OrganisationID int64
}

type Cluster struct {
	ID             int64
	OrganisationID int64
	Name           string
	Capacity       resource.ResourceList
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Deployment struct {
	ID           int64
	ClusterID    int64
	OwnerID      int64
	Name         string
	Request      resource.ResourceList
	Priority     int32
	Status       Status
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AttemptCount int32
}

// RequestsOf collects the request vectors of a set of deployments.
func RequestsOf(deployments []*Deployment) []resource.ResourceList {
	requests := make([]resource.ResourceList, len(deployments))
	for i, d := range deployments {
		requests[i] = d.Request
	}
	return requests
}

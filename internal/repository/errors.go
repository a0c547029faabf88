// Typed errors returned by the store, queue and lock services. Callers
// recover the concrete type with errors.As and map it onto their own
// surface (HTTP status codes for the admission shell, ack/nack decisions
// for the worker).
package repository

import "fmt"

// ErrValidation indicates a request that violates a static constraint.
// It is surfaced synchronously at admission and never enqueued.
type ErrValidation struct {
	Message string
}

func (err *ErrValidation) Error() string {
	return err.Message
}

// ErrNoPermission indicates that the acting user lacks the role or
// ownership required for the attempted action.
type ErrNoPermission struct {
	// Principal that attempted the action
	Principal string
	// The attempted action
	Action string
	// Optional message included with the error message
	Message string
}

func (err *ErrNoPermission) Error() (s string) {
	s = fmt.Sprintf("%s is not permitted to %s", err.Principal, err.Action)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrNotFound is returned whenever some resource doesn't exist.
// Type is the resource type, e.g., "cluster" or "deployment".
type ErrNotFound struct {
	Type  string
	Value string
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
}

// ErrInvalidTransition is returned when a status write would take a
// deployment outside the legal transition table. The worker treats it as
// "already handled"; the admission surface maps it to a conflict.
type ErrInvalidTransition struct {
	DeploymentID int64
	From         Status
	To           Status
}

func (err *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("deployment %d cannot transition from %s to %s", err.DeploymentID, err.From, err.To)
}

// ErrLockBusy is returned by Acquire when another worker holds the
// cluster lease. Non-fatal; the caller nacks and moves on.
type ErrLockBusy struct {
	ClusterID int64
}

func (err *ErrLockBusy) Error() string {
	return fmt.Sprintf("lock for cluster %d is held by another worker", err.ClusterID)
}

// ErrCapacityExceeded indicates a committed transition would have
// overcommitted a cluster. It should never occur while decisions are
// serialized by the per-cluster lock.
type ErrCapacityExceeded struct {
	ClusterID    int64
	DeploymentID int64
}

func (err *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("admitting deployment %d would exceed the capacity of cluster %d", err.DeploymentID, err.ClusterID)
}

package server

import (
	"fmt"

	"github.com/namanarora00/scheduler/internal/repository"
)

// Actor is a validated caller identity. Authentication happens in the
// surrounding shell; by the time a request reaches this package the user id,
// organisation and role are trusted.
type Actor struct {
	UserID         int64
	OrganisationID int64
	Role           repository.Role
}

func (a Actor) String() string {
	return fmt.Sprintf("user %d (%s, org %d)", a.UserID, a.Role, a.OrganisationID)
}

func (a Actor) IsAdmin() bool {
	return a.Role == repository.RoleAdmin
}

// checkClusterAccess denies any access to clusters outside the actor's
// organisation.
func checkClusterAccess(actor Actor, cluster *repository.Cluster, action string) error {
	if cluster.OrganisationID != actor.OrganisationID {
		return &repository.ErrNoPermission{
			Principal: actor.String(),
			Action:    action,
			Message:   "cluster belongs to a different organisation",
		}
	}
	return nil
}

// checkDeploymentAccess enforces the ownership rules: admins may operate on
// any deployment within their organisation, developers only on deployments
// they own. The cluster is the deployment's cluster, used for the
// organisation check.
func checkDeploymentAccess(actor Actor, cluster *repository.Cluster, d *repository.Deployment, action string) error {
	if err := checkClusterAccess(actor, cluster, action); err != nil {
		return err
	}
	if actor.IsAdmin() {
		return nil
	}
	if d.OwnerID != actor.UserID {
		return &repository.ErrNoPermission{
			Principal: actor.String(),
			Action:    action,
			Message:   "deployment is owned by another user",
		}
	}
	return nil
}

// checkAdmin gates cluster management operations.
func checkAdmin(actor Actor, action string) error {
	if !actor.IsAdmin() {
		return &repository.ErrNoPermission{
			Principal: actor.String(),
			Action:    action,
			Message:   "requires the admin role",
		}
	}
	return nil
}

package controller

import (
	"errors"
	"fmt"

	"github.com/octane-lb/octane/pkg/engine"
)

var (
	// ErrNoPool is returned by BatchUpdateMembers when none of the member
	// sets names a member to resolve the pool from.
	ErrNoPool = errors.New("no member to resolve the pool from")

	// ErrConvergenceTimeout marks a read that did not observe PENDING_UPDATE.
	// It never leaves the package: exhausted update waits proceed with the
	// last snapshot.
	ErrConvergenceTimeout = errors.New("entity is not PENDING_UPDATE")

	// ErrZoneRestricted is returned when a load balancer asks for an
	// availability zone its project may not use.
	ErrZoneRestricted = errors.New("availability zone is restricted for project")
)

// FailoverError is returned when a failover fails. Err is the failure
// itself; CompensationErr is set when marking the load balancer ERROR
// failed as well.
type FailoverError struct {
	LoadBalancerID  string
	AmphoraID       string
	Err             error
	CompensationErr error
}

// Error implements the error interface.
func (e *FailoverError) Error() string {
	target := "load balancer " + e.LoadBalancerID
	if e.AmphoraID != "" {
		target = "amphora " + e.AmphoraID
	}
	msg := fmt.Sprintf("failover of %s failed: %v", target, e.Err)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf(" (marking load balancer %s ERROR failed: %v)", e.LoadBalancerID, e.CompensationErr)
	}
	return msg
}

// Unwrap returns the failover error, never the compensation error.
func (e *FailoverError) Unwrap() error {
	return e.Err
}

// notFound wraps a repository miss so that both errors.Is(err,
// stores.ErrNotFound) and engine.IsNotFound(err) hold.
func notFound(kind, id string, err error) error {
	return engine.NewNotFoundError(fmt.Sprintf("%s %s not found", kind, id), err).
		WithResource(id)
}

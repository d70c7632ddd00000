// Package amphora defines how flows act on amphorae: allocating and releasing
// compute instances, and talking to the agent running inside each amphora.
package amphora

import (
	"context"
	"time"

	"github.com/octane-lb/octane/pkg/provider"
)

// ComputeRequest describes a compute instance to build for an amphora.
type ComputeRequest struct {
	// AmphoraID is the amphora the instance is built for.
	AmphoraID string

	// Priority orders concurrent build demand; higher is more urgent.
	Priority int

	// Flavor holds the flavor metadata of the owning load balancer.
	Flavor map[string]any

	// AvailabilityZone holds the availability zone metadata.
	AvailabilityZone map[string]any

	// ServerGroupID places the instance in an anti-affinity group when set.
	ServerGroupID string
}

// Compute allocates and releases amphora instances.
type Compute interface {
	// CreateCompute builds an instance and returns its compute ID.
	CreateCompute(ctx context.Context, req ComputeRequest) (string, error)

	// DeleteCompute releases an instance. Deleting an unknown instance is not an error.
	DeleteCompute(ctx context.Context, computeID string) error
}

// LoadBalancerConfig is the data-plane configuration pushed to an amphora.
type LoadBalancerConfig struct {
	LoadBalancer provider.LoadBalancer `yaml:"loadbalancer" json:"loadbalancer"`
	Listeners    []provider.Listener   `yaml:"listeners" json:"listeners"`
	Pools        []provider.Pool       `yaml:"pools,omitempty" json:"pools,omitempty"`
}

// Agent talks to the agent running inside an amphora.
type Agent interface {
	// ApplyConfig pushes the load balancer configuration and reloads the data plane.
	ApplyConfig(ctx context.Context, amp provider.Amphora, cfg LoadBalancerConfig) error

	// UpdateAgentConfig rewrites the agent configuration file.
	UpdateAgentConfig(ctx context.Context, amp provider.Amphora, flavor map[string]any) error

	// RotateCertificate installs a fresh server certificate and returns its expiry.
	RotateCertificate(ctx context.Context, amp provider.Amphora) (time.Time, error)
}

// Driver is the full set of amphora operations used by flows.
type Driver interface {
	Compute
	Agent
}

type combined struct {
	Compute
	Agent
}

// Combine builds a Driver from separate compute and agent implementations.
func Combine(c Compute, a Agent) Driver {
	return combined{Compute: c, Agent: a}
}

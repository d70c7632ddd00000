package amphora

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/octane-lb/octane/pkg/provider"
)

// DefaultCertValidity is the lifetime reported for certificates issued by NoopDriver.
const DefaultCertValidity = 365 * 24 * time.Hour

// NoopDriver allocates identifiers and logs every call without touching any
// real infrastructure.
type NoopDriver struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	compute map[string]ComputeRequest
}

// NewNoopDriver creates a driver that only logs.
func NewNoopDriver(logger zerolog.Logger) *NoopDriver {
	return &NoopDriver{
		logger:  logger.With().Str("driver", "noop").Logger(),
		now:     time.Now,
		compute: make(map[string]ComputeRequest),
	}
}

// CreateCompute implements Compute.
func (d *NoopDriver) CreateCompute(_ context.Context, req ComputeRequest) (string, error) {
	id := uuid.New().String()

	d.mu.Lock()
	d.compute[id] = req
	d.mu.Unlock()

	d.logger.Info().
		Str("amphora_id", req.AmphoraID).
		Str("compute_id", id).
		Int("priority", req.Priority).
		Str("server_group_id", req.ServerGroupID).
		Msg("created compute instance")
	return id, nil
}

// DeleteCompute implements Compute.
func (d *NoopDriver) DeleteCompute(_ context.Context, computeID string) error {
	d.mu.Lock()
	delete(d.compute, computeID)
	d.mu.Unlock()

	d.logger.Info().Str("compute_id", computeID).Msg("deleted compute instance")
	return nil
}

// Instances returns the number of live compute instances.
func (d *NoopDriver) Instances() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.compute)
}

// ApplyConfig implements Agent.
func (d *NoopDriver) ApplyConfig(_ context.Context, amp provider.Amphora, cfg LoadBalancerConfig) error {
	d.logger.Info().
		Str("amphora_id", amp.ID).
		Str("load_balancer_id", cfg.LoadBalancer.LoadBalancerID).
		Int("listeners", len(cfg.Listeners)).
		Msg("applied load balancer config")
	return nil
}

// UpdateAgentConfig implements Agent.
func (d *NoopDriver) UpdateAgentConfig(_ context.Context, amp provider.Amphora, flavor map[string]any) error {
	d.logger.Info().
		Str("amphora_id", amp.ID).
		Int("flavor_keys", len(flavor)).
		Msg("updated agent config")
	return nil
}

// RotateCertificate implements Agent.
func (d *NoopDriver) RotateCertificate(_ context.Context, amp provider.Amphora) (time.Time, error) {
	expiry := d.now().Add(DefaultCertValidity).UTC()
	d.logger.Info().Str("amphora_id", amp.ID).Time("expires", expiry).Msg("rotated certificate")
	return expiry, nil
}

// Package housekeeping runs the controller's periodic maintenance loops.
package housekeeping

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/octane-lb/octane/pkg/controller"
	"github.com/octane-lb/octane/pkg/telemetry"
)

// SpareCounter counts READY amphorae not attached to a load balancer.
// A nil zone counts every zone.
type SpareCounter interface {
	CountSpareAmphorae(ctx context.Context, availabilityZone *string) (int, error)
}

// SpareBuilder builds one spare amphora. It returns an empty ID when the
// build failed.
type SpareBuilder interface {
	CreateAmphora(ctx context.Context, p controller.CreateAmphoraParams) (string, error)
}

// SparePool keeps a configured number of spare amphorae ready in each zone.
type SparePool struct {
	counter SpareCounter
	builder SpareBuilder
	zones   []string
	size    atomic.Int64
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewSparePool creates a spare pool of size amphorae per zone. With no zones
// a single pool is kept without an availability zone.
func NewSparePool(counter SpareCounter, builder SpareBuilder, size int, zones []string, metrics *telemetry.Metrics, logger zerolog.Logger) *SparePool {
	p := &SparePool{
		counter: counter,
		builder: builder,
		zones:   zones,
		metrics: metrics,
		logger:  logger.With().Str("component", "spare-pool").Logger(),
	}
	p.SetSize(size)
	return p
}

// SetSize changes the target pool size. It takes effect on the next pass.
func (p *SparePool) SetSize(n int) {
	if n < 0 {
		n = 0
	}
	p.size.Store(int64(n))
}

// Size returns the target pool size.
func (p *SparePool) Size() int {
	return int(p.size.Load())
}

// Run fills the pool immediately and then every interval until ctx is done.
func (p *SparePool) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("spare pool interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Reconcile(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Spare pool pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile builds the spares missing from every zone and returns how many
// were built. Builds run one at a time; a failed build ends the zone's pass.
func (p *SparePool) Reconcile(ctx context.Context) (int, error) {
	size := p.Size()
	zones := p.zones
	if len(zones) == 0 {
		zones = []string{""}
	}

	var created int
	for _, zone := range zones {
		n, err := p.fillZone(ctx, zone, size)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

func (p *SparePool) fillZone(ctx context.Context, zone string, size int) (int, error) {
	var filter *string
	if zone != "" {
		filter = &zone
	}

	count, err := p.counter.CountSpareAmphorae(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count spare amphorae in zone %q: %w", zone, err)
	}
	p.metrics.SetSpareAmphorae(zone, count)

	deficit := size - count
	if deficit <= 0 {
		return 0, nil
	}

	p.logger.Info().
		Str("availability_zone", zone).
		Int("ready", count).
		Int("target", size).
		Msg("Building spare amphorae")

	var created int
	for i := 0; i < deficit; i++ {
		if ctx.Err() != nil {
			return created, nil
		}
		id, err := p.builder.CreateAmphora(ctx, controller.CreateAmphoraParams{AvailabilityZone: zone})
		if err != nil {
			return created, fmt.Errorf("failed to build spare amphora in zone %q: %w", zone, err)
		}
		if id == "" {
			p.logger.Warn().Str("availability_zone", zone).Msg("Spare amphora build failed, retrying on the next pass")
			break
		}
		created++
	}
	p.metrics.SetSpareAmphorae(zone, count+created)
	return created, nil
}

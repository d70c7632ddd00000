package controller

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/telemetry"
)

// Repository is the part of the entity store the worker reads.
type Repository interface {
	provider.Reader

	GetLoadBalancer(ctx context.Context, id string) (*models.LoadBalancer, error)
	UpdateLoadBalancerStatus(ctx context.Context, id string, status models.ProvisioningStatus) error

	GetAmphora(ctx context.Context, id string) (*models.Amphora, error)
	ListAmphoraeByLoadBalancer(ctx context.Context, lbID string) ([]*models.Amphora, error)
	DeleteAmphoraHealth(ctx context.Context, amphoraID string) (int64, error)

	GetListener(ctx context.Context, id string) (*models.Listener, error)
	ListListenersByLoadBalancer(ctx context.Context, lbID string) ([]*models.Listener, error)
	ListListenersByPool(ctx context.Context, poolID string) ([]*models.Listener, error)

	GetPool(ctx context.Context, id string) (*models.Pool, error)
	ListPoolsByLoadBalancer(ctx context.Context, lbID string) ([]*models.Pool, error)

	GetMember(ctx context.Context, id string) (*models.Member, error)
	GetHealthMonitor(ctx context.Context, id string) (*models.HealthMonitor, error)
	GetL7Policy(ctx context.Context, id string) (*models.L7Policy, error)
	GetL7Rule(ctx context.Context, id string) (*models.L7Rule, error)
}

// MetadataResolver resolves flavor and availability zone metadata.
type MetadataResolver interface {
	FlavorMetadata(ctx context.Context, flavorID string) (map[string]any, error)
	AvailabilityZoneMetadata(ctx context.Context, name string) (map[string]any, error)
}

// Engine runs a registered flow.
type Engine interface {
	Run(ctx context.Context, flow string, store *engine.Store) (*engine.Store, error)
}

// ZoneRestrictor reports the availability zones a project may use. A nil
// slice means every zone.
type ZoneRestrictor interface {
	GetRestrictedZones(ctx context.Context, projectID string) ([]string, error)
}

// Config holds the worker settings.
type Config struct {
	// SpareAmphoraPoolSize is the configured size of the spare pool.
	SpareAmphoraPoolSize int

	// EnableAntiAffinity places the amphorae of a load balancer in its
	// server group.
	EnableAntiAffinity bool

	// Retry is the policy for waiting on committed entity state.
	Retry RetryPolicy
}

// Option configures a Worker.
type Option func(*Worker)

// WithZoneRestrictor enables availability zone restriction on create.
func WithZoneRestrictor(z ZoneRestrictor) Option {
	return func(w *Worker) {
		w.zones = z
	}
}

// WithTelemetry sets the telemetry used for logs, spans and metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(w *Worker) {
		if t != nil {
			w.tel = t
		}
	}
}

// Worker dispatches control-plane operations to flows.
type Worker struct {
	repo   Repository
	meta   MetadataResolver
	engine Engine
	zones  ZoneRestrictor
	tr     *provider.Translator

	retry        RetryPolicy
	antiAffinity bool
	sparePool    atomic.Int64

	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// NewWorker creates a worker.
func NewWorker(repo Repository, meta MetadataResolver, eng Engine, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		meta:         meta,
		engine:       eng,
		tr:           provider.NewTranslator(repo),
		retry:        cfg.Retry,
		antiAffinity: cfg.EnableAntiAffinity,
		tel:          telemetry.NewNopTelemetry(),
	}
	if w.retry.Attempts <= 0 {
		w.retry = DefaultRetryPolicy()
	}
	w.sparePool.Store(int64(cfg.SpareAmphoraPoolSize))

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.tel.Logger.NewComponentLogger("controller")
	return w
}

// SetSparePoolSize changes the spare pool size seen by failover.
func (w *Worker) SetSparePoolSize(n int) {
	w.sparePool.Store(int64(n))
}

// start opens the instrumentation of one operation.
func (w *Worker) start(ctx context.Context, op, entityID string) *telemetry.InstrumentedContext {
	return w.tel.StartOperation(ctx, op, entityID)
}

// run executes a flow and discards the resulting store.
func (w *Worker) run(ctx context.Context, flow string, store *engine.Store) error {
	_, err := w.engine.Run(ctx, flow, store)
	return err
}

// loadBalancer reads a load balancer and converts it.
func (w *Worker) loadBalancer(ctx context.Context, id string) (*models.LoadBalancer, provider.LoadBalancer, error) {
	lb, err := get(ctx, "load balancer", id, w.repo.GetLoadBalancer)
	if err != nil {
		return nil, provider.LoadBalancer{}, err
	}
	return lb, w.tr.LoadBalancer(lb), nil
}

// listenersOfLoadBalancer returns every listener of a load balancer.
func (w *Worker) listenersOfLoadBalancer(ctx context.Context, lbID string) ([]provider.Listener, error) {
	ls, err := w.repo.ListListenersByLoadBalancer(ctx, lbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listeners of load balancer %s: %w", lbID, err)
	}
	return w.tr.Listeners(ctx, ls)
}

// listenersOfPool returns the listeners that route to a pool.
func (w *Worker) listenersOfPool(ctx context.Context, poolID string) ([]provider.Listener, error) {
	ls, err := w.repo.ListListenersByPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listeners of pool %s: %w", poolID, err)
	}
	return w.tr.Listeners(ctx, ls)
}

// flavorMetadata resolves the flavor of a load balancer, or {} when unset.
func (w *Worker) flavorMetadata(ctx context.Context, lb *models.LoadBalancer) (map[string]any, error) {
	if lb == nil || lb.FlavorID == nil || *lb.FlavorID == "" {
		return map[string]any{}, nil
	}
	meta, err := w.meta.FlavorMetadata(ctx, *lb.FlavorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve flavor %s: %w", *lb.FlavorID, err)
	}
	return meta, nil
}

// zoneMetadata resolves the availability zone of a load balancer, or {}
// when unset.
func (w *Worker) zoneMetadata(ctx context.Context, lb *models.LoadBalancer) (map[string]any, error) {
	if lb == nil || lb.AvailabilityZone == nil || *lb.AvailabilityZone == "" {
		return map[string]any{}, nil
	}
	return w.namedZoneMetadata(ctx, *lb.AvailabilityZone)
}

func (w *Worker) namedZoneMetadata(ctx context.Context, name string) (map[string]any, error) {
	meta, err := w.meta.AvailabilityZoneMetadata(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve availability zone %s: %w", name, err)
	}
	return meta, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package zones

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/util/cache"
	"k8s.io/utils/clock"
)

const (
	// DefaultTTL is how long a project's restriction stays cached.
	DefaultTTL = time.Hour

	// ComputeZonesAttribute is the project attribute holding the restriction.
	ComputeZonesAttribute = "compute_zones"

	// AllZones marks a project as unrestricted.
	AllZones = "ALL"

	keyPrefix = "restricted_zones-"
)

// Project is the subset of an identity project the resolver reads.
type Project struct {
	ID         string
	Name       string
	Attributes map[string]string
}

// IdentityClient fetches projects from the identity service.
type IdentityClient interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
}

var (
	sharedMu    sync.Mutex
	sharedStore *cache.Expiring
)

// sharedCache returns the process-wide cache, building it on first use.
func sharedCache() *cache.Expiring {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedStore == nil {
		sharedStore = cache.NewExpiring()
	}
	return sharedStore
}

// ResetCache drops every cached restriction. The next lookup builds a fresh cache.
func ResetCache() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedStore = nil
}

// Resolver answers restricted-zone lookups with cache-aside over an identity client.
type Resolver struct {
	identity IdentityClient
	ttl      time.Duration
	logger   zerolog.Logger

	// own is set when the resolver was given a private clock; otherwise
	// lookups go through the shared cache.
	own *cache.Expiring
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithClock gives the resolver a private cache driven by clk instead of the
// shared one.
func WithClock(clk clock.Clock) Option {
	return func(r *Resolver) { r.own = cache.NewExpiringWithClock(clk) }
}

// NewResolver creates a resolver backed by identity.
func NewResolver(identity IdentityClient, opts ...Option) *Resolver {
	r := &Resolver{
		identity: identity,
		ttl:      DefaultTTL,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "zones").Logger()
	return r
}

func (r *Resolver) store() *cache.Expiring {
	if r.own != nil {
		return r.own
	}
	return sharedCache()
}

// GetRestrictedZones returns the zones projectID may use, or nil when the
// project is unrestricted. The order and duplicates of the stored value are kept.
func (r *Resolver) GetRestrictedZones(ctx context.Context, projectID string) ([]string, error) {
	key := keyPrefix + projectID
	c := r.store()

	// An empty cached value counts as a miss.
	var value string
	if cached, ok := c.Get(key); ok {
		value, _ = cached.(string)
	}
	if value == "" {
		project, err := r.identity.GetProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch project %s: %w", projectID, err)
		}
		v, found := project.Attributes[ComputeZonesAttribute]
		if !found {
			v = AllZones
		}
		value = v
		c.Set(key, value, r.ttl)
		r.logger.Debug().
			Str("project_id", projectID).
			Str("compute_zones", value).
			Dur("ttl", r.ttl).
			Msg("Cached restricted zones")
	}

	if value == "" || value == AllZones {
		return nil, nil
	}
	return strings.Split(value, ","), nil
}

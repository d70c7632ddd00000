package stores

import (
	"context"
	"errors"
	"time"

	"github.com/octane-lb/octane/pkg/models"
)

var (
	// ErrNotFound is returned (wrapped) when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned (wrapped) on a primary or unique key violation.
	ErrAlreadyExists = errors.New("already exists")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config holds SQL store configuration
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Fields is a partial update keyed by column name.
// Keys that are not updatable columns of the target table are ignored.
type Fields map[string]any

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Load balancers
	CreateLoadBalancer(ctx context.Context, lb *models.LoadBalancer) error
	GetLoadBalancer(ctx context.Context, id string) (*models.LoadBalancer, error)
	ListLoadBalancers(ctx context.Context) ([]*models.LoadBalancer, error)
	UpdateLoadBalancer(ctx context.Context, id string, fields Fields) error
	UpdateLoadBalancerStatus(ctx context.Context, id string, status models.ProvisioningStatus) error

	// Amphorae
	CreateAmphora(ctx context.Context, amp *models.Amphora) error
	GetAmphora(ctx context.Context, id string) (*models.Amphora, error)
	ListAmphoraeByLoadBalancer(ctx context.Context, lbID string) ([]*models.Amphora, error)
	CountSpareAmphorae(ctx context.Context, availabilityZone *string) (int, error)
	UpdateAmphora(ctx context.Context, id string, fields Fields) error
	UpdateAmphoraStatus(ctx context.Context, id string, status models.AmphoraStatus) error

	// Amphora health
	UpsertAmphoraHealth(ctx context.Context, health *models.AmphoraHealth) error
	GetAmphoraHealth(ctx context.Context, amphoraID string) (*models.AmphoraHealth, error)
	DeleteAmphoraHealth(ctx context.Context, amphoraID string) (int64, error)

	// Listeners
	CreateListener(ctx context.Context, l *models.Listener) error
	GetListener(ctx context.Context, id string) (*models.Listener, error)
	ListListenersByLoadBalancer(ctx context.Context, lbID string) ([]*models.Listener, error)
	ListListenersByPool(ctx context.Context, poolID string) ([]*models.Listener, error)
	UpdateListener(ctx context.Context, id string, fields Fields) error
	DeleteListener(ctx context.Context, id string) error

	// Pools
	CreatePool(ctx context.Context, p *models.Pool) error
	GetPool(ctx context.Context, id string) (*models.Pool, error)
	ListPoolsByLoadBalancer(ctx context.Context, lbID string) ([]*models.Pool, error)
	UpdatePool(ctx context.Context, id string, fields Fields) error
	DeletePool(ctx context.Context, id string) error

	// Members
	CreateMember(ctx context.Context, m *models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ListMembersByPool(ctx context.Context, poolID string) ([]*models.Member, error)
	UpdateMember(ctx context.Context, id string, fields Fields) error
	DeleteMember(ctx context.Context, id string) error

	// Health monitors
	CreateHealthMonitor(ctx context.Context, hm *models.HealthMonitor) error
	GetHealthMonitor(ctx context.Context, id string) (*models.HealthMonitor, error)
	GetHealthMonitorByPool(ctx context.Context, poolID string) (*models.HealthMonitor, error)
	UpdateHealthMonitor(ctx context.Context, id string, fields Fields) error
	DeleteHealthMonitor(ctx context.Context, id string) error

	// L7 policies and rules
	CreateL7Policy(ctx context.Context, p *models.L7Policy) error
	GetL7Policy(ctx context.Context, id string) (*models.L7Policy, error)
	ListL7PoliciesByListener(ctx context.Context, listenerID string) ([]*models.L7Policy, error)
	UpdateL7Policy(ctx context.Context, id string, fields Fields) error
	DeleteL7Policy(ctx context.Context, id string) error
	CreateL7Rule(ctx context.Context, r *models.L7Rule) error
	GetL7Rule(ctx context.Context, id string) (*models.L7Rule, error)
	ListL7RulesByPolicy(ctx context.Context, policyID string) ([]*models.L7Rule, error)
	UpdateL7Rule(ctx context.Context, id string, fields Fields) error
	DeleteL7Rule(ctx context.Context, id string) error

	// Flavors and availability zones
	CreateFlavor(ctx context.Context, f *models.Flavor) error
	FlavorMetadata(ctx context.Context, flavorID string) (map[string]any, error)
	CreateAvailabilityZone(ctx context.Context, az *models.AvailabilityZone) error
	AvailabilityZoneMetadata(ctx context.Context, name string) (map[string]any, error)
}

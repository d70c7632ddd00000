package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var listenerColumns = []string{
	"id", "project_id", "load_balancer_id", "name", "protocol", "protocol_port",
	"connection_limit", "default_pool_id", "provisioning_status", "operating_status",
	"enabled", "created_at", "updated_at",
}

var listenerUpdatable = map[string]bool{
	"name": true, "connection_limit": true, "default_pool_id": true,
	"provisioning_status": true, "operating_status": true, "enabled": true,
}

func scanListener(row rowScanner) (*models.Listener, error) {
	l := &models.Listener{}
	err := row.Scan(
		&l.ID,
		&l.ProjectID,
		&l.LoadBalancerID,
		&l.Name,
		&l.Protocol,
		&l.ProtocolPort,
		&l.ConnectionLimit,
		&l.DefaultPoolID,
		&l.ProvisioningStatus,
		&l.OperatingStatus,
		&l.Enabled,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

// CreateListener inserts a new listener.
func (s *SQLStore) CreateListener(ctx context.Context, l *models.Listener) error {
	stamp(&l.CreatedAt, &l.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("listeners").Columns(listenerColumns...).Values(
		l.ID, l.ProjectID, l.LoadBalancerID, l.Name, l.Protocol, l.ProtocolPort,
		l.ConnectionLimit, l.DefaultPoolID, l.ProvisioningStatus, l.OperatingStatus,
		l.Enabled, l.CreatedAt, l.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return nil
}

// GetListener retrieves a listener by ID.
func (s *SQLStore) GetListener(ctx context.Context, id string) (*models.Listener, error) {
	row, err := s.queryRow(ctx, s.sb.Select(listenerColumns...).
		From("listeners").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	l, err := scanListener(row)
	if err != nil {
		return nil, notFound(err, "listener", id)
	}
	return l, nil
}

// ListListenersByLoadBalancer returns every listener of a load balancer.
func (s *SQLStore) ListListenersByLoadBalancer(ctx context.Context, lbID string) ([]*models.Listener, error) {
	return s.listListeners(ctx, squirrel.Eq{"load_balancer_id": lbID})
}

// ListListenersByPool returns the listeners using a pool as their default pool.
func (s *SQLStore) ListListenersByPool(ctx context.Context, poolID string) ([]*models.Listener, error) {
	return s.listListeners(ctx, squirrel.Eq{"default_pool_id": poolID})
}

func (s *SQLStore) listListeners(ctx context.Context, where squirrel.Eq) ([]*models.Listener, error) {
	rows, err := s.query(ctx, s.sb.Select(listenerColumns...).
		From("listeners").
		Where(where).
		OrderBy("protocol_port", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list listeners: %w", err)
	}
	defer rows.Close()

	var listeners []*models.Listener
	for rows.Next() {
		l, err := scanListener(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listener: %w", err)
		}
		listeners = append(listeners, l)
	}
	return listeners, rows.Err()
}

// UpdateListener applies a partial update to a listener.
func (s *SQLStore) UpdateListener(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "listeners", "listener", id, listenerUpdatable, fields)
}

// DeleteListener removes a listener and, by cascade, its L7 policies.
func (s *SQLStore) DeleteListener(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "listeners", "listener", id)
}

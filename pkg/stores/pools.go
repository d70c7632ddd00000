package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var poolColumns = []string{
	"id", "project_id", "load_balancer_id", "name", "protocol", "lb_algorithm",
	"provisioning_status", "operating_status", "enabled", "created_at", "updated_at",
}

var poolUpdatable = map[string]bool{
	"name": true, "lb_algorithm": true, "provisioning_status": true,
	"operating_status": true, "enabled": true,
}

func scanPool(row rowScanner) (*models.Pool, error) {
	p := &models.Pool{}
	err := row.Scan(
		&p.ID,
		&p.ProjectID,
		&p.LoadBalancerID,
		&p.Name,
		&p.Protocol,
		&p.LBAlgorithm,
		&p.ProvisioningStatus,
		&p.OperatingStatus,
		&p.Enabled,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

// CreatePool inserts a new pool.
func (s *SQLStore) CreatePool(ctx context.Context, p *models.Pool) error {
	stamp(&p.CreatedAt, &p.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("pools").Columns(poolColumns...).Values(
		p.ID, p.ProjectID, p.LoadBalancerID, p.Name, p.Protocol, p.LBAlgorithm,
		p.ProvisioningStatus, p.OperatingStatus, p.Enabled, p.CreatedAt, p.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	return nil
}

// GetPool retrieves a pool by ID.
func (s *SQLStore) GetPool(ctx context.Context, id string) (*models.Pool, error) {
	row, err := s.queryRow(ctx, s.sb.Select(poolColumns...).
		From("pools").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	p, err := scanPool(row)
	if err != nil {
		return nil, notFound(err, "pool", id)
	}
	return p, nil
}

// ListPoolsByLoadBalancer returns every pool of a load balancer.
func (s *SQLStore) ListPoolsByLoadBalancer(ctx context.Context, lbID string) ([]*models.Pool, error) {
	rows, err := s.query(ctx, s.sb.Select(poolColumns...).
		From("pools").
		Where(squirrel.Eq{"load_balancer_id": lbID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []*models.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// UpdatePool applies a partial update to a pool.
func (s *SQLStore) UpdatePool(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "pools", "pool", id, poolUpdatable, fields)
}

// DeletePool removes a pool together with its members and health monitor.
func (s *SQLStore) DeletePool(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "pools", "pool", id)
}

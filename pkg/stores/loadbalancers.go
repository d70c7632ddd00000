package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var loadBalancerColumns = []string{
	"id", "project_id", "name", "description", "provisioning_status", "operating_status",
	"topology", "enabled", "vip_address", "vip_port_id", "vip_subnet_id",
	"flavor_id", "availability_zone", "server_group_id", "created_at", "updated_at",
}

var loadBalancerUpdatable = map[string]bool{
	"name": true, "description": true, "provisioning_status": true, "operating_status": true,
	"topology": true, "enabled": true, "vip_address": true, "vip_port_id": true,
	"vip_subnet_id": true, "server_group_id": true,
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoadBalancer(row rowScanner) (*models.LoadBalancer, error) {
	lb := &models.LoadBalancer{}
	err := row.Scan(
		&lb.ID,
		&lb.ProjectID,
		&lb.Name,
		&lb.Description,
		&lb.ProvisioningStatus,
		&lb.OperatingStatus,
		&lb.Topology,
		&lb.Enabled,
		&lb.VIPAddress,
		&lb.VIPPortID,
		&lb.VIPSubnetID,
		&lb.FlavorID,
		&lb.AvailabilityZone,
		&lb.ServerGroupID,
		&lb.CreatedAt,
		&lb.UpdatedAt,
	)
	return lb, err
}

// CreateLoadBalancer inserts a new load balancer.
func (s *SQLStore) CreateLoadBalancer(ctx context.Context, lb *models.LoadBalancer) error {
	stamp(&lb.CreatedAt, &lb.UpdatedAt, s.now())
	if lb.Topology == "" {
		lb.Topology = models.TopologySingle
	}

	_, err := s.exec(ctx, s.sb.Insert("load_balancers").Columns(loadBalancerColumns...).Values(
		lb.ID, lb.ProjectID, lb.Name, lb.Description, lb.ProvisioningStatus, lb.OperatingStatus,
		lb.Topology, lb.Enabled, lb.VIPAddress, lb.VIPPortID, lb.VIPSubnetID,
		lb.FlavorID, lb.AvailabilityZone, lb.ServerGroupID, lb.CreatedAt, lb.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create load balancer: %w", err)
	}
	return nil
}

// GetLoadBalancer retrieves a load balancer by ID.
func (s *SQLStore) GetLoadBalancer(ctx context.Context, id string) (*models.LoadBalancer, error) {
	row, err := s.queryRow(ctx, s.sb.Select(loadBalancerColumns...).
		From("load_balancers").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	lb, err := scanLoadBalancer(row)
	if err != nil {
		return nil, notFound(err, "load balancer", id)
	}
	return lb, nil
}

// ListLoadBalancers returns every load balancer that is not DELETED.
func (s *SQLStore) ListLoadBalancers(ctx context.Context) ([]*models.LoadBalancer, error) {
	rows, err := s.query(ctx, s.sb.Select(loadBalancerColumns...).
		From("load_balancers").
		Where(squirrel.NotEq{"provisioning_status": models.ProvisioningDeleted}).
		OrderBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to list load balancers: %w", err)
	}
	defer rows.Close()

	var lbs []*models.LoadBalancer
	for rows.Next() {
		lb, err := scanLoadBalancer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan load balancer: %w", err)
		}
		lbs = append(lbs, lb)
	}
	return lbs, rows.Err()
}

// UpdateLoadBalancer applies a partial update to a load balancer.
func (s *SQLStore) UpdateLoadBalancer(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "load_balancers", "load balancer", id, loadBalancerUpdatable, fields)
}

// UpdateLoadBalancerStatus sets the provisioning status of a load balancer.
func (s *SQLStore) UpdateLoadBalancerStatus(ctx context.Context, id string, status models.ProvisioningStatus) error {
	return s.UpdateLoadBalancer(ctx, id, Fields{"provisioning_status": status})
}

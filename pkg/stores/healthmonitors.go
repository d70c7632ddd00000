package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var healthMonitorColumns = []string{
	"id", "project_id", "pool_id", "type", "delay", "timeout", "max_retries",
	"max_retries_down", "http_method", "url_path", "expected_codes",
	"provisioning_status", "operating_status", "enabled", "created_at", "updated_at",
}

var healthMonitorUpdatable = map[string]bool{
	"delay": true, "timeout": true, "max_retries": true, "max_retries_down": true,
	"http_method": true, "url_path": true, "expected_codes": true,
	"provisioning_status": true, "operating_status": true, "enabled": true,
}

func scanHealthMonitor(row rowScanner) (*models.HealthMonitor, error) {
	hm := &models.HealthMonitor{}
	err := row.Scan(
		&hm.ID,
		&hm.ProjectID,
		&hm.PoolID,
		&hm.Type,
		&hm.Delay,
		&hm.Timeout,
		&hm.MaxRetries,
		&hm.MaxRetriesDown,
		&hm.HTTPMethod,
		&hm.URLPath,
		&hm.ExpectedCodes,
		&hm.ProvisioningStatus,
		&hm.OperatingStatus,
		&hm.Enabled,
		&hm.CreatedAt,
		&hm.UpdatedAt,
	)
	return hm, err
}

// CreateHealthMonitor inserts a new health monitor.
func (s *SQLStore) CreateHealthMonitor(ctx context.Context, hm *models.HealthMonitor) error {
	stamp(&hm.CreatedAt, &hm.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("health_monitors").Columns(healthMonitorColumns...).Values(
		hm.ID, hm.ProjectID, hm.PoolID, hm.Type, hm.Delay, hm.Timeout, hm.MaxRetries,
		hm.MaxRetriesDown, hm.HTTPMethod, hm.URLPath, hm.ExpectedCodes,
		hm.ProvisioningStatus, hm.OperatingStatus, hm.Enabled, hm.CreatedAt, hm.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create health monitor: %w", err)
	}
	return nil
}

// GetHealthMonitor retrieves a health monitor by ID.
func (s *SQLStore) GetHealthMonitor(ctx context.Context, id string) (*models.HealthMonitor, error) {
	return s.getHealthMonitor(ctx, squirrel.Eq{"id": id}, id)
}

// GetHealthMonitorByPool retrieves the health monitor attached to a pool.
func (s *SQLStore) GetHealthMonitorByPool(ctx context.Context, poolID string) (*models.HealthMonitor, error) {
	return s.getHealthMonitor(ctx, squirrel.Eq{"pool_id": poolID}, "for pool "+poolID)
}

func (s *SQLStore) getHealthMonitor(ctx context.Context, where squirrel.Eq, ref string) (*models.HealthMonitor, error) {
	row, err := s.queryRow(ctx, s.sb.Select(healthMonitorColumns...).
		From("health_monitors").
		Where(where))
	if err != nil {
		return nil, err
	}

	hm, err := scanHealthMonitor(row)
	if err != nil {
		return nil, notFound(err, "health monitor", ref)
	}
	return hm, nil
}

// UpdateHealthMonitor applies a partial update to a health monitor.
func (s *SQLStore) UpdateHealthMonitor(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "health_monitors", "health monitor", id, healthMonitorUpdatable, fields)
}

// DeleteHealthMonitor removes a health monitor.
func (s *SQLStore) DeleteHealthMonitor(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "health_monitors", "health monitor", id)
}

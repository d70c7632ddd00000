package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var amphoraColumns = []string{
	"id", "load_balancer_id", "compute_id", "status", "role", "lb_network_ip", "vrrp_ip",
	"ha_ip", "vrrp_priority", "cert_expiration", "cert_busy", "availability_zone",
	"created_at", "updated_at",
}

var amphoraUpdatable = map[string]bool{
	"load_balancer_id": true, "compute_id": true, "status": true, "role": true,
	"lb_network_ip": true, "vrrp_ip": true, "ha_ip": true, "vrrp_priority": true,
	"cert_expiration": true, "cert_busy": true, "availability_zone": true,
}

func scanAmphora(row rowScanner) (*models.Amphora, error) {
	amp := &models.Amphora{}
	err := row.Scan(
		&amp.ID,
		&amp.LoadBalancerID,
		&amp.ComputeID,
		&amp.Status,
		&amp.Role,
		&amp.LBNetworkIP,
		&amp.VRRPIP,
		&amp.HAIP,
		&amp.VRRPPriority,
		&amp.CertExpiration,
		&amp.CertBusy,
		&amp.AvailabilityZone,
		&amp.CreatedAt,
		&amp.UpdatedAt,
	)
	return amp, err
}

// CreateAmphora inserts a new amphora record.
func (s *SQLStore) CreateAmphora(ctx context.Context, amp *models.Amphora) error {
	stamp(&amp.CreatedAt, &amp.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("amphorae").Columns(amphoraColumns...).Values(
		amp.ID, amp.LoadBalancerID, amp.ComputeID, amp.Status, amp.Role, amp.LBNetworkIP,
		amp.VRRPIP, amp.HAIP, amp.VRRPPriority, amp.CertExpiration, amp.CertBusy,
		amp.AvailabilityZone, amp.CreatedAt, amp.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create amphora: %w", err)
	}
	return nil
}

// GetAmphora retrieves an amphora by ID.
func (s *SQLStore) GetAmphora(ctx context.Context, id string) (*models.Amphora, error) {
	row, err := s.queryRow(ctx, s.sb.Select(amphoraColumns...).
		From("amphorae").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	amp, err := scanAmphora(row)
	if err != nil {
		return nil, notFound(err, "amphora", id)
	}
	return amp, nil
}

// ListAmphoraeByLoadBalancer returns all amphorae attached to a load balancer,
// including DELETED ones.
func (s *SQLStore) ListAmphoraeByLoadBalancer(ctx context.Context, lbID string) ([]*models.Amphora, error) {
	rows, err := s.query(ctx, s.sb.Select(amphoraColumns...).
		From("amphorae").
		Where(squirrel.Eq{"load_balancer_id": lbID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list amphorae: %w", err)
	}
	defer rows.Close()

	var amps []*models.Amphora
	for rows.Next() {
		amp, err := scanAmphora(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan amphora: %w", err)
		}
		amps = append(amps, amp)
	}
	return amps, rows.Err()
}

// CountSpareAmphorae counts READY amphorae that are not attached to a load
// balancer. A nil availability zone counts spares in every zone.
func (s *SQLStore) CountSpareAmphorae(ctx context.Context, availabilityZone *string) (int, error) {
	q := s.sb.Select("COUNT(*)").
		From("amphorae").
		Where(squirrel.Eq{"load_balancer_id": nil, "status": models.AmphoraReady})
	if availabilityZone != nil {
		q = q.Where(squirrel.Eq{"availability_zone": *availabilityZone})
	}

	row, err := s.queryRow(ctx, q)
	if err != nil {
		return 0, err
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count spare amphorae: %w", err)
	}
	return count, nil
}

// UpdateAmphora applies a partial update to an amphora.
func (s *SQLStore) UpdateAmphora(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "amphorae", "amphora", id, amphoraUpdatable, fields)
}

// UpdateAmphoraStatus sets the lifecycle status of an amphora.
func (s *SQLStore) UpdateAmphoraStatus(ctx context.Context, id string, status models.AmphoraStatus) error {
	return s.UpdateAmphora(ctx, id, Fields{"status": status})
}

// UpsertAmphoraHealth records a heartbeat for an amphora.
func (s *SQLStore) UpsertAmphoraHealth(ctx context.Context, health *models.AmphoraHealth) error {
	if health.LastUpdate.IsZero() {
		health.LastUpdate = s.now()
	}

	_, err := s.exec(ctx, s.sb.Insert("amphora_health").
		Columns("amphora_id", "last_update", "busy").
		Values(health.AmphoraID, health.LastUpdate, health.Busy).
		Suffix("ON CONFLICT (amphora_id) DO UPDATE SET last_update = excluded.last_update, busy = excluded.busy"))
	if err != nil {
		return fmt.Errorf("failed to upsert amphora health: %w", err)
	}
	return nil
}

// GetAmphoraHealth retrieves the health record of an amphora.
func (s *SQLStore) GetAmphoraHealth(ctx context.Context, amphoraID string) (*models.AmphoraHealth, error) {
	row, err := s.queryRow(ctx, s.sb.Select("amphora_id", "last_update", "busy").
		From("amphora_health").
		Where(squirrel.Eq{"amphora_id": amphoraID}))
	if err != nil {
		return nil, err
	}

	h := &models.AmphoraHealth{}
	if err := row.Scan(&h.AmphoraID, &h.LastUpdate, &h.Busy); err != nil {
		return nil, notFound(err, "amphora health", amphoraID)
	}
	return h, nil
}

// DeleteAmphoraHealth stops health tracking of an amphora and returns the
// number of records removed.
func (s *SQLStore) DeleteAmphoraHealth(ctx context.Context, amphoraID string) (int64, error) {
	n, err := s.exec(ctx, s.sb.Delete("amphora_health").Where(squirrel.Eq{"amphora_id": amphoraID}))
	if err != nil {
		return 0, fmt.Errorf("failed to delete amphora health: %w", err)
	}
	return n, nil
}

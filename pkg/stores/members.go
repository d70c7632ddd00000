package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var memberColumns = []string{
	"id", "project_id", "pool_id", "address", "protocol_port", "weight", "subnet_id",
	"backup", "provisioning_status", "operating_status", "enabled", "created_at", "updated_at",
}

var memberUpdatable = map[string]bool{
	"weight": true, "backup": true, "provisioning_status": true,
	"operating_status": true, "enabled": true,
}

func scanMember(row rowScanner) (*models.Member, error) {
	m := &models.Member{}
	err := row.Scan(
		&m.ID,
		&m.ProjectID,
		&m.PoolID,
		&m.Address,
		&m.ProtocolPort,
		&m.Weight,
		&m.SubnetID,
		&m.Backup,
		&m.ProvisioningStatus,
		&m.OperatingStatus,
		&m.Enabled,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// CreateMember inserts a new member.
func (s *SQLStore) CreateMember(ctx context.Context, m *models.Member) error {
	stamp(&m.CreatedAt, &m.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("members").Columns(memberColumns...).Values(
		m.ID, m.ProjectID, m.PoolID, m.Address, m.ProtocolPort, m.Weight, m.SubnetID,
		m.Backup, m.ProvisioningStatus, m.OperatingStatus, m.Enabled, m.CreatedAt, m.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *SQLStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	row, err := s.queryRow(ctx, s.sb.Select(memberColumns...).
		From("members").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	m, err := scanMember(row)
	if err != nil {
		return nil, notFound(err, "member", id)
	}
	return m, nil
}

// ListMembersByPool returns every member of a pool.
func (s *SQLStore) ListMembersByPool(ctx context.Context, poolID string) ([]*models.Member, error) {
	rows, err := s.query(ctx, s.sb.Select(memberColumns...).
		From("members").
		Where(squirrel.Eq{"pool_id": poolID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMember applies a partial update to a member.
func (s *SQLStore) UpdateMember(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "members", "member", id, memberUpdatable, fields)
}

// DeleteMember removes a member.
func (s *SQLStore) DeleteMember(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "members", "member", id)
}

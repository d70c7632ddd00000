package stores

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

var l7PolicyColumns = []string{
	"id", "project_id", "listener_id", "name", "action", "position", "redirect_pool_id",
	"redirect_url", "provisioning_status", "operating_status", "enabled", "created_at", "updated_at",
}

var l7PolicyUpdatable = map[string]bool{
	"name": true, "action": true, "position": true, "redirect_pool_id": true,
	"redirect_url": true, "provisioning_status": true, "operating_status": true, "enabled": true,
}

var l7RuleColumns = []string{
	"id", "project_id", "l7policy_id", "type", "compare_type", "rule_key", "value", "invert",
	"provisioning_status", "operating_status", "enabled", "created_at", "updated_at",
}

// "key" is reserved in several SQL dialects, the column is rule_key.
var l7RuleUpdatable = map[string]bool{
	"type": true, "compare_type": true, "rule_key": true, "value": true, "invert": true,
	"provisioning_status": true, "operating_status": true, "enabled": true,
}

func scanL7Policy(row rowScanner) (*models.L7Policy, error) {
	p := &models.L7Policy{}
	err := row.Scan(
		&p.ID,
		&p.ProjectID,
		&p.ListenerID,
		&p.Name,
		&p.Action,
		&p.Position,
		&p.RedirectPoolID,
		&p.RedirectURL,
		&p.ProvisioningStatus,
		&p.OperatingStatus,
		&p.Enabled,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func scanL7Rule(row rowScanner) (*models.L7Rule, error) {
	r := &models.L7Rule{}
	err := row.Scan(
		&r.ID,
		&r.ProjectID,
		&r.L7PolicyID,
		&r.Type,
		&r.CompareType,
		&r.Key,
		&r.Value,
		&r.Invert,
		&r.ProvisioningStatus,
		&r.OperatingStatus,
		&r.Enabled,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

// CreateL7Policy inserts a new L7 policy.
func (s *SQLStore) CreateL7Policy(ctx context.Context, p *models.L7Policy) error {
	stamp(&p.CreatedAt, &p.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("l7policies").Columns(l7PolicyColumns...).Values(
		p.ID, p.ProjectID, p.ListenerID, p.Name, p.Action, p.Position, p.RedirectPoolID,
		p.RedirectURL, p.ProvisioningStatus, p.OperatingStatus, p.Enabled, p.CreatedAt, p.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create l7 policy: %w", err)
	}
	return nil
}

// GetL7Policy retrieves an L7 policy by ID.
func (s *SQLStore) GetL7Policy(ctx context.Context, id string) (*models.L7Policy, error) {
	row, err := s.queryRow(ctx, s.sb.Select(l7PolicyColumns...).
		From("l7policies").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	p, err := scanL7Policy(row)
	if err != nil {
		return nil, notFound(err, "l7 policy", id)
	}
	return p, nil
}

// ListL7PoliciesByListener returns the policies of a listener in position order.
func (s *SQLStore) ListL7PoliciesByListener(ctx context.Context, listenerID string) ([]*models.L7Policy, error) {
	rows, err := s.query(ctx, s.sb.Select(l7PolicyColumns...).
		From("l7policies").
		Where(squirrel.Eq{"listener_id": listenerID}).
		OrderBy("position", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list l7 policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.L7Policy
	for rows.Next() {
		p, err := scanL7Policy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan l7 policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpdateL7Policy applies a partial update to an L7 policy.
func (s *SQLStore) UpdateL7Policy(ctx context.Context, id string, fields Fields) error {
	return s.update(ctx, "l7policies", "l7 policy", id, l7PolicyUpdatable, fields)
}

// DeleteL7Policy removes an L7 policy and its rules.
func (s *SQLStore) DeleteL7Policy(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "l7policies", "l7 policy", id)
}

// CreateL7Rule inserts a new L7 rule.
func (s *SQLStore) CreateL7Rule(ctx context.Context, r *models.L7Rule) error {
	stamp(&r.CreatedAt, &r.UpdatedAt, s.now())

	_, err := s.exec(ctx, s.sb.Insert("l7rules").Columns(l7RuleColumns...).Values(
		r.ID, r.ProjectID, r.L7PolicyID, r.Type, r.CompareType, r.Key, r.Value, r.Invert,
		r.ProvisioningStatus, r.OperatingStatus, r.Enabled, r.CreatedAt, r.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to create l7 rule: %w", err)
	}
	return nil
}

// GetL7Rule retrieves an L7 rule by ID.
func (s *SQLStore) GetL7Rule(ctx context.Context, id string) (*models.L7Rule, error) {
	row, err := s.queryRow(ctx, s.sb.Select(l7RuleColumns...).
		From("l7rules").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}

	r, err := scanL7Rule(row)
	if err != nil {
		return nil, notFound(err, "l7 rule", id)
	}
	return r, nil
}

// ListL7RulesByPolicy returns the rules of an L7 policy.
func (s *SQLStore) ListL7RulesByPolicy(ctx context.Context, policyID string) ([]*models.L7Rule, error) {
	rows, err := s.query(ctx, s.sb.Select(l7RuleColumns...).
		From("l7rules").
		Where(squirrel.Eq{"l7policy_id": policyID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list l7 rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.L7Rule
	for rows.Next() {
		r, err := scanL7Rule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan l7 rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpdateL7Rule applies a partial update to an L7 rule.
func (s *SQLStore) UpdateL7Rule(ctx context.Context, id string, fields Fields) error {
	if v, ok := fields["key"]; ok {
		renamed := make(Fields, len(fields))
		for k, val := range fields {
			renamed[k] = val
		}
		delete(renamed, "key")
		renamed["rule_key"] = v
		fields = renamed
	}
	return s.update(ctx, "l7rules", "l7 rule", id, l7RuleUpdatable, fields)
}

// DeleteL7Rule removes an L7 rule.
func (s *SQLStore) DeleteL7Rule(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "l7rules", "l7 rule", id)
}

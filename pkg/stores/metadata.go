package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/octane-lb/octane/pkg/models"
)

// CreateFlavor inserts a flavor and its metadata.
func (s *SQLStore) CreateFlavor(ctx context.Context, f *models.Flavor) error {
	meta, err := encodeMetadata(f.Metadata)
	if err != nil {
		return err
	}

	if _, err := s.exec(ctx, s.sb.Insert("flavors").
		Columns("id", "name", "metadata").
		Values(f.ID, f.Name, meta)); err != nil {
		return fmt.Errorf("failed to create flavor: %w", err)
	}
	return nil
}

// FlavorMetadata returns the flattened capability map of a flavor.
func (s *SQLStore) FlavorMetadata(ctx context.Context, flavorID string) (map[string]any, error) {
	return s.metadata(ctx, "flavors", "id", "flavor", flavorID)
}

// CreateAvailabilityZone inserts an availability zone and its metadata.
func (s *SQLStore) CreateAvailabilityZone(ctx context.Context, az *models.AvailabilityZone) error {
	meta, err := encodeMetadata(az.Metadata)
	if err != nil {
		return err
	}

	if _, err := s.exec(ctx, s.sb.Insert("availability_zones").
		Columns("name", "metadata").
		Values(az.Name, meta)); err != nil {
		return fmt.Errorf("failed to create availability zone: %w", err)
	}
	return nil
}

// AvailabilityZoneMetadata returns the flattened attribute map of a zone.
func (s *SQLStore) AvailabilityZoneMetadata(ctx context.Context, name string) (map[string]any, error) {
	return s.metadata(ctx, "availability_zones", "name", "availability zone", name)
}

func (s *SQLStore) metadata(ctx context.Context, table, keyColumn, kind, key string) (map[string]any, error) {
	row, err := s.queryRow(ctx, s.sb.Select("metadata").
		From(table).
		Where(squirrel.Eq{keyColumn: key}))
	if err != nil {
		return nil, err
	}

	var raw string
	if err := row.Scan(&raw); err != nil {
		return nil, notFound(err, kind, key)
	}

	meta := map[string]any{}
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode %s metadata: %w", kind, err)
	}
	return meta, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

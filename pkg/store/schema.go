package store

import (
	"context"
	"fmt"

	"github.com/langhookd/langhookd/pkg/domain"
)

// UpsertSchemaTriple inserts a newly discovered (publisher, resource_type,
// action) triple or bumps last_seen_at if already known.
func (s *Store) UpsertSchemaTriple(ctx context.Context, publisher, resourceType, action string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schema_registry (publisher, resource_type, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (publisher, resource_type, action) DO UPDATE SET last_seen_at = now()`,
		publisher, resourceType, action)
	if err != nil {
		return fmt.Errorf("failed to upsert schema triple: %w", err)
	}
	return nil
}

// SchemaRegistrySnapshot is the set of discovered tokens, shaped for the
// GET /schema response and for subject-filter synthesis validation
// against known tokens.
type SchemaRegistrySnapshot struct {
	Publishers    []string
	ResourceTypes map[string][]string // publisher -> resource types
	Triples       []domain.SchemaTriple
}

// LoadSchemaRegistry reads the full registry. Registries are small (bounded
// by distinct publisher/resource/action combinations actually seen), so a
// single scan ordered by publisher, resource type and action is cheap enough to run on every subscription
// creation and on every GET /schema call.
func (s *Store) LoadSchemaRegistry(ctx context.Context) (*SchemaRegistrySnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT publisher, resource_type, action, first_seen_at, last_seen_at
		FROM schema_registry ORDER BY publisher, resource_type, action`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema registry: %w", err)
	}
	defer rows.Close()

	snap := &SchemaRegistrySnapshot{ResourceTypes: map[string][]string{}}
	seenPublisher := map[string]bool{}
	seenResourceType := map[string]bool{}
	for rows.Next() {
		var t domain.SchemaTriple
		if err := rows.Scan(&t.Publisher, &t.ResourceType, &t.Action, &t.FirstSeenAt, &t.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema triple: %w", err)
		}
		snap.Triples = append(snap.Triples, t)
		if !seenPublisher[t.Publisher] {
			seenPublisher[t.Publisher] = true
			snap.Publishers = append(snap.Publishers, t.Publisher)
		}
		key := t.Publisher + "/" + t.ResourceType
		if !seenResourceType[key] {
			seenResourceType[key] = true
			snap.ResourceTypes[t.Publisher] = append(snap.ResourceTypes[t.Publisher], t.ResourceType)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schema registry: %w", err)
	}
	return snap, nil
}

// DeleteSchema removes registry entries at publisher, publisher+resource,
// or publisher+resource+action granularity. Cascades over the registry
// only — it never touches stored events.
func (s *Store) DeleteSchema(ctx context.Context, publisher, resourceType, action string) error {
	query := `DELETE FROM schema_registry WHERE publisher = $1`
	args := []any{publisher}
	if resourceType != "" {
		query += ` AND resource_type = $2`
		args = append(args, resourceType)
	}
	if action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, action)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete schema registry entries: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
)

// GetMapping looks up a mapping by fingerprint. Returns errs.NotFound if
// absent, the expected outcome on first encounter of a new payload shape.
func (s *Store) GetMapping(ctx context.Context, fingerprint string) (*domain.IngestMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fingerprint, publisher, expression, event_field_expressions, source, created_at, updated_at
		FROM ingest_mappings WHERE fingerprint = $1`, fingerprint)
	return scanMapping(row)
}

// CreateMapping persists a newly synthesized or builtin mapping. If the
// fingerprint already exists the stored row is kept unchanged and no
// error is returned — callers coalesce concurrent synthesis via
// singleflight so this should be rare, not the primary guard.
func (s *Store) CreateMapping(ctx context.Context, m domain.IngestMapping) error {
	fieldsJSON, err := json.Marshal(m.EventFieldExpressions)
	if err != nil {
		return fmt.Errorf("failed to marshal event field expressions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ingest_mappings (fingerprint, publisher, expression, event_field_expressions, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (fingerprint) DO NOTHING`,
		m.Fingerprint, m.Publisher, m.Expression, fieldsJSON, string(m.Source), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create mapping: %w", err)
	}
	return nil
}

// UpdateMappingExpression replaces a mapping's transform after the stored
// one failed evaluation and resynthesis succeeded — the only mutation
// path for an existing mapping.
func (s *Store) UpdateMappingExpression(ctx context.Context, fingerprint, expression string, fieldExprs []string) error {
	fieldsJSON, err := json.Marshal(fieldExprs)
	if err != nil {
		return fmt.Errorf("failed to marshal event field expressions: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_mappings
		SET expression = $1, event_field_expressions = $2, source = 'synthesized', updated_at = $3
		WHERE fingerprint = $4`,
		expression, fieldsJSON, time.Now().UTC(), fingerprint)
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound
	}
	return nil
}

func scanMapping(row pgx.Row) (*domain.IngestMapping, error) {
	var m domain.IngestMapping
	var fieldsJSON []byte
	var source string
	if err := row.Scan(&m.Fingerprint, &m.Publisher, &m.Expression, &fieldsJSON, &source, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound
		}
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}
	if err := json.Unmarshal(fieldsJSON, &m.EventFieldExpressions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event field expressions: %w", err)
	}
	m.Source = domain.MappingSource(source)
	return &m, nil
}

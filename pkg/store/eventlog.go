package store

import (
	"context"
	"fmt"

	"github.com/langhookd/langhookd/pkg/domain"
)

const maxPageSize = 200

// AppendEventLog writes an optional per-canonical-event log row. Only
// called when EVENT_LOGGING_ENABLED is set.
func (s *Store) AppendEventLog(ctx context.Context, e domain.EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (id, subject, publisher, resource_type, resource_id, action, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Subject, e.Publisher, e.ResourceType, e.ResourceID, e.Action, e.Payload, e.EmittedAt)
	if err != nil {
		return fmt.Errorf("failed to append event log: %w", err)
	}
	return nil
}

// EventLogFilter narrows GET /event-logs.
type EventLogFilter struct {
	ResourceTypes []string
	Page          int
	Size          int
}

// ListEventLogs returns rows newest-first, offset+size paginated with a
// hard ceiling on size.
func (s *Store) ListEventLogs(ctx context.Context, f EventLogFilter) ([]domain.EventLog, error) {
	size := f.Size
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	page := f.Page
	if page < 0 {
		page = 0
	}

	query := `SELECT id, subject, publisher, resource_type, resource_id, action, payload, emitted_at, logged_at
		FROM event_logs`
	args := []any{}
	if len(f.ResourceTypes) > 0 {
		query += ` WHERE resource_type = ANY($1)`
		args = append(args, f.ResourceTypes)
	}
	query += fmt.Sprintf(" ORDER BY emitted_at DESC LIMIT %d OFFSET %d", size, page*size)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.EventLog
	for rows.Next() {
		var e domain.EventLog
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Subject, &e.Publisher, &e.ResourceType, &e.ResourceID, &e.Action, &payload, &e.EmittedAt, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}
		e.Payload = payload
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// AppendSubscriptionEventLog writes one (subscription, event) observation.
func (s *Store) AppendSubscriptionEventLog(ctx context.Context, l domain.SubscriptionEventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_event_logs (id, subscription_id, subject, canonical_payload, gate_passed, gate_reason, webhook_sent, webhook_response_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.SubscriptionID, l.Subject, l.CanonicalPayload, l.GatePassed, l.GateReason, l.WebhookSent, l.WebhookResponseStatus)
	if err != nil {
		return fmt.Errorf("failed to append subscription event log: %w", err)
	}
	return nil
}

// SubscriptionEventLogFilter narrows GET /subscriptions/{id}/events
// (gate = allowed|blocked|all).
type SubscriptionEventLogFilter struct {
	SubscriptionID string
	Gate           string // "allowed", "blocked", or "" for all
	Page           int
	Size           int
}

// ListSubscriptionEventLogs is also the read path for channel_type=none
// (polling) subscriptions.
func (s *Store) ListSubscriptionEventLogs(ctx context.Context, f SubscriptionEventLogFilter) ([]domain.SubscriptionEventLog, error) {
	size := f.Size
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	page := f.Page
	if page < 0 {
		page = 0
	}

	query := `SELECT id, subscription_id, subject, canonical_payload, gate_passed, gate_reason, webhook_sent, webhook_response_status, created_at
		FROM subscription_event_logs WHERE subscription_id = $1`
	args := []any{f.SubscriptionID}
	switch f.Gate {
	case "allowed":
		query += ` AND gate_passed = true`
	case "blocked":
		query += ` AND gate_passed = false`
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", size, page*size)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription event logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.SubscriptionEventLog
	for rows.Next() {
		var l domain.SubscriptionEventLog
		var payload []byte
		if err := rows.Scan(&l.ID, &l.SubscriptionID, &l.Subject, &payload, &l.GatePassed, &l.GateReason, &l.WebhookSent, &l.WebhookResponseStatus, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription event log: %w", err)
		}
		l.CanonicalPayload = payload
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

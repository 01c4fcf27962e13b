// Package broker is a durable, subject-addressed message log backed by
// Postgres. Publish persists a message and fans it out to every durable
// consumer whose pattern matches, in one transaction. Consumers claim
// their own deliveries with SELECT ... FOR UPDATE SKIP LOCKED.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Client is the shared handle every publisher and consumer is built from.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient wraps an already-migrated pool.
func NewClient(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// EnsureStream is a documentation no-op: streams in this implementation are
// just a `stream` column value shared by every message published under it,
// not a provisioned resource. Kept as a method so callers written against
// the Stream Client's documented interface (`ensure_stream`) don't need a
// Postgres-specific special case.
func (c *Client) EnsureStream(_ context.Context, _ string) error { return nil }

// Publish persists body under subject on stream and fans it out to every
// durable consumer registered on that stream whose pattern matches. Fan-out
// and persistence happen in one transaction so a consumer registered
// concurrently either sees the message in its delivery set or not — never a
// partial state.
func (c *Client) Publish(ctx context.Context, stream, subject string, headers map[string]string, body []byte) error {
	if headers == nil {
		headers = map[string]string{}
	}
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin publish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var messageID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO broker_messages (stream, subject, headers, body) VALUES ($1, $2, $3, $4) RETURNING id`,
		stream, subject, headerJSON, body,
	).Scan(&messageID); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT durable_name, pattern FROM broker_consumers WHERE stream = $1`, stream)
	if err != nil {
		return fmt.Errorf("failed to load consumer registrations: %w", err)
	}
	var matched []string
	for rows.Next() {
		var durableName, pattern string
		if err := rows.Scan(&durableName, &pattern); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan consumer registration: %w", err)
		}
		if Matches(pattern, subject) {
			matched = append(matched, durableName)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate consumer registrations: %w", err)
	}

	for _, durableName := range matched {
		if _, err := tx.Exec(ctx,
			`INSERT INTO broker_deliveries (message_id, durable_name) VALUES ($1, $2)
			 ON CONFLICT (message_id, durable_name) DO NOTHING`,
			messageID, durableName,
		); err != nil {
			return fmt.Errorf("failed to create delivery for consumer %s: %w", durableName, err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, '')`, notifyChannel(durableName)); err != nil {
			return fmt.Errorf("failed to notify consumer %s: %w", durableName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}
	return nil
}

func notifyChannel(durableName string) string {
	return "broker_consumer_" + durableName
}

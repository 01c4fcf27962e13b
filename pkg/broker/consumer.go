package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConsumerConfig tunes polling, leasing, and redelivery for one durable
// consumer.
type ConsumerConfig struct {
	LeaseDuration      time.Duration
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	ClaimBatchSize     int
}

// DefaultConsumerConfig matches pkg/config.DefaultWorkerConfig's timings.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		LeaseDuration:      30 * time.Second,
		PollInterval:       1 * time.Second,
		PollIntervalJitter: 250 * time.Millisecond,
		ClaimBatchSize:     20,
	}
}

// Consumer is a bound durable subscription over a stream+pattern. Multiple
// workers may call Next concurrently under the same Consumer to share load;
// FOR UPDATE SKIP LOCKED ensures they never claim the same delivery twice.
//
// A Consumer holds one dedicated connection LISTENing on its notify
// channel so an idle Next wakes as soon as Publish commits a matching
// delivery; the jittered poll timer stays as the fallback for
// notifications missed while the listener reconnects. Call Close when the
// consumer is no longer needed to return the connection to the pool.
type Consumer struct {
	client      *Client
	durableName string
	stream      string
	pattern     string
	cfg         ConsumerConfig

	// listenMu admits exactly one goroutine to WaitForNotification at a
	// time (the conn is not safe for concurrent use); the rest of the
	// pool falls back to the timer for that cycle.
	listenMu sync.Mutex
	connMu   sync.Mutex
	conn     *pgxpool.Conn
}

// EnsureConsumer registers (or re-registers, idempotently) a durable
// consumer's subject filter. Durable names are stable per subscription so
// redelivery resumes across restarts, per the Stream Client's documented
// guarantee.
func (c *Client) EnsureConsumer(ctx context.Context, durableName, stream, pattern string, cfg ConsumerConfig) (*Consumer, error) {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO broker_consumers (durable_name, stream, pattern) VALUES ($1, $2, $3)
		 ON CONFLICT (durable_name) DO UPDATE SET stream = EXCLUDED.stream, pattern = EXCLUDED.pattern`,
		durableName, stream, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer %s: %w", durableName, err)
	}
	consumer := &Consumer{client: c, durableName: durableName, stream: stream, pattern: pattern, cfg: cfg}
	if err := consumer.startListening(ctx); err != nil {
		// Polling still delivers everything; the listener only shortens
		// idle latency.
		slog.Warn("broker consumer falling back to polling only", "durable_name", durableName, "error", err)
	}
	return consumer, nil
}

// RemoveConsumer unbinds a durable consumer, e.g. when a disposable
// subscription is used up or an operator deactivates one.
func (c *Client) RemoveConsumer(ctx context.Context, durableName string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM broker_consumers WHERE durable_name = $1`, durableName)
	if err != nil {
		return fmt.Errorf("failed to remove consumer %s: %w", durableName, err)
	}
	return nil
}

// Next blocks until a delivery is claimed or ctx is done. An idle Next
// wakes on the consumer's NOTIFY channel when Publish commits a matching
// delivery, with the jittered poll interval as the upper bound between
// claim attempts either way.
func (c *Consumer) Next(ctx context.Context) (*Delivery, error) {
	for {
		d, err := c.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		if err := c.waitForWake(ctx); err != nil {
			return nil, err
		}
	}
}

// startListening acquires a dedicated connection and LISTENs on the
// consumer's notify channel. pg_notify matches the channel name as an
// identifier, so the LISTEN statement quotes it the same way.
func (c *Consumer) startListening(ctx context.Context) error {
	conn, err := c.client.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	channel := pgx.Identifier{notifyChannel(c.durableName)}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// waitForWake blocks until a NOTIFY arrives, one poll interval elapses, or
// ctx is done — whichever comes first. Only one caller at a time may sit
// on the listen connection; concurrent callers (the map-worker pool shares
// one Consumer) take the plain timer for that cycle. A broken listen
// connection is dropped and the consumer degrades to polling only.
func (c *Consumer) waitForWake(ctx context.Context) error {
	if c.listenMu.TryLock() {
		defer c.listenMu.Unlock()
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			waitCtx, cancel := context.WithTimeout(ctx, c.pollInterval())
			defer cancel()
			_, err := conn.Conn().WaitForNotification(waitCtx)
			if err == nil || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("broker listen connection lost, falling back to polling", "durable_name", c.durableName, "error", err)
			c.dropListenConn()
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.pollInterval()):
		return nil
	}
}

func (c *Consumer) dropListenConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Release()
		c.conn = nil
	}
}

// Close returns the listen connection to the pool. The consumer keeps
// working afterward, on the poll timer alone.
func (c *Consumer) Close() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, _ = conn.Exec(ctx, "UNLISTEN *")
	cancel()
	conn.Release()
}

func (c *Consumer) pollInterval() time.Duration {
	jitter := c.cfg.PollIntervalJitter
	if jitter <= 0 {
		return c.cfg.PollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return c.cfg.PollInterval - jitter + offset
}

// tryClaim attempts one non-blocking claim pass, locking a batch of
// candidate rows (pending, or leased with an expired lease) with
// FOR UPDATE SKIP LOCKED and leasing the first one. Deliveries are only
// ever inserted for durable_names whose pattern matched at publish time
// (see Client.Publish), so the pattern check here is a defensive re-verify,
// not the primary filter. Candidates passed over are left untouched when
// the transaction commits and their row lock releases.
func (c *Consumer) tryClaim(ctx context.Context) (*Delivery, error) {
	tx, err := c.client.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT d.id, d.attempts, m.id, m.subject, m.headers, m.body, m.created_at
		FROM broker_deliveries d
		JOIN broker_messages m ON m.id = d.message_id
		WHERE d.durable_name = $1
		  AND d.available_at <= now()
		  AND (d.status = 'pending' OR (d.status = 'leased' AND d.leased_until < now()))
		ORDER BY d.id ASC
		LIMIT $2
		FOR UPDATE OF d SKIP LOCKED`,
		c.durableName, c.cfg.ClaimBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable deliveries: %w", err)
	}

	type candidate struct {
		deliveryID int64
		attempts   int
		msg        Message
	}
	var chosen *candidate
	for rows.Next() {
		var cand candidate
		var headerJSON []byte
		if err := rows.Scan(&cand.deliveryID, &cand.attempts, &cand.msg.ID, &cand.msg.Subject, &headerJSON, &cand.msg.Body, &cand.msg.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan delivery candidate: %w", err)
		}
		if err := json.Unmarshal(headerJSON, &cand.msg.Headers); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
		if Matches(c.pattern, cand.msg.Subject) {
			chosen = &cand
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery candidates: %w", err)
	}

	if chosen == nil {
		return nil, nil
	}

	leaseUntil := time.Now().Add(c.cfg.LeaseDuration)
	if _, err := tx.Exec(ctx,
		`UPDATE broker_deliveries SET status = 'leased', leased_by = $1, leased_until = $2, attempts = attempts + 1
		 WHERE id = $3`,
		c.durableName, leaseUntil, chosen.deliveryID,
	); err != nil {
		return nil, fmt.Errorf("failed to lease delivery: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	chosen.msg.Stream = c.stream
	deliveryID := chosen.deliveryID
	return &Delivery{
		Message:  chosen.msg,
		Attempts: chosen.attempts + 1,
		ack: func(ctx context.Context) error {
			_, err := c.client.pool.Exec(ctx,
				`UPDATE broker_deliveries SET status = 'acked', acked_at = now() WHERE id = $1`, deliveryID)
			return err
		},
		nak: func(ctx context.Context) error {
			_, err := c.client.pool.Exec(ctx,
				`UPDATE broker_deliveries SET status = 'pending', leased_by = NULL, leased_until = NULL WHERE id = $1`, deliveryID)
			return err
		},
	}, nil
}

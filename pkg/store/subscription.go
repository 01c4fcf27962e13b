package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
)

// CreateSubscription persists a new subscription. The id and pattern are
// already resolved by the caller (the API synthesizes pattern before
// calling this).
func (s *Store) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	channelJSON, err := json.Marshal(sub.ChannelConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal channel config: %w", err)
	}
	var gateJSON []byte
	if sub.Gate != nil {
		gateJSON, err = json.Marshal(sub.Gate)
		if err != nil {
			return fmt.Errorf("failed to marshal gate: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, description, pattern, channel_type, channel_config, gate, disposable, active, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.SubscriberID, sub.Description, sub.Pattern, string(sub.ChannelType), channelJSON, nullableJSON(gateJSON), sub.Disposable, sub.Active, sub.Used, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription fetches one subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, subscriber_id, description, pattern, channel_type, channel_config, gate, disposable, active, used, created_at
		FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// ListActiveSubscriptions is used at startup to rebind every durable
// consumer.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscriber_id, description, pattern, channel_type, channel_config, gate, disposable, active, used, created_at
		FROM subscriptions WHERE active = true ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRows(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListSubscriptions returns every subscription regardless of active
// state.
func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscriber_id, description, pattern, channel_type, channel_config, gate, disposable, active, used, created_at
		FROM subscriptions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRows(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// UpdateSubscriptionPattern rebinds a subscription to a new pattern. The
// caller is responsible for atomically rebinding the broker consumer
// alongside this write.
func (s *Store) UpdateSubscriptionPattern(ctx context.Context, id, pattern string) error {
	return s.updateOne(ctx, `UPDATE subscriptions SET pattern = $1 WHERE id = $2`, pattern, id)
}

// UpdateSubscriptionFields persists the partial-update fields not already
// covered by UpdateSubscriptionPattern or SetSubscriptionActive: channel type/config,
// gate, and disposability. Callers pass the already-merged Subscription so a
// PATCH that only touches one of these fields still writes back the others
// unchanged.
func (s *Store) UpdateSubscriptionFields(ctx context.Context, sub domain.Subscription) error {
	channelJSON, err := json.Marshal(sub.ChannelConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal channel config: %w", err)
	}
	var gateJSON []byte
	if sub.Gate != nil {
		gateJSON, err = json.Marshal(sub.Gate)
		if err != nil {
			return fmt.Errorf("failed to marshal gate: %w", err)
		}
	}
	return s.updateOne(ctx, `
		UPDATE subscriptions
		SET channel_type = $1, channel_config = $2, gate = $3, disposable = $4
		WHERE id = $5`,
		string(sub.ChannelType), channelJSON, nullableJSON(gateJSON), sub.Disposable, sub.ID)
}

// SetSubscriptionActive flips the active flag (operator deactivate/reactivate).
func (s *Store) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	return s.updateOne(ctx, `UPDATE subscriptions SET active = $1 WHERE id = $2`, active, id)
}

// MarkSubscriptionUsed implements the disposable-subscription transition:
// used=true, active=false, applied atomically in one compare-and-set UPDATE
// so a redelivered message can never mark (and therefore dispatch through)
// an already-used disposable subscription twice.
func (s *Store) MarkSubscriptionUsed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE subscriptions SET used = true, active = false WHERE id = $1 AND used = false`, id)
	if err != nil {
		return fmt.Errorf("failed to mark subscription used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetSubscription(ctx, id); errors.Is(getErr, errs.NotFound) {
			return errs.NotFound
		}
		return errs.AlreadyUsed
	}
	return nil
}

// DeleteSubscription removes a subscription row. The caller unbinds the
// broker consumer separately.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound
	}
	return nil
}

func (s *Store) updateOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	return scanSubscriptionRows(row)
}

func scanSubscriptionRows(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	var channelType string
	var channelJSON, gateJSON []byte
	if err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.Description, &sub.Pattern, &channelType, &channelJSON, &gateJSON, &sub.Disposable, &sub.Active, &sub.Used, &sub.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	sub.ChannelType = domain.ChannelType(channelType)
	if len(channelJSON) > 0 {
		if err := json.Unmarshal(channelJSON, &sub.ChannelConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel config: %w", err)
		}
	}
	if len(gateJSON) > 0 {
		var gate domain.Gate
		if err := json.Unmarshal(gateJSON, &gate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gate: %w", err)
		}
		sub.Gate = &gate
	}
	return &sub, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

package broker

import (
	"context"
	"log/slog"
	"time"
)

// RunOrphanSweep periodically resets deliveries whose lease expired without
// an ack back to pending so another worker in the same durable consumer can
// claim them. Every process running this is independent and idempotent —
// the UPDATE only affects rows whose lease has actually expired, so
// concurrent sweepers never double-recover the same row.
func RunOrphanSweep(ctx context.Context, client *Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweepOnce(ctx, client)
			if err != nil {
				slog.Error("orphan sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("recovered orphaned deliveries", "count", n)
			}
		}
	}
}

func sweepOnce(ctx context.Context, client *Client) (int64, error) {
	tag, err := client.pool.Exec(ctx,
		`UPDATE broker_deliveries
		 SET status = 'pending', leased_by = NULL, leased_until = NULL
		 WHERE status = 'leased' AND leased_until < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Budget tracks estimated USD spend against a daily cap. It rolls over at
// UTC midnight by keying on the day and letting the Redis key expire, so
// no cleanup job is needed.
type Budget struct {
	redis *redis.Client
	now   func() time.Time
}

// NewBudget wraps an already-connected Redis client. now is injectable so
// tests can assert rollover behavior across a UTC day boundary.
func NewBudget(client *redis.Client, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{redis: client, now: now}
}

func (b *Budget) dayKey() string {
	return "llm_budget:" + b.now().UTC().Format("2006-01-02")
}

// Spent returns today's accumulated estimated spend in USD.
func (b *Budget) Spent(ctx context.Context) (float64, error) {
	val, err := b.redis.Get(ctx, b.dayKey()).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read LLM budget: %w", err)
	}
	return val, nil
}

// Add increments today's spend by deltaUSD and returns the new total. The
// key carries a 25-hour TTL (one hour of slack past the UTC day boundary)
// so a day that never records a second call still rolls over on its own.
func (b *Budget) Add(ctx context.Context, deltaUSD float64) (float64, error) {
	key := b.dayKey()
	total, err := b.redis.IncrByFloat(ctx, key, deltaUSD).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to record LLM spend: %w", err)
	}
	b.redis.Expire(ctx, key, 25*time.Hour)
	return total, nil
}

// EstimateCostUSD applies a flat per-1k-token rate to a Usage. Real
// provider pricing varies by model; this is the estimator the post-call
// accounting uses. The pre-call budget check compares recorded spend to
// the cap and does not estimate.
func EstimateCostUSD(u Usage, inputRatePer1K, outputRatePer1K float64) float64 {
	return float64(u.InputTokens)/1000*inputRatePer1K + float64(u.OutputTokens)/1000*outputRatePer1K
}

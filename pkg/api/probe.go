package api

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/langhookd/langhookd/pkg/llm"
)

// reachabilitySnapshot is the last-known reachability of each
// non-Postgres-backed dependency. Broker reachability piggybacks on the
// store's health check since both share one Postgres pool.
type reachabilitySnapshot struct {
	Broker error
	Cache  error
	LLM    error
}

// reachabilityProbe caches dependency reachability and re-probes at most
// once per interval, so the health endpoint never blocks a request on a
// fresh round trip to every dependency.
type reachabilityProbe struct {
	redis    *redis.Client
	provider llm.Provider
	interval time.Duration

	mu       sync.Mutex
	last     reachabilitySnapshot
	lastProbe time.Time
}

// NewReachabilityProbe builds a probe and performs the initial check.
func NewReachabilityProbe(ctx context.Context, redisClient *redis.Client, provider llm.Provider, interval time.Duration) *reachabilityProbe {
	p := &reachabilityProbe{redis: redisClient, provider: provider, interval: interval}
	p.refresh(ctx)
	return p
}

// Snapshot returns the cached reachability, refreshing it first if the
// cache interval has elapsed.
func (p *reachabilityProbe) Snapshot(ctx context.Context) reachabilitySnapshot {
	p.mu.Lock()
	stale := time.Since(p.lastProbe) > p.interval
	p.mu.Unlock()
	if stale {
		p.refresh(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *reachabilityProbe) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var cacheErr error
	if p.redis != nil {
		cacheErr = p.redis.Ping(ctx).Err()
	}

	var llmErr error
	if pinger, ok := p.provider.(interface{ Ping(context.Context) error }); ok {
		llmErr = pinger.Ping(ctx)
	}

	p.mu.Lock()
	p.last = reachabilitySnapshot{Broker: nil, Cache: cacheErr, LLM: llmErr}
	p.lastProbe = time.Now()
	p.mu.Unlock()
}

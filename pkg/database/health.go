package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus reports store connectivity and pool saturation, surfaced by
// the /health endpoint.
type HealthStatus struct {
	Status          string  `json:"status"`
	ResponseTime    float64 `json:"response_time_ms"`
	TotalConns      int32   `json:"total_conns"`
	IdleConns       int32   `json:"idle_conns"`
	AcquiredConns   int32   `json:"acquired_conns"`
	MaxConns        int32   `json:"max_conns"`
	NewConnsCount   int64   `json:"new_conns_count"`
	AcquireCount    int64   `json:"acquire_count"`
	EmptyAcquireCnt int64   `json:"empty_acquire_count"`
}

// Health pings the pool and reports its current statistics.
func Health(ctx context.Context, pool *pgxpool.Pool) (*HealthStatus, error) {
	start := time.Now()

	if err := pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: float64(time.Since(start).Microseconds()) / 1000,
		}, err
	}

	stat := pool.Stat()

	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    float64(time.Since(start).Microseconds()) / 1000,
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		NewConnsCount:   stat.NewConnsCount(),
		AcquireCount:    stat.AcquireCount(),
		EmptyAcquireCnt: stat.EmptyAcquireCount(),
	}, nil
}

package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// PoolTuning holds the operational connection-pool knobs layered on top of
// STORE_DSN. STORE_DSN is the only required input; these are optional
// tuning env vars named after pgxpool's vocabulary (MaxConns/MinConns).
type PoolTuning struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// LoadPoolTuningFromEnv reads STORE_MAX_CONNS / STORE_MIN_CONNS /
// STORE_MAX_CONN_LIFETIME / STORE_MAX_CONN_IDLE_TIME, falling back to
// production-ready defaults when unset.
func LoadPoolTuningFromEnv() (PoolTuning, error) {
	maxConns, err := strconv.Atoi(getEnvOrDefault("STORE_MAX_CONNS", "25"))
	if err != nil {
		return PoolTuning{}, fmt.Errorf("invalid STORE_MAX_CONNS: %w", err)
	}
	minConns, err := strconv.Atoi(getEnvOrDefault("STORE_MIN_CONNS", "2"))
	if err != nil {
		return PoolTuning{}, fmt.Errorf("invalid STORE_MIN_CONNS: %w", err)
	}
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("STORE_MAX_CONN_LIFETIME", "1h"))
	if err != nil {
		return PoolTuning{}, fmt.Errorf("invalid STORE_MAX_CONN_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("STORE_MAX_CONN_IDLE_TIME", "15m"))
	if err != nil {
		return PoolTuning{}, fmt.Errorf("invalid STORE_MAX_CONN_IDLE_TIME: %w", err)
	}

	t := PoolTuning{
		MaxConns:        int32(maxConns),
		MinConns:        int32(minConns),
		MaxConnLifetime: maxLifetime,
		MaxConnIdleTime: maxIdleTime,
	}
	if err := t.Validate(); err != nil {
		return PoolTuning{}, err
	}
	return t, nil
}

// Validate checks the tuning values are internally consistent.
func (t PoolTuning) Validate() error {
	if t.MaxConns < 1 {
		return fmt.Errorf("STORE_MAX_CONNS must be at least 1")
	}
	if t.MinConns < 0 {
		return fmt.Errorf("STORE_MIN_CONNS cannot be negative")
	}
	if t.MinConns > t.MaxConns {
		return fmt.Errorf("STORE_MIN_CONNS (%d) cannot exceed STORE_MAX_CONNS (%d)", t.MinConns, t.MaxConns)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

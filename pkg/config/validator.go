package config

import "fmt"

// validate performs fail-fast validation of a resolved Config.
func validate(cfg *Config) error {
	if err := validateRateLimit(cfg.RateLimit); err != nil {
		return fmt.Errorf("rate limit validation failed: %w", err)
	}
	if err := validateGate(cfg.Gate); err != nil {
		return fmt.Errorf("gate validation failed: %w", err)
	}
	if err := validateWorker(cfg.Worker); err != nil {
		return fmt.Errorf("worker validation failed: %w", err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return NewValidationError("max_body_bytes", fmt.Errorf("must be positive, got %d", cfg.MaxBodyBytes))
	}
	return nil
}

func validateRateLimit(r RateLimitConfig) error {
	if r.Limit < 1 {
		return NewValidationError("rate_limit.limit", fmt.Errorf("must be at least 1, got %d", r.Limit))
	}
	if r.Window <= 0 {
		return NewValidationError("rate_limit.window", fmt.Errorf("must be positive, got %v", r.Window))
	}
	return nil
}

func validateGate(g GateConfig) error {
	if g.DailyCostLimitUSD <= 0 {
		return NewValidationError("gate.daily_cost_limit_usd", fmt.Errorf("must be positive, got %v", g.DailyCostLimitUSD))
	}
	if g.CostAlertThreshold < 0 || g.CostAlertThreshold > 1 {
		return NewValidationError("gate.cost_alert_threshold", fmt.Errorf("must be in [0,1], got %v", g.CostAlertThreshold))
	}
	return nil
}

func validateWorker(w *WorkerConfig) error {
	if w == nil {
		return fmt.Errorf("worker configuration is nil")
	}
	if w.MapWorkerCount < 1 || w.MapWorkerCount > 64 {
		return NewValidationError("worker.map_worker_count", fmt.Errorf("must be between 1 and 64, got %d", w.MapWorkerCount))
	}
	if w.PollInterval <= 0 {
		return NewValidationError("worker.poll_interval", fmt.Errorf("must be positive, got %v", w.PollInterval))
	}
	if w.PollIntervalJitter < 0 || w.PollIntervalJitter >= w.PollInterval {
		return NewValidationError("worker.poll_interval_jitter", fmt.Errorf("must be non-negative and less than poll_interval"))
	}
	if w.LeaseDuration <= 0 {
		return NewValidationError("worker.lease_duration", fmt.Errorf("must be positive, got %v", w.LeaseDuration))
	}
	if w.HeartbeatInterval <= 0 || w.HeartbeatInterval >= w.LeaseDuration {
		return NewValidationError("worker.heartbeat_interval", fmt.Errorf("must be positive and less than lease_duration to prevent false redelivery"))
	}
	if w.OrphanDetectionInterval <= 0 {
		return NewValidationError("worker.orphan_detection_interval", fmt.Errorf("must be positive, got %v", w.OrphanDetectionInterval))
	}
	if w.GracefulShutdownTimeout <= 0 {
		return NewValidationError("worker.graceful_shutdown_timeout", fmt.Errorf("must be positive, got %v", w.GracefulShutdownTimeout))
	}
	return nil
}

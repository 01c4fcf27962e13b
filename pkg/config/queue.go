package config

import "time"

// WorkerConfig controls how the map worker pool and subscription
// consumers poll, lease, and recover broker deliveries.
type WorkerConfig struct {
	// MapWorkerCount is the number of goroutines concurrently draining
	// the raw.* subject.
	MapWorkerCount int `yaml:"map_worker_count"`

	// PollInterval is the base interval consumers use between claim
	// attempts when idle (no LISTEN wakeup arrived).
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval so that
	// many idle consumers don't thunder the store at the same instant.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// LeaseDuration is how long a claimed-but-unacked message is held
	// before it becomes eligible for redelivery to another consumer.
	LeaseDuration time.Duration `yaml:"lease_duration"`

	// HeartbeatInterval is validated to be positive and shorter than
	// LeaseDuration. No component renews a lease with it: a delivery still
	// in flight after LeaseDuration becomes claimable again.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often the lease-sweep scans for
	// expired, un-renewed leases.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// GracefulShutdownTimeout bounds how long the HTTP server drains
	// in-flight requests at shutdown. The matchers and the map-worker pool
	// are stopped afterwards with no deadline.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultWorkerConfig returns the built-in worker defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		MapWorkerCount:          5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		LeaseDuration:           30 * time.Second,
		HeartbeatInterval:       10 * time.Second,
		OrphanDetectionInterval: 15 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

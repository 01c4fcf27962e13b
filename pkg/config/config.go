// Package config loads langhookd's runtime configuration: environment
// variables (optionally loaded from a .env file via godotenv) are the
// primary surface, an optional YAML overlay supplies non-secret
// operational tuning, and dario.cat/mergo merges the overlay onto
// built-in defaults. See Initialize.
package config

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	configDir string

	BrokerURL string
	CacheURL  string
	StoreDSN  string

	MaxBodyBytes int64
	RateLimit    RateLimitConfig

	// Publishers maps a lowercase publisher name (the {source} path
	// segment of POST /ingest/{source}) to its configured HMAC secret.
	// An entry's absence means signature verification is skipped for
	// that publisher (RawEvent.SignatureValid=true).
	Publishers map[string]string

	LLM  LLMConfig
	Gate GateConfig

	EventLoggingEnabled bool
	ServerPath          string

	Worker *WorkerConfig
}

// ConfigDir returns the directory Initialize loaded the optional YAML
// overlay from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes the loaded configuration for a single startup log line.
type Stats struct {
	Publishers   int
	RateLimit    string
	LLMProvider  string
	EventLogging bool
}

func (c *Config) Stats() Stats {
	return Stats{
		Publishers:   len(c.Publishers),
		RateLimit:    c.RateLimitString(),
		LLMProvider:  c.LLM.Provider,
		EventLogging: c.EventLoggingEnabled,
	}
}

func (c *Config) RateLimitString() string {
	return formatRateLimit(c.RateLimit)
}

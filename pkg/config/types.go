package config

import "time"

// RateLimitConfig is the sliding-window limit applied per source IP.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// LLMConfig configures the external language model used for mapping
// synthesis, subject-filter synthesis, and gate evaluation.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"-"` // never logged, never serialized
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// GateConfig bounds the LLM Broker's daily spend.
type GateConfig struct {
	DailyCostLimitUSD  float64 `yaml:"daily_cost_limit_usd"`
	CostAlertThreshold float64 `yaml:"cost_alert_threshold"`
}

// LanghookdYAMLConfig is the optional, non-secret overlay file
// (langhookd.yaml). Every field here also has an environment-derived or
// built-in default, so the file itself is optional.
type LanghookdYAMLConfig struct {
	MaxBodyBytes int64         `yaml:"max_body_bytes,omitempty"`
	RateLimit    *rateLimitRaw `yaml:"rate_limit,omitempty"`
	Gate         *GateConfig   `yaml:"gate,omitempty"`
	Worker       *WorkerConfig `yaml:"worker,omitempty"`
	ServerPath   string        `yaml:"server_path,omitempty"`
}

// rateLimitRaw mirrors the external RATE_LIMIT="200/minute" string format
// so the YAML overlay can express the same shape.
type rateLimitRaw struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const overlayFilename = "langhookd.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load a .env file if present (godotenv; missing file is not an error)
//  2. Load the optional langhookd.yaml overlay, expanding ${VAR} references
//  3. Merge built-in defaults with the overlay (mergo, overlay wins)
//  4. Resolve the primary settings from environment variables
//  5. Discover per-publisher secrets from {PUBLISHER}_SECRET env vars
//  6. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	overlay, err := loadOverlay(configDir)
	if err != nil {
		return nil, err
	}

	worker := DefaultWorkerConfig()
	if overlay.Worker != nil {
		if err := mergo.Merge(worker, overlay.Worker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge worker config: %w", err)
		}
	}

	maxBody := overlay.MaxBodyBytes
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			maxBody = n
		} else {
			log.Warn("invalid MAX_BODY_BYTES, ignoring", "value", v, "error", err)
		}
	}
	if maxBody == 0 {
		maxBody = 1 << 20 // 1 MiB
	}

	rateLimit := RateLimitConfig{Limit: 200, Window: time.Minute}
	if overlay.RateLimit != nil {
		if d, err := time.ParseDuration(overlay.RateLimit.Window); err == nil {
			rateLimit = RateLimitConfig{Limit: overlay.RateLimit.Limit, Window: d}
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		parsed, err := parseRateLimit(v)
		if err != nil {
			return nil, NewLoadError("RATE_LIMIT", err)
		}
		rateLimit = parsed
	}

	gate := GateConfig{DailyCostLimitUSD: 10, CostAlertThreshold: 0.8}
	if overlay.Gate != nil {
		gate = *overlay.Gate
	}
	if v := os.Getenv("GATE_DAILY_COST_LIMIT_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			gate.DailyCostLimitUSD = f
		}
	}
	if v := os.Getenv("GATE_COST_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			gate.CostAlertThreshold = f
		}
	}

	llm := LLMConfig{
		Provider:    os.Getenv("LLM_PROVIDER"),
		BaseURL:     os.Getenv("LLM_BASE_URL"),
		APIKey:      os.Getenv("LLM_API_KEY"),
		Model:       getenvDefault("LLM_MODEL", "gpt-4o-mini"),
		Temperature: getenvFloatDefault("LLM_TEMPERATURE", 0.2),
		MaxTokens:   int(getenvFloatDefault("LLM_MAX_TOKENS", 512)),
	}

	serverPath := overlay.ServerPath
	if v := os.Getenv("SERVER_PATH"); v != "" {
		serverPath = v
	}

	cfg := &Config{
		configDir:           configDir,
		BrokerURL:           os.Getenv("BROKER_URL"),
		CacheURL:            os.Getenv("CACHE_URL"),
		StoreDSN:            os.Getenv("STORE_DSN"),
		MaxBodyBytes:        maxBody,
		RateLimit:           rateLimit,
		Publishers:          discoverPublisherSecrets(),
		LLM:                 llm,
		Gate:                gate,
		EventLoggingEnabled: getenvBoolDefault("EVENT_LOGGING_ENABLED", true),
		ServerPath:          serverPath,
		Worker:              worker,
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"publishers", stats.Publishers,
		"rate_limit", stats.RateLimit,
		"llm_provider", stats.LLMProvider,
		"event_logging", stats.EventLogging)

	return cfg, nil
}

func loadOverlay(configDir string) (*LanghookdYAMLConfig, error) {
	overlay := &LanghookdYAMLConfig{}
	path := filepath.Join(configDir, overlayFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return nil, NewLoadError(overlayFilename, err)
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, NewLoadError(overlayFilename, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return overlay, nil
}

// discoverPublisherSecrets scans the environment for NAME_SECRET entries
// and lowercases NAME into the publisher key used in POST /ingest/{source}
// and in Signature Verifier lookups.
func discoverPublisherSecrets() map[string]string {
	secrets := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasSuffix(name, "_SECRET") {
			continue
		}
		publisher := strings.ToLower(strings.TrimSuffix(name, "_SECRET"))
		if publisher == "" {
			continue
		}
		secrets[publisher] = value
	}
	return secrets
}

// parseRateLimit parses the "200/minute" shorthand used by RATE_LIMIT.
func parseRateLimit(s string) (RateLimitConfig, error) {
	limitStr, windowStr, ok := strings.Cut(s, "/")
	if !ok {
		return RateLimitConfig{}, fmt.Errorf("%w: RATE_LIMIT %q must be COUNT/WINDOW", ErrInvalidValue, s)
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("%w: RATE_LIMIT count %q: %v", ErrInvalidValue, limitStr, err)
	}
	window, err := parseWindow(windowStr)
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("%w: RATE_LIMIT window %q: %v", ErrInvalidValue, windowStr, err)
	}
	return RateLimitConfig{Limit: limit, Window: window}, nil
}

func parseWindow(s string) (time.Duration, error) {
	switch strings.ToLower(s) {
	case "second", "seconds", "sec":
		return time.Second, nil
	case "minute", "minutes", "min":
		return time.Minute, nil
	case "hour", "hours":
		return time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}

func formatRateLimit(r RateLimitConfig) string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloatDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

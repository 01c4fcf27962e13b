// Command langhookd loads configuration, connects every backing store,
// wires the ingest handler, map worker pool, and subscription matcher
// registry together, and serves the HTTP API until an OS signal asks it
// to drain and stop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/langhookd/langhookd/pkg/api"
	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/database"
	"github.com/langhookd/langhookd/pkg/ingest"
	"github.com/langhookd/langhookd/pkg/llm"
	"github.com/langhookd/langhookd/pkg/mapping"
	"github.com/langhookd/langhookd/pkg/mapworker"
	"github.com/langhookd/langhookd/pkg/matcher"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/ratelimit"
	"github.com/langhookd/langhookd/pkg/store"
	"github.com/langhookd/langhookd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	addr := flag.String("addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *addr); err != nil {
		slog.Error("langhookd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, addr string) error {
	slog.Info("starting langhookd", "version", version.Full())

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}

	dbClient, err := database.NewClient(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer dbClient.Close()
	slog.Info("connected to store")

	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warn("cache not reachable at startup", "error", err)
	} else {
		slog.Info("connected to cache")
	}

	brokerClient := broker.NewClient(dbClient.Pool)
	st := store.New(dbClient.Pool)
	m := metrics.New()

	limiter := ratelimit.New(redisClient)
	ingestHandler := ingest.New(brokerClient, limiter, cfg, m)

	llmProvider := llm.NewHTTPProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	budget := llm.NewBudget(redisClient, time.Now)
	llmBroker := llm.NewBroker(llmProvider, budget, cfg.Gate, m)

	engine := mapping.NewEngine(st, llmBroker, time.Now)
	mapPool, err := mapworker.NewPool(ctx, brokerClient, st, engine, cfg, m)
	if err != nil {
		return err
	}

	consumerCfg := broker.ConsumerConfig{
		LeaseDuration:      cfg.Worker.LeaseDuration,
		PollInterval:       cfg.Worker.PollInterval,
		PollIntervalJitter: cfg.Worker.PollIntervalJitter,
		ClaimBatchSize:     20,
	}
	registry := matcher.NewRegistry(brokerClient, st, llmBroker, m, consumerCfg)
	if err := registry.LoadActive(ctx); err != nil {
		slog.Error("failed to load active subscriptions", "error", err)
	}

	mapPool.Start(ctx)
	go broker.RunOrphanSweep(ctx, brokerClient, cfg.Worker.OrphanDetectionInterval)

	server := api.NewServer(cfg, st, llmBroker, registry, ingestHandler, m, dbClient)
	server.SetProbe(api.NewReachabilityProbe(ctx, redisClient, llmProvider, 30*time.Second))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error draining HTTP server", "error", err)
	}
	registry.StopAll()
	mapPool.Stop()

	slog.Info("langhookd stopped cleanly")
	return nil
}

package mapworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/database"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/llm"
	"github.com/langhookd/langhookd/pkg/mapping"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
)

const githubPREvent = `{"action":"opened","pull_request":{"number":1374},"repository":{"name":"langhookd"}}`

const githubPREventExpr = `{"publisher":{"const":"github"},"resource_type":{"const":"pull_request"},"resource_id":{"path":"pull_request.number"},"action":{"path":"action"}}`

// fakeSynthesizer stands in for the LLM Broker's mapping synthesis call
// (pkg/mapping.Synthesizer), returning either a fixed expression or a
// fixed error so the mapping engine's store-and-evaluate path is
// exercised without an LLM dependency.
type fakeSynthesizer struct {
	expression string
	err        error
}

func (f *fakeSynthesizer) SynthesizeMapping(_ context.Context, _ string, _ []byte) (string, []string, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.expression, nil, nil
}

func newTestPool(t *testing.T, synth mapping.Synthesizer) (*Pool, *broker.Client, *store.Store) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dbClient, err := database.NewClient(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(dbClient.Close)

	st := store.New(dbClient.Pool)
	brokerClient := broker.NewClient(dbClient.Pool)
	engine := mapping.NewEngine(st, synth, nil)
	cfg := &config.Config{Worker: config.DefaultWorkerConfig(), EventLoggingEnabled: true}

	pool, err := NewPool(ctx, brokerClient, st, engine, cfg, metrics.New())
	require.NoError(t, err)
	return pool, brokerClient, st
}

func publishRaw(t *testing.T, ctx context.Context, client *broker.Client, source, payload string) domain.RawEvent {
	t.Helper()
	raw := domain.RawEvent{
		ID:             uuid.NewString(),
		ReceivedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Source:         source,
		Headers:        map[string]string{},
		SignatureValid: true,
		Payload:        json.RawMessage(payload),
	}
	body, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, "raw", "raw."+source, nil, body))
	return raw
}

// TestPool_MapsGitHubPullRequestToCanonicalEvent: a raw
// GitHub pull_request event is mapped, published on the derived canonical
// subject with a bare-number resource.id, and schema-registered.
func TestPool_MapsGitHubPullRequestToCanonicalEvent(t *testing.T) {
	pool, brokerClient, st := newTestPool(t, &fakeSynthesizer{expression: githubPREventExpr})
	ctx := context.Background()

	canonicalConsumer, err := brokerClient.EnsureConsumer(ctx, "test-canonical", "canonical", "langhook.events.>", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(canonicalConsumer.Close)

	raw := publishRaw(t, ctx, brokerClient, "github", githubPREvent)

	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	delivery, err := canonicalConsumer.Next(claimCtx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, "langhook.events.github.pull_request.1374.opened", delivery.Message.Subject)

	var canonical domain.CanonicalEvent
	require.NoError(t, json.Unmarshal(delivery.Message.Body, &canonical))
	assert.Equal(t, raw.ID, canonical.ID)
	assert.True(t, canonical.Timestamp.Equal(raw.ReceivedAt), "canonical timestamp must be the raw event's received_at, not wall-clock time")
	assert.Equal(t, "github", canonical.Publisher)
	assert.Equal(t, "pull_request", canonical.Resource.Type)
	assert.Equal(t, "opened", canonical.Action)

	idJSON, err := json.Marshal(canonical.Resource.ID)
	require.NoError(t, err)
	assert.Equal(t, "1374", string(idJSON), "a numeric resource id must marshal as a bare JSON number")

	snapshot, err := st.LoadSchemaRegistry(ctx)
	require.NoError(t, err)
	assert.Contains(t, snapshot.Publishers, "github")
	assert.Contains(t, snapshot.ResourceTypes["github"], "pull_request")

	logs, err := st.ListEventLogs(ctx, store.EventLogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "1374", logs[0].ResourceID)
	assert.JSONEq(t, githubPREvent, string(logs[0].Payload))
}

// TestPool_SynthesisFailureDeadLetters: when synthesis itself fails, the
// raw event and failure reason are published to dlq.map.{source} and the
// delivery is acked rather than redelivered forever.
func TestPool_SynthesisFailureDeadLetters(t *testing.T) {
	pool, brokerClient, _ := newTestPool(t, &fakeSynthesizer{err: errors.New("synthesis unavailable")})
	ctx := context.Background()

	dlqConsumer, err := brokerClient.EnsureConsumer(ctx, "test-dlq", "dlq", "dlq.map.*", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(dlqConsumer.Close)

	publishRaw(t, ctx, brokerClient, "github", `{"action":"opened"}`)

	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	delivery, err := dlqConsumer.Next(claimCtx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, "dlq.map.github", delivery.Message.Subject)
}

type fakeProvider struct{}

func (fakeProvider) Complete(_ context.Context, _ string) (string, llm.Usage, error) {
	return "", llm.Usage{}, nil
}

// TestPool_BudgetExhaustedDeadLetters: a raw event whose
// publisher has no stored mapping requires synthesis, but today's spend has
// already crossed the configured daily cap. The LLM Broker's budget check
// must short-circuit before the provider is ever called, surface as
// budget-exhausted, and the worker must route it through the same DLQ path
// as any other synthesis failure rather than redeliver it forever.
func TestPool_BudgetExhaustedDeadLetters(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	budget := llm.NewBudget(redisClient, nil)
	_, err = budget.Add(ctx, 0.01)
	require.NoError(t, err, "pre-seed today's spend at the daily cap")

	m := metrics.New()
	gate := config.GateConfig{DailyCostLimitUSD: 0.01}
	llmBroker := llm.NewBroker(fakeProvider{}, budget, gate, m)

	pool, brokerClient, _ := newTestPool(t, llmBroker)

	dlqConsumer, err := brokerClient.EnsureConsumer(ctx, "test-dlq-budget", "dlq", "dlq.map.*", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(dlqConsumer.Close)

	publishRaw(t, ctx, brokerClient, "github", githubPREvent)

	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	delivery, err := dlqConsumer.Next(claimCtx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, "dlq.map.github", delivery.Message.Subject, "a budget-exhausted synthesis attempt must dead-letter the offending raw event rather than redeliver it forever")
}

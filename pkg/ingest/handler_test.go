package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/database"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/ratelimit"
)

const githubPREvent = `{"action":"opened","pull_request":{"number":1374},"repository":{"name":"langhookd"}}`

func newTestHandler(t *testing.T, publishers map[string]string) (*Handler, *broker.Client) {
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

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	brokerClient := broker.NewClient(dbClient.Pool)
	limiter := ratelimit.New(redisClient)
	cfg := &config.Config{
		MaxBodyBytes: 1 << 20,
		RateLimit:    config.RateLimitConfig{Limit: 100, Window: time.Minute},
		Publishers:   publishers,
	}
	return New(brokerClient, limiter, cfg, metrics.New()), brokerClient
}

func newIngestContext(source, body string) (*echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/ingest/"+source, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e := echo.New()
	c := e.NewContext(req, rec)
	c.SetPathValues(echo.PathValues{{Name: "source", Value: source}})
	return c, rec
}

// TestIngest_ValidGitHubPREventPublishesRawEvent: a
// well-formed GitHub pull_request webhook with no configured secret is
// accepted and republished on raw.github with the body intact.
func TestIngest_ValidGitHubPREventPublishesRawEvent(t *testing.T) {
	h, brokerClient := newTestHandler(t, nil)
	ctx := context.Background()

	consumer, err := brokerClient.EnsureConsumer(ctx, "test-raw", "raw", "raw.*", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	c, rec := newIngestContext("github", githubPREvent)
	require.NoError(t, h.Ingest(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	delivery, err := consumer.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, "raw.github", delivery.Message.Subject)

	var raw domain.RawEvent
	require.NoError(t, json.Unmarshal(delivery.Message.Body, &raw))
	assert.Equal(t, "github", raw.Source)
	assert.True(t, raw.SignatureValid)
	assert.JSONEq(t, githubPREvent, string(raw.Payload))
}

// TestIngest_InvalidJSONDeadLetters: a non-JSON body is
// rejected with 400 and dead-lettered onto dlq.ingest.{source} rather than
// published as a raw event.
func TestIngest_InvalidJSONDeadLetters(t *testing.T) {
	h, brokerClient := newTestHandler(t, nil)
	ctx := context.Background()

	rawConsumer, err := brokerClient.EnsureConsumer(ctx, "test-raw-2", "raw", "raw.*", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(rawConsumer.Close)
	dlqConsumer, err := brokerClient.EnsureConsumer(ctx, "test-dlq", "dlq", "dlq.ingest.*", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(dlqConsumer.Close)

	c, _ := newIngestContext("github", "{not valid json")
	err = h.Ingest(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)

	dlqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	dlqDelivery, err := dlqConsumer.Next(dlqCtx)
	require.NoError(t, err)
	require.NotNil(t, dlqDelivery)
	assert.Equal(t, "dlq.ingest.github", dlqDelivery.Message.Subject)

	noRawCtx, cancel2 := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel2()
	_, err = rawConsumer.Next(noRawCtx)
	assert.Error(t, err, "no raw event should ever be published for an invalid-JSON body")
}

// TestIngest_SignatureMismatchRejects: a configured
// HMAC secret plus a missing/invalid signature header is rejected with
// 401 and never reaches the broker.
func TestIngest_SignatureMismatchRejects(t *testing.T) {
	h, brokerClient := newTestHandler(t, map[string]string{"github": "s3cr3t"})
	ctx := context.Background()

	consumer, err := brokerClient.EnsureConsumer(ctx, "test-raw-3", "raw", "raw.*", broker.DefaultConsumerConfig())
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	c, _ := newIngestContext("github", githubPREvent)
	c.Request().Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	err = h.Ingest(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)

	noneCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = consumer.Next(noneCtx)
	assert.Error(t, err, "a signature mismatch must never publish a raw event")
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/database"
	"github.com/langhookd/langhookd/pkg/llm"
	"github.com/langhookd/langhookd/pkg/matcher"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
)

// fakeProvider answers every completion with a fixed JSON body, enough to
// drive SynthesizeSubjectFilter through its validate-against-schema path.
type fakeProvider struct{ text string }

func (f *fakeProvider) Complete(_ context.Context, _ string) (string, llm.Usage, error) {
	return f.text, llm.Usage{InputTokens: 1, OutputTokens: 1}, nil
}

func newTestServer(t *testing.T) *Server {
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

	st := store.New(dbClient.Pool)
	require.NoError(t, st.UpsertSchemaTriple(ctx, "github", "issue", "opened"))

	brokerClient := broker.NewClient(dbClient.Pool)
	m := metrics.New()
	budget := llm.NewBudget(redisClient, time.Now)
	gate := config.GateConfig{DailyCostLimitUSD: 100, CostAlertThreshold: 0.8}
	llmBroker := llm.NewBroker(&fakeProvider{text: "langhook.events.github.issue.*.opened"}, budget, gate, m)

	registry := matcher.NewRegistry(brokerClient, st, llmBroker, m, broker.DefaultConsumerConfig())

	cfg := &config.Config{MaxBodyBytes: 1 << 20}
	return NewServer(cfg, st, llmBroker, registry, nil, m, dbClient)
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t)
	t.Cleanup(s.registry.StopAll)

	body, err := json.Marshal(createSubscriptionRequest{
		SubscriberID: "ops-team",
		Description:  "notify on opened github issues",
		ChannelType:  "none",
	})
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.createSubscriptionHandler(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created subscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.True(t, created.Active)
	require.False(t, created.Used)

	// GET by id round-trips the created subscription.
	getReq := httptest.NewRequest(http.MethodGet, "/subscriptions/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	getCtx := e.NewContext(getReq, getRec)
	getCtx.SetPathValues(echo.PathValues{{Name: "id", Value: created.ID}})
	require.NoError(t, s.getSubscriptionHandler(getCtx))
	require.Equal(t, http.StatusOK, getRec.Code)

	// LIST includes the created subscription.
	listReq := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
	listRec := httptest.NewRecorder()
	listCtx := e.NewContext(listReq, listRec)
	require.NoError(t, s.listSubscriptionsHandler(listCtx))
	var listed []subscriptionResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	// DELETE removes it from the store and unbinds its consumer.
	delReq := httptest.NewRequest(http.MethodDelete, "/subscriptions/"+created.ID, nil)
	delRec := httptest.NewRecorder()
	delCtx := e.NewContext(delReq, delRec)
	delCtx.SetPathValues(echo.PathValues{{Name: "id", Value: created.ID}})
	require.NoError(t, s.deleteSubscriptionHandler(delCtx))
	require.Equal(t, http.StatusNoContent, delRec.Code)

	getAfterDeleteRec := httptest.NewRecorder()
	getAfterDeleteCtx := e.NewContext(httptest.NewRequest(http.MethodGet, "/subscriptions/"+created.ID, nil), getAfterDeleteRec)
	getAfterDeleteCtx.SetPathValues(echo.PathValues{{Name: "id", Value: created.ID}})
	err = s.getSubscriptionHandler(getAfterDeleteCtx)
	require.Error(t, err, "deleted subscription must not be gettable")
}

func TestGetSchemaHandler_ReturnsDiscoveredTriples(t *testing.T) {
	s := newTestServer(t)
	t.Cleanup(s.registry.StopAll)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/schema", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.getSchemaHandler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp schemaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Publishers, "github")
	require.Contains(t, resp.ResourceTypes["github"], "issue")
	require.Contains(t, resp.Actions, "opened")
}

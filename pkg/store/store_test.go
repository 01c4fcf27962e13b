package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/langhookd/langhookd/pkg/database"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
)

func newTestStore(t *testing.T) *Store {
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

	return New(dbClient.Pool)
}

func TestMappingCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fp := "fp-123"
	require.NoError(t, s.CreateMapping(ctx, domain.IngestMapping{
		Fingerprint: fp,
		Publisher:   "github",
		Expression:  ".resource.type = \"issue\"",
		Source:      domain.MappingSourceSynthesized,
	}))

	m, err := s.GetMapping(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "github", m.Publisher)
	assert.Equal(t, domain.MappingSourceSynthesized, m.Source)

	require.NoError(t, s.UpdateMappingExpression(ctx, fp, "new-expr", []string{"$.a"}))
	m2, err := s.GetMapping(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "new-expr", m2.Expression)
	assert.Equal(t, []string{"$.a"}, m2.EventFieldExpressions)

	_, err = s.GetMapping(ctx, "missing")
	assert.True(t, errors.Is(err, errs.NotFound))
}

func TestSchemaUpsertAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertSchemaTriple(ctx, "github", "issue", "opened"))
	require.NoError(t, s.UpsertSchemaTriple(ctx, "github", "issue", "opened"))
	require.NoError(t, s.UpsertSchemaTriple(ctx, "github", "pr", "merged"))

	snap, err := s.LoadSchemaRegistry(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"github"}, snap.Publishers)
	assert.ElementsMatch(t, []string{"issue", "pr"}, snap.ResourceTypes["github"])
	assert.Len(t, snap.Triples, 2)

	require.NoError(t, s.DeleteSchema(ctx, "github", "pr", ""))
	snap2, err := s.LoadSchemaRegistry(ctx)
	require.NoError(t, err)
	assert.Len(t, snap2.Triples, 1)
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub := domain.Subscription{
		ID:           "sub-1",
		SubscriberID: "team-a",
		Description:  "github issues",
		Pattern:      "langhook.events.github.issue.*",
		ChannelType:  domain.ChannelWebhook,
		ChannelConfig: map[string]string{"url": "https://example.com/hook"},
		Disposable:   true,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	got, err := s.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", got.ChannelConfig["url"])
	assert.True(t, got.Active)
	assert.False(t, got.Used)

	active, err := s.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, s.MarkSubscriptionUsed(ctx, "sub-1"))
	got2, err := s.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, got2.Used)
	assert.False(t, got2.Active)

	active2, err := s.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active2)

	require.NoError(t, s.DeleteSubscription(ctx, "sub-1"))
	err = s.DeleteSubscription(ctx, "sub-1")
	assert.True(t, errors.Is(err, errs.NotFound))
}

func TestEventLogPaginationCeiling(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEventLog(ctx, domain.EventLog{
			ID:           "evt-" + string(rune('a'+i)),
			Subject:      "langhook.events.github.issue.opened",
			Publisher:    "github",
			ResourceType: "issue",
			ResourceID:   "1",
			Action:       "opened",
			Payload:      []byte(`{}`),
			EmittedAt:    time.Now().UTC(),
		}))
	}

	logs, err := s.ListEventLogs(ctx, EventLogFilter{Size: 10000})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	logs2, err := s.ListEventLogs(ctx, EventLogFilter{ResourceTypes: []string{"pr"}})
	require.NoError(t, err)
	assert.Empty(t, logs2)
}

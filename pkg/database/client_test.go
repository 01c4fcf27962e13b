package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestClient(t *testing.T) *Client {
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

	client, err := NewClient(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(client.Close)

	return client
}

func TestClient_MigratesAndConnects(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	health, err := Health(ctx, client.Pool)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxConns, int32(0))
}

func TestClient_SchemaRegistryTableExists(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Pool.Exec(ctx,
		`INSERT INTO schema_registry (publisher, resource_type, action) VALUES ($1, $2, $3)
		 ON CONFLICT (publisher, resource_type, action) DO UPDATE SET last_seen_at = now()`,
		"github", "issue", "opened")
	require.NoError(t, err)

	var count int
	err = client.Pool.QueryRow(ctx, `SELECT count(*) FROM schema_registry WHERE publisher = $1`, "github").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPoolTuning_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tuning  PoolTuning
		wantErr bool
	}{
		{"valid", PoolTuning{MaxConns: 10, MinConns: 2}, false},
		{"zero max conns", PoolTuning{MaxConns: 0, MinConns: 0}, true},
		{"negative min conns", PoolTuning{MaxConns: 10, MinConns: -1}, true},
		{"min exceeds max", PoolTuning{MaxConns: 5, MinConns: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tuning.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

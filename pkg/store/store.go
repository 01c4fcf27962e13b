// Package store holds hand-written pgx repositories over the schema in
// pkg/database/migrations. All writes are idempotent on natural keys
// (mapping fingerprint, schema triple, subscription id) and use short,
// single-purpose transactions.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store groups every repository behind one constructor so callers wire a
// single pool once.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

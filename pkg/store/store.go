// Package store defines the narrow, dialect-neutral SQL access contract
// shared by the embedded (single-process) and server (distributed) gitswarm
// deployments (spec.md §4.A). Call sites write a single normalised SQL
// dialect; each backend is responsible for translating it to its underlying
// engine.
package store

import (
	"context"
	"database/sql"
)

// Store is the contract every backend (embedded, server) satisfies.
// Transaction gives callers a nested Store bound to the active transaction,
// so domain code never needs to know whether it is running inside one.
type Store interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Close() error
}

// Migration is one ordered, idempotent schema step.
type Migration struct {
	Version int
	SQL     string
}

// Package server provides the distributed store backend used by the
// gitswarmd server deployment (spec.md §4.A), backed by Postgres via
// jmoiron/sqlx and lib/pq.
package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/store"
)

// Backend is the server Store implementation. Call-site SQL is already
// Postgres-flavoured, so the only translation needed is rebinding '?'
// markers to lib/pq's '$N' positional form; IdentityDialect leaves the
// SQL itself untouched.
type Backend struct {
	db      *sqlx.DB
	dialect store.Dialect
}

// Open connects to Postgres at dsn and applies every pending migration.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, gwerrors.Unavailable("server store", err)
	}

	dialect := store.IdentityDialect{}
	migrations, err := store.LoadMigrations()
	if err != nil {
		return nil, gwerrors.Internal("load migrations", err)
	}
	if err := store.ApplyMigrations(ctx, db.DB, dialect, migrations); err != nil {
		return nil, err
	}

	return &Backend{db: db, dialect: dialect}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) rebind(query string) string {
	return b.db.Rebind(b.dialect.Rewrite(query))
}

func (b *Backend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("server store", err)
	}
	return rows, nil
}

func (b *Backend) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.db.QueryRowContext(ctx, b.rebind(query), args...)
}

func (b *Backend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := b.db.ExecContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("server store", err)
	}
	return res, nil
}

// Transaction runs fn inside a *sqlx.Tx wrapped as a Store, committing on a
// nil return and rolling back otherwise. Grounded on
// r3e-network-service_layer/pkg/storage/postgres/base_store.go's
// BeginTx/CommitTx/RollbackTx shape.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	sqlTx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return gwerrors.Unavailable("server store", err)
	}
	txStore := &txBackend{tx: sqlTx, dialect: b.dialect}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return gwerrors.Internal("rollback failed", fmt.Errorf("%v (original: %w)", rbErr, err))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return gwerrors.Unavailable("server store", err)
	}
	return nil
}

// txBackend is a Store bound to an in-flight transaction.
type txBackend struct {
	tx      *sqlx.Tx
	dialect store.Dialect
}

func (t *txBackend) Close() error { return nil }

func (t *txBackend) rebind(query string) string {
	return t.tx.Rebind(t.dialect.Rewrite(query))
}

func (t *txBackend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("server store", err)
	}
	return rows, nil
}

func (t *txBackend) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.rebind(query), args...)
}

func (t *txBackend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("server store", err)
	}
	return res, nil
}

func (t *txBackend) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

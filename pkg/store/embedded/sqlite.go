// Package embedded provides the single-process store backend used by the
// local gitswarm deployment (spec.md §4.A), backed by the pure-Go
// modernc.org/sqlite driver so the module never needs cgo at build time.
package embedded

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/store"

	_ "modernc.org/sqlite"
)

// Backend is the embedded Store implementation.
type Backend struct {
	db      *sql.DB
	dialect store.Dialect
}

// Open opens (creating if absent) the SQLite database at path and applies
// every pending migration.
func Open(ctx context.Context, path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, gwerrors.Unavailable("embedded store", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single-writer, serialise via the driver.

	dialect := store.SQLiteDialect{}
	migrations, err := store.LoadMigrations()
	if err != nil {
		return nil, gwerrors.Internal("load migrations", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect, migrations); err != nil {
		return nil, err
	}

	return &Backend{db: db, dialect: dialect}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := b.db.QueryContext(ctx, b.dialect.Rewrite(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("embedded store", err)
	}
	return rows, nil
}

func (b *Backend) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.db.QueryRowContext(ctx, b.dialect.Rewrite(query), args...)
}

func (b *Backend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := b.db.ExecContext(ctx, b.dialect.Rewrite(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("embedded store", err)
	}
	return res, nil
}

// Transaction runs fn inside a *sql.Tx wrapped as a Store, committing on a
// nil return and rolling back otherwise.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return gwerrors.Unavailable("embedded store", err)
	}
	txStore := &txBackend{tx: sqlTx, dialect: b.dialect}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return gwerrors.Internal("rollback failed", fmt.Errorf("%v (original: %w)", rbErr, err))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return gwerrors.Unavailable("embedded store", err)
	}
	return nil
}

// txBackend is a Store bound to an in-flight transaction. Nested calls to
// Transaction reuse the same *sql.Tx rather than opening a new one, since
// SQLite does not support nested transactions.
type txBackend struct {
	tx      *sql.Tx
	dialect store.Dialect
}

func (t *txBackend) Close() error { return nil }

func (t *txBackend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rewrite(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("embedded store", err)
	}
	return rows, nil
}

func (t *txBackend) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rewrite(query), args...)
}

func (t *txBackend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rewrite(query), args...)
	if err != nil {
		return nil, gwerrors.Unavailable("embedded store", err)
	}
	return res, nil
}

func (t *txBackend) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// LoadMigrations reads the embedded, lexically ordered migration files.
// Grounded on r3e-network-service_layer's system/platform/migrations package.
func LoadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for i, name := range names {
		b, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: i + 1, SQL: string(b)})
	}
	return migrations, nil
}

// ApplyMigrations runs every migration not yet recorded in schema_version,
// guarding each one with an in_progress marker so a crash mid-migration is
// reported as a gwerrors.Internal error on the next startup rather than silently
// re-applied or silently skipped.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, migrations []Migration) error {
	bootstrap := dialect.Rewrite(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		in_progress BOOLEAN NOT NULL DEFAULT false,
		applied_at_ms BIGINT
	)`)
	if _, err := db.ExecContext(ctx, bootstrap); err != nil {
		return gwerrors.Unavailable("store", err)
	}

	for _, m := range migrations {
		var inProgress bool
		row := db.QueryRowContext(ctx, dialect.Rewrite(`SELECT in_progress FROM schema_version WHERE version = ?`), m.Version)
		err := row.Scan(&inProgress)
		switch {
		case err == sql.ErrNoRows:
			// not yet applied, proceed below
		case err != nil:
			return gwerrors.Unavailable("store", err)
		case inProgress:
			return gwerrors.Internal("schema migration partially applied", fmt.Errorf("version %d left in_progress", m.Version))
		default:
			continue // already applied cleanly
		}

		if _, err := db.ExecContext(ctx, dialect.Rewrite(`INSERT INTO schema_version (version, in_progress) VALUES (?, true)`), m.Version); err != nil {
			return gwerrors.Unavailable("store", err)
		}
		if _, err := db.ExecContext(ctx, dialect.Rewrite(m.SQL)); err != nil {
			return gwerrors.Internal(fmt.Sprintf("apply migration %d", m.Version), err)
		}
		if _, err := db.ExecContext(ctx, dialect.Rewrite(`UPDATE schema_version SET in_progress = false, applied_at_ms = ? WHERE version = ?`), nowMs(), m.Version); err != nil {
			return gwerrors.Unavailable("store", err)
		}
	}
	return nil
}

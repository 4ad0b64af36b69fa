package store

import (
	"regexp"
)

// Dialect translates the normalised call-site SQL (Postgres-flavoured:
// '?' markers get numbered by the server backend natively, NOW(),
// FILTER (WHERE ...) conditional aggregation, true/
// false booleans, ILIKE) into whatever a given backend actually
// understands. The server (Postgres) backend is a no-op identity dialect;
// the embedded (SQLite) backend rewrites every one of those constructs
// (spec.md §4.A).
type Dialect interface {
	Rewrite(sql string) string
}

// IdentityDialect passes SQL through unchanged. Used by the server backend,
// since the call-site dialect is already Postgres-flavoured.
type IdentityDialect struct{}

func (IdentityDialect) Rewrite(sql string) string { return sql }

// SQLiteDialect rewrites the normalised dialect down to SQLite's subset.
type SQLiteDialect struct{}

var (
	filterClauseRe = regexp.MustCompile(`(?is)(COUNT|SUM)\(([^)]*)\)\s*FILTER\s*\(\s*WHERE\s+(.+?)\)`)
	nowCallRe      = regexp.MustCompile(`(?i)\bNOW\(\)`)
	boolTrueRe     = regexp.MustCompile(`(?i)\bTRUE\b`)
	boolFalseRe    = regexp.MustCompile(`(?i)\bFALSE\b`)
	ilikeExprRe    = regexp.MustCompile(`(?i)(\w+(?:\.\w+)?)\s+ILIKE\s+(\?|\$\d+)`)
	doublePrecRe   = regexp.MustCompile(`(?i)\bDOUBLE PRECISION\b`)
)

// Rewrite applies the well-defined set of substitutions spec.md §4.A names:
// positional markers are already '?' at the call site so no change is
// needed there; NOW() becomes SQLite's strftime-based epoch expression;
// FILTER (WHERE ...) conditional aggregation becomes CASE WHEN; boolean
// literals become 1/0; ILIKE becomes a case-folded LIKE.
func (SQLiteDialect) Rewrite(sql string) string {
	sql = nowCallRe.ReplaceAllString(sql, "(CAST(strftime('%s','now') AS INTEGER)*1000)")
	sql = filterClauseRe.ReplaceAllString(sql, "$1(CASE WHEN $3 THEN $2 ELSE NULL END)")
	sql = boolTrueRe.ReplaceAllString(sql, "1")
	sql = boolFalseRe.ReplaceAllString(sql, "0")
	sql = doublePrecRe.ReplaceAllString(sql, "REAL")
	sql = ilikeExprRe.ReplaceAllString(sql, "UPPER($1) LIKE UPPER($2)")
	return sql
}

// Package postgres provides the PostgreSQL backend. Payloads are stored as
// JSONB and criteria are pushed down with JSON path operators.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"modstore/internal/infra/persistence/sqlkv"
	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the PostgreSQL backend.
const ID = "modstore:postgres"

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/modstore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Factory serves every category from one PostgreSQL database.
type Factory struct {
	*sqlkv.Store
}

var _ persistence.Factory = (*Factory)(nil)

// NewFactory connects using dsn (falls back to defaultDSN) and applies the
// schema.
func NewFactory(ctx context.Context, dsn string) (*Factory, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := sqlkv.Open(ctx, db, Dialect{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Factory{Store: store}, nil
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "PostgreSQL" }

// KeyedRepository returns the repository for c.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	return f.Keyed(c), nil
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	return f.Single(name), nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// Dialect renders statements for PostgreSQL.
type Dialect struct{}

// Name implements sqlkv.Dialect.
func (Dialect) Name() string { return "postgres" }

// Schema implements sqlkv.Dialect.
func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS modstore_records (
			category TEXT NOT NULL,
			id TEXT NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (category, id)
		)`,
		`CREATE TABLE IF NOT EXISTS modstore_singles (
			name TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
	}
}

// Placeholder implements sqlkv.Dialect.
func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Predicate implements sqlkv.Dialect. The cast only runs inside a CASE
// branch guarded by jsonb_typeof, so values of another JSON type yield NULL
// instead of a cast error.
func (Dialect) Predicate(c query.Criterion, b *sqlkv.Binder) (string, error) {
	path := b.Arg(textArray(c.Path())) + "::text[]"
	typ := "jsonb_typeof(payload #> " + path + ")"
	text := "(payload #>> " + path + ")"
	op := string(c.Op)
	switch v := c.Value.(type) {
	case bool:
		return "(CASE WHEN " + typ + " = 'boolean' THEN " + text + "::boolean " + op + " " + b.Arg(v) + "::boolean END)", nil
	case int64:
		return "(CASE WHEN " + typ + " = 'number' THEN " + text + "::double precision " + op + " " + b.Arg(v) + "::double precision END)", nil
	case float64:
		return "(CASE WHEN " + typ + " = 'number' THEN " + text + "::double precision " + op + " " + b.Arg(v) + "::double precision END)", nil
	case string:
		return "(CASE WHEN " + typ + " = 'string' THEN " + text + ` COLLATE "C" ` + op + " " + b.Arg(v) + "::text END)", nil
	case time.Time:
		return "(CASE WHEN " + typ + " = 'string' AND " + text + ` ~ '^\d{4}-\d{2}-\d{2}T' THEN ` + text + "::timestamptz " + op + " " +
			b.Arg(v.UTC().Format(time.RFC3339Nano)) + "::timestamptz END)", nil
	default:
		return "", fmt.Errorf("postgres: unsupported value %T for %s", c.Value, c.Field)
	}
}

// textArray renders segs as a PostgreSQL array literal.
func textArray(segs []string) string {
	quoted := make([]string, len(segs))
	for i, s := range segs {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		quoted[i] = `"` + s + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

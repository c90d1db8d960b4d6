// Package sqlite provides the embedded SQLite backend. Criteria are pushed
// down with SQLite's JSON functions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"modstore/internal/infra/persistence/sqlkv"
	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the SQLite backend.
const ID = "modstore:sqlite"

// Factory serves every category from one SQLite database file.
type Factory struct {
	*sqlkv.Store
	path string
}

var _ persistence.Factory = (*Factory)(nil)

// NewFactory opens (creating if needed) the database at path.
func NewFactory(ctx context.Context, path string) (*Factory, error) {
	if path == "" {
		path = "modstore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway and this avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	store, err := sqlkv.Open(ctx, db, Dialect{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Factory{Store: store, path: path}, nil
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "SQLite" }

// Path returns the configured database path.
func (f *Factory) Path() string { return f.path }

// KeyedRepository returns the repository for c.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	return f.Keyed(c), nil
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	return f.Single(name), nil
}

// Dialect renders statements for SQLite.
type Dialect struct{}

// Name implements sqlkv.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Schema implements sqlkv.Dialect.
func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS modstore_records (
			category TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (category, id)
		)`,
		`CREATE TABLE IF NOT EXISTS modstore_singles (
			name TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
	}
}

// Placeholder implements sqlkv.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// Predicate implements sqlkv.Dialect using json_type to reject values of
// another JSON type before json_extract compares them.
func (Dialect) Predicate(c query.Criterion, b *sqlkv.Binder) (string, error) {
	path, err := jsonPath(c.Path())
	if err != nil {
		return "", err
	}
	typ := "json_type(payload, " + b.Arg(path) + ")"
	val := "json_extract(payload, " + b.Arg(path) + ")"
	op := string(c.Op)
	switch v := c.Value.(type) {
	case bool:
		n := 0
		if v {
			n = 1
		}
		return "(" + typ + " IN ('true', 'false') AND " + val + " " + op + " " + b.Arg(n) + ")", nil
	case int64:
		return "(" + typ + " IN ('integer', 'real') AND " + val + " " + op + " " + b.Arg(v) + ")", nil
	case float64:
		return "(" + typ + " IN ('integer', 'real') AND " + val + " " + op + " " + b.Arg(v) + ")", nil
	case string:
		return "(" + typ + " = 'text' AND " + val + " " + op + " " + b.Arg(v) + ")", nil
	case time.Time:
		return "(" + typ + " = 'text' AND julianday(" + val + ") " + op + " julianday(" + b.Arg(v.UTC().Format(time.RFC3339Nano)) + "))", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported value %T for %s", c.Value, c.Field)
	}
}

func jsonPath(segs []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("$")
	for _, s := range segs {
		if strings.ContainsAny(s, `"\`) {
			return "", fmt.Errorf("sqlite: unsupported field segment %q", s)
		}
		sb.WriteString(`."`)
		sb.WriteString(s)
		sb.WriteString(`"`)
	}
	return sb.String(), nil
}

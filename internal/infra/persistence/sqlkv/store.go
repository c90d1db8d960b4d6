// Package sqlkv stores entity documents as JSON payloads in two SQL tables
// shared by every category:
//
//	modstore_records(category, id, payload)  primary key (category, id)
//	modstore_singles(name, payload)          primary key (name)
//
// Dialects supply the DDL, placeholders and the JSON path predicates used to
// push query criteria down to the database.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/zeebo/errs"

	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// Error is the class of SQL backend errors.
var Error = errs.Class("sqlkv")

// Dialect adapts statements to one database engine.
type Dialect interface {
	// Name identifies the engine in errors.
	Name() string
	// Schema returns the idempotent DDL creating both tables.
	Schema() []string
	// Placeholder returns the bind marker for the n-th argument, 1-based.
	Placeholder(n int) string
	// Predicate renders c as a boolean SQL expression over the payload
	// column. A document missing the field, or holding a value of another
	// JSON type, must not match.
	Predicate(c query.Criterion, b *Binder) (string, error)
}

// Binder collects statement arguments while a statement is rendered.
type Binder struct {
	d    Dialect
	args []any
}

// NewBinder returns an empty binder for d.
func NewBinder(d Dialect) *Binder { return &Binder{d: d} }

// Arg registers v and returns its placeholder.
func (b *Binder) Arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// Args returns the registered arguments in order.
func (b *Binder) Args() []any { return b.args }

// Store is a database handle plus dialect.
type Store struct {
	db *sql.DB
	d  Dialect
}

// Open applies the schema and returns a store. The store owns db.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, Error.New("%s: apply schema: %v", d.Name(), err)
		}
	}
	return &Store{db: db, d: d}, nil
}

// DB exposes the underlying handle for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Keyed returns the repository for category c.
func (s *Store) Keyed(c persistence.Category) persistence.KeyedRepository {
	return &keyedRepo{s: s, category: string(c)}
}

// Single returns the repository for the named record.
func (s *Store) Single(name string) persistence.SingleRepository {
	return &singleRepo{s: s, name: name}
}

// Close closes the database handle.
func (s *Store) Close() error { return Error.Wrap(s.db.Close()) }

func (s *Store) binder() *Binder { return NewBinder(s.d) }

type keyedRepo struct {
	s        *Store
	category string
}

func (r *keyedRepo) Get(ctx context.Context, id string) (persistence.Raw, bool, error) {
	b := r.s.binder()
	stmt := "SELECT payload FROM modstore_records WHERE category = " + b.Arg(r.category) + " AND id = " + b.Arg(id)
	var payload []byte
	err := r.s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.New("%s: get %s/%s: %v", r.s.d.Name(), r.category, id, err)
	}
	return persistence.Raw(payload), true, nil
}

func (r *keyedRepo) Set(ctx context.Context, id string, raw persistence.Raw) error {
	b := r.s.binder()
	stmt := "INSERT INTO modstore_records(category, id, payload) VALUES(" +
		b.Arg(r.category) + ", " + b.Arg(id) + ", " + b.Arg(string(raw)) +
		") ON CONFLICT(category, id) DO UPDATE SET payload = excluded.payload"
	if _, err := r.s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return Error.New("%s: upsert %s/%s: %v", r.s.d.Name(), r.category, id, err)
	}
	return nil
}

func (r *keyedRepo) Delete(ctx context.Context, id string) error {
	b := r.s.binder()
	stmt := "DELETE FROM modstore_records WHERE category = " + b.Arg(r.category) + " AND id = " + b.Arg(id)
	if _, err := r.s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return Error.New("%s: delete %s/%s: %v", r.s.d.Name(), r.category, id, err)
	}
	return nil
}

func (r *keyedRepo) Exists(ctx context.Context, id string) (bool, error) {
	b := r.s.binder()
	stmt := "SELECT COUNT(*) FROM modstore_records WHERE category = " + b.Arg(r.category) + " AND id = " + b.Arg(id)
	var n int
	if err := r.s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&n); err != nil {
		return false, Error.New("%s: exists %s/%s: %v", r.s.d.Name(), r.category, id, err)
	}
	return n > 0, nil
}

// IDs renders the query as a WHERE clause so filtering happens in the
// database.
func (r *keyedRepo) IDs(ctx context.Context, q query.Query) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.RestrictedToIDs() && len(q.IDs()) == 0 {
		return []string{}, nil
	}
	stmt, args, err := r.selectIDs(q)
	if err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, Error.New("%s: ids %s: %v", r.s.d.Name(), r.category, err)
	}
	defer func() { _ = rows.Close() }()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *keyedRepo) selectIDs(q query.Query) (string, []any, error) {
	b := r.s.binder()
	where := []string{"category = " + b.Arg(r.category)}
	if q.RestrictedToIDs() {
		marks := make([]string, 0, len(q.IDs()))
		for _, id := range q.IDs() {
			marks = append(marks, b.Arg(id))
		}
		where = append(where, "id IN ("+strings.Join(marks, ", ")+")")
	}
	for _, c := range q.Criteria() {
		pred, err := r.s.d.Predicate(c, b)
		if err != nil {
			return "", nil, err
		}
		where = append(where, pred)
	}
	return "SELECT id FROM modstore_records WHERE " + strings.Join(where, " AND "), b.Args(), nil
}

type singleRepo struct {
	s    *Store
	name string
}

func (r *singleRepo) Get(ctx context.Context) (persistence.Raw, bool, error) {
	b := r.s.binder()
	var payload []byte
	err := r.s.db.QueryRowContext(ctx, "SELECT payload FROM modstore_singles WHERE name = "+b.Arg(r.name), b.Args()...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.New("%s: get %s: %v", r.s.d.Name(), r.name, err)
	}
	return persistence.Raw(payload), true, nil
}

func (r *singleRepo) Set(ctx context.Context, raw persistence.Raw) error {
	b := r.s.binder()
	stmt := "INSERT INTO modstore_singles(name, payload) VALUES(" + b.Arg(r.name) + ", " + b.Arg(string(raw)) +
		") ON CONFLICT(name) DO UPDATE SET payload = excluded.payload"
	if _, err := r.s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return Error.New("%s: upsert %s: %v", r.s.d.Name(), r.name, err)
	}
	return nil
}

func (r *singleRepo) Delete(ctx context.Context) error {
	b := r.s.binder()
	if _, err := r.s.db.ExecContext(ctx, "DELETE FROM modstore_singles WHERE name = "+b.Arg(r.name), b.Args()...); err != nil {
		return Error.New("%s: delete %s: %v", r.s.d.Name(), r.name, err)
	}
	return nil
}

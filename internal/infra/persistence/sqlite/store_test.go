package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"modstore/internal/infra/persistence/persistencetest"
	"modstore/internal/infra/persistence/sqlkv"
	"modstore/internal/persistence"
	"modstore/pkg/query"
)

func newFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(context.Background(), filepath.Join(t.TempDir(), "nested", "modstore.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFactoryConformance(t *testing.T) {
	persistencetest.RunFactory(t, newFactory(t))
}

func TestDocumentsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modstore.db")
	ctx := context.Background()
	f, err := NewFactory(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	users, _ := f.KeyedRepository(persistence.CategoryUser)
	if err := users.Set(ctx, "steve", persistence.Raw(`{"logins":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = f.Close()

	reopened, err := NewFactory(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	users, _ = reopened.KeyedRepository(persistence.CategoryUser)
	raw, ok, err := users.Get(ctx, "steve")
	if err != nil || !ok {
		t.Fatalf("get after reopen: %v %v", ok, err)
	}
	persistencetest.AssertSameDocument(t, `{"logins":1}`, raw)
	if reopened.Path() != path || reopened.ID() != ID {
		t.Fatalf("unexpected factory identity")
	}
}

func TestSchemaTablesExist(t *testing.T) {
	f := newFactory(t)
	for _, table := range []string{"modstore_records", "modstore_singles"} {
		var name string
		if err := f.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
	}
}

func TestPredicateRendering(t *testing.T) {
	c := query.Criterion{Field: "jail.jailed", Op: query.Eq, Value: true}
	pred, err := Dialect{}.Predicate(c, sqlkv.NewBinder(Dialect{}))
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}
	if !strings.Contains(pred, "json_type(payload, ?) IN ('true', 'false')") || !strings.Contains(pred, "json_extract(payload, ?) = ?") {
		t.Fatalf("unexpected predicate %s", pred)
	}
	if _, err := jsonPath([]string{`bad"seg`}); err == nil {
		t.Fatalf("expected quoted segment to be rejected")
	}
	if p, _ := jsonPath([]string{"jail", "release"}); p != `$."jail"."release"` {
		t.Fatalf("unexpected path %s", p)
	}
}

package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"modstore/internal/infra/persistence/persistencetest"
	"modstore/internal/persistence"
)

func newFactory(t *testing.T, ns string) (*Factory, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	f, err := Open(context.Background(), Config{Addr: server.Addr(), Namespace: ns})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f, server
}

func TestFactoryConformance(t *testing.T) {
	f, _ := newFactory(t, "")
	persistencetest.RunFactory(t, f)
}

func TestKeyLayout(t *testing.T) {
	f, server := newFactory(t, "srv1")
	ctx := context.Background()
	users, _ := f.KeyedRepository(persistence.CategoryUser)
	if err := users.Set(ctx, "steve", persistence.Raw(`{"logins":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := server.Get("srv1:user:steve")
	if err != nil || got != `{"logins":1}` {
		t.Fatalf("expected namespaced document, got %q %v", got, err)
	}
	if ok, _ := server.SIsMember("srv1:index:user", "steve"); !ok {
		t.Fatalf("expected id in index")
	}
	general, _ := f.SingleRepository(persistence.SingleGeneral)
	_ = general.Set(ctx, persistence.Raw(`{"motd":"hi"}`))
	if !server.Exists("srv1:single:general") {
		t.Fatalf("expected single key")
	}

	if err := users.Delete(ctx, "steve"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if server.Exists("srv1:user:steve") {
		t.Fatalf("expected document removed")
	}
	if ok, _ := server.SIsMember("srv1:index:user", "steve"); ok {
		t.Fatalf("expected id removed from index")
	}
	if f.Namespace() != "srv1" {
		t.Fatalf("unexpected namespace %s", f.Namespace())
	}
}

func TestReservedCategoriesAreUnsupported(t *testing.T) {
	f, _ := newFactory(t, "")
	for _, c := range []persistence.Category{"index", "single", "bad:name"} {
		if _, err := f.KeyedRepository(c); !errors.Is(err, persistence.ErrUnsupported) {
			t.Fatalf("%s: expected unsupported, got %v", c, err)
		}
	}
}

func TestOpenFailsWithoutServer(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	if _, err := Open(context.Background(), Config{Addr: addr}); !Error.Has(err) {
		t.Fatalf("expected redis error, got %v", err)
	}
}

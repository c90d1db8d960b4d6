package memory

import (
	"context"
	"errors"
	"testing"

	"modstore/internal/infra/persistence/persistencetest"
	"modstore/internal/persistence"
)

func TestFactoryConformance(t *testing.T) {
	persistencetest.RunFactory(t, New())
}

func TestWithUnsupported(t *testing.T) {
	f := New(WithUnsupported(string(persistence.CategoryWorld), persistence.SingleKits))
	if _, err := f.KeyedRepository(persistence.CategoryWorld); !errors.Is(err, persistence.ErrUnsupported) {
		t.Fatalf("expected unsupported world, got %v", err)
	}
	if _, err := f.SingleRepository(persistence.SingleKits); !errors.Is(err, persistence.ErrUnsupported) {
		t.Fatalf("expected unsupported kits, got %v", err)
	}
	if _, err := f.KeyedRepository(persistence.CategoryUser); err != nil {
		t.Fatalf("user must stay supported: %v", err)
	}
}

func TestRepositoriesAreSharedAndCopied(t *testing.T) {
	f := New()
	ctx := context.Background()
	a, _ := f.KeyedRepository(persistence.CategoryUser)
	b, _ := f.KeyedRepository(persistence.CategoryUser)
	raw := persistence.Raw(`{"a":1}`)
	if err := a.Set(ctx, "x", raw); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw[2] = 'b'
	got, ok, err := b.Get(ctx, "x")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("expected stored copy via second handle, got %s %v %v", got, ok, err)
	}
}

func TestClosedFactoryRejectsNewRepositories(t *testing.T) {
	f := New()
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.KeyedRepository(persistence.CategoryUser); !Error.Has(err) {
		t.Fatalf("expected memory error after close, got %v", err)
	}
}

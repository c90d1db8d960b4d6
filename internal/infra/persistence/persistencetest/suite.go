// Package persistencetest holds the conformance suite every persistence
// backend runs in its own tests.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"modstore/internal/persistence"
	"modstore/pkg/document"
	"modstore/pkg/query"
)

// Fixture documents shared by the keyed checks.
var fixtures = map[string]string{
	"alpha":   `{"name":"alpha","logins":3,"jail":{"jailed":true,"release":"2024-01-02T03:04:05Z"}}`,
	"bravo":   `{"name":"bravo","logins":10,"jail":{"jailed":false}}`,
	"charlie": `{"name":"charlie","logins":1.5}`,
	"0a6b1c3e-6c3f-4d5e-9a8b-7c6d5e4f3a2b": `{"name":"uuid","logins":0,"jail":{"jailed":true,"release":"2030-01-01T00:00:00Z"}}`,
}

// RunFactory exercises every category and single record of f. Categories
// the factory reports as unsupported are skipped.
func RunFactory(t *testing.T, f persistence.Factory) {
	t.Helper()
	var repos []persistence.KeyedRepository
	for _, c := range persistence.Categories() {
		repo, err := f.KeyedRepository(c)
		if errors.Is(err, persistence.ErrUnsupported) {
			continue
		}
		if err != nil {
			t.Fatalf("%s: keyed repository: %v", c, err)
		}
		repos = append(repos, repo)
		t.Run(string(c), func(t *testing.T) { RunKeyedRepository(t, repo) })
	}
	if len(repos) == 2 {
		ctx := context.Background()
		if err := repos[0].Set(ctx, "isolated", persistence.Raw(`{}`)); err != nil {
			t.Fatalf("set: %v", err)
		}
		if ok, err := repos[1].Exists(ctx, "isolated"); err != nil || ok {
			t.Fatalf("categories must be isolated: %v %v", ok, err)
		}
		_ = repos[0].Delete(ctx, "isolated")
	}
	for _, name := range persistence.Singles() {
		repo, err := f.SingleRepository(name)
		if errors.Is(err, persistence.ErrUnsupported) {
			continue
		}
		if err != nil {
			t.Fatalf("%s: single repository: %v", name, err)
		}
		t.Run(name, func(t *testing.T) { RunSingleRepository(t, repo) })
	}
}

// RunKeyedRepository checks the KeyedRepository contract against an empty
// repository.
func RunKeyedRepository(t *testing.T, repo persistence.KeyedRepository) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := repo.Get(ctx, "alpha"); err != nil || ok {
		t.Fatalf("expected empty repository, got ok=%v err=%v", ok, err)
	}
	if ok, err := repo.Exists(ctx, "alpha"); err != nil || ok {
		t.Fatalf("expected alpha absent, got %v %v", ok, err)
	}
	for id, doc := range fixtures {
		if err := repo.Set(ctx, id, persistence.Raw(doc)); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}
	for id, doc := range fixtures {
		raw, ok, err := repo.Get(ctx, id)
		if err != nil || !ok {
			t.Fatalf("get %s: ok=%v err=%v", id, ok, err)
		}
		AssertSameDocument(t, doc, raw)
	}

	if err := repo.Set(ctx, "charlie", persistence.Raw(`{"name":"charlie","logins":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	raw, _, _ := repo.Get(ctx, "charlie")
	AssertSameDocument(t, `{"name":"charlie","logins":2}`, raw)

	uuidID := "0a6b1c3e-6c3f-4d5e-9a8b-7c6d5e4f3a2b"
	all := []string{uuidID, "alpha", "bravo", "charlie"}
	checkIDs(t, repo, "all", query.New(), all...)
	checkIDs(t, repo, "restricted", query.ForIDs("bravo", "missing", "alpha"), "alpha", "bravo")
	checkIDs(t, repo, "bool", query.New().Where("jail.jailed", query.Eq, true), uuidID, "alpha")
	checkIDs(t, repo, "bool ne skips missing", query.New().Where("jail.jailed", query.Ne, true), "bravo")
	checkIDs(t, repo, "int", query.New().Where("logins", query.Ge, 3), "alpha", "bravo")
	checkIDs(t, repo, "float", query.New().Where("logins", query.Lt, 2.5), uuidID, "charlie")
	checkIDs(t, repo, "string", query.New().Where("name", query.Gt, "bravo"), uuidID, "charlie")
	checkIDs(t, repo, "time", query.New().Where("jail.release", query.Lt, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), "alpha")
	checkIDs(t, repo, "conjunction",
		query.ForIDs("alpha", "bravo", uuidID).Where("jail.jailed", query.Eq, true).Where("logins", query.Gt, 0),
		"alpha")

	if err := repo.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, err := repo.Exists(ctx, "alpha"); err != nil || ok {
		t.Fatalf("expected alpha deleted, got %v %v", ok, err)
	}
	if err := repo.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("deleting an absent id must succeed: %v", err)
	}
	checkIDs(t, repo, "after delete", query.New(), uuidID, "bravo", "charlie")
	for _, id := range all {
		_ = repo.Delete(ctx, id)
	}
}

// RunSingleRepository checks the SingleRepository contract against an empty
// repository.
func RunSingleRepository(t *testing.T, repo persistence.SingleRepository) {
	t.Helper()
	ctx := context.Background()
	if _, ok, err := repo.Get(ctx); err != nil || ok {
		t.Fatalf("expected empty single, got ok=%v err=%v", ok, err)
	}
	doc := `{"starter":{"delay":60,"items":["bread","sword"]},"motd":"hi"}`
	if err := repo.Set(ctx, persistence.Raw(doc)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := repo.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	AssertSameDocument(t, doc, raw)
	if err := repo.Set(ctx, persistence.Raw(`{"motd":"bye"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	raw, _, _ = repo.Get(ctx)
	AssertSameDocument(t, `{"motd":"bye"}`, raw)
	if err := repo.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := repo.Get(ctx); err != nil || ok {
		t.Fatalf("expected deleted single, got ok=%v err=%v", ok, err)
	}
	if err := repo.Delete(ctx); err != nil {
		t.Fatalf("deleting an absent single must succeed: %v", err)
	}
}

// AssertSameDocument compares two JSON objects semantically; backends may
// reformat what they store.
func AssertSameDocument(t *testing.T, want string, got []byte) {
	t.Helper()
	w, err := document.JSON.Decode([]byte(want))
	if err != nil {
		t.Fatalf("decode expected document: %v", err)
	}
	g, err := document.JSON.Decode(got)
	if err != nil {
		t.Fatalf("decode stored document %q: %v", got, err)
	}
	if !w.Equal(g) {
		t.Fatalf("document mismatch:\nwant %s\ngot  %s", want, got)
	}
}

func checkIDs(t *testing.T, repo persistence.KeyedRepository, name string, q query.Query, want ...string) {
	t.Helper()
	got, err := repo.IDs(context.Background(), q)
	if err != nil {
		t.Fatalf("%s: ids: %v", name, err)
	}
	if len(got) != len(want) {
		t.Fatalf("%s: expected %v, got %v", name, want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}
}

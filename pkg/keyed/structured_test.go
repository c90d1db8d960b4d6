package keyed

import (
	"testing"

	"modstore/pkg/document"
)

func TestStructuredNestedPaths(t *testing.T) {
	s := NewSchema[testOwner]("kits")
	delay := MustDeclare(s, "starter.delay", Int64(), 0)
	items := MustDeclareList(s, "starter.items", String())
	rec := NewStructuredObject[testOwner]()

	if err := delay.Set(rec, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = items.Set(rec, []string{"bread", "sword"})

	node := rec.BackingNode()
	v, ok := node.Get("starter", "delay")
	if !ok || v.(interface{ String() string }).String() != "60" {
		t.Fatalf("expected nested delay, got %v %v", v, ok)
	}
	if keys := rec.Keys(); len(keys) != 1 || keys[0] != "starter" {
		t.Fatalf("expected one top-level key, got %v", keys)
	}
	if got := items.GetOrDefault(rec); len(got) != 2 || got[0] != "bread" {
		t.Fatalf("unexpected items %v", got)
	}

	delay.Remove(rec)
	items.Remove(rec)
	if rec.Len() != 0 {
		t.Fatalf("empty parents must be pruned, got %v", rec.Keys())
	}
}

func TestStructuredBackingNodeIsCopy(t *testing.T) {
	s := NewSchema[testOwner]("kits")
	name := MustDeclare(s, "name", String(), "")
	rec := NewStructuredObject[testOwner]()
	_ = name.Set(rec, "a")
	n := rec.BackingNode()
	_ = n.Set([]string{"name"}, "b")
	if v, _ := name.Get(rec); v != "a" {
		t.Fatalf("backing node shares state with record")
	}
}

func TestStructuredSetBackingNodeResetsState(t *testing.T) {
	s := NewSchema[testOwner]("kits")
	count := MustDeclare(s, "count", Int(), 0)
	rec := NewStructuredObject[testOwner]()
	_ = count.Set(rec, 1)
	rec.SetBackingNode(document.FromMap(map[string]any{"count": 9, "extra": "kept"}))
	if rec.Dirty() {
		t.Fatalf("replacing the document clears dirty state")
	}
	if v := count.GetOrDefault(rec); v != 9 {
		t.Fatalf("expected 9, got %d", v)
	}
	if !rec.BackingNode().Has("extra") {
		t.Fatalf("unknown subtrees must be preserved")
	}
}

func TestStructuredQuarantine(t *testing.T) {
	s := NewSchema[testOwner]("kits")
	delay := MustDeclare(s, "kit.delay", Int(), 0)
	rec := NewStructuredObject[testOwner]()
	rec.SetBackingNode(document.FromMap(map[string]any{
		"kit": map[string]any{"delay": "soon", "items": []any{"a"}},
	}))
	if !rec.Quarantine(delay.Path()) {
		t.Fatalf("expected value to quarantine")
	}
	if delay.Has(rec) {
		t.Fatalf("quarantined value must be invisible")
	}
	if v, ok := rec.BackingNode().Get("kit", "delay"); !ok || v != "soon" {
		t.Fatalf("quarantined value must be persisted, got %v %v", v, ok)
	}
	_ = delay.Set(rec, 5)
	if v, _ := rec.BackingNode().Get("kit", "delay"); v == "soon" {
		t.Fatalf("set must replace the quarantined value")
	}
	if len(rec.Quarantined()) != 0 {
		t.Fatalf("quarantine not cleared")
	}
}

func TestStructuredFillAndMerge(t *testing.T) {
	s := NewSchema[testOwner]("kits")
	a := MustDeclare(s, "a", String(), "")
	b := MustDeclare(s, "b", String(), "")
	dst := NewStructuredObject[testOwner]()
	src := NewStructuredObject[testOwner]()
	_ = a.Set(dst, "mine")
	_ = a.Set(src, "theirs")
	_ = b.Set(src, "new")

	dst.Fill(src)
	if v, _ := a.Get(dst); v != "mine" {
		t.Fatalf("fill overwrote a")
	}
	if v, _ := b.Get(dst); v != "new" {
		t.Fatalf("fill missed b")
	}
	dst.MergeFrom(src)
	if v, _ := a.Get(dst); v != "theirs" {
		t.Fatalf("merge did not overwrite a")
	}
}

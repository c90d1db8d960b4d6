package keyed

import (
	"encoding/json"
	"sort"
	"strings"

	"modstore/pkg/document"
)

// StructuredObject is a keyed record backed by a hierarchical document. Key
// paths address nested nodes, so "jail.name" lives at {"jail":{"name":...}}.
//
// StructuredObject is not safe for concurrent use.
type StructuredObject[O any] struct {
	doc        *document.Node
	quarantine map[string]quarantined
	dirty      map[string]struct{}
}

type quarantined struct {
	path  []string
	value any
}

// NewStructuredObject returns an empty structured record.
func NewStructuredObject[O any]() *StructuredObject[O] {
	return &StructuredObject[O]{
		doc:        document.New(),
		quarantine: make(map[string]quarantined),
		dirty:      make(map[string]struct{}),
	}
}

func (s *StructuredObject[O]) init() {
	if s.doc == nil {
		s.doc = document.New()
	}
	if s.quarantine == nil {
		s.quarantine = make(map[string]quarantined)
	}
	if s.dirty == nil {
		s.dirty = make(map[string]struct{})
	}
}

func (s *StructuredObject[O]) rawValue(path []string) (json.RawMessage, bool) {
	if s.doc == nil {
		return nil, false
	}
	v, ok := s.doc.Get(path...)
	if !ok {
		return nil, false
	}
	raw, err := document.Marshal(v)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (s *StructuredObject[O]) putValue(path []string, raw json.RawMessage) error {
	s.init()
	v, err := document.Unmarshal(raw)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := s.doc.Set(path, v); err != nil {
		return Error.Wrap(err)
	}
	name := strings.Join(path, ".")
	delete(s.quarantine, name)
	s.dirty[name] = struct{}{}
	return nil
}

func (s *StructuredObject[O]) removeValue(path []string) bool {
	s.init()
	name := strings.Join(path, ".")
	_, wasQuarantined := s.quarantine[name]
	delete(s.quarantine, name)
	removed := s.doc.Delete(path...)
	if removed || wasQuarantined {
		s.dirty[name] = struct{}{}
	}
	return removed
}

// Keys returns the populated top-level names in ascending order.
func (s *StructuredObject[O]) Keys() []string {
	if s.doc == nil {
		return nil
	}
	return s.doc.Keys()
}

// Len returns the number of populated top-level names.
func (s *StructuredObject[O]) Len() int {
	if s.doc == nil {
		return 0
	}
	return s.doc.Len()
}

// Fill copies every top-level subtree of other the receiver lacks.
func (s *StructuredObject[O]) Fill(other *StructuredObject[O]) {
	if other == nil || other.doc == nil {
		return
	}
	s.init()
	for _, name := range other.doc.Keys() {
		if s.doc.Has(name) {
			continue
		}
		v, _ := other.doc.Get(name)
		_ = s.doc.Set([]string{name}, v)
		s.dirty[name] = struct{}{}
	}
}

// MergeFrom copies every top-level subtree of other, overwriting.
func (s *StructuredObject[O]) MergeFrom(other *StructuredObject[O]) {
	if other == nil || other.doc == nil {
		return
	}
	s.init()
	for _, name := range other.doc.Keys() {
		v, _ := other.doc.Get(name)
		_ = s.doc.Set([]string{name}, v)
		s.dirty[name] = struct{}{}
	}
}

// Dirty reports whether any key changed since the last ClearDirty.
func (s *StructuredObject[O]) Dirty() bool { return len(s.dirty) > 0 }

// DirtyKeys returns the changed key names in ascending order.
func (s *StructuredObject[O]) DirtyKeys() []string {
	out := make([]string, 0, len(s.dirty))
	for name := range s.dirty {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ClearDirty forgets pending changes.
func (s *StructuredObject[O]) ClearDirty() {
	for name := range s.dirty {
		delete(s.dirty, name)
	}
}

// BackingNode returns a deep copy of the document that would be persisted,
// quarantined values included.
func (s *StructuredObject[O]) BackingNode() *document.Node {
	s.init()
	out := s.doc.Clone()
	for _, name := range s.Quarantined() {
		q := s.quarantine[name]
		if out.Has(q.path...) {
			continue
		}
		_ = out.Set(q.path, q.value)
	}
	return out
}

// SetBackingNode replaces the whole document, typically on load. Quarantine
// and dirty state are reset.
func (s *StructuredObject[O]) SetBackingNode(n *document.Node) {
	if n == nil {
		n = document.New()
	}
	s.doc = n.Clone()
	s.quarantine = make(map[string]quarantined)
	s.dirty = make(map[string]struct{})
}

// Quarantine moves the value at the declared key path out of the visible
// document. It reports whether a value was present.
func (s *StructuredObject[O]) Quarantine(path []string) bool {
	s.init()
	v, ok := s.doc.Get(path...)
	if !ok {
		return false
	}
	s.doc.Delete(path...)
	s.quarantine[strings.Join(path, ".")] = quarantined{path: append([]string(nil), path...), value: v}
	return true
}

// Quarantined returns the quarantined key names in ascending order.
func (s *StructuredObject[O]) Quarantined() []string {
	out := make([]string, 0, len(s.quarantine))
	for name := range s.quarantine {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

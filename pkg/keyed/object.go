package keyed

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// RawEntry is one stored name/value pair as seen by translators.
type RawEntry struct {
	Name  string
	Value json.RawMessage
}

// Object is a flat keyed record: an ordered mapping from key name to the
// encoded value. Names nobody declared are preserved and written back.
// Entries that failed to decode against their declared key are held in
// quarantine: invisible to Get, written back on save until the key is set
// or removed.
//
// Object is not safe for concurrent use.
type Object[O any] struct {
	order      []string
	values     map[string]json.RawMessage
	quarantine map[string]json.RawMessage
	dirty      map[string]struct{}
}

// NewObject returns an empty record.
func NewObject[O any]() *Object[O] {
	return &Object[O]{
		values:     make(map[string]json.RawMessage),
		quarantine: make(map[string]json.RawMessage),
		dirty:      make(map[string]struct{}),
	}
}

func (o *Object[O]) init() {
	if o.values == nil {
		o.values = make(map[string]json.RawMessage)
	}
	if o.quarantine == nil {
		o.quarantine = make(map[string]json.RawMessage)
	}
	if o.dirty == nil {
		o.dirty = make(map[string]struct{})
	}
}

func (o *Object[O]) known(name string) bool {
	_, v := o.values[name]
	_, q := o.quarantine[name]
	return v || q
}

func (o *Object[O]) track(name string) {
	if !o.known(name) {
		o.order = append(o.order, name)
	}
}

func (o *Object[O]) untrack(name string) {
	for i, n := range o.order {
		if n == name {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

func (o *Object[O]) rawValue(path []string) (json.RawMessage, bool) {
	raw, ok := o.values[strings.Join(path, ".")]
	return raw, ok
}

func (o *Object[O]) putValue(path []string, raw json.RawMessage) error {
	o.set(strings.Join(path, "."), raw)
	return nil
}

func (o *Object[O]) set(name string, raw json.RawMessage) {
	o.init()
	o.track(name)
	o.values[name] = bytes.Clone(raw)
	delete(o.quarantine, name)
	o.dirty[name] = struct{}{}
}

func (o *Object[O]) removeValue(path []string) bool {
	o.init()
	name := strings.Join(path, ".")
	if !o.known(name) {
		return false
	}
	_, had := o.values[name]
	delete(o.values, name)
	delete(o.quarantine, name)
	o.untrack(name)
	o.dirty[name] = struct{}{}
	return had
}

// Keys returns the populated names in insertion order. Quarantined names
// are not included.
func (o *Object[O]) Keys() []string {
	out := make([]string, 0, len(o.values))
	for _, name := range o.order {
		if _, ok := o.values[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the number of populated names.
func (o *Object[O]) Len() int { return len(o.values) }

// Raw returns the encoded value stored under name.
func (o *Object[O]) Raw(name string) (json.RawMessage, bool) {
	raw, ok := o.values[name]
	return bytes.Clone(raw), ok
}

// Fill copies every entry of other whose name the receiver does not
// populate. Existing values, quarantined ones included, are never
// overwritten.
func (o *Object[O]) Fill(other *Object[O]) {
	if other == nil {
		return
	}
	for _, name := range other.Keys() {
		if o.known(name) {
			continue
		}
		o.set(name, other.values[name])
	}
}

// MergeFrom copies every entry of other, overwriting existing values.
func (o *Object[O]) MergeFrom(other *Object[O]) {
	if other == nil {
		return
	}
	for _, name := range other.Keys() {
		o.set(name, other.values[name])
	}
}

// Dirty reports whether any key changed since the last ClearDirty.
func (o *Object[O]) Dirty() bool { return len(o.dirty) > 0 }

// DirtyKeys returns the changed names in ascending order.
func (o *Object[O]) DirtyKeys() []string {
	out := make([]string, 0, len(o.dirty))
	for name := range o.dirty {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ClearDirty forgets pending changes, typically after a successful translate.
func (o *Object[O]) ClearDirty() {
	for name := range o.dirty {
		delete(o.dirty, name)
	}
}

// LoadRaw stores a value read from a backend without marking it dirty.
func (o *Object[O]) LoadRaw(name string, raw json.RawMessage) {
	o.init()
	o.track(name)
	o.values[name] = bytes.Clone(raw)
	delete(o.quarantine, name)
}

// Quarantine stores a value that failed to decode against its declared key.
func (o *Object[O]) Quarantine(name string, raw json.RawMessage) {
	o.init()
	o.track(name)
	delete(o.values, name)
	o.quarantine[name] = bytes.Clone(raw)
}

// Quarantined returns the quarantined names in ascending order.
func (o *Object[O]) Quarantined() []string {
	out := make([]string, 0, len(o.quarantine))
	for name := range o.quarantine {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RawEntries returns everything that must be persisted, quarantined
// entries included, in insertion order.
func (o *Object[O]) RawEntries() []RawEntry {
	out := make([]RawEntry, 0, len(o.order))
	for _, name := range o.order {
		if raw, ok := o.values[name]; ok {
			out = append(out, RawEntry{Name: name, Value: bytes.Clone(raw)})
			continue
		}
		if raw, ok := o.quarantine[name]; ok {
			out = append(out, RawEntry{Name: name, Value: bytes.Clone(raw)})
		}
	}
	return out
}

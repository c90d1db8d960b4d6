package keyed

import (
	"bytes"
	"encoding/json"
	"sync"

	"modstore/pkg/query"
)

// Schema is the registry of keys declared against one owner type. Modules
// that do not know about each other declare their keys on the same schema;
// names are unique per schema.
type Schema[O any] struct {
	name string

	mu    sync.RWMutex
	keys  map[string]declared
	order []string
}

type declared struct {
	path  []string
	kind  Kind
	check func(json.RawMessage) error
}

// NewSchema returns an empty schema. The name appears in reports and logs.
func NewSchema[O any](name string) *Schema[O] {
	return &Schema[O]{name: name, keys: make(map[string]declared)}
}

// Name returns the schema name.
func (s *Schema[O]) Name() string { return s.name }

func (s *Schema[O]) register(name string, d declared) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.keys[name]; dup {
		return ErrDuplicateKey.New("%s: %q already declared", s.name, name)
	}
	s.keys[name] = d
	s.order = append(s.order, name)
	return nil
}

// Names returns the declared key names in declaration order.
func (s *Schema[O]) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Path returns the path segments of a declared key.
func (s *Schema[O]) Path(name string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.keys[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), d.path...), true
}

// Check validates a stored value against the codec of the key declared
// under name. Names without a declared key are reported as undeclared and
// never fail.
func (s *Schema[O]) Check(name string, raw json.RawMessage) (bool, error) {
	s.mu.RLock()
	d, ok := s.keys[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if isNull(raw) {
		return true, nil
	}
	if err := d.check(raw); err != nil {
		return true, ErrKeyDecode.New("%s: %s: %v", s.name, name, err)
	}
	return true, nil
}

// QueryFields returns the scalar keys usable in textual filters.
func (s *Schema[O]) QueryFields() query.Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(query.Fields, len(s.keys))
	for name, d := range s.keys {
		switch d.kind {
		case KindString, KindDuration:
			out[name] = query.TypeString
		case KindBool:
			out[name] = query.TypeBool
		case KindInt:
			out[name] = query.TypeInt
		case KindFloat:
			out[name] = query.TypeFloat
		case KindTime:
			out[name] = query.TypeTimestamp
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null"
}

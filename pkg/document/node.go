// Package document holds the canonical hierarchical document used by
// structured records, independent of the storage medium, together with the
// converters that bridge it to the encoding a backend stores.
//
// A Node is a tree of JSON-compatible values: nested objects are
// map[string]any, sequences are []any and numbers are json.Number so that
// integers survive a round trip without losing precision.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Node is a mutable hierarchical document rooted at an object.
// The zero value is not usable; construct one with New or FromMap.
type Node struct {
	root map[string]any
}

// New returns an empty document.
func New() *Node {
	return &Node{root: make(map[string]any)}
}

// FromMap builds a document from a JSON-compatible map. The map is deep
// copied and plain Go numbers are normalised to json.Number.
func FromMap(m map[string]any) *Node {
	n := New()
	for k, v := range m {
		n.root[k] = normalize(v)
	}
	return n
}

// Get returns the value at path. An empty path returns the whole document.
func (n *Node) Get(path ...string) (any, bool) {
	if len(path) == 0 {
		return n.Map(), true
	}
	cur := n.root
	for i, seg := range path {
		v, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return cloneValue(v), true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Has reports whether a value exists at path.
func (n *Node) Has(path ...string) bool {
	_, ok := n.lookup(path)
	return ok
}

func (n *Node) lookup(path []string) (any, bool) {
	if len(path) == 0 {
		return n.root, true
	}
	cur := n.root
	for i, seg := range path {
		v, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Set stores v at path, creating intermediate objects as needed. Any
// non-object value found on the way is replaced by an object.
func (n *Node) Set(path []string, v any) error {
	if len(path) == 0 {
		return fmt.Errorf("document: empty path")
	}
	cur := n.root
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = normalize(v)
	return nil
}

// Delete removes the value at path and prunes parent objects left empty.
// It reports whether a value was removed.
func (n *Node) Delete(path ...string) bool {
	if len(path) == 0 {
		return false
	}
	return deleteIn(n.root, path)
}

func deleteIn(m map[string]any, path []string) bool {
	if len(path) == 1 {
		if _, ok := m[path[0]]; !ok {
			return false
		}
		delete(m, path[0])
		return true
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		return false
	}
	removed := deleteIn(child, path[1:])
	if removed && len(child) == 0 {
		delete(m, path[0])
	}
	return removed
}

// Keys returns the top-level names in ascending order.
func (n *Node) Keys() []string {
	keys := make([]string, 0, len(n.root))
	for k := range n.root {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of top-level entries.
func (n *Node) Len() int { return len(n.root) }

// Clone returns a deep copy of the document.
func (n *Node) Clone() *Node {
	return &Node{root: cloneMap(n.root)}
}

// Map returns a deep copy of the document as a plain map.
func (n *Node) Map() map[string]any {
	return cloneMap(n.root)
}

// Equal reports whether both documents encode to the same JSON.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	a, errA := json.Marshal(n.root)
	b, errB := json.Marshal(other.root)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Marshal encodes a document value as JSON.
func Marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Unmarshal decodes JSON into a document value, keeping numbers as json.Number.
func Unmarshal(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("document: trailing data after value")
	}
	return v, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// normalize deep copies v and converts Go numbers into json.Number so that
// every stored value has the shape Unmarshal would produce.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, json.Number:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int:
		return json.Number(fmt.Sprintf("%d", t))
	case int64:
		return json.Number(fmt.Sprintf("%d", t))
	case int32:
		return json.Number(fmt.Sprintf("%d", t))
	case uint64:
		return json.Number(fmt.Sprintf("%d", t))
	case float64:
		b, _ := json.Marshal(t)
		return json.Number(b)
	case float32:
		b, _ := json.Marshal(float64(t))
		return json.Number(b)
	default:
		// Anything else goes through a JSON round trip so the tree only ever
		// holds plain JSON values.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		out, err := Unmarshal(raw)
		if err != nil {
			return nil
		}
		return out
	}
}

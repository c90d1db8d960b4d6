package document

import (
	"encoding/json"
	"fmt"
)

// Converter bridges the canonical document to the raw encoding a backend
// stores. Multiple backends share the same in-memory shape by sharing a
// converter.
type Converter interface {
	Encode(n *Node) ([]byte, error)
	Decode(raw []byte) (*Node, error)
}

// JSON is the converter used by every built-in backend: a compact JSON object.
var JSON Converter = jsonConverter{}

type jsonConverter struct{}

func (jsonConverter) Encode(n *Node) ([]byte, error) {
	if n == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(n.root)
}

func (jsonConverter) Decode(raw []byte) (*Node, error) {
	v, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode document: expected object, got %T", v)
	}
	return &Node{root: m}, nil
}

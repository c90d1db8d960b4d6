package translate

import (
	"modstore/internal/persistence"
	"modstore/pkg/document"
	"modstore/pkg/keyed"
)

// Structured translates hierarchical records through a document converter.
type Structured[O any] struct {
	schema   *keyed.Schema[O]
	conv     document.Converter
	reporter Reporter
}

var _ Translator[*keyed.StructuredObject[struct{}]] = (*Structured[struct{}])(nil)

// NewStructured returns a translator for records of schema. A nil converter
// means document.JSON.
func NewStructured[O any](schema *keyed.Schema[O], conv document.Converter, r Reporter) *Structured[O] {
	if conv == nil {
		conv = document.JSON
	}
	return &Structured[O]{schema: schema, conv: conv, reporter: orNop(r)}
}

// CreateNew implements Translator.
func (t *Structured[O]) CreateNew() *keyed.StructuredObject[O] {
	return keyed.NewStructuredObject[O]()
}

// FromRaw implements Translator. Every declared path is checked against its
// codec; values that fail are set aside and written back untouched.
func (t *Structured[O]) FromRaw(id string, raw persistence.Raw) (*keyed.StructuredObject[O], error) {
	n, err := t.conv.Decode(raw)
	if err != nil {
		return nil, persistence.ErrLoad.New("%s %s: %v", t.schema.Name(), id, err)
	}
	rec := keyed.NewStructuredObject[O]()
	rec.SetBackingNode(n)
	for _, name := range t.schema.Names() {
		path, _ := t.schema.Path(name)
		v, ok := n.Get(path...)
		if !ok {
			continue
		}
		value, err := document.Marshal(v)
		if err == nil {
			_, err = t.schema.Check(name, value)
		}
		if err != nil {
			rec.Quarantine(path)
			t.reporter.KeyDecodeFailed(t.schema.Name(), id, name, err)
		}
	}
	return rec, nil
}

// ToRaw implements Translator.
func (t *Structured[O]) ToRaw(rec *keyed.StructuredObject[O]) (persistence.Raw, error) {
	raw, err := t.conv.Encode(rec.BackingNode())
	if err != nil {
		return nil, keyed.Error.New("%s: encode: %v", t.schema.Name(), err)
	}
	return persistence.Raw(raw), nil
}

package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"modstore/internal/persistence"
	"modstore/pkg/keyed"
)

// Keyed translates flat records: the stored document is a JSON object whose
// members are the key names.
type Keyed[O any] struct {
	schema   *keyed.Schema[O]
	reporter Reporter
}

var _ Translator[*keyed.Object[struct{}]] = (*Keyed[struct{}])(nil)

// NewKeyed returns a translator for records of schema.
func NewKeyed[O any](schema *keyed.Schema[O], r Reporter) *Keyed[O] {
	return &Keyed[O]{schema: schema, reporter: orNop(r)}
}

// CreateNew implements Translator.
func (t *Keyed[O]) CreateNew() *keyed.Object[O] { return keyed.NewObject[O]() }

// FromRaw implements Translator. Member order is preserved so a record
// written back keeps the layout it was read with.
func (t *Keyed[O]) FromRaw(id string, raw persistence.Raw) (*keyed.Object[O], error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, persistence.ErrLoad.New("%s %s: %v", t.schema.Name(), id, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, persistence.ErrLoad.New("%s %s: document is not an object", t.schema.Name(), id)
	}
	rec := keyed.NewObject[O]()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, persistence.ErrLoad.New("%s %s: %v", t.schema.Name(), id, err)
		}
		name, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, persistence.ErrLoad.New("%s %s: %s: %v", t.schema.Name(), id, name, err)
		}
		if _, err := t.schema.Check(name, value); err != nil {
			rec.Quarantine(name, value)
			t.reporter.KeyDecodeFailed(t.schema.Name(), id, name, err)
			continue
		}
		rec.LoadRaw(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, persistence.ErrLoad.New("%s %s: %v", t.schema.Name(), id, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, persistence.ErrLoad.New("%s %s: trailing data after document", t.schema.Name(), id)
	}
	return rec, nil
}

// ToRaw implements Translator.
func (t *Keyed[O]) ToRaw(rec *keyed.Object[O]) (persistence.Raw, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range rec.RawEntries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if err := json.Compact(&buf, e.Value); err != nil {
			return nil, keyed.Error.New("%s: %s: %v", t.schema.Name(), e.Name, err)
		}
	}
	buf.WriteByte('}')
	return persistence.Raw(buf.Bytes()), nil
}

// Package keyed provides typed data keys that independently developed
// modules declare against shared per-entity records.
//
// A Key[T, O] binds a dotted name to a codec for values of type T and to an
// owner type O. Records are parameterised by the same owner, so a key
// declared for users cannot be used on a world record: the mismatch is a
// compile error rather than a runtime check.
//
//	var Users = keyed.NewSchema[User]("users")
//	var LastSeen = keyed.MustDeclare(Users, "lastSeen", keyed.Time(), time.Time{})
//
//	seen, ok := LastSeen.Get(rec)
//	_ = LastSeen.Set(rec, time.Now())
package keyed

import (
	"encoding/json"
	"strings"
)

// Record is a mutable per-entity record that keys read and write. It is
// implemented by *Object and *StructuredObject.
type Record[O any] interface {
	rawValue(path []string) (json.RawMessage, bool)
	putValue(path []string, raw json.RawMessage) error
	removeValue(path []string) bool
}

// Key is an immutable typed accessor. Construct keys with Declare and its
// variants; the zero value is not usable.
type Key[T, O any] struct {
	name   string
	path   []string
	codec  Codec[T]
	def    func() T
	schema string
}

// Declare registers name on schema. Dots in name separate nested path
// segments for structured records.
func Declare[T, O any](schema *Schema[O], name string, codec Codec[T], def T) (Key[T, O], error) {
	return DeclareFunc(schema, name, codec, func() T { return def })
}

// DeclareFunc registers a key whose default is produced on demand, which
// keeps mutable defaults such as maps from being shared between records.
func DeclareFunc[T, O any](schema *Schema[O], name string, codec Codec[T], def func() T) (Key[T, O], error) {
	if schema == nil {
		return Key[T, O]{}, Error.New("nil schema")
	}
	if codec == nil {
		return Key[T, O]{}, Error.New("%s: nil codec for %q", schema.Name(), name)
	}
	path := strings.Split(name, ".")
	for _, seg := range path {
		if strings.TrimSpace(seg) == "" {
			return Key[T, O]{}, Error.New("%s: invalid key name %q", schema.Name(), name)
		}
	}
	if def == nil {
		def = func() T {
			var zero T
			return zero
		}
	}
	err := schema.register(name, declared{
		path: path,
		kind: codec.Kind(),
		check: func(raw json.RawMessage) error {
			_, err := codec.Decode(raw)
			return err
		},
	})
	if err != nil {
		return Key[T, O]{}, err
	}
	return Key[T, O]{name: name, path: path, codec: codec, def: def, schema: schema.Name()}, nil
}

// DeclarePath registers a key from explicit path segments.
func DeclarePath[T, O any](schema *Schema[O], path []string, codec Codec[T], def T) (Key[T, O], error) {
	for _, seg := range path {
		if strings.Contains(seg, ".") {
			return Key[T, O]{}, Error.New("path segment %q contains a dot", seg)
		}
	}
	return Declare(schema, strings.Join(path, "."), codec, def)
}

// DeclareList registers a sequence key whose default is an empty list.
func DeclareList[E, O any](schema *Schema[O], name string, elem Codec[E]) (Key[[]E, O], error) {
	return DeclareFunc(schema, name, List(elem), func() []E { return []E{} })
}

// MustDeclare is Declare for package-level variables; it panics on error.
func MustDeclare[T, O any](schema *Schema[O], name string, codec Codec[T], def T) Key[T, O] {
	k, err := Declare(schema, name, codec, def)
	if err != nil {
		panic(err)
	}
	return k
}

// MustDeclareList is DeclareList for package-level variables.
func MustDeclareList[E, O any](schema *Schema[O], name string, elem Codec[E]) Key[[]E, O] {
	k, err := DeclareList(schema, name, elem)
	if err != nil {
		panic(err)
	}
	return k
}

// Name returns the dotted key name.
func (k Key[T, O]) Name() string { return k.name }

// Path returns a copy of the path segments.
func (k Key[T, O]) Path() []string { return append([]string(nil), k.path...) }

// Schema returns the name of the schema the key was declared on.
func (k Key[T, O]) Schema() string { return k.schema }

// Codec returns the key's codec.
func (k Key[T, O]) Codec() Codec[T] { return k.codec }

// Default returns the declared default value.
func (k Key[T, O]) Default() T { return k.def() }

// Get returns the stored value. A missing value, a stored null or a value
// that no longer decodes all report false.
func (k Key[T, O]) Get(rec Record[O]) (T, bool) {
	var zero T
	raw, ok := rec.rawValue(k.path)
	if !ok || isNull(raw) {
		return zero, false
	}
	v, err := k.codec.Decode(raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

// GetOrDefault returns the stored value or the key's default.
func (k Key[T, O]) GetOrDefault(rec Record[O]) T {
	if v, ok := k.Get(rec); ok {
		return v
	}
	return k.def()
}

// Has reports whether a value is stored for the key.
func (k Key[T, O]) Has(rec Record[O]) bool {
	_, ok := k.Get(rec)
	return ok
}

// Set encodes v, stores it and marks the key dirty.
func (k Key[T, O]) Set(rec Record[O], v T) error {
	raw, err := k.codec.Encode(v)
	if err != nil {
		return Error.New("%s: encode %q: %v", k.schema, k.name, err)
	}
	return rec.putValue(k.path, raw)
}

// Remove deletes the stored value and reports whether anything was removed.
func (k Key[T, O]) Remove(rec Record[O]) bool {
	return rec.removeValue(k.path)
}

// Update performs a read-modify-write. fn receives the current value and
// whether it was present; returning keep=false removes the key.
func (k Key[T, O]) Update(rec Record[O], fn func(cur T, ok bool) (next T, keep bool)) error {
	cur, ok := k.Get(rec)
	next, keep := fn(cur, ok)
	if !keep {
		k.Remove(rec)
		return nil
	}
	return k.Set(rec, next)
}

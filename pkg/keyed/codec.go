package keyed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies the JSON shape a codec produces. Scalar kinds are
// queryable; see Schema.QueryFields.
type Kind int

// Codec kinds.
const (
	KindJSON Kind = iota
	KindString
	KindBool
	KindInt
	KindFloat
	KindTime
	KindDuration
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	case KindList:
		return "list"
	default:
		return "json"
	}
}

// Codec is an explicit encode/decode pair between a Go value and its stored
// JSON form.
type Codec[T any] interface {
	Encode(v T) (json.RawMessage, error)
	Decode(raw json.RawMessage) (T, error)
	Kind() Kind
}

type funcCodec[T any] struct {
	kind Kind
	enc  func(T) (json.RawMessage, error)
	dec  func(json.RawMessage) (T, error)
}

func (c funcCodec[T]) Encode(v T) (json.RawMessage, error)   { return c.enc(v) }
func (c funcCodec[T]) Decode(raw json.RawMessage) (T, error) { return c.dec(raw) }
func (c funcCodec[T]) Kind() Kind                            { return c.kind }

// NewCodec builds a codec from an encode/decode pair.
func NewCodec[T any](kind Kind, enc func(T) (json.RawMessage, error), dec func(json.RawMessage) (T, error)) Codec[T] {
	return funcCodec[T]{kind: kind, enc: enc, dec: dec}
}

func marshal[T any](v T) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func unmarshal[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// String encodes a JSON string.
func String() Codec[string] {
	return NewCodec(KindString, marshal[string], unmarshal[string])
}

// Bool encodes a JSON boolean.
func Bool() Codec[bool] {
	return NewCodec(KindBool, marshal[bool], unmarshal[bool])
}

// Int encodes a JSON integer. Fractional numbers fail to decode.
func Int() Codec[int] {
	return NewCodec(KindInt, marshal[int], unmarshal[int])
}

// Int64 encodes a JSON integer.
func Int64() Codec[int64] {
	return NewCodec(KindInt, marshal[int64], unmarshal[int64])
}

// Float64 encodes a JSON number.
func Float64() Codec[float64] {
	return NewCodec(KindFloat, marshal[float64], unmarshal[float64])
}

// Time encodes an instant as an RFC 3339 string in UTC.
func Time() Codec[time.Time] {
	return NewCodec(KindTime,
		func(t time.Time) (json.RawMessage, error) {
			return marshal(t.UTC().Format(time.RFC3339Nano))
		},
		func(raw json.RawMessage) (time.Time, error) {
			s, err := unmarshal[string](raw)
			if err != nil {
				return time.Time{}, err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return time.Time{}, err
			}
			return t.UTC(), nil
		})
}

// Duration encodes a duration in time.Duration.String form, e.g. "1h30m0s".
func Duration() Codec[time.Duration] {
	return NewCodec(KindDuration,
		func(d time.Duration) (json.RawMessage, error) {
			return marshal(d.String())
		},
		func(raw json.RawMessage) (time.Duration, error) {
			s, err := unmarshal[string](raw)
			if err != nil {
				return 0, err
			}
			return time.ParseDuration(s)
		})
}

// JSON encodes any value through encoding/json. Use it for structs and maps.
func JSON[T any]() Codec[T] {
	return NewCodec(KindJSON, marshal[T], func(raw json.RawMessage) (T, error) {
		var v T
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&v); err != nil {
			return v, err
		}
		if dec.More() {
			return v, fmt.Errorf("trailing data after value")
		}
		return v, nil
	})
}

// List encodes a JSON array whose elements use elem.
func List[E any](elem Codec[E]) Codec[[]E] {
	return NewCodec(KindList,
		func(vs []E) (json.RawMessage, error) {
			parts := make([]json.RawMessage, 0, len(vs))
			for i, v := range vs {
				raw, err := elem.Encode(v)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				parts = append(parts, raw)
			}
			return marshal(parts)
		},
		func(raw json.RawMessage) ([]E, error) {
			var parts []json.RawMessage
			if err := json.Unmarshal(raw, &parts); err != nil {
				return nil, err
			}
			out := make([]E, 0, len(parts))
			for i, p := range parts {
				v, err := elem.Decode(p)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				out = append(out, v)
			}
			return out, nil
		})
}

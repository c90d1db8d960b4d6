// Package query describes backend-agnostic bulk selection criteria.
//
// A Query is pure data: an optional restriction to a set of entity ids and a
// conjunction of named predicates such as "jail.jailed = true". Backends that
// can filter natively translate the criteria; the others enumerate ids and
// evaluate Match against each stored document.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	Eq Op = "="
	Ne Op = "!="
	Lt Op = "<"
	Le Op = "<="
	Gt Op = ">"
	Ge Op = ">="
)

func (o Op) valid() bool {
	switch o {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	}
	return false
}

// Criterion is one named predicate. Field is a dot separated path into the
// stored document; Value is a string, bool, integer, float or time.Time.
type Criterion struct {
	Field string
	Op    Op
	Value any
}

// Path splits the field into document path segments.
func (c Criterion) Path() []string {
	return strings.Split(c.Field, ".")
}

func (c Criterion) String() string {
	switch v := c.Value.(type) {
	case string:
		return fmt.Sprintf("%s %s %q", c.Field, c.Op, v)
	case time.Time:
		return fmt.Sprintf("%s %s timestamp(%q)", c.Field, c.Op, v.UTC().Format(time.RFC3339Nano))
	default:
		return fmt.Sprintf("%s %s %v", c.Field, c.Op, v)
	}
}

// Query is an immutable selection. The zero value selects everything.
type Query struct {
	ids      []string
	criteria []Criterion
}

// New returns a query selecting every entity.
func New() Query { return Query{} }

// ForIDs returns a query restricted to the given ids.
func ForIDs(ids ...string) Query { return New().WithIDs(ids...) }

// WithIDs returns a copy restricted to the given ids (in addition to any
// existing restriction being replaced).
func (q Query) WithIDs(ids ...string) Query {
	out := q.clone()
	seen := make(map[string]struct{}, len(ids))
	out.ids = make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.ids = append(out.ids, id)
	}
	sort.Strings(out.ids)
	return out
}

// Where returns a copy with an additional criterion.
func (q Query) Where(field string, op Op, value any) Query {
	out := q.clone()
	out.criteria = append(out.criteria, Criterion{Field: field, Op: op, Value: normalizeValue(value)})
	return out
}

func (q Query) clone() Query {
	out := Query{}
	if q.ids != nil {
		out.ids = append([]string(nil), q.ids...)
	}
	out.criteria = append([]Criterion(nil), q.criteria...)
	return out
}

// IDs returns the id restriction, if any.
func (q Query) IDs() []string { return append([]string(nil), q.ids...) }

// RestrictedToIDs reports whether the query names explicit ids.
func (q Query) RestrictedToIDs() bool { return q.ids != nil }

// Criteria returns the predicates of the query.
func (q Query) Criteria() []Criterion { return append([]Criterion(nil), q.criteria...) }

// HasCriteria reports whether evaluating the query needs document contents.
func (q Query) HasCriteria() bool { return len(q.criteria) > 0 }

// AllowsID reports whether id passes the id restriction.
func (q Query) AllowsID(id string) bool {
	if q.ids == nil {
		return true
	}
	i := sort.SearchStrings(q.ids, id)
	return i < len(q.ids) && q.ids[i] == id
}

// Validate reports malformed criteria.
func (q Query) Validate() error {
	for _, c := range q.criteria {
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("query: empty field name")
		}
		for _, seg := range c.Path() {
			if seg == "" {
				return fmt.Errorf("query: invalid field %q", c.Field)
			}
		}
		if !c.Op.valid() {
			return fmt.Errorf("query: unsupported operator %q", c.Op)
		}
		switch c.Value.(type) {
		case string, int64, float64, time.Time:
		case bool:
			if c.Op != Eq && c.Op != Ne {
				return fmt.Errorf("query: operator %s is not defined for booleans", c.Op)
			}
		default:
			return fmt.Errorf("query: unsupported value %T for %s", c.Value, c.Field)
		}
	}
	return nil
}

func (q Query) String() string {
	parts := make([]string, 0, len(q.criteria)+1)
	if q.ids != nil {
		parts = append(parts, fmt.Sprintf("id in %v", q.ids))
	}
	for _, c := range q.criteria {
		parts = append(parts, c.String())
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " AND ")
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

package query

import (
	"encoding/json"
	"strings"
	"time"

	"modstore/pkg/document"
)

// Match evaluates the query against one stored document. Missing fields
// never match, mirroring SQL NULL comparison semantics so that native and
// scanning backends agree.
func (q Query) Match(id string, n *document.Node) bool {
	if !q.AllowsID(id) {
		return false
	}
	for _, c := range q.criteria {
		if n == nil {
			return false
		}
		v, ok := n.Get(c.Path()...)
		if !ok || !c.matches(v) {
			return false
		}
	}
	return true
}

// MatchJSON decodes raw with the canonical converter and evaluates the query.
func (q Query) MatchJSON(id string, raw []byte) (bool, error) {
	if !q.AllowsID(id) {
		return false, nil
	}
	if !q.HasCriteria() {
		return true, nil
	}
	n, err := document.JSON.Decode(raw)
	if err != nil {
		return false, err
	}
	return q.Match(id, n), nil
}

func (c Criterion) matches(stored any) bool {
	switch want := c.Value.(type) {
	case bool:
		got, ok := stored.(bool)
		if !ok {
			return false
		}
		switch c.Op {
		case Eq:
			return got == want
		case Ne:
			return got != want
		}
		return false
	case int64:
		got, ok := number(stored)
		if !ok {
			return false
		}
		return compare(c.Op, cmpFloat(got, float64(want)))
	case float64:
		got, ok := number(stored)
		if !ok {
			return false
		}
		return compare(c.Op, cmpFloat(got, want))
	case string:
		got, ok := stored.(string)
		if !ok {
			return false
		}
		return compare(c.Op, strings.Compare(got, want))
	case time.Time:
		s, ok := stored.(string)
		if !ok {
			return false
		}
		got, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return false
		}
		return compare(c.Op, got.Compare(want))
	}
	return false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compare(op Op, c int) bool {
	switch op {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	}
	return false
}

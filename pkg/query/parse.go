package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Type is the declared type of a queryable field.
type Type int

// Field types understood by Parse.
const (
	TypeString Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeTimestamp
)

// Fields declares which document fields a filter may reference.
type Fields map[string]Type

func (f Fields) declarations() (*filtering.Declarations, error) {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	opts := []filtering.DeclarationOption{
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("true", filtering.TypeBool),
		filtering.DeclareIdent("false", filtering.TypeBool),
	}
	for _, name := range names {
		var t *expr.Type
		switch f[name] {
		case TypeBool:
			t = filtering.TypeBool
		case TypeInt:
			t = filtering.TypeInt
		case TypeFloat:
			t = filtering.TypeFloat
		case TypeTimestamp:
			t = filtering.TypeTimestamp
		default:
			t = filtering.TypeString
		}
		opts = append(opts, filtering.DeclareIdent(name, t))
	}
	return filtering.NewDeclarations(opts...)
}

// Parse turns an AIP-160 filter expression into a Query. Only conjunctions
// of comparisons between a declared field and a literal are accepted, e.g.
//
//	jail.jailed = true AND logins >= 3 AND lastSeen < timestamp("2024-01-01T00:00:00Z")
//
// An empty filter selects everything.
func Parse(filter string, fields Fields) (Query, error) {
	q := New()
	if strings.TrimSpace(filter) == "" {
		return q, nil
	}
	decls, err := fields.declarations()
	if err != nil {
		return q, fmt.Errorf("query: declare fields: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filter, decls)
	if err != nil {
		return q, fmt.Errorf("query: parse filter: %w", err)
	}
	if parsed.CheckedExpr == nil {
		return q, nil
	}
	criteria, err := collect(parsed.CheckedExpr.GetExpr())
	if err != nil {
		return q, err
	}
	for _, c := range criteria {
		q = q.Where(c.Field, c.Op, c.Value)
	}
	return q, q.Validate()
}

func collect(e *expr.Expr) ([]Criterion, error) {
	if e == nil {
		return nil, nil
	}
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok {
		return nil, fmt.Errorf("query: unsupported expression %T", e.GetExprKind())
	}
	fn := call.CallExpr.GetFunction()
	args := call.CallExpr.GetArgs()
	switch fn {
	case filtering.FunctionAnd:
		var out []Criterion
		for _, arg := range args {
			sub, err := collect(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	case filtering.FunctionEquals, filtering.FunctionNotEquals,
		filtering.FunctionLessThan, filtering.FunctionLessEquals,
		filtering.FunctionGreaterThan, filtering.FunctionGreaterEquals:
		if len(args) != 2 {
			return nil, fmt.Errorf("query: %s requires 2 arguments", fn)
		}
		field, err := fieldName(args[0])
		if err != nil {
			return nil, err
		}
		value, err := literal(args[1])
		if err != nil {
			return nil, err
		}
		return []Criterion{{Field: field, Op: Op(fn), Value: value}}, nil
	default:
		return nil, fmt.Errorf("query: unsupported function %s", fn)
	}
}

func fieldName(e *expr.Expr) (string, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.GetName(), nil
	case *expr.Expr_SelectExpr:
		parent, err := fieldName(kind.SelectExpr.GetOperand())
		if err != nil {
			return "", err
		}
		return parent + "." + kind.SelectExpr.GetField(), nil
	default:
		return "", fmt.Errorf("query: expected field name, got %T", kind)
	}
}

func literal(e *expr.Expr) (any, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		switch c := kind.ConstExpr.GetConstantKind().(type) {
		case *expr.Constant_StringValue:
			return c.StringValue, nil
		case *expr.Constant_Int64Value:
			return c.Int64Value, nil
		case *expr.Constant_Uint64Value:
			return int64(c.Uint64Value), nil
		case *expr.Constant_DoubleValue:
			return c.DoubleValue, nil
		case *expr.Constant_BoolValue:
			return c.BoolValue, nil
		default:
			return nil, fmt.Errorf("query: unsupported constant %T", c)
		}
	case *expr.Expr_CallExpr:
		if kind.CallExpr.GetFunction() == filtering.FunctionTimestamp && len(kind.CallExpr.GetArgs()) == 1 {
			s, err := literal(kind.CallExpr.GetArgs()[0])
			if err != nil {
				return nil, err
			}
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("query: timestamp argument must be a string")
			}
			t, err := time.Parse(time.RFC3339Nano, str)
			if err != nil {
				return nil, fmt.Errorf("query: invalid timestamp %q", str)
			}
			return t.UTC(), nil
		}
		return nil, fmt.Errorf("query: unsupported function %s in value position", kind.CallExpr.GetFunction())
	case *expr.Expr_IdentExpr:
		// true and false are declared identifiers, not constants.
		switch kind.IdentExpr.GetName() {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("query: expected literal, got field %s", kind.IdentExpr.GetName())
	default:
		return nil, fmt.Errorf("query: expected literal, got %T", kind)
	}
}

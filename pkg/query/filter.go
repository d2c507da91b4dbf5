package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Predicate is a compiled, storage-ready WHERE fragment. SQL uses $n
// placeholders starting at $1; Args holds the bound values in order. An
// empty SQL means the document imposed no restriction.
type Predicate struct {
	SQL  string
	Args []any
}

// IsEmpty reports whether the predicate restricts nothing.
func (p Predicate) IsEmpty() bool {
	return p.SQL == ""
}

// NextArg returns the placeholder index available after this predicate's
// arguments, for callers composing LIMIT/OFFSET or extra clauses.
func (p Predicate) NextArg() int {
	return len(p.Args) + 1
}

// Validate checks the document against the spec without building SQL.
// It succeeds iff every key exists in the spec, every operator (explicit or
// implied "=") is allowed for its column, and every value matches the shape
// the operator requires.
func (s FilterSpec) Validate(doc FilterDocument) error {
	_, err := s.Compile(doc)
	return err
}

// Compile validates the document and produces a conjunctive predicate.
// Columns are processed in sorted name order so that compiling the same
// (spec, document) pair twice yields structurally equal predicates.
func (s FilterSpec) Compile(doc FilterDocument) (Predicate, error) {
	if len(doc) == 0 {
		return Predicate{}, nil
	}

	columns := make([]string, 0, len(doc))
	for column := range doc {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	clauses := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, column := range columns {
		spec, ok := s[column]
		if !ok {
			return Predicate{}, validationError(column, "column is not filterable")
		}

		cond := doc[column]
		op, err := resolveOperator(column, cond.Operator)
		if err != nil {
			return Predicate{}, err
		}
		if !spec.Allows(op) {
			return Predicate{}, validationError(column, "operator %q is not allowed", op)
		}

		clause, clauseArgs, err := compileCondition(column, spec, op, cond.Value, len(args)+1)
		if err != nil {
			return Predicate{}, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	return Predicate{SQL: strings.Join(clauses, " AND "), Args: args}, nil
}

// resolveOperator maps the wire operator token to an Operator, defaulting an
// omitted token to equality.
func resolveOperator(column, token string) (Operator, error) {
	switch token {
	case "":
		return OpEqual, nil
	case string(OpEqual), string(OpIsNull), string(OpBetween),
		string(OpLess), string(OpGreater), string(OpLessOrEqual), string(OpGreaterOrEqual):
		return Operator(token), nil
	default:
		return "", validationError(column, "unknown operator %q", token)
	}
}

func compileCondition(column string, spec ColumnSpec, op Operator, value any, argIndex int) (string, []any, error) {
	expr := spec.Expr
	if expr == "" {
		expr = column
	}

	switch op {
	case OpIsNull:
		// The supplied value, if any, is irrelevant.
		return fmt.Sprintf("%s IS NULL", expr), nil, nil

	case OpBetween:
		bounds, ok := asArray(value)
		if !ok || len(bounds) != 2 {
			return "", nil, validationError(column, "between requires an array of exactly 2 values")
		}
		if !isScalar(bounds[0]) || !isScalar(bounds[1]) {
			return "", nil, validationError(column, "between bounds must be scalar values")
		}
		return fmt.Sprintf("%s BETWEEN $%d AND $%d", expr, argIndex, argIndex+1),
			[]any{bounds[0], bounds[1]}, nil

	case OpLess, OpGreater, OpLessOrEqual, OpGreaterOrEqual:
		// Range comparisons take a single scalar regardless of the declared
		// column type.
		if !isScalar(value) {
			return "", nil, validationError(column, "operator %q requires a scalar value", op)
		}
		return fmt.Sprintf("%s %s $%d", expr, op, argIndex), []any{value}, nil

	case OpEqual:
		if spec.Type == ColumnTypeArray {
			values, ok := asArray(value)
			if !ok {
				// A lone scalar on a set-typed column is a one-element set.
				if !isScalar(value) {
					return "", nil, validationError(column, "equality requires a scalar or array value")
				}
				values = []any{value}
			}
			if len(values) == 0 {
				return "", nil, validationError(column, "equality requires at least one value")
			}
			for _, v := range values {
				if !isScalar(v) {
					return "", nil, validationError(column, "set members must be scalar values")
				}
			}
			// The slice stays a plain []any so predicates survive JSON
			// round-trips; executors wrap slice args with pq.Array before
			// binding.
			return fmt.Sprintf("%s = ANY($%d)", expr, argIndex), []any{values}, nil
		}

		if !isScalar(value) {
			return "", nil, validationError(column, "equality requires a scalar value")
		}
		return fmt.Sprintf("%s = $%d", expr, argIndex), []any{value}, nil

	default:
		return "", nil, validationError(column, "unknown operator %q", op)
	}
}

// asArray normalizes array-shaped values decoded from JSON or built natively.
func asArray(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// isScalar reports whether the value is a comparable scalar: a string,
// number, or boolean. nil is not a scalar (isNull exists for that).
func isScalar(value any) bool {
	switch value.(type) {
	case string, bool, float32, float64, int, int32, int64, json.Number:
		return true
	default:
		return false
	}
}

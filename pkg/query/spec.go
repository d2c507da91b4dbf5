// Package query compiles caller-supplied filter, sort, and pagination
// documents into storage-layer predicates. Every compiled expression is built
// from a static per-endpoint allow-list; request-derived values only ever
// travel as bind arguments.
package query

// ColumnType declares the comparison form for a filterable column.
type ColumnType string

// Column type constants
const (
	// ColumnTypeString compares as a single scalar (exact equality, ranges)
	ColumnTypeString ColumnType = "string"
	// ColumnTypeArray compares with set semantics (any supplied value may match)
	ColumnTypeArray ColumnType = "array"
)

// Operator identifies a filter comparison operator.
type Operator string

// Filter operator constants
const (
	OpEqual          Operator = "="
	OpIsNull         Operator = "isNull"
	OpBetween        Operator = "between"
	OpLess           Operator = "<"
	OpGreater        Operator = ">"
	OpLessOrEqual    Operator = "<="
	OpGreaterOrEqual Operator = ">="
)

// ColumnSpec declares how one column may be filtered.
type ColumnSpec struct {
	// Type selects scalar vs set comparison semantics for the = operator.
	Type ColumnType
	// Operators is the allow-list of operators callers may use.
	Operators []Operator
	// Expr is the physical SQL expression the column resolves to.
	// When empty the logical column name is used as-is.
	Expr string
}

// Allows reports whether op is in the column's operator allow-list.
func (c ColumnSpec) Allows(op Operator) bool {
	for _, allowed := range c.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// FilterSpec is the static, per-endpoint declaration of filterable columns.
type FilterSpec map[string]ColumnSpec

// SortSpec is the static, per-endpoint declaration of sortable columns.
type SortSpec struct {
	// Columns lists the sortable logical column names. The slice order is
	// also the precedence order used when a multi-column document is compiled.
	Columns []string
	// MultipleSort permits more than one sort key per document.
	MultipleSort bool
	// ColumnExprs maps a logical column name to a physical sortable
	// expression (e.g. a joined table's column). Missing entries fall back
	// to the literal column name.
	ColumnExprs map[string]string
	// CustomOrders maps a column to an explicit rank list. A ranked column
	// sorts by list position instead of lexical order; values outside the
	// list rank after every listed value.
	CustomOrders map[string][]string
	// Default is the order applied when the caller sends no sort document.
	// It must not be empty: stable pagination requires a deterministic order.
	Default OrderList
}

// contains reports whether the logical column is sortable.
func (s SortSpec) contains(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

package query

import (
	"fmt"
	"strings"
)

// OrderTerm is one compiled (expression, direction) pair.
type OrderTerm struct {
	Expr string
	Desc bool
}

// OrderList is the compiled ordering for a query, highest precedence first.
type OrderList []OrderTerm

// SQL renders the list as the body of an ORDER BY clause.
func (l OrderList) SQL() string {
	if len(l) == 0 {
		return ""
	}
	parts := make([]string, len(l))
	for i, term := range l {
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		parts[i] = term.Expr + " " + dir
	}
	return strings.Join(parts, ", ")
}

// Validate checks the sort document against the spec: every key must be a
// declared sortable column, each direction must be asc or desc, and when
// MultipleSort is off at most one key may be present.
func (s SortSpec) Validate(doc SortDocument) error {
	if !s.MultipleSort && len(doc) > 1 {
		return validationError("", "multiple sort columns are not allowed")
	}
	for column, direction := range doc {
		if !s.contains(column) {
			return validationError(column, "column is not sortable")
		}
		if _, err := parseDirection(column, direction); err != nil {
			return err
		}
	}
	return nil
}

// Compile validates the document and produces the ordered expression list.
// An empty document yields the spec's default order, never an empty list,
// so repeated paginated calls see a stable ordering. Multi-column documents
// compile in the spec's declared column order.
func (s SortSpec) Compile(doc SortDocument) (OrderList, error) {
	if err := s.Validate(doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		if len(s.Default) == 0 {
			return nil, validationError("", "sort spec declares no default order")
		}
		return append(OrderList{}, s.Default...), nil
	}

	out := make(OrderList, 0, len(doc))
	for _, column := range s.Columns {
		direction, ok := doc[column]
		if !ok {
			continue
		}
		desc, err := parseDirection(column, direction)
		if err != nil {
			return nil, err
		}
		out = append(out, OrderTerm{Expr: s.exprFor(column), Desc: desc})
	}
	return out, nil
}

// exprFor resolves the physical sort expression for a logical column:
// a custom rank list wins, then a column mapping, then the literal name.
func (s SortSpec) exprFor(column string) string {
	if ranks, ok := s.CustomOrders[column]; ok && len(ranks) > 0 {
		return rankExpr(s.mappedExpr(column), ranks)
	}
	return s.mappedExpr(column)
}

func (s SortSpec) mappedExpr(column string) string {
	if expr, ok := s.ColumnExprs[column]; ok && expr != "" {
		return expr
	}
	return column
}

// rankExpr builds a CASE expression ranking values by list position. Values
// outside the list get rank len(ranks), sorting after every listed value.
// Rank lists come from the static endpoint spec, never from the request, so
// quoting them as literals keeps the ORDER BY free of bind placeholders.
func rankExpr(expr string, ranks []string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(expr)
	for i, rank := range ranks {
		fmt.Fprintf(&b, " WHEN %s THEN %d", quoteLiteral(rank), i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(ranks))
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func parseDirection(column, direction string) (desc bool, err error) {
	switch strings.ToLower(direction) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, validationError(column, "direction must be asc or desc, got %q", direction)
	}
}

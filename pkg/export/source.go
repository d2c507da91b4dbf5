package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/rowmill/rowmill/pkg/query"
	"github.com/rowmill/rowmill/pkg/store/postgres"
)

// SourceColumn pairs a CSV header with the SQL expression producing it.
type SourceColumn struct {
	Header string `json:"header"`
	Expr   string `json:"expr"`
}

// SourceSpec is the serializable description of an export's row query: the
// compiled predicate and order plus the endpoint's declared column list. It
// travels inside the async task payload so the worker runs exactly the query
// the mode decision was made against.
type SourceSpec struct {
	Table   string         `json:"table"`
	Columns []SourceColumn `json:"columns"`
	Where   string         `json:"where,omitempty"`
	Args    []any          `json:"args,omitempty"`
	OrderBy string         `json:"orderBy,omitempty"`
}

// NewSourceSpec assembles a spec from a compiled predicate and order list.
func NewSourceSpec(table string, columns []SourceColumn, predicate query.Predicate, order query.OrderList) SourceSpec {
	return SourceSpec{
		Table:   table,
		Columns: columns,
		Where:   predicate.SQL,
		Args:    predicate.Args,
		OrderBy: order.SQL(),
	}
}

// Validate checks the spec can produce a query.
func (s SourceSpec) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return errors.New("source table is required")
	}
	if len(s.Columns) == 0 {
		return errors.New("source requires at least one column")
	}
	return nil
}

// RowSource produces the rows of one export. Count estimates cardinality for
// the mode decision using the same predicate Stream will run; Stream emits
// rows in compiled sort order until exhaustion, sink error, or cancellation.
type RowSource interface {
	Spec() SourceSpec
	Headers() []string
	Count(ctx context.Context, limit int64) (int64, error)
	Stream(ctx context.Context, fn func(row []string) error) error
}

// SQLRowSource is a RowSource over the relational store.
type SQLRowSource struct {
	db   *postgres.Adapter
	spec SourceSpec
}

// NewSQLRowSource builds a row source from a source spec.
func NewSQLRowSource(db *postgres.Adapter, spec SourceSpec) (*SQLRowSource, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &SQLRowSource{db: db, spec: spec}, nil
}

// Spec returns the serializable query description, for async dispatch.
func (s *SQLRowSource) Spec() SourceSpec {
	return s.spec
}

// Headers returns the CSV header row.
func (s *SQLRowSource) Headers() []string {
	headers := make([]string, len(s.spec.Columns))
	for i, c := range s.spec.Columns {
		headers[i] = c.Header
	}
	return headers
}

// Count returns the matching-row count, capped at limit. The cap keeps the
// sync/async decision from paying for a full scan: the caller only needs to
// know whether the threshold is exceeded, not the exact cardinality.
func (s *SQLRowSource) Count(ctx context.Context, limit int64) (int64, error) {
	inner := fmt.Sprintf("SELECT 1 FROM %s", s.spec.Table)
	args := bindArgs(s.spec.Args)
	if s.spec.Where != "" {
		inner += " WHERE " + s.spec.Where
	}
	if limit > 0 {
		inner += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM (%s) capped", inner), args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count export rows: %w", err)
	}
	return count, nil
}

// Stream runs the export query and feeds each row to fn in sort order. It
// stops pulling rows as soon as fn returns an error or ctx is cancelled; the
// database cursor only advances as fast as the consumer accepts rows.
func (s *SQLRowSource) Stream(ctx context.Context, fn func(row []string) error) error {
	rows, err := s.db.QueryContext(ctx, s.selectSQL(), bindArgs(s.spec.Args)...)
	if err != nil {
		return fmt.Errorf("failed to query export rows: %w", err)
	}
	defer rows.Close()

	width := len(s.spec.Columns)
	values := make([]sql.NullString, width)
	scan := make([]any, width)
	for i := range values {
		scan[i] = &values[i]
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rows.Scan(scan...); err != nil {
			return fmt.Errorf("failed to scan export row: %w", err)
		}
		row := make([]string, width)
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating export rows: %w", err)
	}
	return nil
}

// bindArgs prepares predicate arguments for the driver: slice-shaped args
// (set-membership values, possibly round-tripped through JSON) are wrapped
// with pq.Array, everything else passes through.
func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch arg.(type) {
		case []any, []string:
			out[i] = pq.Array(arg)
		default:
			out[i] = arg
		}
	}
	return out
}

func (s *SQLRowSource) selectSQL() string {
	exprs := make([]string, len(s.spec.Columns))
	for i, c := range s.spec.Columns {
		exprs[i] = c.Expr
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), s.spec.Table)
	if s.spec.Where != "" {
		q += " WHERE " + s.spec.Where
	}
	if s.spec.OrderBy != "" {
		q += " ORDER BY " + s.spec.OrderBy
	}
	return q
}

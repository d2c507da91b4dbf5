package query

import (
	"errors"
	"reflect"
	"testing"
)

func testFilterSpec() FilterSpec {
	return FilterSpec{
		"name": {
			Type:      ColumnTypeString,
			Operators: []Operator{OpEqual, OpIsNull},
		},
		"tags": {
			Type:      ColumnTypeArray,
			Operators: []Operator{OpEqual},
		},
		"amount": {
			Type:      ColumnTypeString,
			Operators: []Operator{OpEqual, OpBetween, OpLess, OpGreater, OpLessOrEqual, OpGreaterOrEqual},
		},
		"account": {
			Type:      ColumnTypeString,
			Operators: []Operator{OpEqual},
			Expr:      "accounts.name",
		},
	}
}

func TestFilterSpec_Validate(t *testing.T) {
	spec := testFilterSpec()

	tests := []struct {
		name       string
		doc        FilterDocument
		wantErr    bool
		wantColumn string
	}{
		{
			name: "valid equality",
			doc:  FilterDocument{"name": {Value: "acme", Operator: "="}},
		},
		{
			name: "omitted operator defaults to equality",
			doc:  FilterDocument{"name": {Value: "acme"}},
		},
		{
			name:       "unknown column",
			doc:        FilterDocument{"secret": {Value: "x"}},
			wantErr:    true,
			wantColumn: "secret",
		},
		{
			name:       "disallowed operator",
			doc:        FilterDocument{"name": {Value: "x", Operator: "<"}},
			wantErr:    true,
			wantColumn: "name",
		},
		{
			name:       "unknown operator token",
			doc:        FilterDocument{"name": {Value: "x", Operator: "like"}},
			wantErr:    true,
			wantColumn: "name",
		},
		{
			name: "between with two bounds",
			doc:  FilterDocument{"amount": {Value: []any{float64(1), float64(10)}, Operator: "between"}},
		},
		{
			name:       "between with one bound",
			doc:        FilterDocument{"amount": {Value: []any{float64(1)}, Operator: "between"}},
			wantErr:    true,
			wantColumn: "amount",
		},
		{
			name:       "between with scalar value",
			doc:        FilterDocument{"amount": {Value: float64(1), Operator: "between"}},
			wantErr:    true,
			wantColumn: "amount",
		},
		{
			name:       "between with nil bound",
			doc:        FilterDocument{"amount": {Value: []any{nil, nil}, Operator: "between"}},
			wantErr:    true,
			wantColumn: "amount",
		},
		{
			name:       "string equality rejects array value",
			doc:        FilterDocument{"name": {Value: []any{"a", "b"}}},
			wantErr:    true,
			wantColumn: "name",
		},
		{
			name:       "range operator rejects array value",
			doc:        FilterDocument{"amount": {Value: []any{float64(1)}, Operator: "<"}},
			wantErr:    true,
			wantColumn: "amount",
		},
		{
			name: "empty document",
			doc:  FilterDocument{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := spec.Validate(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %T", err)
				}
				if verr.Column != tt.wantColumn {
					t.Errorf("error column = %q, want %q", verr.Column, tt.wantColumn)
				}
			}
		})
	}
}

func TestFilterSpec_Compile(t *testing.T) {
	spec := testFilterSpec()

	t.Run("string equality binds the value", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{"name": {Value: "acme", Operator: "="}})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if p.SQL != "name = $1" {
			t.Errorf("SQL = %q", p.SQL)
		}
		if !reflect.DeepEqual(p.Args, []any{"acme"}) {
			t.Errorf("Args = %v", p.Args)
		}
	})

	t.Run("array equality compiles to set membership", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{"tags": {Value: []any{"red", "blue"}}})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if p.SQL != "tags = ANY($1)" {
			t.Errorf("SQL = %q", p.SQL)
		}
		if len(p.Args) != 1 {
			t.Fatalf("Args = %v, want one array arg", p.Args)
		}
	})

	t.Run("scalar on array column is a one element set", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{"tags": {Value: "red"}})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if p.SQL != "tags = ANY($1)" {
			t.Errorf("SQL = %q", p.SQL)
		}
	})

	t.Run("isNull ignores the supplied value", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{"name": {Value: "ignored", Operator: "isNull"}})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if p.SQL != "name IS NULL" {
			t.Errorf("SQL = %q", p.SQL)
		}
		if len(p.Args) != 0 {
			t.Errorf("Args = %v, want none", p.Args)
		}
	})

	t.Run("between compiles to an inclusive range", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{"amount": {Value: []any{float64(5), float64(9)}, Operator: "between"}})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if p.SQL != "amount BETWEEN $1 AND $2" {
			t.Errorf("SQL = %q", p.SQL)
		}
		if !reflect.DeepEqual(p.Args, []any{float64(5), float64(9)}) {
			t.Errorf("Args = %v", p.Args)
		}
	})

	t.Run("column expression mapping is applied", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{"account": {Value: "acme"}})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if p.SQL != "accounts.name = $1" {
			t.Errorf("SQL = %q", p.SQL)
		}
	})

	t.Run("multiple columns compose as a conjunction", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{
			"name":   {Value: "acme"},
			"amount": {Value: float64(10), Operator: ">="},
		})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		// Columns compile in sorted name order.
		if p.SQL != "amount >= $1 AND name = $2" {
			t.Errorf("SQL = %q", p.SQL)
		}
		if !reflect.DeepEqual(p.Args, []any{float64(10), "acme"}) {
			t.Errorf("Args = %v", p.Args)
		}
		if p.NextArg() != 3 {
			t.Errorf("NextArg() = %d, want 3", p.NextArg())
		}
	})

	t.Run("empty document compiles to the empty predicate", func(t *testing.T) {
		p, err := spec.Compile(FilterDocument{})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if !p.IsEmpty() {
			t.Errorf("expected empty predicate, got %q", p.SQL)
		}
	})
}

func TestFilterSpec_Compile_EndToEndScenarioA(t *testing.T) {
	// An array-shaped value on an array-typed name column with only equality
	// allowed compiles to a set-overlap predicate without a validation error.
	spec := FilterSpec{
		"name": {Type: ColumnTypeArray, Operators: []Operator{OpEqual}},
	}
	p, err := spec.Compile(FilterDocument{"name": {Value: []any{"acme"}}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if p.SQL != "name = ANY($1)" {
		t.Errorf("SQL = %q", p.SQL)
	}
}

func TestParseFilterDocument(t *testing.T) {
	doc, err := ParseFilterDocument([]byte(`{"status":{"value":["open","closed"],"operator":"="}}`))
	if err != nil {
		t.Fatalf("ParseFilterDocument() error = %v", err)
	}
	cond, ok := doc["status"]
	if !ok {
		t.Fatal("missing status condition")
	}
	if cond.Operator != "=" {
		t.Errorf("Operator = %q", cond.Operator)
	}

	if _, err := ParseFilterDocument([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}

	empty, err := ParseFilterDocument(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("ParseFilterDocument(nil) = %v, %v", empty, err)
	}
}

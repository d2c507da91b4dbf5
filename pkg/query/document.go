package query

import (
	"encoding/json"
	"fmt"
)

// Condition is one column's constraint in a filter document.
type Condition struct {
	Value    any    `json:"value"`
	Operator string `json:"operator,omitempty"`
}

// FilterDocument is the caller-supplied, per-request filter: one condition
// per column. An omitted operator defaults to "=".
type FilterDocument map[string]Condition

// SortDocument is the caller-supplied, per-request ordering: column name to
// "asc" or "desc" (case-insensitive).
type SortDocument map[string]string

// ParseFilterDocument decodes a wire JSON filter document.
func ParseFilterDocument(data []byte) (FilterDocument, error) {
	if len(data) == 0 {
		return FilterDocument{}, nil
	}
	var doc FilterDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid filter document: %w", err)
	}
	return doc, nil
}

// ParseSortDocument decodes a wire JSON sort document.
func ParseSortDocument(data []byte) (SortDocument, error) {
	if len(data) == 0 {
		return SortDocument{}, nil
	}
	var doc SortDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid sort document: %w", err)
	}
	return doc, nil
}

package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ContentTypeCSV is the content type sync mode sets on the streamed body.
const ContentTypeCSV = "application/csv"

// CSVEncoder writes UTF-8 CSV to a sink, header first. Every row is flushed
// through to the sink immediately so the producer never buffers ahead of a
// slow consumer, and a sink failure surfaces on the very next write.
type CSVEncoder struct {
	w           *csv.Writer
	wroteHeader bool
	headers     []string
}

// NewCSVEncoder creates an encoder emitting the given header row.
func NewCSVEncoder(sink io.Writer, headers []string) *CSVEncoder {
	return &CSVEncoder{
		w:       csv.NewWriter(sink),
		headers: headers,
	}
}

// Write emits one record, writing the header first if it has not been sent.
func (e *CSVEncoder) Write(row []string) error {
	if !e.wroteHeader {
		if err := e.w.Write(e.headers); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		e.wroteHeader = true
	}
	if err := e.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	e.w.Flush()
	return e.w.Error()
}

// Flush finalizes the output. An export with zero matching rows still gets
// its header row.
func (e *CSVEncoder) Flush() error {
	if !e.wroteHeader {
		if err := e.w.Write(e.headers); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		e.wroteHeader = true
	}
	e.w.Flush()
	return e.w.Error()
}

package export

import (
	"bytes"
	"errors"
	"testing"
)

func TestCSVEncoderWritesHeaderFirst(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCSVEncoder(&buf, []string{"id", "name"})

	if err := enc.Write([]string{"1", "Ada"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := enc.Write([]string{"2", "Grace, Hopper"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	want := "id,name\n1,Ada\n2,\"Grace, Hopper\"\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestCSVEncoderZeroRowsStillEmitsHeader(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCSVEncoder(&buf, []string{"id", "name"})

	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if buf.String() != "id,name\n" {
		t.Errorf("output = %q, want header only", buf.String())
	}
}

type failingWriter struct{ err error }

func (w *failingWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestCSVEncoderSurfacesSinkError(t *testing.T) {
	sinkErr := errors.New("connection reset")
	enc := NewCSVEncoder(&failingWriter{err: sinkErr}, []string{"id"})

	if err := enc.Write([]string{"1"}); !errors.Is(err, sinkErr) {
		t.Errorf("Write() error = %v, want %v", err, sinkErr)
	}
}

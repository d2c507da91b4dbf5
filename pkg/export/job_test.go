package export

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to completed skips processing", StatusQueued, StatusCompleted, false},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing back to queued", StatusProcessing, StatusQueued, false},
		{"completed is final", StatusCompleted, StatusFailed, false},
		{"failed is final", StatusFailed, StatusQueued, false},
		{"no self transition", StatusProcessing, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestJobValidate(t *testing.T) {
	valid := func() *Job {
		return &Job{
			ID:            uuid.New(),
			FileID:        uuid.New(),
			Status:        StatusQueued,
			OperationName: "orders-export",
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{"missing id", func(j *Job) { j.ID = uuid.Nil }},
		{"missing file id", func(j *Job) { j.FileID = uuid.Nil }},
		{"unknown status", func(j *Job) { j.Status = "Running" }},
		{"missing operation", func(j *Job) { j.OperationName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid()
			tt.mutate(job)
			if err := job.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestArtifactLocation(t *testing.T) {
	jobID := uuid.MustParse("5f9c0a44-1fc1-4d0b-9a3e-2d8b7c6a5e41")

	tests := []struct {
		name     string
		fileType string
		fileName string
		format   string
		want     string
	}{
		{
			name:     "appends extension",
			fileType: "orders",
			fileName: "monthly",
			format:   "csv",
			want:     "exports/orders/" + jobID.String() + "/monthly.csv",
		},
		{
			name:     "keeps existing extension",
			fileType: "orders",
			fileName: "monthly.csv",
			format:   "csv",
			want:     "exports/orders/" + jobID.String() + "/monthly.csv",
		},
		{
			name:     "empty type falls back",
			fileType: "  ",
			fileName: "report",
			format:   "csv",
			want:     "exports/generic/" + jobID.String() + "/report.csv",
		},
		{
			name:     "trims type slashes",
			fileType: "/orders/",
			fileName: "report",
			format:   "csv",
			want:     "exports/orders/" + jobID.String() + "/report.csv",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ArtifactLocation(tt.fileType, jobID, tt.fileName, tt.format)
			if got != tt.want {
				t.Errorf("ArtifactLocation() = %q, want %q", got, tt.want)
			}
			if strings.Contains(got, "//") {
				t.Errorf("location %q contains empty segment", got)
			}
		})
	}
}

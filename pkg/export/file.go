package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// File describes the artifact one job produces. Created once alongside its
// job; immutable afterwards except Location, which async generation fills in
// when it determines the final path.
type File struct {
	ID        uuid.UUID
	Name      string
	Type      string
	Format    string
	Location  string
	Mapping   string
	CreatedAt time.Time
}

// Validate checks the fields required before persistence.
func (f *File) Validate() error {
	if f == nil {
		return errors.New("file is nil")
	}
	if f.ID == uuid.Nil {
		return errors.New("file id is required")
	}
	if f.Name == "" {
		return errors.New("file name is required")
	}
	if f.Format == "" {
		return errors.New("file format is required")
	}
	return nil
}

// ArtifactLocation derives the deterministic object key for an async
// artifact from the file type, owning job id and file name. The key is fixed
// at job-creation time so polling clients see the destination before the
// worker has produced a single row.
func ArtifactLocation(fileType string, jobID uuid.UUID, name, format string) string {
	fileType = strings.Trim(strings.TrimSpace(fileType), "/")
	if fileType == "" {
		fileType = "generic"
	}
	name = strings.TrimSpace(name)
	ext := "." + strings.ToLower(strings.TrimSpace(format))
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return fmt.Sprintf("exports/%s/%s/%s", fileType, jobID, name)
}

// Package migrations ships the export bookkeeping schema as embedded SQL
// migrations.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	"github.com/rowmill/rowmill/pkg/migrate"
)

//go:embed *.sql
var files embed.FS

// Manager returns a migration manager for the export schema.
func Manager(db *sql.DB) (*migrate.Manager, error) {
	return migrate.NewManager(db, files, ".")
}

// Apply brings the export schema up to date and returns how many migrations
// were applied.
func Apply(ctx context.Context, db *sql.DB) (int, error) {
	m, err := Manager(db)
	if err != nil {
		return 0, err
	}
	return m.Up(ctx)
}

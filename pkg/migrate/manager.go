// Package migrate applies versioned SQL migrations from an embedded
// filesystem. Files are named NNNN_name.up.sql / NNNN_name.down.sql; applied
// versions are tracked in a schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

// Migration is one versioned pair of up and down scripts.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Status reports which versions are applied and which are still pending.
type Status struct {
	AppliedVersions []int64
	Pending         []Migration
}

// Manager applies and rolls back migrations against one database.
type Manager struct {
	db         *sql.DB
	migrations []Migration
}

// NewManager loads migrations from dir inside files and returns a manager.
func NewManager(db *sql.DB, files fs.FS, dir string) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if files == nil {
		return nil, fmt.Errorf("migration filesystem is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("migration directory is required")
	}

	migrations, err := loadMigrations(files, dir)
	if err != nil {
		return nil, err
	}
	return &Manager{db: db, migrations: migrations}, nil
}

// Up applies all pending migrations in version order, each in its own
// transaction. It returns how many were applied.
func (m *Manager) Up(ctx context.Context) (int, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.appliedSet(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range m.migrations {
		if _, already := applied[migration.Version]; already {
			continue
		}
		if err := m.runInTx(ctx, migration.Version, migration.UpSQL,
			`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, NOW())`); err != nil {
			return count, fmt.Errorf("apply migration %d_%s: %w", migration.Version, migration.Name, err)
		}
		count++
	}
	return count, nil
}

// Down rolls back the most recent migrations, newest first. steps below 1
// means one.
func (m *Manager) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.appliedDesc(ctx)
	if err != nil {
		return 0, err
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	count := 0
	for _, version := range applied[:steps] {
		migration, ok := m.byVersion(version)
		if !ok {
			return count, fmt.Errorf("migration definition not found for applied version %d", version)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return count, fmt.Errorf("down migration missing for version %d", version)
		}
		if err := m.runInTx(ctx, version, migration.DownSQL,
			`DELETE FROM schema_migrations WHERE version = $1`); err != nil {
			return count, fmt.Errorf("rollback migration %d_%s: %w", migration.Version, migration.Name, err)
		}
		count++
	}
	return count, nil
}

// Status lists applied versions and pending migrations.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return nil, err
	}

	appliedSet, err := m.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]int64, 0, len(appliedSet))
	for version := range appliedSet {
		applied = append(applied, version)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i] < applied[j] })

	pending := make([]Migration, 0)
	for _, migration := range m.migrations {
		if _, ok := appliedSet[migration.Version]; !ok {
			pending = append(pending, migration)
		}
	}
	return &Status{AppliedVersions: applied, Pending: pending}, nil
}

// runInTx executes the migration script and its bookkeeping statement in one
// transaction.
func (m *Manager) runInTx(ctx context.Context, version int64, script, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func (m *Manager) ensureMetadataTable(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)
`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return nil
}

func (m *Manager) appliedSet(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int64]struct{})
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func (m *Manager) appliedDesc(ctx context.Context) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func (m *Manager) byVersion(version int64) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

func loadMigrations(files fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	type partial struct {
		name string
		up   string
		down string
	}
	byVersion := make(map[int64]*partial)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}

		payload, err := fs.ReadFile(files, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", entry.Name(), err)
		}

		if _, ok := byVersion[version]; !ok {
			byVersion[version] = &partial{name: matches[2]}
		}
		if matches[3] == "up" {
			byVersion[version].up = string(payload)
		} else {
			byVersion[version].down = string(payload)
		}
	}

	versions := make([]int64, 0, len(byVersion))
	for version := range byVersion {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	migrations := make([]Migration, 0, len(versions))
	for _, version := range versions {
		item := byVersion[version]
		if strings.TrimSpace(item.up) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", version)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    item.name,
			UpSQL:   item.up,
			DownSQL: item.down,
		})
	}
	return migrations, nil
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies the SQL files that build the event_log and projections
// schemas. Files follow the golang-migrate naming convention
// ({version}_{name}.up.sql / .down.sql) and are applied in lexical order,
// each inside its own transaction.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every pending up-migration. Already-applied versions, recorded
// in public.schema_migrations, are skipped, so Up is safe to run on every
// startup.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read applied versions: %w", err)
	}

	files, err := m.listFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("scan migrations dir: %w", err)
	}

	for _, f := range files {
		version := migrationVersion(f)
		if applied[version] {
			continue
		}
		if err := m.applyFile(ctx, version, f); err != nil {
			return err
		}
		log.Printf("INFO: migration %s applied", f)
	}

	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart. Operator tooling only; the service never calls it.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if err == sql.ErrNoRows {
		log.Println("INFO: schema is at version zero, nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	content, err := os.ReadFile(filepath.Join(m.dir, downFile))
	if err != nil {
		return fmt.Errorf("read %s: %w", downFile, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec %s: %w", downFile, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.schema_migrations WHERE version = $1`, version,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("unrecord version %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("INFO: migration %s rolled back", downFile)
	return nil
}

// applyFile runs one migration and records its version in the same
// transaction, so a failed migration leaves no partial state behind.
func (m *Migrator) applyFile(ctx context.Context, version, filename string) error {
	content, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", filename, err)
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec %s: %w", filename, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
		version, filename,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record version %s: %w", version, err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) listFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// migrationVersion returns the numeric prefix of "000003_projections.up.sql".
func migrationVersion(filename string) string {
	if i := strings.IndexByte(filename, '_'); i > 0 {
		return filename[:i]
	}
	return filename
}

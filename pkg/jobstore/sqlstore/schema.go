package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the snapshot schema in-place.
//
// job_snapshots is append-only: every save inserts a row and the row with the
// highest seq for a job is its current state.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	seqColumn := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == DialectPostgres {
		seqColumn = "seq BIGSERIAL PRIMARY KEY"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS job_snapshots (
			` + seqColumn + `,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			metadata TEXT,
			finished INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_snapshots_job_seq ON job_snapshots(job_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_job_snapshots_created_at ON job_snapshots(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current < SchemaVersion {
		if _, err := tx.ExecContext(ctx, rebind(dialect, `UPDATE schema_meta SET schema_version=? WHERE id=1`), SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Package sqlstore persists job snapshots in an append-only SQL table.
//
// SQLite is served by modernc.org/sqlite in pure-Go builds and by
// github.com/tursodatabase/go-libsql when cgo is enabled (which also allows
// remote libsql URLs). Postgres is served by pgx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/gojobs/pkg/job"
)

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const snapshotColumns = `seq, job_id, status, result, metadata, finished, created_at, updated_at, finished_at`

// Backend is a job.Backend over a snapshot table. Save appends; Load returns
// the row with the highest seq for the job.
type Backend struct {
	db      *sql.DB
	dialect Dialect
	owned   bool
}

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB, dialect Dialect) *Backend {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &Backend{db: db, dialect: dialect}
}

// Open opens the database described by cfg and migrates it. Close releases
// the connection.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := New(db, cfg.Dialect)
	b.owned = true
	if err := Migrate(ctx, db, b.dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// DB returns the underlying database handle.
func (b *Backend) DB() *sql.DB { return b.db }

// Dialect returns the SQL flavor in use.
func (b *Backend) Dialect() Dialect { return b.dialect }

// Close closes the database if Open created it.
func (b *Backend) Close() error {
	if !b.owned || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// SaveSnapshot implements job.Backend by appending a row.
func (b *Backend) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	id := snap.ID.String()

	var finishedAt sql.NullString
	if snap.FinishedAt != nil {
		finishedAt = sql.NullString{String: formatTime(*snap.FinishedAt), Valid: true}
	}

	_, err := b.db.ExecContext(ctx, b.rebind(`INSERT INTO job_snapshots
		(job_id, status, result, metadata, finished, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id,
		string(snap.Status),
		nullRaw(snap.Result),
		nullRaw(snap.Metadata),
		boolInt(snap.Finished),
		formatTime(snap.CreatedAt),
		formatTime(snap.UpdatedAt),
		finishedAt,
	)
	if err != nil {
		return job.IOError("save", id, fmt.Errorf("insert snapshot: %w", err))
	}
	return nil
}

// LoadSnapshot implements job.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, id uuid.UUID) (job.Snapshot, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(`SELECT `+snapshotColumns+`
		FROM job_snapshots
		WHERE job_id = ?
		ORDER BY seq DESC
		LIMIT 1`), id.String())

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job.Snapshot{}, job.NotFoundError("load", id.String())
		}
		return job.Snapshot{}, classify("load", id.String(), err)
	}
	return entry.Snapshot, nil
}

// Entry is one persisted row of a job's history.
type Entry struct {
	Seq int64 `json:"seq"`
	job.Snapshot
}

// History returns every snapshot saved for id, oldest first.
func (b *Backend) History(ctx context.Context, id uuid.UUID) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(`SELECT `+snapshotColumns+`
		FROM job_snapshots
		WHERE job_id = ?
		ORDER BY seq ASC`), id.String())
	if err != nil {
		return nil, job.IOError("history", id.String(), err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, classify("history", id.String(), err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, job.IOError("history", id.String(), err)
	}
	if len(out) == 0 {
		return nil, job.NotFoundError("history", id.String())
	}
	return out, nil
}

// List returns the newest snapshot of every job, newest job first.
func (b *Backend) List(ctx context.Context) ([]job.Snapshot, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+snapshotColumns+`
		FROM job_snapshots
		WHERE seq IN (SELECT MAX(seq) FROM job_snapshots GROUP BY job_id)
		ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, job.IOError("list", "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []job.Snapshot
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, classify("list", "", err)
		}
		out = append(out, entry.Snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, job.IOError("list", "", err)
	}
	return out, nil
}

// Compact deletes superseded rows, keeping only the newest snapshot of each
// job. It returns the number of rows removed.
func (b *Backend) Compact(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM job_snapshots
		WHERE seq NOT IN (SELECT MAX(seq) FROM job_snapshots GROUP BY job_id)`)
	if err != nil {
		return 0, job.IOError("compact", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, job.IOError("compact", "", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

type decodeError struct{ err error }

func (e decodeError) Error() string { return e.err.Error() }
func (e decodeError) Unwrap() error { return e.err }

func scanEntry(s scanner) (Entry, error) {
	var (
		seq        int64
		jobID      string
		status     string
		result     sql.NullString
		metadata   sql.NullString
		finished   int64
		createdAt  string
		updatedAt  string
		finishedAt sql.NullString
	)
	if err := s.Scan(&seq, &jobID, &status, &result, &metadata, &finished, &createdAt, &updatedAt, &finishedAt); err != nil {
		return Entry{}, err
	}

	id, err := uuid.Parse(jobID)
	if err != nil {
		return Entry{}, decodeError{fmt.Errorf("parse job_id: %w", err)}
	}

	snap := job.Snapshot{
		ID:       id,
		Status:   json.RawMessage(status),
		Finished: finished != 0,
	}
	if result.Valid {
		snap.Result = json.RawMessage(result.String)
	}
	if metadata.Valid {
		snap.Metadata = json.RawMessage(metadata.String)
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return Entry{}, decodeError{fmt.Errorf("parse created_at: %w", err)}
	}
	if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Entry{}, decodeError{fmt.Errorf("parse updated_at: %w", err)}
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Entry{}, decodeError{fmt.Errorf("parse finished_at: %w", err)}
		}
		snap.FinishedAt = &t
	}

	return Entry{Seq: seq, Snapshot: snap}, nil
}

func classify(op, id string, err error) error {
	var de decodeError
	if errors.As(err, &de) {
		return job.SerializationError(op, id, de.err)
	}
	return job.IOError(op, id, err)
}

func (b *Backend) rebind(query string) string {
	return rebind(b.dialect, query)
}

// rebind rewrites ? placeholders to $n for Postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ job.Backend = (*Backend)(nil)

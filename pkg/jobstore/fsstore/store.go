// Package fsstore persists job snapshots as JSON documents on local disk.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/gojobs/pkg/job"
)

// Backend persists one snapshot document per job.
//
// Directory layout:
//
//	<root>/<job_id>.json
//	<root>/<job_id>/      (optional per-job artifacts such as logs)
//
// Each save replaces the document atomically (temp file + rename), so a
// concurrent Load sees either the previous or the new snapshot, never a
// partial one.
type Backend struct {
	root string
	now  func() time.Time
}

// New returns a backend rooted at root. The directory is created on first
// write.
func New(root string) *Backend {
	return &Backend{
		root: strings.TrimSpace(root),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewStore is a shorthand for a typed store over New(root).
func NewStore[O, E, M, S any](root string) *job.CodecStore[O, E, M, S] {
	return job.NewStore[O, E, M, S](New(root))
}

func (b *Backend) RootDir() string {
	return b.root
}

// Path returns the snapshot document path for id.
func (b *Backend) Path(id uuid.UUID) string {
	return filepath.Join(b.root, id.String()+".json")
}

// JobDir returns the artifact directory for id. It is not created.
func (b *Backend) JobDir(id uuid.UUID) string {
	return filepath.Join(b.root, id.String())
}

func (b *Backend) ensureRoot() error {
	if b.root == "" {
		return fmt.Errorf("job store root dir is empty")
	}
	return os.MkdirAll(b.root, 0755)
}

// SaveSnapshot implements job.Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	id := snap.ID.String()
	if err := ctx.Err(); err != nil {
		return job.IOError("save", id, err)
	}
	if err := b.ensureRoot(); err != nil {
		return job.IOError("save", id, err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return job.SerializationError("save", id, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(b.root, "."+id+".json.tmp.*")
	if err != nil {
		return job.IOError("save", id, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return job.IOError("save", id, fmt.Errorf("write temp job file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return job.IOError("save", id, fmt.Errorf("close temp job file: %w", err))
	}
	if err := os.Rename(tmpName, b.Path(snap.ID)); err != nil {
		return job.IOError("save", id, fmt.Errorf("rename job file: %w", err))
	}
	return nil
}

// LoadSnapshot implements job.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, id uuid.UUID) (job.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return job.Snapshot{}, job.IOError("load", id.String(), err)
	}
	return b.read(id)
}

func (b *Backend) read(id uuid.UUID) (job.Snapshot, error) {
	data, err := os.ReadFile(b.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return job.Snapshot{}, job.NotFoundError("load", id.String())
		}
		return job.Snapshot{}, job.IOError("load", id.String(), err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return job.Snapshot{}, job.SerializationError("load", id.String(), errors.New("job document is empty"))
	}

	var snap job.Snapshot
	if err := json.Unmarshal([]byte(trimmed), &snap); err != nil {
		return job.Snapshot{}, job.SerializationError("load", id.String(), fmt.Errorf("parse job document: %w", err))
	}
	if snap.ID != id {
		return job.Snapshot{}, job.SerializationError("load", id.String(), fmt.Errorf("document holds job %s", snap.ID))
	}
	return snap, nil
}

// List returns every readable snapshot, newest first. Unreadable documents are
// skipped.
func (b *Backend) List(ctx context.Context) ([]job.Snapshot, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, job.IOError("list", "", fmt.Errorf("read jobs root: %w", err))
	}

	out := make([]job.Snapshot, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, job.IOError("list", "", err)
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		snap, err := b.read(id)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the job document and its artifact directory.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return job.IOError("delete", id.String(), err)
	}
	if err := os.Remove(b.Path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return job.NotFoundError("delete", id.String())
		}
		return job.IOError("delete", id.String(), err)
	}
	if err := os.RemoveAll(b.JobDir(id)); err != nil {
		return job.IOError("delete", id.String(), fmt.Errorf("remove job dir: %w", err))
	}
	return nil
}

// GCResult summarizes a garbage collection pass.
type GCResult struct {
	Deleted     []uuid.UUID `json:"deleted,omitempty"`
	WouldDelete []uuid.UUID `json:"would_delete,omitempty"`
	DryRun      bool        `json:"dry_run"`
	MaxAge      string      `json:"max_age"`
}

// GC removes finished jobs whose terminal write is older than maxAge. Jobs that
// never reached a terminal status are kept.
func (b *Backend) GC(ctx context.Context, maxAge time.Duration, dryRun bool) (GCResult, error) {
	res := GCResult{DryRun: dryRun, MaxAge: maxAge.String()}
	if maxAge <= 0 {
		return res, fmt.Errorf("max age must be > 0")
	}

	snaps, err := b.List(ctx)
	if err != nil {
		return res, err
	}

	now := b.now()
	for _, snap := range snaps {
		if !snap.Finished || snap.FinishedAt == nil {
			continue
		}
		if now.Sub(snap.FinishedAt.UTC()) <= maxAge {
			continue
		}
		if dryRun {
			res.WouldDelete = append(res.WouldDelete, snap.ID)
			continue
		}
		if err := b.Delete(ctx, snap.ID); err != nil && !job.IsNotFound(err) {
			return res, err
		}
		res.Deleted = append(res.Deleted, snap.ID)
	}
	return res, nil
}

var _ job.Backend = (*Backend)(nil)

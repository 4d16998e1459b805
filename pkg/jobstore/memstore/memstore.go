// Package memstore keeps job snapshots in process memory.
//
// It is the backend used by tests and by engines that only need records for
// the lifetime of the process.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/3leaps/gojobs/pkg/job"
)

// Backend is an in-memory job.Backend. Each Save replaces the previous
// snapshot for the id.
type Backend struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]job.Snapshot
	saves int
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{snaps: make(map[uuid.UUID]job.Snapshot)}
}

// NewStore is a shorthand for a typed store over a fresh backend.
func NewStore[O, E, M, S any]() *job.CodecStore[O, E, M, S] {
	return job.NewStore[O, E, M, S](New())
}

// SaveSnapshot implements job.Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return job.IOError("save", snap.ID.String(), err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps[snap.ID] = copySnapshot(snap)
	b.saves++
	return nil
}

// LoadSnapshot implements job.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, id uuid.UUID) (job.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return job.Snapshot{}, job.IOError("load", id.String(), err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snaps[id]
	if !ok {
		return job.Snapshot{}, job.NotFoundError("load", id.String())
	}
	return copySnapshot(snap), nil
}

// List returns all snapshots, newest first.
func (b *Backend) List(_ context.Context) ([]job.Snapshot, error) {
	b.mu.RLock()
	out := make([]job.Snapshot, 0, len(b.snaps))
	for _, snap := range b.snaps {
		out = append(out, copySnapshot(snap))
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Len returns the number of distinct jobs stored.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snaps)
}

// Saves returns how many snapshots have been written.
func (b *Backend) Saves() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saves
}

func copySnapshot(s job.Snapshot) job.Snapshot {
	out := s
	out.Status = append([]byte(nil), s.Status...)
	if s.Result != nil {
		out.Result = append([]byte(nil), s.Result...)
	}
	if s.Metadata != nil {
		out.Metadata = append([]byte(nil), s.Metadata...)
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

var _ job.Backend = (*Backend)(nil)

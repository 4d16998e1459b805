package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the storage port the engine depends on.
//
// Save persists the full record keyed by its ID. It may be called many times
// for one id; each call supplies the new authoritative snapshot. Load returns
// the most recently saved snapshot, or an error matching ErrNotFound when the
// id was never saved.
//
// Implementations must be safe for concurrent use.
type Store[O, E, M, S any] interface {
	Save(ctx context.Context, rec *Record[O, E, M, S]) error
	Load(ctx context.Context, id uuid.UUID) (*Record[O, E, M, S], error)
}

// Snapshot is the type-erased form of a Record that concrete backends persist.
//
// The JSON form is the document written by file and object-store backends:
//
//	{"id": "...", "status": ..., "result": {"ok": ...}, "metadata": ..., ...}
type Snapshot struct {
	ID         uuid.UUID       `json:"id"`
	Status     json.RawMessage `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Finished   bool            `json:"finished"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Backend persists snapshots. Every concrete store (memory, filesystem, SQL,
// S3, Redis) implements it; CodecStore turns it into a typed Store.
type Backend interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context, id uuid.UUID) (Snapshot, error)
}

// CodecStore adapts a Backend into a Store using JSON encoding.
type CodecStore[O, E, M, S any] struct {
	backend Backend
	now     func() time.Time
}

// NewStore returns a typed Store over backend.
func NewStore[O, E, M, S any](backend Backend) *CodecStore[O, E, M, S] {
	return &CodecStore[O, E, M, S]{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Backend returns the underlying snapshot backend.
func (s *CodecStore[O, E, M, S]) Backend() Backend {
	return s.backend
}

// Save encodes rec and hands the snapshot to the backend.
func (s *CodecStore[O, E, M, S]) Save(ctx context.Context, rec *Record[O, E, M, S]) error {
	if rec == nil {
		return errors.New("job record is nil")
	}
	snap, err := Encode(rec)
	if err != nil {
		return err
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.now()
	}
	return s.backend.SaveSnapshot(ctx, snap)
}

// Load fetches the newest snapshot for id and decodes it.
func (s *CodecStore[O, E, M, S]) Load(ctx context.Context, id uuid.UUID) (*Record[O, E, M, S], error) {
	snap, err := s.backend.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return Decode[O, E, M, S](snap)
}

// Encode converts a record into a snapshot.
func Encode[O, E, M, S any](rec *Record[O, E, M, S]) (Snapshot, error) {
	id := rec.ID.String()
	if rec.ID == uuid.Nil {
		return Snapshot{}, SerializationError("encode", "", errors.New("job id is required"))
	}

	snap := Snapshot{
		ID:         rec.ID,
		Finished:   rec.Result != nil,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		FinishedAt: rec.FinishedAt,
	}

	status, err := json.Marshal(rec.Status)
	if err != nil {
		return Snapshot{}, SerializationError("encode status", id, err)
	}
	snap.Status = status

	if rec.Result != nil {
		result, err := json.Marshal(rec.Result)
		if err != nil {
			return Snapshot{}, SerializationError("encode result", id, err)
		}
		snap.Result = result
	}

	if rec.Metadata != nil {
		md, err := json.Marshal(rec.Metadata)
		if err != nil {
			return Snapshot{}, SerializationError("encode metadata", id, err)
		}
		snap.Metadata = md
	}

	return snap, nil
}

// Decode converts a snapshot back into a typed record.
func Decode[O, E, M, S any](snap Snapshot) (*Record[O, E, M, S], error) {
	id := snap.ID.String()
	rec := &Record[O, E, M, S]{
		ID:         snap.ID,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
		FinishedAt: snap.FinishedAt,
	}

	if len(snap.Status) == 0 {
		return nil, SerializationError("decode status", id, errors.New("status is empty"))
	}
	if err := json.Unmarshal(snap.Status, &rec.Status); err != nil {
		return nil, SerializationError("decode status", id, err)
	}

	if isPresent(snap.Result) {
		var res Result[O, E]
		if err := json.Unmarshal(snap.Result, &res); err != nil {
			return nil, SerializationError("decode result", id, err)
		}
		rec.Result = &res
	}
	if snap.Finished != (rec.Result != nil) {
		return nil, SerializationError("decode result", id,
			fmt.Errorf("finished flag is %t but result present is %t", snap.Finished, rec.Result != nil))
	}

	if isPresent(snap.Metadata) {
		var md M
		if err := json.Unmarshal(snap.Metadata, &md); err != nil {
			return nil, SerializationError("decode metadata", id, err)
		}
		rec.Metadata = &md
	}

	return rec, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

var _ Store[int, string, struct{}, State] = (*CodecStore[int, string, struct{}, State])(nil)

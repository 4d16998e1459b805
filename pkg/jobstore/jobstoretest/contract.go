// Package jobstoretest holds the behavior every job.Backend must satisfy.
package jobstoretest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gojobs/pkg/job"
)

// Snapshot builds a snapshot for id with the given status and optional result.
func Snapshot(id uuid.UUID, status string, result string, at time.Time) job.Snapshot {
	snap := job.Snapshot{
		ID:        id,
		Status:    json.RawMessage(fmt.Sprintf("%q", status)),
		Metadata:  json.RawMessage(`{"value":5}`),
		CreatedAt: at,
		UpdatedAt: at,
	}
	if result != "" {
		snap.Result = json.RawMessage(result)
		snap.Finished = true
		finished := at
		snap.FinishedAt = &finished
	}
	return snap
}

// RunBackendContract exercises save, load, overwrite, not-found and concurrent
// use against backends produced by newBackend.
func RunBackendContract(t *testing.T, newBackend func(t *testing.T) job.Backend) {
	t.Helper()
	base := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)

	t.Run("RoundTrip", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		id := uuid.New()

		require.NoError(t, b.SaveSnapshot(ctx, Snapshot(id, "started", "", base)))

		got, err := b.LoadSnapshot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.JSONEq(t, `"started"`, string(got.Status))
		assert.JSONEq(t, `{"value":5}`, string(got.Metadata))
		assert.False(t, got.Finished)
		assert.Nil(t, got.FinishedAt)
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("NewestSaveWins", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		id := uuid.New()

		require.NoError(t, b.SaveSnapshot(ctx, Snapshot(id, "started", "", base)))
		require.NoError(t, b.SaveSnapshot(ctx, Snapshot(id, "running", "", base.Add(time.Second))))
		require.NoError(t, b.SaveSnapshot(ctx, Snapshot(id, "finished", `{"ok":1}`, base.Add(2*time.Second))))

		got, err := b.LoadSnapshot(ctx, id)
		require.NoError(t, err)
		assert.JSONEq(t, `"finished"`, string(got.Status))
		assert.JSONEq(t, `{"ok":1}`, string(got.Result))
		assert.True(t, got.Finished)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, base.Add(2*time.Second).Equal(*got.FinishedAt))
	})

	t.Run("NotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.LoadSnapshot(context.Background(), uuid.New())
		require.Error(t, err)
		assert.True(t, job.IsNotFound(err), "got %v", err)
	})

	t.Run("TerminalRecordRequiresResult", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		store := job.NewStore[int, string, contractMeta, job.State](b)

		flagged := Snapshot(uuid.New(), "finished", "", base)
		flagged.Finished = true
		require.NoError(t, b.SaveSnapshot(ctx, flagged))
		_, err := store.Load(ctx, flagged.ID)
		require.Error(t, err)
		assert.True(t, job.IsSerialization(err), "got %v", err)

		bare := Snapshot(uuid.New(), "finished", "", base)
		require.NoError(t, b.SaveSnapshot(ctx, bare))
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err = job.Wait[int, string, contractMeta, job.State](waitCtx, store, job.States{}, bare.ID,
			job.WaitPollInterval(time.Millisecond))
		require.Error(t, err)
		assert.True(t, job.IsSerialization(err), "got %v", err)
	})

	t.Run("ConcurrentJobsAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		const n = 16

		ids := make([]uuid.UUID, n)
		for i := range ids {
			ids[i] = uuid.New()
		}

		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id uuid.UUID) {
				defer wg.Done()
				assert.NoError(t, b.SaveSnapshot(ctx, Snapshot(id, "started", "", base)))
				assert.NoError(t, b.SaveSnapshot(ctx, Snapshot(id, "finished", fmt.Sprintf(`{"ok":%d}`, i), base.Add(time.Second))))
			}(i, id)
		}
		wg.Wait()

		for i, id := range ids {
			got, err := b.LoadSnapshot(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.JSONEq(t, fmt.Sprintf(`{"ok":%d}`, i), string(got.Result))
		}
	})
}

type contractMeta struct {
	Value int `json:"value"`
}

// RunEngineSmoke submits one job through a real engine over backend and waits
// for its terminal record.
func RunEngineSmoke(t *testing.T, backend job.Backend) {
	t.Helper()
	type meta = contractMeta

	store := job.NewStore[int, string, meta, job.State](backend)
	e := job.NewEngine[int, string, meta, job.State](store, job.States{})

	id, err := e.Submit(context.Background(), func(context.Context, *job.Run[int, string, meta, job.State]) job.Result[int, string] {
		return job.Success[int, string](1)
	}, meta{Value: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := e.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status)
	assert.Equal(t, 1, rec.Result.Value)
	assert.Equal(t, 5, rec.Metadata.Value)
}

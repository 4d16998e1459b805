package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gojobs/pkg/job"
)

// scriptedStore returns a fixed sequence of statuses, one per Load.
type scriptedStore struct {
	mu       sync.Mutex
	statuses []job.State
	loads    int
	err      error
	noResult bool
}

func (s *scriptedStore) Save(context.Context, *job.Record[int, myError, meta, job.State]) error {
	return nil
}

func (s *scriptedStore) Load(_ context.Context, id uuid.UUID) (*job.Record[int, myError, meta, job.State], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	i := s.loads
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.loads++

	rec := &job.Record[int, myError, meta, job.State]{ID: id, Status: s.statuses[i]}
	if rec.Status == job.StateFinished && !s.noResult {
		res := job.Success[int, myError](1)
		rec.Result = &res
	}
	return rec, nil
}

func (s *scriptedStore) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func TestWait_ReloadsUntilTerminal(t *testing.T) {
	store := &scriptedStore{statuses: []job.State{
		job.StateStarted, job.StateRunning, job.StateRunning, job.StateFinished,
	}}

	rec, err := job.Wait[int, myError, meta, job.State](waitCtx(t), store, job.States{}, uuid.New(),
		job.WaitPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status)
	assert.Equal(t, 4, store.Loads(), "every poll is a fresh load")
}

func TestWait_DeadlineOnNonTerminalJob(t *testing.T) {
	store := &scriptedStore{statuses: []job.State{job.StateRunning}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec, err := job.Wait[int, myError, meta, job.State](ctx, store, job.States{}, uuid.New())
	require.Error(t, err)
	assert.Nil(t, rec, "never returns a non-terminal record")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, store.Loads(), 1)
}

func TestWait_Cancelled(t *testing.T) {
	store := &scriptedStore{statuses: []job.State{job.StateStarted}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := job.Wait[int, myError, meta, job.State](ctx, store, job.States{}, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWait_PropagatesLoadErrors(t *testing.T) {
	id := uuid.New()
	store := &scriptedStore{err: job.NotFoundError("load", id.String())}

	_, err := job.Wait[int, myError, meta, job.State](waitCtx(t), store, job.States{}, id)
	require.Error(t, err)
	assert.True(t, job.IsNotFound(err))

	ioErr := job.IOError("load", id.String(), errors.New("timeout"))
	store = &scriptedStore{err: ioErr}
	_, err = job.Wait[int, myError, meta, job.State](waitCtx(t), store, job.States{}, id)
	assert.ErrorIs(t, err, ioErr)
}

func TestWait_TerminalWithoutResult(t *testing.T) {
	store := &scriptedStore{statuses: []job.State{job.StateRunning, job.StateFinished}, noResult: true}

	rec, err := job.Wait[int, myError, meta, job.State](waitCtx(t), store, job.States{}, uuid.New(),
		job.WaitPollInterval(time.Millisecond))
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, job.IsSerialization(err), "got %v", err)
	assert.Equal(t, 2, store.Loads())
}

func TestEngineWait_UnknownID(t *testing.T) {
	e := newEngine(t)
	_, err := e.Wait(waitCtx(t), uuid.New())
	assert.ErrorIs(t, err, job.ErrNotFound)
}

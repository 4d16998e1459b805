package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/gojobs/internal/mocks"
	"github.com/3leaps/gojobs/pkg/job"
	"github.com/3leaps/gojobs/pkg/jobstore/memstore"
)

type meta struct {
	Value int `json:"value"`
}

type myError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type (
	testEngine = job.Engine[int, myError, meta, job.State]
	testRun    = job.Run[int, myError, meta, job.State]
	testResult = job.Result[int, myError]
)

func newEngine(t *testing.T, opts ...job.Option) *testEngine {
	t.Helper()
	store := memstore.NewStore[int, myError, meta, job.State]()
	e := job.NewEngine[int, myError, meta, job.State](store, job.States{}, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Drain(ctx)
	})
	return e
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func ok(v int) job.Work[int, myError, meta, job.State] {
	return func(context.Context, *testRun) testResult {
		return job.Success[int, myError](v)
	}
}

func TestSubmit_ImmediateLoadShowsInitialStatus(t *testing.T) {
	e := newEngine(t)
	release := make(chan struct{})

	id, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		<-release
		return job.Success[int, myError](1)
	}, meta{Value: 9})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	rec, err := e.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, job.StateStarted, rec.Status)
	assert.Nil(t, rec.Result)
	assert.Nil(t, rec.FinishedAt)
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, 9, rec.Metadata.Value)

	close(release)
	rec, err = e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status)
}

func TestSubmit_SuccessCarriesResultAndMetadata(t *testing.T) {
	e := newEngine(t)

	id, err := e.Submit(context.Background(), ok(1), meta{Value: 5})
	require.NoError(t, err)

	rec, err := e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status)
	require.NotNil(t, rec.Result)
	v, _, succeeded := rec.Result.Unpack()
	assert.True(t, succeeded)
	assert.Equal(t, 1, v)
	assert.Equal(t, &meta{Value: 5}, rec.Metadata)
	require.NotNil(t, rec.FinishedAt)
	assert.False(t, rec.FinishedAt.Before(rec.CreatedAt))
}

func TestSubmit_SlowWorkStaysStartedUntilDone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, func(context.Context, *testRun) testResult {
		time.Sleep(500 * time.Millisecond)
		return job.Success[int, myError](10)
	}, meta{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	rec, err := e.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateStarted, rec.Status)
	assert.Nil(t, rec.Result)

	time.Sleep(900 * time.Millisecond)
	rec, err = e.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status)
	require.NotNil(t, rec.Result)
	assert.Equal(t, 10, rec.Result.Value)
}

func TestSubmit_FailureIsRecordedAsData(t *testing.T) {
	e := newEngine(t)
	want := myError{Code: "E42", Message: "bad input"}

	id, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		return job.Failure[int](want)
	}, meta{Value: 1})
	require.NoError(t, err)

	rec, err := e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status, "terminal status does not imply success")
	require.NotNil(t, rec.Result)
	assert.True(t, rec.Result.Failed())
	assert.Equal(t, want, rec.Result.Err)
}

func TestSubmit_ConcurrentSubmitsAreIsolated(t *testing.T) {
	e := newEngine(t)
	const n = 32

	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := e.Submit(context.Background(), ok(i*10), meta{Value: i})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]bool, n)
	for i, id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		rec, err := e.Wait(waitCtx(t), id)
		require.NoError(t, err)
		assert.Equal(t, i, rec.Metadata.Value)
		assert.Equal(t, i*10, rec.Result.Value)
	}
}

func TestLoad_UnknownIDIsNotFound(t *testing.T) {
	e := newEngine(t)

	_, err := e.Load(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, job.IsNotFound(err))
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestSubmit_NilWork(t *testing.T) {
	e := newEngine(t)
	_, err := e.Submit(context.Background(), nil, meta{})
	assert.ErrorIs(t, err, job.ErrNilWork)
}

func TestSubmit_InitialSaveFailureSchedulesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	saveErr := job.IOError("save", "", errors.New("disk full"))
	backend.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(saveErr).Times(1)

	store := job.NewStore[int, myError, meta, job.State](backend)
	e := job.NewEngine[int, myError, meta, job.State](store, job.States{})

	var ran atomic.Bool
	id, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		ran.Store(true)
		return job.Success[int, myError](1)
	}, meta{})
	require.Error(t, err)
	assert.True(t, job.IsIO(err))
	assert.Equal(t, uuid.Nil, id)

	require.NoError(t, e.Drain(context.Background()))
	assert.False(t, ran.Load())
}

func TestSubmit_FinalSaveFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	sink := mocks.NewMockFailureSink(ctrl)

	saveErr := errors.New("connection reset")
	gomock.InOrder(
		backend.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(nil),
		backend.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(saveErr),
	)

	reported := make(chan job.Incident, 1)
	sink.EXPECT().ReportFailure(gomock.Any(), gomock.Any()).Do(func(_ context.Context, f job.Incident) {
		reported <- f
	})

	core, logs := observer.New(zapcore.ErrorLevel)
	store := job.NewStore[int, myError, meta, job.State](backend)
	e := job.NewEngine[int, myError, meta, job.State](store, job.States{},
		job.WithLogger(zap.New(core)),
		job.WithFailureSink(sink))

	id, err := e.Submit(context.Background(), ok(3), meta{Value: 7})
	require.NoError(t, err)
	require.NoError(t, e.Drain(waitCtx(t)))

	var f job.Incident
	select {
	case f = <-reported:
	default:
		t.Fatal("final save failure was not reported")
	}
	assert.Equal(t, id, f.JobID)
	assert.Equal(t, job.StageFinalSave, f.Stage)
	assert.ErrorIs(t, f.Err, saveErr)
	require.NotNil(t, f.Snapshot)
	assert.True(t, f.Snapshot.Finished)
	assert.JSONEq(t, `{"ok":3}`, string(f.Snapshot.Result))
	assert.JSONEq(t, `{"value":7}`, string(f.Snapshot.Metadata))

	entries := logs.FilterField(zap.String("stage", "final_save")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, id.String(), entries[0].ContextMap()["job_id"])
}

func TestSubmit_WorkPanicIsRecovered(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockFailureSink(ctrl)
	reported := make(chan job.Incident, 1)
	sink.EXPECT().ReportFailure(gomock.Any(), gomock.Any()).Do(func(_ context.Context, f job.Incident) {
		reported <- f
	})

	e := newEngine(t, job.WithFailureSink(sink))
	id, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		panic("kaboom")
	}, meta{})
	require.NoError(t, err)
	require.NoError(t, e.Drain(waitCtx(t)))

	f := <-reported
	assert.Equal(t, job.StageWorkPanic, f.Stage)
	assert.Contains(t, f.Err.Error(), "kaboom")

	rec, err := e.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateStarted, rec.Status)
	assert.Nil(t, rec.Result)
}

func TestRun_SetStatusVisibleWhileRunning(t *testing.T) {
	e := newEngine(t)
	updated := make(chan struct{})
	release := make(chan struct{})

	id, err := e.Submit(context.Background(), func(ctx context.Context, run *testRun) testResult {
		if err := run.SetStatus(ctx, job.StateRunning); err != nil {
			return job.Failure[int](myError{Message: err.Error()})
		}
		close(updated)
		<-release
		return job.Success[int, myError](1)
	}, meta{Value: 2})
	require.NoError(t, err)

	<-updated
	rec, err := e.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, rec.Status)
	assert.Nil(t, rec.Result)
	assert.Equal(t, 2, rec.Metadata.Value, "custom status keeps metadata")

	close(release)
	rec, err = e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status)
	assert.False(t, rec.Result.Failed())
}

func TestRun_SetStatusRules(t *testing.T) {
	e := newEngine(t)
	runs := make(chan *testRun, 1)
	terminalErr := make(chan error, 1)
	rewindErr := make(chan error, 1)
	afterRewind := make(chan job.State, 1)

	id, err := e.Submit(context.Background(), func(ctx context.Context, run *testRun) testResult {
		terminalErr <- run.SetStatus(ctx, job.StateFinished)
		if err := run.SetStatus(ctx, job.StateRunning); err != nil {
			return job.Failure[int](myError{Message: err.Error()})
		}
		rewindErr <- run.SetStatus(ctx, job.StateStarted)
		rec, err := run.Load(ctx)
		if err != nil {
			return job.Failure[int](myError{Message: err.Error()})
		}
		afterRewind <- rec.Status
		runs <- run
		return job.Success[int, myError](1)
	}, meta{})
	require.NoError(t, err)
	require.NoError(t, e.Drain(waitCtx(t)))

	assert.ErrorIs(t, <-terminalErr, job.ErrTerminalStatus)
	assert.ErrorIs(t, <-rewindErr, job.ErrInitialStatus)
	assert.Equal(t, job.StateRunning, <-afterRewind, "rejected rewind leaves the custom status in place")

	run := <-runs
	assert.Equal(t, id, run.ID())
	assert.True(t, run.IsFinished())
	assert.ErrorIs(t, run.SetStatus(context.Background(), job.StateRunning), job.ErrJobFinished)

	rec, err := e.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.Status, "late update does not overwrite terminal record")
}

func TestEngineWait_TerminalWithoutResultIsRejected(t *testing.T) {
	store := memstore.NewStore[int, myError, meta, job.State]()
	e := job.NewEngine[int, myError, meta, job.State](store, job.States{})
	ctx := context.Background()
	now := time.Now().UTC()

	// Terminal status written without a result or finished flag.
	bare := uuid.New()
	require.NoError(t, store.Backend().SaveSnapshot(ctx, job.Snapshot{
		ID: bare, Status: json.RawMessage(`"finished"`), CreatedAt: now, UpdatedAt: now,
	}))
	rec, err := e.Wait(waitCtx(t), bare)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, job.IsSerialization(err), "got %v", err)

	// Finished flag set but the result is missing.
	flagged := uuid.New()
	require.NoError(t, store.Backend().SaveSnapshot(ctx, job.Snapshot{
		ID: flagged, Status: json.RawMessage(`"finished"`), Finished: true, CreatedAt: now, UpdatedAt: now,
	}))
	_, err = e.Load(ctx, flagged)
	require.Error(t, err)
	assert.True(t, job.IsSerialization(err), "got %v", err)
}

func TestRun_ReadsOwnRecordAndMetadata(t *testing.T) {
	e := newEngine(t)

	type seen struct {
		status job.State
		md     meta
		err    error
	}
	got := make(chan seen, 1)

	id, err := e.Submit(context.Background(), func(ctx context.Context, run *testRun) testResult {
		rec, err := run.Load(ctx)
		if err != nil {
			got <- seen{err: err}
			return job.Failure[int](myError{Message: err.Error()})
		}
		got <- seen{status: rec.Status, md: run.Metadata()}
		return job.Success[int, myError](run.Metadata().Value * 2)
	}, meta{Value: 21})
	require.NoError(t, err)

	rec, err := e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, 42, rec.Result.Value)

	s := <-got
	require.NoError(t, s.err)
	assert.Equal(t, job.StateStarted, s.status)
	assert.Equal(t, 21, s.md.Value)
}

func TestSubmit_WorkCapturesEnvironment(t *testing.T) {
	e := newEngine(t)
	base := 40
	var calls atomic.Int32

	id, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		calls.Add(1)
		return job.Success[int, myError](base + 2)
	}, meta{})
	require.NoError(t, err)

	rec, err := e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, 42, rec.Result.Value)
	assert.Equal(t, int32(1), calls.Load(), "work is never re-invoked")
}

type ctxKey struct{}

func TestSubmit_CallerCancellationDoesNotStopWork(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "trace-1"))
	release := make(chan struct{})

	id, err := e.Submit(ctx, func(ctx context.Context, _ *testRun) testResult {
		<-release
		if ctx.Err() != nil {
			return job.Failure[int](myError{Message: ctx.Err().Error()})
		}
		if ctx.Value(ctxKey{}) != "trace-1" {
			return job.Failure[int](myError{Message: "context value lost"})
		}
		return job.Success[int, myError](1)
	}, meta{})
	require.NoError(t, err)

	cancel()
	close(release)

	rec, err := e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.False(t, rec.Result.Failed(), "unexpected failure: %+v", rec.Result.Err)
}

func TestEngine_MaxConcurrent(t *testing.T) {
	e := newEngine(t, job.WithMaxConcurrent(2))
	release := make(chan struct{})

	var active, peak atomic.Int32
	work := func(context.Context, *testRun) testResult {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return job.Success[int, myError](1)
	}

	// Submit returns for every job even though only two can hold a slot.
	ids := make([]uuid.UUID, 0, 6)
	for i := 0; i < 6; i++ {
		id, err := e.Submit(context.Background(), work, meta{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), active.Load())

	close(release)
	require.NoError(t, e.Drain(waitCtx(t)))
	assert.Equal(t, int32(2), peak.Load())

	for _, id := range ids {
		rec, err := e.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, job.StateFinished, rec.Status)
	}
}

func TestEngine_ObserverCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := mocks.NewMockObserver(ctrl)
	fixed := uuid.MustParse("0d6b2c43-3c6e-4c55-9a4a-0b9f2b7e0a11")

	gomock.InOrder(
		obs.EXPECT().JobSubmitted(gomock.Any(), fixed),
		obs.EXPECT().JobStarted(gomock.Any(), fixed),
		obs.EXPECT().JobFinished(gomock.Any(), fixed, true, gomock.Any()),
	)

	e := newEngine(t,
		job.WithObserver(obs),
		job.WithIDGenerator(func() uuid.UUID { return fixed }))

	id, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		return job.Failure[int](myError{Code: "x"})
	}, meta{})
	require.NoError(t, err)
	assert.Equal(t, fixed, id)
	require.NoError(t, e.Drain(waitCtx(t)))
}

func TestEngine_ClockStampsRecord(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	clock := func() time.Time {
		return t0.Add(time.Duration(ticks.Add(1)) * time.Second)
	}

	e := newEngine(t, job.WithClock(clock))
	id, err := e.Submit(context.Background(), ok(1), meta{})
	require.NoError(t, err)
	require.NoError(t, e.Drain(waitCtx(t)))

	rec, err := e.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), rec.CreatedAt)
	require.NotNil(t, rec.FinishedAt)
	assert.True(t, rec.FinishedAt.After(rec.CreatedAt))
	assert.Equal(t, *rec.FinishedAt, rec.UpdatedAt)
}

func TestEngine_GenericStatus(t *testing.T) {
	type progress struct {
		Percent int `json:"percent"`
	}
	store := memstore.NewStore[string, string, struct{}, job.Status[progress]]()
	model := job.Statuses[progress]{}
	e := job.NewEngine[string, string, struct{}, job.Status[progress]](store, model)

	halfway := make(chan struct{})
	release := make(chan struct{})
	id, err := e.Submit(context.Background(), func(ctx context.Context, run *job.Run[string, string, struct{}, job.Status[progress]]) job.Result[string, string] {
		if err := run.SetStatus(ctx, model.Custom(progress{Percent: 50})); err != nil {
			return job.Failure[string](err.Error())
		}
		close(halfway)
		<-release
		return job.Success[string, string]("done")
	}, struct{}{})
	require.NoError(t, err)

	<-halfway
	rec, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.KindCustom, rec.Status.Kind)
	assert.Equal(t, 50, rec.Status.Value.Percent)

	close(release)
	rec, err = e.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.True(t, rec.Status.IsFinished())
	assert.Equal(t, "done", rec.Result.Value)
}

func TestEngine_DrainHonorsContext(t *testing.T) {
	e := newEngine(t)
	release := make(chan struct{})
	defer close(release)

	_, err := e.Submit(context.Background(), func(context.Context, *testRun) testResult {
		<-release
		return job.Success[int, myError](1)
	}, meta{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Drain(ctx), context.DeadlineExceeded)
}

func TestEngine_DrainWhileSubmitting(t *testing.T) {
	e := newEngine(t)
	const n = 50

	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			id, err := e.Submit(context.Background(), ok(i), meta{})
			assert.NoError(t, err)
			ids <- id
		}
		close(ids)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, e.Drain(waitCtx(t)))
		}
	}()
	wg.Wait()

	require.NoError(t, e.Drain(waitCtx(t)))
	for id := range ids {
		rec, err := e.Load(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, rec.Finished(), "job %s finished after final drain", id)
	}
}

func TestEngine_DrainWithNothingSubmitted(t *testing.T) {
	e := newEngine(t)
	assert.NoError(t, e.Drain(context.Background()))
}

package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultFinalSaveTimeout bounds the terminal save performed after work
	// returns.
	DefaultFinalSaveTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between loads in Wait.
	DefaultPollInterval = 10 * time.Millisecond
)

// Work is the unit of asynchronous computation run by the engine. It receives
// a handle to its own job and returns the outcome to record.
//
// Failures are returned as data via Failure(e); the engine never retries.
type Work[O, E, M, S any] func(ctx context.Context, run *Run[O, E, M, S]) Result[O, E]

type options struct {
	logger           *zap.Logger
	sinks            []FailureSink
	observers        []Observer
	maxConcurrent    int64
	finalSaveTimeout time.Duration
	pollInterval     time.Duration
	now              func() time.Time
	newID            func() uuid.UUID
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine logger. Nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFailureSink adds a sink for failures of the completion path.
func WithFailureSink(sink FailureSink) Option {
	return func(o *options) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithObserver adds a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithMaxConcurrent bounds how many work functions run at once. Values <= 0
// mean unbounded. Submit never blocks on the bound.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = int64(n)
	}
}

// WithFinalSaveTimeout bounds the terminal save.
func WithFinalSaveTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.finalSaveTimeout = d
		}
	}
}

// WithPollInterval sets the interval used by Engine.Wait.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// Engine submits work, persists the initial record before scheduling, and
// persists the terminal record when work returns.
//
// The engine holds no registry of jobs: each job's history lives in the store.
type Engine[O, E, M, S any] struct {
	store Store[O, E, M, S]
	model StatusModel[S]
	opts  options
	sem   *semaphore.Weighted

	// active counts jobs between Submit and the end of their completion path.
	// idle is closed whenever active drops to zero.
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// NewEngine creates an engine over store using model for status values.
func NewEngine[O, E, M, S any](store Store[O, E, M, S], model StatusModel[S], opts ...Option) *Engine[O, E, M, S] {
	o := options{
		logger:           zap.NewNop(),
		finalSaveTimeout: DefaultFinalSaveTimeout,
		pollInterval:     DefaultPollInterval,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.New,
	}
	for _, opt := range opts {
		opt(&o)
	}
	// The log sink always runs so a lost terminal write is never silent.
	o.sinks = append([]FailureSink{LogSink{Logger: o.logger}}, o.sinks...)

	e := &Engine[O, E, M, S]{
		store: store,
		model: model,
		opts:  o,
	}
	if o.maxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(o.maxConcurrent)
	}
	return e
}

// Store returns the store the engine persists to.
func (e *Engine[O, E, M, S]) Store() Store[O, E, M, S] {
	return e.store
}

// Model returns the status model.
func (e *Engine[O, E, M, S]) Model() StatusModel[S] {
	return e.model
}

// Submit creates a job record, persists it, schedules work and returns the new
// job id without waiting for work to finish.
//
// If the initial save fails the error is returned and work is never started.
// Work runs with a context that keeps ctx's values but not its cancellation.
func (e *Engine[O, E, M, S]) Submit(ctx context.Context, work Work[O, E, M, S], metadata M) (uuid.UUID, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if work == nil {
		return uuid.Nil, ErrNilWork
	}

	now := e.opts.now()
	md := metadata
	rec := &Record[O, E, M, S]{
		ID:        e.opts.newID(),
		Status:    e.model.Initial(),
		Metadata:  &md,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Save(ctx, rec.Clone()); err != nil {
		return uuid.Nil, err
	}

	run := &Run[O, E, M, S]{
		engine:   e,
		id:       rec.ID,
		metadata: metadata,
		record:   rec,
	}

	for _, obs := range e.opts.observers {
		obs.JobSubmitted(ctx, rec.ID)
	}
	e.opts.logger.Debug("Job submitted", zap.Stringer("job_id", rec.ID))

	jobCtx := context.WithoutCancel(ctx)
	e.track()
	go e.execute(jobCtx, run, work)

	return rec.ID, nil
}

// Load returns the latest persisted record for id.
func (e *Engine[O, E, M, S]) Load(ctx context.Context, id uuid.UUID) (*Record[O, E, M, S], error) {
	return e.store.Load(ctx, id)
}

// Wait polls the store until the job is terminal or ctx is done.
func (e *Engine[O, E, M, S]) Wait(ctx context.Context, id uuid.UUID) (*Record[O, E, M, S], error) {
	return Wait(ctx, e.store, e.model, id, WaitPollInterval(e.opts.pollInterval))
}

// Drain blocks until no submitted job is still on its completion path, or ctx
// is done. Jobs submitted while Drain waits are waited for too. Jobs complete
// whether or not Drain is called.
func (e *Engine[O, E, M, S]) Drain(ctx context.Context) error {
	e.mu.Lock()
	if e.active == 0 {
		e.mu.Unlock()
		return nil
	}
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine[O, E, M, S]) track() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == 0 {
		e.idle = make(chan struct{})
	}
	e.active++
}

func (e *Engine[O, E, M, S]) untrack() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
	if e.active == 0 {
		close(e.idle)
	}
}

func (e *Engine[O, E, M, S]) execute(ctx context.Context, run *Run[O, E, M, S], work Work[O, E, M, S]) {
	defer e.untrack()

	if e.sem != nil {
		// ctx never ends, so Acquire only returns once a slot is free.
		_ = e.sem.Acquire(ctx, 1)
		defer e.sem.Release(1)
	}

	started := e.opts.now()
	for _, obs := range e.opts.observers {
		obs.JobStarted(ctx, run.id)
	}

	res, err := invoke(ctx, run, work)
	if err != nil {
		e.abandon(ctx, run, StageWorkPanic, err)
		return
	}

	e.finish(ctx, run, res, started)
}

func invoke[O, E, M, S any](ctx context.Context, run *Run[O, E, M, S], work Work[O, E, M, S]) (res Result[O, E], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work panicked: %v", r)
		}
	}()
	return work(ctx, run), nil
}

// finish writes the terminal record under the job's lock. A failed save is
// reported to the failure sinks and never returned or panicked.
func (e *Engine[O, E, M, S]) finish(ctx context.Context, run *Run[O, E, M, S], res Result[O, E], started time.Time) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.finished = true

	now := e.opts.now()
	rec := run.record
	rec.Status = e.model.Terminal()
	rec.Result = &res
	rec.UpdatedAt = now
	rec.FinishedAt = &now

	saveCtx, cancel := context.WithTimeout(ctx, e.opts.finalSaveTimeout)
	defer cancel()

	if err := e.store.Save(saveCtx, rec.Clone()); err != nil {
		f := Incident{JobID: run.id, Stage: StageFinalSave, Err: err, At: now}
		if snap, encErr := Encode(rec); encErr == nil {
			f.Snapshot = &snap
		}
		e.report(ctx, f)
		return
	}

	elapsed := now.Sub(started)
	for _, obs := range e.opts.observers {
		obs.JobFinished(ctx, run.id, res.Failed(), elapsed)
	}
	e.opts.logger.Debug("Job finished",
		zap.Stringer("job_id", run.id),
		zap.Bool("failed", res.Failed()),
		zap.Duration("elapsed", elapsed))
}

// abandon closes the run without a terminal record.
func (e *Engine[O, E, M, S]) abandon(ctx context.Context, run *Run[O, E, M, S], stage FailureStage, err error) {
	run.mu.Lock()
	run.finished = true
	run.mu.Unlock()

	e.report(ctx, Incident{JobID: run.id, Stage: stage, Err: err, At: e.opts.now()})
}

func (e *Engine[O, E, M, S]) report(ctx context.Context, f Incident) {
	for _, sink := range e.opts.sinks {
		sink.ReportFailure(ctx, f)
	}
}

// Run is the handle a work function receives for its own job.
type Run[O, E, M, S any] struct {
	engine   *Engine[O, E, M, S]
	id       uuid.UUID
	metadata M

	mu       sync.Mutex
	finished bool
	record   *Record[O, E, M, S]
}

// ID returns the job id.
func (r *Run[O, E, M, S]) ID() uuid.UUID { return r.id }

// Metadata returns the metadata given at submission.
func (r *Run[O, E, M, S]) Metadata() M { return r.metadata }

// Store returns the store the job is persisted in.
func (r *Run[O, E, M, S]) Store() Store[O, E, M, S] { return r.engine.store }

// Load reads the job's latest persisted record.
func (r *Run[O, E, M, S]) Load(ctx context.Context) (*Record[O, E, M, S], error) {
	return r.engine.store.Load(ctx, r.id)
}

// SetStatus persists an intermediate status for the job.
//
// Writes through SetStatus are serialized with the engine's terminal write:
// once the terminal record is written, SetStatus returns ErrJobFinished. The
// initial and terminal values are reserved for the engine.
func (r *Run[O, E, M, S]) SetStatus(ctx context.Context, status S) error {
	if r.engine.model.IsTerminal(status) {
		return ErrTerminalStatus
	}
	if r.engine.model.IsInitial(status) {
		return ErrInitialStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrJobFinished
	}

	rec := r.record.Clone()
	rec.Status = status
	rec.UpdatedAt = r.engine.opts.now()
	if err := r.engine.store.Save(ctx, rec); err != nil {
		return err
	}
	return nil
}

// IsFinished reports whether the engine has closed this run.
func (r *Run[O, E, M, S]) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

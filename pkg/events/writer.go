package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gojobs/pkg/job"
)

// JSONLWriter writes event records as newline-delimited JSON.
//
// JSONLWriter is safe for concurrent use. Writes are serialized with a mutex
// so lines never interleave.
type JSONLWriter struct {
	w      io.Writer
	closer io.Closer
	source string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// Option configures a JSONLWriter.
type Option func(*JSONLWriter)

// WithSource sets the envelope source field.
func WithSource(source string) Option {
	return func(jw *JSONLWriter) { jw.source = source }
}

// WithLogger sets the logger used when an observer callback cannot write.
func WithLogger(logger *zap.Logger) Option {
	return func(jw *JSONLWriter) {
		if logger != nil {
			jw.logger = logger
		}
	}
}

// NewJSONLWriter creates a writer over w. Close does not close w.
func NewJSONLWriter(w io.Writer, opts ...Option) *JSONLWriter {
	jw := &JSONLWriter{
		w:      w,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(jw)
	}
	return jw
}

// OpenFile opens path for appending and returns a writer that owns the file.
func OpenFile(path string, opts ...Option) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create events dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	jw := NewJSONLWriter(f, opts...)
	jw.closer = f
	return jw, nil
}

// Write emits a record of the given type for id.
func (jw *JSONLWriter) Write(ctx context.Context, recordType string, id uuid.UUID, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:   recordType,
		TS:     jw.now(),
		JobID:  id.String(),
		Source: jw.source,
		Data:   dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// JobSubmitted implements job.Observer.
func (jw *JSONLWriter) JobSubmitted(ctx context.Context, id uuid.UUID) {
	jw.emit(ctx, TypeSubmitted, id, SubmittedRecord{})
}

// JobStarted implements job.Observer.
func (jw *JSONLWriter) JobStarted(ctx context.Context, id uuid.UUID) {
	jw.emit(ctx, TypeStarted, id, StartedRecord{})
}

// JobFinished implements job.Observer.
func (jw *JSONLWriter) JobFinished(ctx context.Context, id uuid.UUID, failed bool, elapsed time.Duration) {
	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailure
	}
	jw.emit(ctx, TypeFinished, id, FinishedRecord{Outcome: outcome, ElapsedMs: elapsed.Milliseconds()})
}

// ReportFailure implements job.FailureSink.
func (jw *JSONLWriter) ReportFailure(ctx context.Context, f job.Incident) {
	rec := FailureRecord{
		Stage:    string(f.Stage),
		Snapshot: f.Snapshot,
		At:       f.At,
	}
	if f.Err != nil {
		rec.Error = f.Err.Error()
	}
	// The dead-letter line must not be lost to the caller's cancellation.
	jw.emit(context.WithoutCancel(ctx), TypeFailure, f.JobID, rec)
}

// Close marks the writer closed and closes the file opened by OpenFile.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return nil
	}
	jw.closed = true
	if jw.closer != nil {
		return jw.closer.Close()
	}
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, recordType string, id uuid.UUID, data any) {
	if err := jw.Write(ctx, recordType, id, data); err != nil {
		jw.logger.Warn("Failed to write job event",
			zap.String("type", recordType),
			zap.Stringer("job_id", id),
			zap.Error(err))
	}
}

// writeAll loops until p is written; io.Writer may return n < len(p) with a
// nil error.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var (
	_ job.Observer    = (*JSONLWriter)(nil)
	_ job.FailureSink = (*JSONLWriter)(nil)
)

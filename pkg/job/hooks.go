package job

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailureStage identifies where an unobserved failure happened.
type FailureStage string

const (
	// StageFinalSave is a failed save of the terminal record. The job stays in
	// its last persisted non-terminal status.
	StageFinalSave FailureStage = "final_save"

	// StageWorkPanic is a panic raised by the work function. No result can be
	// recorded, so the job stays in its last persisted non-terminal status.
	StageWorkPanic FailureStage = "work_panic"
)

// Incident describes an error that no caller can observe synchronously because
// Submit has already returned.
type Incident struct {
	JobID uuid.UUID
	Stage FailureStage
	Err   error

	// Snapshot is the record the engine tried to persist, when it could be
	// encoded. It allows an operator to replay the terminal write.
	Snapshot *Snapshot

	At time.Time
}

// FailureSink receives failures from the completion path. Implementations
// must be safe for concurrent use and should not block for long.
type FailureSink interface {
	ReportFailure(ctx context.Context, f Incident)
}

// Observer receives lifecycle notifications. Implementations must be safe for
// concurrent use.
type Observer interface {
	JobSubmitted(ctx context.Context, id uuid.UUID)
	JobStarted(ctx context.Context, id uuid.UUID)
	JobFinished(ctx context.Context, id uuid.UUID, failed bool, elapsed time.Duration)
}

// LogSink reports failures to a zap logger at error level.
type LogSink struct {
	Logger *zap.Logger
}

// ReportFailure implements FailureSink.
func (s LogSink) ReportFailure(_ context.Context, f Incident) {
	logger := s.Logger
	if logger == nil {
		return
	}
	logger.Error("Job failure without observer",
		zap.Stringer("job_id", f.JobID),
		zap.String("stage", string(f.Stage)),
		zap.Bool("snapshot_captured", f.Snapshot != nil),
		zap.Time("at", f.At),
		zap.Error(f.Err))
}

var _ FailureSink = LogSink{}

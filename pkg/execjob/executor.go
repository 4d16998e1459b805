package execjob

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gojobs/pkg/job"
)

// Executor builds work functions that run commands, capturing stdout and
// stderr to per-job log files.
//
// Directory layout:
//
//	<log_root>/<job_id>/stdout.log
//	<log_root>/<job_id>/stderr.log
type Executor struct {
	logRoot string
	logger  *zap.Logger
}

// NewExecutor returns an executor writing logs under logRoot.
func NewExecutor(logRoot string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logRoot: strings.TrimSpace(logRoot), logger: logger}
}

func (e *Executor) JobDir(id uuid.UUID) string {
	return filepath.Join(e.logRoot, id.String())
}

func (e *Executor) StdoutPath(id uuid.UUID) string {
	return filepath.Join(e.JobDir(id), "stdout.log")
}

func (e *Executor) StderrPath(id uuid.UUID) string {
	return filepath.Join(e.JobDir(id), "stderr.log")
}

// Submit starts md as a job on engine.
func (e *Executor) Submit(ctx context.Context, engine *Engine, md Metadata) (uuid.UUID, error) {
	if len(md.Command) == 0 || strings.TrimSpace(md.Command[0]) == "" {
		return uuid.Nil, fmt.Errorf("command is required")
	}
	return engine.Submit(ctx, e.Work(), md)
}

// Work returns the work function that runs the job's command.
//
// A non-zero exit, or a child that cannot be started, is recorded as a failed
// result. The engine runs work on a context detached from the submitter, so a
// submitted child runs to completion.
func (e *Executor) Work() Work {
	return func(ctx context.Context, run *Run) Result {
		md := run.Metadata()
		id := run.ID()
		if len(md.Command) == 0 {
			return failure(-1, "command is required", "", "")
		}

		if err := os.MkdirAll(e.JobDir(id), 0755); err != nil {
			return failure(-1, fmt.Sprintf("create job dir: %v", err), "", "")
		}
		stdoutPath, stderrPath := e.StdoutPath(id), e.StderrPath(id)

		stdoutFile, err := os.Create(stdoutPath)
		if err != nil {
			return failure(-1, fmt.Sprintf("create stdout log: %v", err), "", "")
		}
		defer func() { _ = stdoutFile.Close() }()
		stderrFile, err := os.Create(stderrPath)
		if err != nil {
			return failure(-1, fmt.Sprintf("create stderr log: %v", err), "", "")
		}
		defer func() { _ = stderrFile.Close() }()

		cmd := exec.CommandContext(ctx, md.Command[0], md.Command[1:]...)
		cmd.Dir = md.Dir
		cmd.Env = append(os.Environ(), md.Env...)
		cmd.Stdout = stdoutFile
		cmd.Stderr = stderrFile

		started := time.Now().UTC()
		if err := cmd.Start(); err != nil {
			return failure(-1, fmt.Sprintf("start command: %v", err), stdoutPath, stderrPath)
		}

		progress := Progress{PID: cmd.Process.Pid, StartedAt: started}
		if err := run.SetStatus(ctx, Model.Custom(progress)); err != nil {
			// The pid is informational; the job still runs to completion.
			e.logger.Warn("Failed to record job pid",
				zap.Stringer("job_id", id),
				zap.Int("pid", progress.PID),
				zap.Error(err))
		}

		waitErr := cmd.Wait()
		elapsed := time.Since(started)
		exitCode := cmd.ProcessState.ExitCode()

		e.logger.Debug("Command finished",
			zap.Stringer("job_id", id),
			zap.Int("exit_code", exitCode),
			zap.Duration("elapsed", elapsed))

		if waitErr != nil {
			return failure(exitCode, waitErr.Error(), stdoutPath, stderrPath)
		}
		return job.Success[Output, Error](Output{
			ExitCode:   exitCode,
			Duration:   elapsed.Round(time.Millisecond).String(),
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
		})
	}
}

// Stale reports whether rec claims a running child whose process is gone.
// This happens when the process hosting the engine exited before the job
// finished, leaving the record in its custom status.
func Stale(rec *Record) bool {
	if rec == nil || rec.Finished() || rec.Status.Kind != job.KindCustom {
		return false
	}
	return rec.Status.Value.PID > 0 && !isProcessAlive(rec.Status.Value.PID)
}

func failure(exitCode int, message, stdoutPath, stderrPath string) Result {
	return job.Failure[Output](Error{
		ExitCode:   exitCode,
		Message:    message,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}

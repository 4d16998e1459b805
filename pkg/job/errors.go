package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for job operations.
var (
	// ErrNotFound indicates no record was ever saved for the requested id.
	ErrNotFound = errors.New("job not found")

	// ErrTerminalStatus is returned when a work function tries to write the
	// terminal status itself. Only the engine finishes a job.
	ErrTerminalStatus = errors.New("terminal status is reserved for the engine")

	// ErrInitialStatus is returned when a work function tries to move a job
	// back to the initial status. Only the engine starts a job.
	ErrInitialStatus = errors.New("initial status is reserved for the engine")

	// ErrJobFinished is returned by Run.SetStatus once the engine has written
	// the terminal record.
	ErrJobFinished = errors.New("job already finished")

	// ErrNilWork is returned by Submit when no work function is given.
	ErrNilWork = errors.New("work function is nil")
)

// ErrorKind classifies storage failures.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindIO            ErrorKind = "io"
	KindSerialization ErrorKind = "serialization"
)

// StorageError wraps backend failures with the operation and job they concern.
type StorageError struct {
	// Op is the operation that failed (e.g., "save", "load").
	Op string

	// JobID is the canonical job id, if known.
	JobID string

	// Kind classifies the failure.
	Kind ErrorKind

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("job store %s %s: %s: %v", e.Op, e.JobID, e.Kind, e.Err)
	}
	return fmt.Sprintf("job store %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every not-found StorageError match ErrNotFound, whatever it wraps.
func (e *StorageError) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// NotFoundError builds a KindNotFound error for id.
func NotFoundError(op, id string) error {
	return &StorageError{Op: op, JobID: id, Kind: KindNotFound, Err: ErrNotFound}
}

// IOError builds a KindIO error. A nil err yields nil.
func IOError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, JobID: id, Kind: KindIO, Err: err}
}

// SerializationError builds a KindSerialization error. A nil err yields nil.
func SerializationError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, JobID: id, Kind: KindSerialization, Err: err}
}

// IsNotFound returns true if the error indicates the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSerialization returns true if the error came from encoding or decoding a
// record.
func IsSerialization(err error) bool {
	return kindOf(err) == KindSerialization
}

// IsIO returns true if the error is a backend I/O failure.
func IsIO(err error) bool {
	return kindOf(err) == KindIO
}

func kindOf(err error) ErrorKind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Package events writes job lifecycle events as JSONL.
//
// Each line is a self-contained envelope with a type-specific payload in
// Data. A JSONLWriter can be registered with an engine as both an observer
// and a failure sink; failure records then act as a dead-letter log holding
// the snapshot the engine could not persist.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/gojobs/pkg/job"
)

// Record type constants follow the pattern gojobs.<type>.v<version>.
const (
	// TypeSubmitted is written once the initial record is persisted.
	TypeSubmitted = "gojobs.submitted.v1"

	// TypeStarted is written when work begins running.
	TypeStarted = "gojobs.started.v1"

	// TypeFinished is written after the terminal record is persisted.
	TypeFinished = "gojobs.finished.v1"

	// TypeFailure is written for failures of the completion path.
	TypeFailure = "gojobs.failure.v1"
)

// Record is the envelope for every line.
type Record struct {
	Type  string    `json:"type"`
	TS    time.Time `json:"ts"`
	JobID string    `json:"job_id"`

	// Source identifies the process that wrote the record (e.g., a hostname
	// or service name). Empty when not configured.
	Source string `json:"source,omitempty"`

	Data json.RawMessage `json:"data"`
}

// SubmittedRecord is the payload of TypeSubmitted.
type SubmittedRecord struct{}

// StartedRecord is the payload of TypeStarted.
type StartedRecord struct{}

// FinishedRecord is the payload of TypeFinished.
type FinishedRecord struct {
	Outcome   string `json:"outcome"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Outcome values for FinishedRecord.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// FailureRecord is the payload of TypeFailure.
type FailureRecord struct {
	Stage string `json:"stage"`
	Error string `json:"error"`

	// Snapshot is the terminal record that could not be saved, if any.
	Snapshot *job.Snapshot `json:"snapshot,omitempty"`

	At time.Time `json:"at"`
}

var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "events: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Package execjob runs local commands as tracked jobs.
//
// The job's metadata is the command line; while the child runs, the job's
// status carries its pid; the result records the exit code and the paths of
// the captured stdout and stderr logs.
package execjob

import (
	"time"

	"github.com/3leaps/gojobs/pkg/job"
)

// Metadata describes the command a job runs. It is persisted unchanged.
type Metadata struct {
	Name    string   `json:"name,omitempty"`
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`

	// Env is appended to the parent environment.
	Env []string `json:"env,omitempty"`
}

// Progress is the custom status payload written once the child has started.
type Progress struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Output is the success value of a command job.
type Output struct {
	ExitCode   int    `json:"exit_code"`
	Duration   string `json:"duration"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
}

// Error is the failure value of a command job. ExitCode is -1 when the child
// never started.
type Error struct {
	ExitCode   int    `json:"exit_code"`
	Message    string `json:"message"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
}

type (
	Status = job.Status[Progress]
	Record = job.Record[Output, Error, Metadata, Status]
	Result = job.Result[Output, Error]
	Store  = job.Store[Output, Error, Metadata, Status]
	Engine = job.Engine[Output, Error, Metadata, Status]
	Run    = job.Run[Output, Error, Metadata, Status]
	Work   = job.Work[Output, Error, Metadata, Status]
)

// Model is the status model for command jobs.
var Model = job.Statuses[Progress]{}

// NewStore returns a typed store over backend.
func NewStore(backend job.Backend) *job.CodecStore[Output, Error, Metadata, Status] {
	return job.NewStore[Output, Error, Metadata, Status](backend)
}

// NewEngine returns an engine for command jobs.
func NewEngine(store Store, opts ...job.Option) *Engine {
	return job.NewEngine[Output, Error, Metadata, Status](store, Model, opts...)
}

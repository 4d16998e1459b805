package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of a job: either a success value or a caller-defined
// failure value. Exactly one side is meaningful, selected by Failed.
type Result[O, E any] struct {
	Value  O
	Err    E
	failed bool
}

// Success wraps a successful outcome.
func Success[O, E any](v O) Result[O, E] {
	return Result[O, E]{Value: v}
}

// Failure wraps a failed outcome. The error value is stored verbatim.
func Failure[O, E any](e E) Result[O, E] {
	return Result[O, E]{Err: e, failed: true}
}

// Failed reports whether the result holds the failure variant.
func (r Result[O, E]) Failed() bool { return r.failed }

// Unpack returns the success value, the failure value and whether the job
// succeeded.
func (r Result[O, E]) Unpack() (O, E, bool) {
	return r.Value, r.Err, !r.failed
}

type resultJSON struct {
	Ok  *json.RawMessage `json:"ok,omitempty"`
	Err *json.RawMessage `json:"err,omitempty"`
}

// MarshalJSON encodes the result as {"ok": value} or {"err": error}.
func (r Result[O, E]) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if r.failed {
		raw, err = json.Marshal(r.Err)
	} else {
		raw, err = json.Marshal(r.Value)
	}
	if err != nil {
		return nil, err
	}
	msg := json.RawMessage(raw)
	if r.failed {
		return json.Marshal(resultJSON{Err: &msg})
	}
	return json.Marshal(resultJSON{Ok: &msg})
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON. A null value
// on either side is kept as the zero value of that side.
func (r *Result[O, E]) UnmarshalJSON(data []byte) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	okRaw, hasOk := in["ok"]
	errRaw, hasErr := in["err"]
	switch {
	case hasOk && hasErr:
		return errors.New("result has both ok and err")
	case hasErr:
		var e E
		if err := json.Unmarshal(errRaw, &e); err != nil {
			return err
		}
		*r = Failure[O](e)
	case hasOk:
		var v O
		if err := json.Unmarshal(okRaw, &v); err != nil {
			return err
		}
		*r = Success[O, E](v)
	default:
		return errors.New("result has neither ok nor err")
	}
	return nil
}

// Record is the persisted snapshot of a job.
//
// Result is nil until the job reaches its terminal status and is never cleared
// afterwards. Metadata is attached at submission and never rewritten by the
// engine.
type Record[O, E, M, S any] struct {
	ID         uuid.UUID     `json:"id"`
	Status     S             `json:"status"`
	Result     *Result[O, E] `json:"result,omitempty"`
	Metadata   *M            `json:"metadata,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Clone returns a copy of the record that shares no pointers with r.
// Status, output, error and metadata values are copied shallowly.
func (r *Record[O, E, M, S]) Clone() *Record[O, E, M, S] {
	if r == nil {
		return nil
	}
	out := *r
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	if r.Metadata != nil {
		md := *r.Metadata
		out.Metadata = &md
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// Finished reports whether the record carries a result, which is only the case
// once the engine has written the terminal status.
func (r *Record[O, E, M, S]) Finished() bool {
	return r != nil && r.Result != nil
}

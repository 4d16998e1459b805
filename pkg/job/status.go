package job

import (
	"encoding/json"
	"fmt"
)

// State is the fixed status enumeration used by most callers.
//
// NOTE: These values are persisted by every backend and are part of the stable
// on-disk contract.
type State string

const (
	StateStarted  State = "started"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s == StateStarted || s == StateRunning || s == StateFinished
}

// StatusModel tells the engine how to build and recognize the status values of
// a record. The engine only ever writes Initial and Terminal.
type StatusModel[S any] interface {
	Initial() S
	Terminal() S
	IsInitial(s S) bool
	IsTerminal(s S) bool
}

// CustomStatusModel is a StatusModel that can also produce intermediate values
// from an application payload (percent complete, a phase name, a pid).
type CustomStatusModel[S, P any] interface {
	StatusModel[S]
	Custom(payload P) S
}

// States is the StatusModel for the fixed State enumeration. Custom payloads
// collapse to StateRunning.
type States struct{}

func (States) Initial() State { return StateStarted }

func (States) Terminal() State { return StateFinished }

func (States) IsInitial(s State) bool { return s == StateStarted }

func (States) IsTerminal(s State) bool { return s == StateFinished }

func (States) Custom(_ string) State { return StateRunning }

// Kind discriminates the variants of Status.
type Kind string

const (
	KindStarted  Kind = "started"
	KindCustom   Kind = "custom"
	KindFinished Kind = "finished"
)

// Status is the generic status value: started, a caller-defined custom value, or
// finished. Value is only meaningful when Kind is KindCustom.
type Status[P any] struct {
	Kind  Kind
	Value P
}

// Started returns the initial status.
func Started[P any]() Status[P] { return Status[P]{Kind: KindStarted} }

// Finished returns the terminal status.
func Finished[P any]() Status[P] { return Status[P]{Kind: KindFinished} }

// Custom returns an intermediate status carrying payload.
func Custom[P any](payload P) Status[P] { return Status[P]{Kind: KindCustom, Value: payload} }

// IsFinished reports whether s is the terminal status.
func (s Status[P]) IsFinished() bool { return s.Kind == KindFinished }

func (s Status[P]) String() string {
	if s.Kind == KindCustom {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Value)
	}
	return string(s.Kind)
}

type statusJSON[P any] struct {
	Kind  Kind `json:"kind"`
	Value *P   `json:"value,omitempty"`
}

// MarshalJSON encodes the status as {"kind": "..."} with a "value" field for
// custom statuses.
func (s Status[P]) MarshalJSON() ([]byte, error) {
	out := statusJSON[P]{Kind: s.Kind}
	if s.Kind == KindCustom {
		v := s.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the object form written by MarshalJSON.
func (s *Status[P]) UnmarshalJSON(data []byte) error {
	var in statusJSON[P]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case KindStarted, KindFinished:
		*s = Status[P]{Kind: in.Kind}
	case KindCustom:
		*s = Status[P]{Kind: KindCustom}
		if in.Value != nil {
			s.Value = *in.Value
		}
	default:
		return fmt.Errorf("unknown status kind %q", in.Kind)
	}
	return nil
}

// Statuses is the CustomStatusModel for Status[P].
type Statuses[P any] struct{}

func (Statuses[P]) Initial() Status[P] { return Started[P]() }

func (Statuses[P]) Terminal() Status[P] { return Finished[P]() }

func (Statuses[P]) IsInitial(s Status[P]) bool { return s.Kind == KindStarted }

func (Statuses[P]) IsTerminal(s Status[P]) bool { return s.IsFinished() }

func (Statuses[P]) Custom(payload P) Status[P] { return Custom(payload) }

var (
	_ CustomStatusModel[State, string]          = States{}
	_ CustomStatusModel[Status[string], string] = Statuses[string]{}
)

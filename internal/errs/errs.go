// Package errs implements the error taxonomy of the pipeline engine: a
// small set of classified kinds that the runner and CLI use to decide
// exit codes and to format the offending method/section/phase for
// user.log and stderr, in the %w-wrapping idiom used throughout
// cmd/sneller and plan.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way §7 of the spec does.
type Kind int

const (
	Configuration Kind = iota
	Capability
	Plan
	Data
	IO
	Internal
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "ConfigurationError"
	case Capability:
		return "CapabilityError"
	case Plan:
		return "PlanError"
	case Data:
		return "DataError"
	case IO:
		return "IOError"
	case Internal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// Phase is the stage of execution during which a failure occurred.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseBlock   Phase = "block"
	PhaseReslice Phase = "reslice"
)

// Error is a classified, identified failure.
type Error struct {
	Kind    Kind
	Phase   Phase
	Ident   string // offending method/section identifier
	Wrapped error
}

func (e *Error) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s during %s of %s: %s", e.Kind, e.Phase, e.Ident, e.Wrapped)
	}
	return fmt.Sprintf("%s during %s: %s", e.Kind, e.Phase, e.Wrapped)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func wrap(kind Kind, phase Phase, ident, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Phase:   phase,
		Ident:   ident,
		Wrapped: fmt.Errorf(format, args...),
	}
}

// Configuration builds a ConfigurationError; these are always raised at plan time.
func Configuration(ident, format string, args ...any) *Error {
	return wrap(Configuration, PhasePlan, ident, format, args...)
}

// Capability builds a CapabilityError (also plan-time, e.g. device requested but unavailable).
func Capability(ident, format string, args ...any) *Error {
	return wrap(Capability, PhasePlan, ident, format, args...)
}

// PlanErr builds a PlanError (memory planning failure).
func PlanErr(ident, format string, args ...any) *Error {
	return wrap(Plan, PhasePlan, ident, format, args...)
}

// Data builds a DataError at the given phase (usually PhaseBlock).
func Data(phase Phase, ident, format string, args ...any) *Error {
	return wrap(Data, phase, ident, format, args...)
}

// IOErr builds an IOError at the given phase.
func IOErr(phase Phase, ident, format string, args ...any) *Error {
	return wrap(IO, phase, ident, format, args...)
}

// InternalErr builds an InternalError.
func InternalErr(phase Phase, ident, format string, args ...any) *Error {
	return wrap(Internal, phase, ident, format, args...)
}

// As is a small convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode maps a classified error to a process exit code; unclassified
// errors (should not normally occur) map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case Configuration:
		return 2
	case Capability:
		return 3
	case Plan:
		return 4
	case Data:
		return 5
	case IO:
		return 6
	case Internal:
		return 7
	default:
		return 1
	}
}

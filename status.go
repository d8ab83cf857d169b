package ivp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Task selects how Evolve returns control to the caller.
type Task int

const (
	// Normal advances until tout is reached or crossed, then returns the
	// solution at tout (interpolated when dense output is available).
	Normal Task = iota
	// OneStep returns after each accepted step.
	OneStep
)

// Status reports why a successful Evolve call returned.
type Status int

const (
	// Success means tout was reached (Normal) or a step completed (OneStep).
	Success Status = iota
	// TstopReturn means the configured stop time was reached.
	TstopReturn
	// RootReturn means one or more root functions changed sign.
	RootReturn
)

func (st Status) String() string {
	switch st {
	case Success:
		return "success"
	case TstopReturn:
		return "tstop reached"
	case RootReturn:
		return "root found"
	}
	return fmt.Sprintf("Status(%d)", int(st))
}

// Code classifies integrator failures.
type Code int

const (
	// Other is the catch-all for failures outside the taxonomy.
	Other Code = iota
	TooMuchWork
	TooMuchAccuracy
	ErrFailure
	ConvFailure
	LinsetupFail
	LinsolveFail
	RhsFuncFail
	FirstRhsFuncFail
	RepeatedRhsFuncFail
	UnrecoverableRhsFuncFail
	MassFuncFail
	MassSetupFail
	MassSolveFail
	ConstraintFail
	NoMemory
	IllegalInput
	BadT
	BadK
	BadDky
	TooClose
	VectorOpErr
	BadRootFunction
	RootFuncFail
	CloseRoot
)

var codeNames = map[Code]string{
	Other:                    "failure",
	TooMuchWork:              "too much work",
	TooMuchAccuracy:          "too much accuracy requested",
	ErrFailure:               "error test failures",
	ConvFailure:              "nonlinear convergence failures",
	LinsetupFail:             "linear solver setup failed",
	LinsolveFail:             "linear solve failed",
	RhsFuncFail:              "rhs function failed",
	FirstRhsFuncFail:         "rhs function failed at the first call",
	RepeatedRhsFuncFail:      "repeated recoverable rhs failures",
	UnrecoverableRhsFuncFail: "unrecoverable rhs failure",
	MassFuncFail:             "mass matrix function failed",
	MassSetupFail:            "mass solver setup failed",
	MassSolveFail:            "mass solve failed",
	ConstraintFail:           "constraint violations",
	NoMemory:                 "allocation failed",
	IllegalInput:             "illegal input",
	BadT:                     "t outside interpolation range",
	BadK:                     "derivative order unavailable",
	BadDky:                   "bad dense output request",
	TooClose:                 "tout too close to t0",
	VectorOpErr:              "vector operation failed",
	BadRootFunction:          "root function failed repeatedly",
	RootFuncFail:             "root function failed",
	CloseRoot:                "two roots too close together",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the failure type surfaced by the integrator. It carries the
// taxonomy code, the time at which integration stopped and, when a user
// callback or attached solver caused the failure, the wrapped cause.
type Error struct {
	Code Code
	T    float64
	msg  string
	err  error
}

func (e *Error) Error() string {
	s := e.Code.String()
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.err }

// Is matches against another *Error by Code, so callers can test
// errors.Is(err, &ivp.Error{Code: ivp.ConvFailure}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(c Code, t float64, format string, a ...interface{}) *Error {
	return &Error{Code: c, T: t, msg: fmt.Sprintf(format, a...)}
}

func wrapError(c Code, t float64, cause error, msg string) *Error {
	return &Error{Code: c, T: t, msg: msg, err: cause}
}

// CodeOf extracts the taxonomy code from err, or Other when err is not
// an integrator error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Other
}

// ErrRecoverable is the sentinel user callbacks wrap to signal a
// recoverable failure: the engine shrinks the step and retries instead
// of aborting. A plain non-nil error from a callback is fatal.
var ErrRecoverable = errors.New("recoverable failure")

// Recoverable reports whether err (or anything it wraps) asks for a
// retry rather than an abort.
func Recoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

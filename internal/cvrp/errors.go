package cvrp

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrIO                = errors.New("i/o error")
	ErrMalformedInstance = errors.New("malformed instance")
	ErrFormulation       = errors.New("formulation error")
	ErrCutSubmission     = errors.New("cut submission error")
	ErrNoSolution        = errors.New("no feasible solution")
)

// Error carries the failing operation and, for instance parsing, the line.
type Error struct {
	Op   string
	Line int
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "cvrp: " + msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func malformed(op string, line int, format string, args ...any) *Error {
	return &Error{Op: op, Line: line, Kind: ErrMalformedInstance, Err: fmt.Errorf(format, args...)}
}

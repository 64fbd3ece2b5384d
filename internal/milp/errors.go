package milp

import "errors"

var (
	ErrDuplicateName = errors.New("milp: duplicate name")
	ErrForeignVar    = errors.New("milp: variable does not belong to this model")
	ErrInvalidBounds = errors.New("milp: invalid bounds")
	ErrInvalidNumber = errors.New("milp: NaN or infinite number")
	ErrInvalidSense  = errors.New("milp: invalid constraint sense")
	ErrDimension     = errors.New("milp: dimension mismatch")
	ErrSolving       = errors.New("milp: model is being solved")

	// ErrLazyDisabled is returned by Candidate.AddLazy when Params.LazyConstraints is off.
	ErrLazyDisabled = errors.New("milp: lazy constraints are disabled")
	// ErrCallbackClosed is returned when a Candidate is used after its handler returned.
	ErrCallbackClosed = errors.New("milp: candidate callback already returned")

	ErrUnbounded = errors.New("milp: LP relaxation is unbounded")
	ErrNumerical = errors.New("milp: numerical failure in LP relaxation")
)

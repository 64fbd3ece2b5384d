package milp

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Params controls the search. The zero value is not useful; start from
// DefaultParams.
type Params struct {
	// TimeLimit bounds the wall-clock time of Solve. Zero means no limit.
	TimeLimit time.Duration
	// LazyConstraints enables Candidate.AddLazy.
	LazyConstraints bool
	// IntFeasTol is the integrality tolerance.
	IntFeasTol float64
	// FeasTol is the primal feasibility tolerance for rows and bounds.
	FeasTol float64
	// MIPGap is the absolute gap under which a node is pruned against the incumbent.
	MIPGap float64
	// MaxNodes caps processed nodes. Zero means no cap.
	MaxNodes int
	// Logger receives incumbent (info) and node (debug) progress.
	Logger log.FieldLogger
	// OnIncumbent is called synchronously after every new incumbent.
	OnIncumbent func(Incumbent)
}

// DefaultParams mirrors the common solver defaults: lazy constraints off, no
// time limit, 1e-6 tolerances.
func DefaultParams() Params {
	return Params{
		IntFeasTol: 1e-6,
		FeasTol:    1e-6,
		MIPGap:     1e-6,
		Logger:     log.StandardLogger(),
	}
}

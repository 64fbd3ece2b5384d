package milp

import (
	"fmt"
	"time"
)

// Status is the outcome of Solve.
type Status int

const (
	StatusUnknown Status = iota
	// StatusOptimal: the incumbent is proven optimal.
	StatusOptimal
	// StatusInfeasible: the search space was exhausted without a feasible solution.
	StatusInfeasible
	// StatusTimeLimit: Params.TimeLimit elapsed.
	StatusTimeLimit
	// StatusInterrupted: the context was cancelled.
	StatusInterrupted
	// StatusNodeLimit: Params.MaxNodes nodes were processed.
	StatusNodeLimit
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusTimeLimit:
		return "time_limit"
	case StatusInterrupted:
		return "interrupted"
	case StatusNodeLimit:
		return "node_limit"
	default:
		return "unknown"
	}
}

// Stats are search counters.
type Stats struct {
	Nodes      int
	LPs        int
	Candidates int
	LazyCuts   int
	Incumbents int
	Runtime    time.Duration
}

// Incumbent is reported through Params.OnIncumbent.
type Incumbent struct {
	Objective float64
	Bound     float64
	Values    []float64
	Nodes     int
	LazyCuts  int
	Elapsed   time.Duration
}

// Result holds the best solution found.
type Result struct {
	Status    Status
	Objective float64
	Bound     float64
	Values    []float64
	Stats     Stats
}

// HasSolution reports whether an incumbent exists.
func (r *Result) HasSolution() bool { return r != nil && r.Values != nil }

// Value returns the incumbent value of v, or NaN without an incumbent.
func (r *Result) Value(v *Var) float64 {
	if !r.HasSolution() {
		return nan()
	}
	return r.Values[v.index]
}

// Gap is the absolute difference between incumbent and bound.
func (r *Result) Gap() float64 {
	if !r.HasSolution() {
		return inf()
	}
	return r.Objective - r.Bound
}

func (r *Result) String() string {
	if !r.HasSolution() {
		return fmt.Sprintf("status=%s nodes=%d cuts=%d", r.Status, r.Stats.Nodes, r.Stats.LazyCuts)
	}
	return fmt.Sprintf("status=%s obj=%g bound=%g nodes=%d cuts=%d", r.Status, r.Objective, r.Bound, r.Stats.Nodes, r.Stats.LazyCuts)
}

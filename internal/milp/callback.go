package milp

import (
	"fmt"
	"sync"
)

// CandidateHandler inspects an integer-feasible candidate. It may reject it by
// submitting lazy constraints through Candidate.AddLazy. A returned error
// aborts the search and is returned by Solve.
type CandidateHandler interface {
	HandleCandidate(c *Candidate) error
}

// CandidateHandlerFunc adapts a function to CandidateHandler.
type CandidateHandlerFunc func(c *Candidate) error

func (f CandidateHandlerFunc) HandleCandidate(c *Candidate) error { return f(c) }

// Candidate is the read-only view of an integer-feasible assignment handed to
// the candidate handler. It is only valid during the handler call.
type Candidate struct {
	model     *Model
	values    []float64
	objective float64
	lazyOK    bool

	mu      sync.Mutex
	closed  bool
	pending []row
}

// Value returns the candidate value of v.
func (c *Candidate) Value(v *Var) float64 { return c.values[v.index] }

// Values returns a copy of the full assignment indexed by variable index.
func (c *Candidate) Values() []float64 { return append([]float64(nil), c.values...) }

// Objective returns the candidate objective value.
func (c *Candidate) Objective() float64 { return c.objective }

// AddLazy submits lhs sense rhs as a globally valid constraint. The candidate
// is rejected when at least one submitted constraint is violated by it.
func (c *Candidate) AddLazy(lhs *LinExpr, sense Sense, rhs float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCallbackClosed
	}
	if !c.lazyOK {
		return ErrLazyDisabled
	}
	r, err := c.model.normalize(lhs, sense, Const(rhs))
	if err != nil {
		return fmt.Errorf("lazy constraint: %w", err)
	}
	c.pending = append(c.pending, r)
	return nil
}

func (c *Candidate) close() []row {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.pending
}

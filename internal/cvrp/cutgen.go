package cvrp

import (
	"fmt"
	"math"

	"cvrpbc/internal/milp"
)

// CandidateReader reads variable values of an integer-feasible candidate.
type CandidateReader interface {
	Value(v *milp.Var) float64
}

// CutSink is a candidate that accepts globally valid lazy cuts.
type CutSink interface {
	CandidateReader
	AddLazy(lhs *milp.LinExpr, sense milp.Sense, rhs float64) error
}

// Cycle is one walk of a decomposed candidate.
type Cycle struct {
	Nodes         []int
	ContainsDepot bool
	Demand        float64
}

// Len is the number of nodes on the walk.
func (c Cycle) Len() int { return len(c.Nodes) }

// Customers returns the nodes of the walk without the depot.
func (c Cycle) Customers() []int {
	out := make([]int, 0, len(c.Nodes))
	for _, v := range c.Nodes {
		if v != Depot {
			out = append(out, v)
		}
	}
	return out
}

// Decomposition is the result of splitting a candidate into walks.
type Decomposition struct {
	// Routes are the depot walks within capacity, in discovery order.
	Routes []Cycle
	// Infeasible are customer subtours and overloaded depot walks.
	Infeasible []Cycle
	// Shortest indexes Infeasible, or is -1 when the candidate is feasible.
	Shortest int
}

// Feasible reports whether no infeasible walk was found.
func (d *Decomposition) Feasible() bool { return d.Shortest < 0 }

// Cut is a capacity cut sum_{u in S, v not in S} x_uv >= RHS.
type Cut struct {
	Cycle  Cycle
	Set    []int
	Demand float64
	RHS    float64
	Edges  []EdgeKey
}

// CutGenerator separates subtour and capacity cuts from integer-feasible
// candidates. It keeps no state between calls and is safe for concurrent use.
type CutGenerator struct {
	f *Formulation
	// OnCut, when set, observes every submitted cut.
	OnCut func(Cut)
}

// NewCutGenerator returns a generator for the given formulation.
func NewCutGenerator(f *Formulation) *CutGenerator {
	return &CutGenerator{f: f}
}

// Decompose splits the candidate's edges, rounded at 0.5, into walks. The
// walk starts at the first unvisited node and moves to the lowest-index
// unvisited neighbour until it gets stuck. A walk through the depot whose
// demand does not exceed the capacity is a route; an overloaded one is
// infeasible. Either way the depot is freed for the next vehicle. A walk
// made of the depot alone is dropped and leaves the depot visited. Every
// walk without the depot is an infeasible subtour.
func (g *CutGenerator) Decompose(c CandidateReader) *Decomposition {
	inst := g.f.Instance
	n := inst.Size
	adj := make([][]bool, n)
	for i := range adj {
		adj[i] = make([]bool, n)
	}
	g.f.Edges.Each(func(k EdgeKey, v *milp.Var) {
		if k.Lo != k.Hi && c.Value(v) > 0.5 {
			adj[k.Lo][k.Hi], adj[k.Hi][k.Lo] = true, true
		}
	})

	visited := make([]bool, n)
	d := &Decomposition{Shortest: -1}
	for {
		cur := firstUnvisited(visited)
		if cur < 0 {
			break
		}
		cyc := Cycle{}
		for cur >= 0 {
			visited[cur] = true
			cyc.Nodes = append(cyc.Nodes, cur)
			if cur == Depot {
				cyc.ContainsDepot = true
			} else {
				cyc.Demand += inst.Demands[cur]
			}
			next := -1
			for j := 0; j < n; j++ {
				if adj[cur][j] && !visited[j] {
					next = j
					break
				}
			}
			cur = next
		}
		if cyc.ContainsDepot && cyc.Len() == 1 {
			continue
		}
		if cyc.ContainsDepot {
			// Other vehicles start from the depot too.
			visited[Depot] = false
		}
		if cyc.ContainsDepot && cyc.Demand <= inst.Capacity {
			d.Routes = append(d.Routes, cyc)
			continue
		}
		if d.Shortest < 0 || cyc.Len() < d.Infeasible[d.Shortest].Len() {
			d.Shortest = len(d.Infeasible)
		}
		d.Infeasible = append(d.Infeasible, cyc)
	}
	return d
}

func firstUnvisited(visited []bool) int {
	for i, v := range visited {
		if !v {
			return i
		}
	}
	return -1
}

// Separate decomposes the candidate and builds the cut for the shortest
// infeasible walk. It returns false when the candidate needs no cut.
func (g *CutGenerator) Separate(c CandidateReader) (*Cut, bool) {
	d := g.Decompose(c)
	if d.Feasible() {
		return nil, false
	}
	return g.CutFor(d.Infeasible[d.Shortest]), true
}

// CutFor builds the capacity cut of a walk's customer set S.
func (g *CutGenerator) CutFor(cyc Cycle) *Cut {
	inst := g.f.Instance
	set := cyc.Customers()
	in := make([]bool, inst.Size)
	demand := 0.0
	for _, u := range set {
		in[u] = true
		demand += inst.Demands[u]
	}
	cut := &Cut{Cycle: cyc, Set: set, Demand: demand}
	for _, u := range set {
		for v := 0; v < inst.Size; v++ {
			if !in[v] {
				cut.Edges = append(cut.Edges, Edge(u, v))
			}
		}
	}
	switch g.f.Options.CutBound {
	case BoundFractional:
		cut.RHS = demand / inst.Capacity
	default:
		cut.RHS = 2 * math.Max(1, math.Ceil(demand/inst.Capacity))
	}
	return cut
}

// Expr is the left-hand side of the cut.
func (g *CutGenerator) Expr(cut *Cut) *milp.LinExpr {
	e := milp.NewExpr()
	for _, k := range cut.Edges {
		e.AddTerm(1, g.f.Edges.Get(k.Lo, k.Hi))
	}
	return e
}

// Handle separates the candidate and submits at most one cut. A rejected
// submission is returned as ErrCutSubmission.
func (g *CutGenerator) Handle(c CutSink) error {
	cut, ok := g.Separate(c)
	if !ok {
		return nil
	}
	if err := c.AddLazy(g.Expr(cut), milp.GreaterEqual, cut.RHS); err != nil {
		return newError(ErrCutSubmission, fmt.Sprintf("submit cut on %v", cut.Set), err)
	}
	if g.OnCut != nil {
		g.OnCut(*cut)
	}
	return nil
}

// HandleCandidate implements milp.CandidateHandler.
func (g *CutGenerator) HandleCandidate(c *milp.Candidate) error { return g.Handle(c) }

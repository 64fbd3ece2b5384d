package cvrp

import (
	"fmt"

	"cvrpbc/internal/milp"
)

// ModelBuilder is the part of the MILP engine the formulation needs.
// *milp.Model implements it.
type ModelBuilder interface {
	AddBinaryVar(lb, ub, obj float64, name string) (*milp.Var, error)
	AddIntegerVar(lb, ub, obj float64, name string) (*milp.Var, error)
	AddConstraint(name string, lhs *milp.LinExpr, sense milp.Sense, rhs *milp.LinExpr) (*milp.Constraint, error)
	SetUpperBound(v *milp.Var, ub float64) error
}

// CutBound selects the right-hand side of emitted capacity cuts.
type CutBound int

const (
	// BoundRounded emits x(δ(S)) >= 2·max(1, ceil(D(S)/Q)).
	BoundRounded CutBound = iota
	// BoundFractional emits x(δ(S)) >= D(S)/Q. It separates subtours but
	// cannot cut off an overloaded route whose demand is at most 2Q.
	BoundFractional
)

func (b CutBound) String() string {
	if b == BoundFractional {
		return "fractional"
	}
	return "rounded"
}

// ParseCutBound accepts "rounded" and "fractional".
func ParseCutBound(s string) (CutBound, error) {
	switch s {
	case "", "rounded":
		return BoundRounded, nil
	case "fractional":
		return BoundFractional, nil
	}
	return 0, fmt.Errorf("unknown cut bound %q", s)
}

// Options tunes the formulation and the cut generator.
type Options struct {
	// SingleCustomerRoutes lets depot edges take the value 2 so a vehicle can
	// serve exactly one customer (route 0-j-0). Off, every edge is binary.
	SingleCustomerRoutes bool
	CutBound             CutBound
}

// DefaultOptions enables single-customer routes and rounded cuts.
func DefaultOptions() Options {
	return Options{SingleCustomerRoutes: true, CutBound: BoundRounded}
}

// EdgeKey is an unordered node pair with Lo <= Hi.
type EdgeKey struct {
	Lo, Hi int
}

// Edge normalises (i, j) to its key.
func Edge(i, j int) EdgeKey {
	if i > j {
		i, j = j, i
	}
	return EdgeKey{Lo: i, Hi: j}
}

func (k EdgeKey) String() string { return fmt.Sprintf("x%d_%d", k.Lo, k.Hi) }

// EdgeVars is the canonical store of edge variables. Get(i, j) and Get(j, i)
// return the same variable.
type EdgeVars struct {
	n    int
	vars []*milp.Var
}

func newEdgeVars(n int) *EdgeVars {
	return &EdgeVars{n: n, vars: make([]*milp.Var, n*(n+1)/2)}
}

func (ev *EdgeVars) slot(k EdgeKey) int {
	// Row-major upper triangle including the diagonal.
	return k.Lo*ev.n - k.Lo*(k.Lo-1)/2 + (k.Hi - k.Lo)
}

// Get returns the variable of edge {i, j}.
func (ev *EdgeVars) Get(i, j int) *milp.Var { return ev.vars[ev.slot(Edge(i, j))] }

func (ev *EdgeVars) set(k EdgeKey, v *milp.Var) { ev.vars[ev.slot(k)] = v }

// Len is the number of stored variables, diagonal included.
func (ev *EdgeVars) Len() int { return len(ev.vars) }

// Each calls fn for every key with Lo <= Hi in ascending order.
func (ev *EdgeVars) Each(fn func(k EdgeKey, v *milp.Var)) {
	for i := 0; i < ev.n; i++ {
		for j := i; j < ev.n; j++ {
			k := EdgeKey{Lo: i, Hi: j}
			fn(k, ev.vars[ev.slot(k)])
		}
	}
}

// Formulation holds the variables created for an instance.
type Formulation struct {
	Instance *Instance
	Edges    *EdgeVars
	Vehicles *milp.Var
	Options  Options
}

// BuildFormulation creates the two-index model: edge variables, the vehicle
// count, customer degree constraints, the depot degree constraint and the
// self-loop bounds, in that order. Subtour and capacity constraints are left
// to the cut generator.
func BuildFormulation(b ModelBuilder, inst *Instance, opts Options) (*Formulation, error) {
	n := inst.Size
	f := &Formulation{Instance: inst, Edges: newEdgeVars(n), Options: opts}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k := EdgeKey{Lo: i, Hi: j}
			var (
				v   *milp.Var
				err error
			)
			if opts.SingleCustomerRoutes && i == Depot && j != Depot {
				v, err = b.AddIntegerVar(0, 2, inst.Cost(i, j), k.String())
			} else {
				v, err = b.AddBinaryVar(0, 1, inst.Cost(i, j), k.String())
			}
			if err != nil {
				return nil, newError(ErrFormulation, "add edge variable "+k.String(), err)
			}
			f.Edges.set(k, v)
		}
	}

	v, err := b.AddIntegerVar(0, float64(n), 1, "vehicles")
	if err != nil {
		return nil, newError(ErrFormulation, "add vehicles variable", err)
	}
	f.Vehicles = v

	for i := 1; i < n; i++ {
		name := fmt.Sprintf("deg2_%d", i)
		if _, err := b.AddConstraint(name, f.incident(i), milp.Equal, milp.Const(2)); err != nil {
			return nil, newError(ErrFormulation, "add constraint "+name, err)
		}
	}

	if _, err := b.AddConstraint("depot_degree", f.incident(Depot), milp.Equal, milp.NewExpr().AddTerm(2, f.Vehicles)); err != nil {
		return nil, newError(ErrFormulation, "add constraint depot_degree", err)
	}

	for i := 0; i < n; i++ {
		if err := b.SetUpperBound(f.Edges.Get(i, i), 0); err != nil {
			return nil, newError(ErrFormulation, fmt.Sprintf("forbid self-loop %d", i), err)
		}
	}
	return f, nil
}

// incident is sum_j x_ij over every node j, the self-loop included.
func (f *Formulation) incident(i int) *milp.LinExpr {
	e := milp.NewExpr()
	for j := 0; j < f.Instance.Size; j++ {
		e.AddTerm(1, f.Edges.Get(i, j))
	}
	return e
}

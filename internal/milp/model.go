// Package milp is a small in-process branch-and-cut engine for mixed-integer
// linear programs.
//
// A Model collects variables and linear constraints, optionally a candidate
// handler that may reject integer-feasible solutions by submitting lazy
// constraints, and is minimised by Solve. LP relaxations are solved with the
// gonum simplex; the tree search is a depth-first branch-and-bound.
package milp

import (
	"fmt"
	"math"
	"sync"
)

// VarType is the domain of a decision variable.
type VarType int

const (
	Continuous VarType = iota
	Binary
	Integer
)

func (t VarType) String() string {
	switch t {
	case Continuous:
		return "continuous"
	case Binary:
		return "binary"
	case Integer:
		return "integer"
	default:
		return fmt.Sprintf("VarType(%d)", int(t))
	}
}

// Sense is the relation of a linear constraint.
type Sense int

const (
	Equal Sense = iota
	LessEqual
	GreaterEqual
)

func (s Sense) String() string {
	switch s {
	case Equal:
		return "=="
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	default:
		return fmt.Sprintf("Sense(%d)", int(s))
	}
}

// Var is a handle to a model variable. Handles are only valid for the model
// that created them.
type Var struct {
	model *Model
	index int
	name  string
	vtype VarType
	obj   float64
	lb    float64
	ub    float64
}

func (v *Var) Index() int { return v.index }
func (v *Var) Name() string { return v.name }
func (v *Var) Type() VarType { return v.vtype }
func (v *Var) Obj() float64 { return v.obj }
func (v *Var) LB() float64 { return v.lb }
func (v *Var) UB() float64 { return v.ub }
func (v *Var) String() string { return v.name }

// Term is coef*Var.
type Term struct {
	Var  *Var
	Coef float64
}

// LinExpr is a linear expression sum(coef_i * x_i) + constant.
type LinExpr struct {
	terms    []Term
	constant float64
}

// NewExpr returns an empty expression.
func NewExpr() *LinExpr { return &LinExpr{} }

// Const returns the constant expression c.
func Const(c float64) *LinExpr { return &LinExpr{constant: c} }

// AddTerm appends coef*v and returns the expression for chaining.
func (e *LinExpr) AddTerm(coef float64, v *Var) *LinExpr {
	e.terms = append(e.terms, Term{Var: v, Coef: coef})
	return e
}

// AddConstant adds c to the constant part.
func (e *LinExpr) AddConstant(c float64) *LinExpr {
	e.constant += c
	return e
}

func (e *LinExpr) Terms() []Term { return e.terms }
func (e *LinExpr) Constant() float64 { return e.constant }
func (e *LinExpr) Len() int { return len(e.terms) }

// Eval computes the expression under values indexed by variable index.
func (e *LinExpr) Eval(values []float64) float64 {
	s := e.constant
	for _, t := range e.terms {
		s += t.Coef * values[t.Var.index]
	}
	return s
}

// row is a constraint normalised to sum(vals[k]*x[cols[k]]) sense rhs, with
// duplicate columns merged and zero coefficients removed.
type row struct {
	cols  []int
	vals  []float64
	sense Sense
	rhs   float64
}

func (r row) activity(x []float64) float64 {
	s := 0.0
	for k, c := range r.cols {
		s += r.vals[k] * x[c]
	}
	return s
}

// violation is how far x is from satisfying the row (0 when satisfied).
func (r row) violation(x []float64) float64 {
	a := r.activity(x)
	switch r.sense {
	case LessEqual:
		return math.Max(0, a-r.rhs)
	case GreaterEqual:
		return math.Max(0, r.rhs-a)
	default:
		return math.Abs(a - r.rhs)
	}
}

// Constraint is a handle to a model constraint.
type Constraint struct {
	index int
	name  string
	lazy  bool
	row   row
}

func (c *Constraint) Index() int { return c.index }
func (c *Constraint) Name() string { return c.name }
func (c *Constraint) Sense() Sense { return c.row.sense }
func (c *Constraint) RHS() float64 { return c.row.rhs }
func (c *Constraint) Lazy() bool { return c.lazy }
func (c *Constraint) NumTerms() int { return len(c.row.cols) }

// Coef returns the coefficient of v in the normalised constraint.
func (c *Constraint) Coef(v *Var) float64 {
	for k, col := range c.row.cols {
		if col == v.index {
			return c.row.vals[k]
		}
	}
	return 0
}

// Model is a minimisation MILP. Model construction is not safe for concurrent
// use; lazy constraints added from the candidate handler are serialised by the
// engine.
type Model struct {
	name    string
	vars    []*Var
	cons    []*Constraint
	varIdx  map[string]*Var
	conIdx  map[string]*Constraint
	params  Params
	handler CandidateHandler
	start   []float64

	mu      sync.Mutex
	solving bool
}

// NewModel creates an empty model with DefaultParams.
func NewModel(name string) *Model {
	return &Model{
		name:   name,
		varIdx: map[string]*Var{},
		conIdx: map[string]*Constraint{},
		params: DefaultParams(),
	}
}

func (m *Model) Name() string { return m.name }
func (m *Model) NumVars() int { return len(m.vars) }
func (m *Model) NumConstraints() int { return len(m.cons) }
func (m *Model) Vars() []*Var { return append([]*Var(nil), m.vars...) }
func (m *Model) Constraints() []*Constraint { return append([]*Constraint(nil), m.cons...) }
func (m *Model) Params() Params { return m.params }

// SetParams replaces the solver parameters.
func (m *Model) SetParams(p Params) { m.params = p }

// LookupVar returns the variable with the given name, or nil if not found.
func (m *Model) LookupVar(name string) *Var { return m.varIdx[name] }

// LookupConstraint returns the constraint with the given name, or nil.
func (m *Model) LookupConstraint(name string) *Constraint { return m.conIdx[name] }

// AddVar creates a variable. An empty name gets a generated unique name.
func (m *Model) AddVar(lb, ub, obj float64, vtype VarType, name string) (*Var, error) {
	if err := m.checkMutable(); err != nil {
		return nil, err
	}
	if math.IsNaN(lb) || math.IsNaN(ub) || math.IsNaN(obj) || math.IsInf(obj, 0) {
		return nil, fmt.Errorf("%w: variable %q", ErrInvalidNumber, name)
	}
	if math.IsInf(lb, 0) {
		return nil, fmt.Errorf("%w: variable %q needs a finite lower bound", ErrInvalidBounds, name)
	}
	if vtype == Binary {
		lb, ub = math.Max(lb, 0), math.Min(ub, 1)
	}
	if lb > ub {
		return nil, fmt.Errorf("%w: variable %q has lb %g > ub %g", ErrInvalidBounds, name, lb, ub)
	}
	if name == "" {
		name = fmt.Sprintf("C%d", len(m.vars))
	}
	if _, dup := m.varIdx[name]; dup {
		return nil, fmt.Errorf("%w: variable %q", ErrDuplicateName, name)
	}
	v := &Var{model: m, index: len(m.vars), name: name, vtype: vtype, obj: obj, lb: lb, ub: ub}
	m.vars = append(m.vars, v)
	m.varIdx[name] = v
	return v, nil
}

// AddBinaryVar creates a 0/1 variable clamped to [lb, ub] ∩ [0, 1].
func (m *Model) AddBinaryVar(lb, ub, obj float64, name string) (*Var, error) {
	return m.AddVar(lb, ub, obj, Binary, name)
}

// AddIntegerVar creates a general integer variable.
func (m *Model) AddIntegerVar(lb, ub, obj float64, name string) (*Var, error) {
	return m.AddVar(lb, ub, obj, Integer, name)
}

// AddContinuousVar creates a continuous variable.
func (m *Model) AddContinuousVar(lb, ub, obj float64, name string) (*Var, error) {
	return m.AddVar(lb, ub, obj, Continuous, name)
}

// AddConstraint adds lhs sense rhs. Both sides may hold variables and
// constants; the constraint is stored as (lhs - rhs) sense 0 with the constant
// moved to the right.
func (m *Model) AddConstraint(name string, lhs *LinExpr, sense Sense, rhs *LinExpr) (*Constraint, error) {
	if err := m.checkMutable(); err != nil {
		return nil, err
	}
	if name == "" {
		name = fmt.Sprintf("R%d", len(m.cons))
	}
	if _, dup := m.conIdx[name]; dup {
		return nil, fmt.Errorf("%w: constraint %q", ErrDuplicateName, name)
	}
	r, err := m.normalize(lhs, sense, rhs)
	if err != nil {
		return nil, fmt.Errorf("constraint %q: %w", name, err)
	}
	c := &Constraint{index: len(m.cons), name: name, row: r}
	m.cons = append(m.cons, c)
	m.conIdx[name] = c
	return c, nil
}

// SetUpperBound changes the upper bound of v.
func (m *Model) SetUpperBound(v *Var, ub float64) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if err := m.owns(v); err != nil {
		return err
	}
	if math.IsNaN(ub) || ub < v.lb {
		return fmt.Errorf("%w: variable %q ub %g below lb %g", ErrInvalidBounds, v.name, ub, v.lb)
	}
	v.ub = ub
	return nil
}

// SetLowerBound changes the lower bound of v.
func (m *Model) SetLowerBound(v *Var, lb float64) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if err := m.owns(v); err != nil {
		return err
	}
	if math.IsNaN(lb) || math.IsInf(lb, 0) || lb > v.ub {
		return fmt.Errorf("%w: variable %q lb %g above ub %g", ErrInvalidBounds, v.name, lb, v.ub)
	}
	v.lb = lb
	return nil
}

// SetCandidateHandler registers the handler invoked on every new
// integer-feasible candidate. A nil handler accepts every candidate.
func (m *Model) SetCandidateHandler(h CandidateHandler) { m.handler = h }

// SetStart provides a MIP start. Values are indexed by variable index; the
// start is checked against bounds, constraints and the candidate handler
// before it becomes the first incumbent.
func (m *Model) SetStart(values []float64) error {
	if len(values) != len(m.vars) {
		return fmt.Errorf("%w: start has %d values for %d variables", ErrDimension, len(values), len(m.vars))
	}
	m.start = append([]float64(nil), values...)
	return nil
}

func (m *Model) owns(v *Var) error {
	if v == nil || v.model != m {
		return ErrForeignVar
	}
	return nil
}

func (m *Model) checkMutable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.solving {
		return ErrSolving
	}
	return nil
}

func (m *Model) normalize(lhs *LinExpr, sense Sense, rhs *LinExpr) (row, error) {
	if lhs == nil {
		lhs = NewExpr()
	}
	if rhs == nil {
		rhs = NewExpr()
	}
	if sense != Equal && sense != LessEqual && sense != GreaterEqual {
		return row{}, fmt.Errorf("%w: %v", ErrInvalidSense, sense)
	}
	acc := map[int]float64{}
	order := make([]int, 0, len(lhs.terms)+len(rhs.terms))
	add := func(t Term, sign float64) error {
		if err := m.owns(t.Var); err != nil {
			return err
		}
		if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
			return fmt.Errorf("%w: coefficient of %q", ErrInvalidNumber, t.Var.name)
		}
		if _, seen := acc[t.Var.index]; !seen {
			order = append(order, t.Var.index)
		}
		acc[t.Var.index] += sign * t.Coef
		return nil
	}
	for _, t := range lhs.terms {
		if err := add(t, 1); err != nil {
			return row{}, err
		}
	}
	for _, t := range rhs.terms {
		if err := add(t, -1); err != nil {
			return row{}, err
		}
	}
	r := row{sense: sense, rhs: rhs.constant - lhs.constant}
	if math.IsNaN(r.rhs) || math.IsInf(r.rhs, 0) {
		return row{}, fmt.Errorf("%w: right-hand side", ErrInvalidNumber)
	}
	for _, col := range order {
		if v := acc[col]; v != 0 {
			r.cols = append(r.cols, col)
			r.vals = append(r.vals, v)
		}
	}
	return r, nil
}

package milp

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxResolves bounds how often one node may be re-solved after its
// candidate was rejected without the LP moving.
const maxResolves = 64

type node struct {
	lb, ub []float64
	depth  int
	bound  float64
}

type engine struct {
	m       *Model
	p       Params
	ctx     context.Context
	log     log.FieldLogger
	handler CandidateHandler
	lp      relaxation

	vtype []VarType
	base  []row
	pool  []row

	begin    time.Time
	deadline time.Time
	stats    Stats

	best    []float64
	bestObj float64
	stack   []*node
}

// Solve minimises the model. The returned error is non-nil only for
// failures: an invalid start, a candidate handler error or a numerical
// breakdown of the LP relaxation. Running out of time, nodes or context is
// reported through Result.Status.
//
// Lazy constraints collected during the search are appended to the model
// as constraints flagged Lazy.
func (m *Model) Solve(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.solving {
		m.mu.Unlock()
		return nil, ErrSolving
	}
	m.solving = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.solving = false
		m.mu.Unlock()
	}()

	e := newEngine(ctx, m)
	res, err := e.run()
	for i, r := range e.pool {
		name := fmt.Sprintf("lazy%d", i)
		for m.conIdx[name] != nil {
			name += "'"
		}
		c := &Constraint{index: len(m.cons), name: name, lazy: true, row: r}
		m.cons = append(m.cons, c)
		m.conIdx[name] = c
	}
	return res, err
}

func newEngine(ctx context.Context, m *Model) *engine {
	p := m.params
	if p.Logger == nil {
		p.Logger = log.StandardLogger()
	}
	if p.IntFeasTol <= 0 {
		p.IntFeasTol = 1e-6
	}
	if p.FeasTol <= 0 {
		p.FeasTol = 1e-6
	}
	e := &engine{
		m:       m,
		p:       p,
		ctx:     ctx,
		log:     p.Logger.WithField("model", m.name),
		handler: m.handler,
		begin:   time.Now(),
		bestObj: math.Inf(1),
	}
	if p.TimeLimit > 0 {
		e.deadline = e.begin.Add(p.TimeLimit)
	}
	obj := make([]float64, len(m.vars))
	e.vtype = make([]VarType, len(m.vars))
	for i, v := range m.vars {
		obj[i] = v.obj
		e.vtype[i] = v.vtype
	}
	e.lp = relaxation{obj: obj, feasTol: p.FeasTol}
	for _, c := range m.cons {
		e.base = append(e.base, c.row)
	}
	return e
}

func (e *engine) run() (*Result, error) {
	n := len(e.vtype)
	root := &node{lb: make([]float64, n), ub: make([]float64, n), bound: math.Inf(-1)}
	for i, v := range e.m.vars {
		root.lb[i], root.ub[i] = v.lb, v.ub
		if e.vtype[i] != Continuous {
			root.lb[i], root.ub[i] = math.Ceil(v.lb-e.p.IntFeasTol), math.Floor(v.ub+e.p.IntFeasTol)
			if root.lb[i] > root.ub[i] {
				return e.result(StatusInfeasible), nil
			}
		}
	}
	if e.m.start != nil {
		if err := e.tryStart(root); err != nil {
			return nil, err
		}
	}

	e.stack = append(e.stack, root)
	for len(e.stack) > 0 {
		if st, stop := e.interrupted(); stop {
			return e.result(st), nil
		}
		nd := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		if nd.bound >= e.bestObj-e.p.MIPGap {
			continue
		}
		e.stats.Nodes++
		if err := e.process(nd); err != nil {
			return nil, err
		}
	}
	if e.best == nil {
		return e.result(StatusInfeasible), nil
	}
	return e.result(StatusOptimal), nil
}

func (e *engine) interrupted() (Status, bool) {
	if err := e.ctx.Err(); err != nil {
		return StatusInterrupted, true
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		return StatusTimeLimit, true
	}
	if e.p.MaxNodes > 0 && e.stats.Nodes >= e.p.MaxNodes {
		return StatusNodeLimit, true
	}
	return StatusUnknown, false
}

// process solves a node, re-solving it after every rejected candidate, and
// either prunes it, branches or records an incumbent.
func (e *engine) process(nd *node) error {
	var last []float64
	stalls := 0
	for {
		sol, err := e.lp.solve(nd.lb, nd.ub, e.base, e.pool)
		e.stats.LPs++
		if err != nil {
			return err
		}
		switch sol.status {
		case lpInfeasible:
			return nil
		case lpUnbounded:
			return ErrUnbounded
		}
		if sol.objective >= e.bestObj-e.p.MIPGap {
			return nil
		}
		if j := e.branchVar(sol.x); j >= 0 {
			e.branch(nd, j, sol.x[j], sol.objective)
			return nil
		}

		cand := e.round(sol.x)
		if last != nil && sameValues(last, cand, e.p.IntFeasTol) {
			stalls++
			if stalls >= maxResolves {
				return fmt.Errorf("%w: rejected candidate keeps reappearing", ErrNumerical)
			}
		}
		last = cand
		accepted, err := e.offer(cand)
		if err != nil {
			return err
		}
		if accepted {
			return nil
		}
		if st, stop := e.interrupted(); stop && st != StatusNodeLimit {
			// Put the node back so the reported bound stays valid.
			nd.bound = math.Max(nd.bound, sol.objective)
			e.stack = append(e.stack, nd)
			return nil
		}
	}
}

// branchVar picks the most fractional integer variable, lowest index on
// ties, or -1 when x is integral.
func (e *engine) branchVar(x []float64) int {
	best, bestFrac := -1, e.p.IntFeasTol
	for j, t := range e.vtype {
		if t == Continuous {
			continue
		}
		if f := fractionality(x[j]); f > bestFrac {
			best, bestFrac = j, f
		}
	}
	return best
}

// branch pushes both children; the one on the side x rounds to is popped first.
func (e *engine) branch(nd *node, j int, xj, bound float64) {
	down := &node{lb: nd.lb, ub: append([]float64(nil), nd.ub...), depth: nd.depth + 1, bound: bound}
	down.ub[j] = math.Floor(xj)
	up := &node{lb: append([]float64(nil), nd.lb...), ub: nd.ub, depth: nd.depth + 1, bound: bound}
	up.lb[j] = math.Ceil(xj)
	if xj-math.Floor(xj) < 0.5 {
		e.stack = append(e.stack, up, down)
	} else {
		e.stack = append(e.stack, down, up)
	}
	e.log.WithFields(log.Fields{"var": e.m.vars[j].name, "value": xj, "depth": nd.depth}).Debug("branch")
}

func (e *engine) round(x []float64) []float64 {
	out := append([]float64(nil), x...)
	for j, t := range e.vtype {
		if t != Continuous {
			out[j] = math.Round(out[j])
		}
	}
	return out
}

// offer runs the candidate handler on an integer-feasible point. The point
// is rejected only if a submitted lazy constraint cuts it off; every
// submitted constraint joins the pool either way.
func (e *engine) offer(x []float64) (bool, error) {
	e.stats.Candidates++
	obj := dot(e.lp.obj, x)
	rejected := false
	if e.handler != nil {
		c := &Candidate{model: e.m, values: x, objective: obj, lazyOK: e.p.LazyConstraints}
		err := e.handler.HandleCandidate(c)
		cuts := c.close()
		if err != nil {
			return false, fmt.Errorf("candidate handler: %w", err)
		}
		for _, r := range cuts {
			if r.violation(x) > e.p.FeasTol {
				rejected = true
			}
		}
		e.pool = append(e.pool, cuts...)
		e.stats.LazyCuts += len(cuts)
	}
	if rejected {
		return false, nil
	}
	if obj < e.bestObj {
		e.best, e.bestObj = x, obj
		e.stats.Incumbents++
		e.announce()
	}
	return true, nil
}

func (e *engine) announce() {
	bound := e.bound()
	e.log.WithFields(log.Fields{
		"objective": e.bestObj,
		"bound":     bound,
		"nodes":     e.stats.Nodes,
		"lazy_cuts": e.stats.LazyCuts,
	}).Info("new incumbent")
	if e.p.OnIncumbent != nil {
		e.p.OnIncumbent(Incumbent{
			Objective: e.bestObj,
			Bound:     bound,
			Values:    append([]float64(nil), e.best...),
			Nodes:     e.stats.Nodes,
			LazyCuts:  e.stats.LazyCuts,
			Elapsed:   time.Since(e.begin),
		})
	}
}

// tryStart checks the MIP start against bounds and rows, then offers it.
func (e *engine) tryStart(root *node) error {
	x := e.m.start
	for j, v := range x {
		if math.IsNaN(v) || v < root.lb[j]-e.p.FeasTol || v > root.ub[j]+e.p.FeasTol {
			e.log.WithField("var", e.m.vars[j].name).Warn("MIP start violates bounds, ignored")
			return nil
		}
		if e.vtype[j] != Continuous && fractionality(v) > e.p.IntFeasTol {
			e.log.WithField("var", e.m.vars[j].name).Warn("MIP start is fractional, ignored")
			return nil
		}
	}
	x = e.round(x)
	for i, r := range e.base {
		if r.violation(x) > e.p.FeasTol {
			e.log.WithField("constraint", e.m.cons[i].name).Warn("MIP start violates constraint, ignored")
			return nil
		}
	}
	accepted, err := e.offer(x)
	if err != nil {
		return err
	}
	if !accepted {
		e.log.Info("MIP start rejected by candidate handler")
	}
	return nil
}

// bound is the smallest parent bound over open nodes, capped by the incumbent.
func (e *engine) bound() float64 {
	b := e.bestObj
	for _, nd := range e.stack {
		if nd.bound < b {
			b = nd.bound
		}
	}
	return b
}

func (e *engine) result(st Status) *Result {
	e.stats.Runtime = time.Since(e.begin)
	r := &Result{Status: st, Stats: e.stats, Objective: math.NaN(), Bound: math.Inf(-1)}
	switch st {
	case StatusOptimal:
		r.Bound = e.bestObj
	case StatusInfeasible:
		r.Bound = math.Inf(1)
	default:
		r.Bound = e.bound()
	}
	if e.best != nil {
		r.Values = append([]float64(nil), e.best...)
		r.Objective = e.bestObj
	}
	e.log.WithFields(log.Fields{
		"status":    st.String(),
		"objective": r.Objective,
		"nodes":     e.stats.Nodes,
		"lps":       e.stats.LPs,
		"lazy_cuts": e.stats.LazyCuts,
		"elapsed":   e.stats.Runtime.Round(time.Millisecond),
	}).Info("search finished")
	return r
}

func sameValues(a, b []float64, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

package milp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	simplexTol = 1e-9
	rankTol    = 1e-9
	fixTol     = 1e-12
)

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
)

type lpSolution struct {
	status    lpStatus
	objective float64
	x         []float64
}

// relaxation solves the LP relaxation of a model under node bounds. The
// simplex wants min c'y, Ay = b, y >= 0 with A of full row rank, so
// variables are shifted by their lower bound, fixed variables are folded
// into the right-hand side, inequalities and finite upper bounds get slack
// columns, and linearly dependent equalities are dropped.
type relaxation struct {
	obj     []float64
	feasTol float64
}

type stdRow struct {
	coef  []float64
	slack float64 // +1 for <=, -1 for >=, 0 for ==
	rhs   float64
}

func (r *relaxation) solve(lb, ub []float64, rows ...[]row) (lpSolution, error) {
	n := len(r.obj)
	col := make([]int, n)
	free := make([]int, 0, n)
	for j := 0; j < n; j++ {
		if ub[j]-lb[j] <= fixTol {
			col[j] = -1
			continue
		}
		col[j] = len(free)
		free = append(free, j)
	}
	nf := len(free)

	var std []stdRow
	basis := &rowBasis{}
	for _, set := range rows {
		for _, rw := range set {
			rhs := rw.rhs
			coef := make([]float64, nf)
			nz := false
			for k, j := range rw.cols {
				rhs -= rw.vals[k] * lb[j]
				if c := col[j]; c >= 0 {
					coef[c] += rw.vals[k]
					nz = nz || coef[c] != 0
				}
			}
			if !nz {
				if !trivialHolds(rw.sense, rhs, r.feasTol) {
					return lpSolution{status: lpInfeasible}, nil
				}
				continue
			}
			switch rw.sense {
			case Equal:
				independent, consistent := basis.add(coef, rhs, r.feasTol)
				if !independent {
					if !consistent {
						return lpSolution{status: lpInfeasible}, nil
					}
					continue
				}
				std = append(std, stdRow{coef: coef, rhs: rhs})
			case LessEqual:
				std = append(std, stdRow{coef: coef, slack: 1, rhs: rhs})
			case GreaterEqual:
				std = append(std, stdRow{coef: coef, slack: -1, rhs: rhs})
			}
		}
	}
	for c, j := range free {
		if math.IsInf(ub[j], 1) {
			continue
		}
		coef := make([]float64, nf)
		coef[c] = 1
		std = append(std, stdRow{coef: coef, slack: 1, rhs: ub[j] - lb[j]})
	}

	// Columns that appear in no row sit at their lower bound unless they
	// improve the objective without limit.
	used := make([]bool, nf)
	for _, s := range std {
		for c, a := range s.coef {
			if a != 0 {
				used[c] = true
			}
		}
	}
	cols := make([]int, 0, nf)
	for c, j := range free {
		if used[c] {
			cols = append(cols, c)
			continue
		}
		if r.obj[j] < 0 {
			return lpSolution{status: lpUnbounded}, nil
		}
	}

	x := append([]float64(nil), lb...)
	if len(std) == 0 {
		return lpSolution{status: lpOptimal, objective: dot(r.obj, x), x: x}, nil
	}

	nslack := 0
	for _, s := range std {
		if s.slack != 0 {
			nslack++
		}
	}
	m, width := len(std), len(cols)+nslack
	a := mat.NewDense(m, width, nil)
	b := make([]float64, m)
	c := make([]float64, width)
	for k, fc := range cols {
		c[k] = r.obj[free[fc]]
	}
	next := len(cols)
	for i, s := range std {
		sign := 1.0
		if s.rhs < 0 {
			sign = -1
		}
		for k, fc := range cols {
			if v := s.coef[fc]; v != 0 {
				a.Set(i, k, sign*v)
			}
		}
		if s.slack != 0 {
			a.Set(i, next, sign*s.slack)
			next++
		}
		b[i] = sign * s.rhs
	}

	_, y, err := lp.Simplex(c, a, b, simplexTol, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return lpSolution{status: lpInfeasible}, nil
	case errors.Is(err, lp.ErrUnbounded):
		return lpSolution{status: lpUnbounded}, nil
	case err != nil:
		return lpSolution{}, fmt.Errorf("%w: %v", ErrNumerical, err)
	}
	for k, fc := range cols {
		j := free[fc]
		v := lb[j] + y[k]
		if v > ub[j] {
			v = ub[j]
		}
		x[j] = v
	}
	return lpSolution{status: lpOptimal, objective: dot(r.obj, x), x: x}, nil
}

func trivialHolds(s Sense, rhs, tol float64) bool {
	switch s {
	case LessEqual:
		return rhs >= -tol
	case GreaterEqual:
		return rhs <= tol
	default:
		return math.Abs(rhs) <= tol
	}
}

// rowBasis keeps a row-echelon basis of the equality rows seen so far.
// Rows are reduced against earlier rows in insertion order, so each stored
// vector is zero on every earlier pivot.
type rowBasis struct {
	vecs   [][]float64
	rhs    []float64
	pivots []int
}

// add reports whether (a, b) is independent of the basis and, when it is
// not, whether its right-hand side agrees with the combination.
func (rb *rowBasis) add(a []float64, b, tol float64) (independent, consistent bool) {
	v := append([]float64(nil), a...)
	scale := 1.0
	for _, x := range v {
		scale = math.Max(scale, math.Abs(x))
	}
	bscale := math.Max(1, math.Abs(b))
	for i, p := range rb.pivots {
		f := v[p]
		if f == 0 {
			continue
		}
		for k, x := range rb.vecs[i] {
			if x != 0 {
				v[k] -= f * x
			}
		}
		b -= f * rb.rhs[i]
	}
	piv, best := -1, rankTol*scale
	for k, x := range v {
		if math.Abs(x) > best {
			piv, best = k, math.Abs(x)
		}
	}
	if piv < 0 {
		return false, math.Abs(b) <= tol*bscale
	}
	f := v[piv]
	for k := range v {
		v[k] /= f
	}
	rb.vecs = append(rb.vecs, v)
	rb.rhs = append(rb.rhs, b/f)
	rb.pivots = append(rb.pivots, piv)
	return true, true
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

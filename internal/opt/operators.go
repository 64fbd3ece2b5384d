package opt

import (
	"math"
	"math/rand"
	"sort"
)

// Destroy and repair operators, indexed like Metrics.RemovalSelects and
// Metrics.InsertSelects.
type (
	removalOp func(p Problem, sol Solution, k int, rng *rand.Rand) []int
	repairOp  func(p Problem, sol Solution, removed []int) Solution
)

var (
	removals = [2]removalOp{randomRemoval, shawRemoval}
	repairs  = [2]repairOp{greedyRepair, regretRepair}
)

func randomRemoval(_ Problem, sol Solution, k int, rng *rand.Rand) []int {
	pool := sol.customers()
	sort.Ints(pool)
	var out []int
	for len(out) < k && len(pool) > 0 {
		j := rng.Intn(len(pool))
		out = append(out, pool[j])
		pool = append(pool[:j], pool[j+1:]...)
	}
	return out
}

// shawRemoval takes a random customer and the k-1 customers most related to
// it, relatedness being distance plus demand difference.
func shawRemoval(p Problem, sol Solution, k int, rng *rand.Rand) []int {
	pool := sol.customers()
	if len(pool) == 0 {
		return nil
	}
	seed := pool[rng.Intn(len(pool))]
	related := func(c int) float64 { return p.Cost[seed][c] + math.Abs(p.Demand[seed]-p.Demand[c]) }
	others := make([]int, 0, len(pool)-1)
	for _, c := range pool {
		if c != seed {
			others = append(others, c)
		}
	}
	sort.SliceStable(others, func(a, b int) bool { return related(others[a]) < related(others[b]) })
	if len(others) > k-1 {
		others = others[:k-1]
	}
	return append([]int{seed}, others...)
}

// insertion places a customer at pos of route; route == len(Routes) opens
// a new route.
type insertion struct {
	route, pos int
	delta      float64
}

// insertions lists every capacity-feasible placement of c, cheapest first.
// Opening a new route is always feasible for a validated problem.
func (p Problem) insertions(sol Solution, c int) []insertion {
	var out []insertion
	for ri, r := range sol.Routes {
		if p.load(r)+p.Demand[c] > p.Capacity {
			continue
		}
		for pos := 0; pos <= len(r); pos++ {
			prev, next := 0, 0
			if pos > 0 {
				prev = r[pos-1]
			}
			if pos < len(r) {
				next = r[pos]
			}
			out = append(out, insertion{route: ri, pos: pos, delta: p.Cost[prev][c] + p.Cost[c][next] - p.Cost[prev][next]})
		}
	}
	out = append(out, insertion{route: len(sol.Routes), delta: p.Cost[0][c] + p.Cost[c][0] + p.VehicleCost})
	sort.SliceStable(out, func(a, b int) bool { return out[a].delta < out[b].delta })
	return out
}

func (s *Solution) place(c int, in insertion) {
	if in.route == len(s.Routes) {
		s.Routes = append(s.Routes, []int{c})
		return
	}
	r := append(s.Routes[in.route], 0)
	copy(r[in.pos+1:], r[in.pos:])
	r[in.pos] = c
	s.Routes[in.route] = r
}

// greedyRepair repeatedly inserts the customer with the cheapest placement.
func greedyRepair(p Problem, sol Solution, removed []int) Solution {
	return p.repair(sol, removed, func(ins []insertion) float64 { return -ins[0].delta })
}

// regretRepair repeatedly inserts the customer that loses most by not
// getting its best placement, then relocates within routes.
func regretRepair(p Problem, sol Solution, removed []int) Solution {
	sol = p.repair(sol, removed, func(ins []insertion) float64 {
		if len(ins) < 2 {
			return math.MaxFloat64
		}
		return ins[1].delta - ins[0].delta
	})
	return p.relocateWithin(sol)
}

// repair inserts pending customers one at a time, always the one with the
// highest priority, at its cheapest placement.
func (p Problem) repair(sol Solution, pending []int, priority func([]insertion) float64) Solution {
	pending = append([]int(nil), pending...)
	for len(pending) > 0 {
		pick, bestPri := -1, math.Inf(-1)
		var at insertion
		for i, c := range pending {
			ins := p.insertions(sol, c)
			if pri := priority(ins); pick < 0 || pri > bestPri {
				pick, bestPri, at = i, pri, ins[0]
			}
		}
		sol.place(pending[pick], at)
		pending = append(pending[:pick], pending[pick+1:]...)
	}
	sol.Cost = p.cost(sol)
	return sol
}

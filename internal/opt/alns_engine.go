package opt

import (
	"math"
	"math/rand"
	"time"
)

const (
	eps           = 1e-9
	rewardBest    = 0.1   // weight bonus when an operator pair finds a new best
	rewardAccept  = 0.01  // bonus when its candidate is merely accepted
	decayReject   = 0.999 // factor applied on rejection
	minWeight     = 0.01
	snapshotEvery = 50
)

// search is the state of one adaptive large neighbourhood search run.
type search struct {
	p       Problem
	rng     *rand.Rand
	remW    [2]float64 // random, shaw
	insW    [2]float64 // greedy, regret2
	temp    float64
	cooling float64
	m       Metrics
}

func newSearch(p Problem, seed int64) *search {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &search{
		p:       p,
		rng:     rand.New(rand.NewSource(seed)),
		remW:    [2]float64{1, 1},
		insW:    [2]float64{1, 1},
		temp:    1,
		cooling: 0.995,
	}
	if len(p.InitialRemovalWeights) == 2 {
		copy(s.remW[:], p.InitialRemovalWeights)
	}
	if len(p.InitialInsertionWeights) == 2 {
		copy(s.insW[:], p.InitialInsertionWeights)
	}
	if p.InitialTemp > 0 {
		s.temp = p.InitialTemp
	}
	if p.Cooling > 0 && p.Cooling < 1 {
		s.cooling = p.Cooling
	}
	return s
}

// Solve improves a nearest-neighbour seed by destroy-and-repair moves with
// simulated annealing acceptance until budget or p.IterationsLimit runs out.
// Every visited solution respects the capacity. Validate the problem first:
// a customer heavier than a vehicle makes Solve panic.
func Solve(p Problem, seed int64, budget time.Duration) (Solution, Metrics) {
	s := newSearch(p, seed)
	curr := p.polish(p.nearestNeighbourSeed())
	best := curr.clone()
	s.m.BestCost = best.Cost
	deadline := time.Now().Add(budget)
	for p.customers() > 1 && time.Now().Before(deadline) {
		s.m.Iterations++
		if p.IterationsLimit > 0 && s.m.Iterations >= p.IterationsLimit {
			break
		}
		cand, ro, io := s.step(curr)
		switch {
		case !s.accept(cand.Cost - curr.Cost):
			s.remW[ro] = math.Max(minWeight, s.remW[ro]*decayReject)
			s.insW[io] = math.Max(minWeight, s.insW[io]*decayReject)
		case cand.Cost < best.Cost-eps:
			curr, best = cand, cand.clone()
			s.reward(ro, io, rewardBest)
			s.m.Improvements++
			s.m.BestCost = best.Cost
		default:
			curr = cand
			s.reward(ro, io, rewardAccept)
			s.m.AcceptedWorse++
		}
		s.temp *= s.cooling
		if s.m.Iterations%snapshotEvery == 0 {
			s.m.Snapshots = append(s.m.Snapshots, WeightSnapshot{Iteration: s.m.Iterations, Removal: s.remW, Insertion: s.insW})
		}
	}
	s.m.FinalCost = best.Cost
	s.m.FinalRemovalWeights = s.remW
	s.m.FinalInsertionWeights = s.insW
	return best, s.m
}

// step removes one to three customers from curr and reinserts them with
// roulette-selected operators, then polishes the result.
func (s *search) step(curr Solution) (Solution, int, int) {
	k := 1 + s.rng.Intn(3)
	ro := roulette(s.remW[:], s.rng)
	io := roulette(s.insW[:], s.rng)
	s.m.RemovalSelects[ro]++
	s.m.InsertSelects[io]++
	removed := removals[ro](s.p, curr, k, s.rng)
	cand := repairs[io](s.p, curr.without(removed), removed)
	return s.p.polish(cand), ro, io
}

func (s *search) accept(delta float64) bool {
	return delta < 0 || s.rng.Float64() < math.Exp(-delta/(s.temp+eps))
}

func (s *search) reward(ro, io int, r float64) {
	s.remW[ro] += r
	s.insW[io] += r
}

// roulette picks index i with probability weights[i]/sum(weights).
func roulette(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	for i, w := range weights {
		if r -= w; r <= 0 {
			return i
		}
	}
	return len(weights) - 1
}

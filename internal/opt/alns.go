// Package opt holds the construction and improvement heuristics that give
// the exact search its first incumbent.
package opt

import (
	"errors"
	"fmt"
	"math"
)

// Problem is a CVRP in matrix form. Node 0 is the depot.
type Problem struct {
	Cost     [][]float64
	Demand   []float64
	Capacity float64
	// VehicleCost is charged once per non-empty route.
	VehicleCost float64

	IterationsLimit         int       // optional iteration cap
	InitialTemp             float64   // initial temperature for SA
	Cooling                 float64   // cooling factor per iteration
	InitialRemovalWeights   []float64 // [random, shaw]
	InitialInsertionWeights []float64 // [greedy, regret2]
}

// Solution is a set of routes. Each route lists customers in visiting
// order; the depot at both ends is implicit.
type Solution struct {
	Routes [][]int
	Cost   float64
}

// Vehicles is the number of non-empty routes.
func (s Solution) Vehicles() int {
	n := 0
	for _, r := range s.Routes {
		if len(r) > 0 {
			n++
		}
	}
	return n
}

type Metrics struct {
	RemovalSelects        [2]int // random, shaw
	InsertSelects         [2]int // greedy, regret2
	Iterations            int
	Improvements          int
	AcceptedWorse         int
	BestCost              float64
	FinalCost             float64
	FinalRemovalWeights   [2]float64
	FinalInsertionWeights [2]float64
	Snapshots             []WeightSnapshot
}

type WeightSnapshot struct {
	Iteration int
	Removal   [2]float64
	Insertion [2]float64
}

var ErrInfeasibleDemand = errors.New("opt: a customer demand exceeds the vehicle capacity")

// Validate checks the problem shape and that every customer fits in a vehicle.
func (p Problem) Validate() error {
	n := len(p.Cost)
	if n == 0 || len(p.Demand) != n {
		return fmt.Errorf("opt: %d demands for %d nodes", len(p.Demand), n)
	}
	for i, row := range p.Cost {
		if len(row) != n {
			return fmt.Errorf("opt: cost row %d has %d entries, want %d", i, len(row), n)
		}
	}
	if !(p.Capacity > 0) || math.IsInf(p.Capacity, 0) {
		return fmt.Errorf("opt: capacity %g must be positive", p.Capacity)
	}
	for i := 1; i < n; i++ {
		if p.Demand[i] > p.Capacity {
			return fmt.Errorf("%w: node %d", ErrInfeasibleDemand, i)
		}
	}
	return nil
}

// Feasible reports whether s visits every customer exactly once within capacity.
func (p Problem) Feasible(s Solution) bool {
	seen := make([]bool, len(p.Cost))
	for _, r := range s.Routes {
		if p.load(r) > p.Capacity {
			return false
		}
		for _, c := range r {
			if c <= 0 || c >= len(seen) || seen[c] {
				return false
			}
			seen[c] = true
		}
	}
	for i := 1; i < len(seen); i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}

package cvrp

import (
	"fmt"
	"math"

	"cvrpbc/internal/milp"
)

// Route is one vehicle tour; the depot at both ends is implicit.
type Route struct {
	Customers []int   `json:"customers"`
	Demand    float64 `json:"demand"`
	Cost      float64 `json:"cost"`
}

type valueReader []float64

func (r valueReader) Value(v *milp.Var) float64 { return r[v.Index()] }

// ExtractRoutes walks the depot tours of an integral assignment. An edge
// value of 2 on a depot edge is the route 0-j-0.
func (f *Formulation) ExtractRoutes(c CandidateReader) ([]Route, error) {
	inst := f.Instance
	n := inst.Size
	rem := make([][]int, n)
	for i := range rem {
		rem[i] = make([]int, n)
	}
	f.Edges.Each(func(k EdgeKey, v *milp.Var) {
		if k.Lo == k.Hi {
			return
		}
		x := int(math.Round(c.Value(v)))
		rem[k.Lo][k.Hi], rem[k.Hi][k.Lo] = x, x
	})

	var routes []Route
	seen := make([]bool, n)
	for {
		first := -1
		for j := 1; j < n; j++ {
			if rem[Depot][j] > 0 {
				first = j
				break
			}
		}
		if first < 0 {
			break
		}
		r := Route{}
		prev, cur := Depot, first
		rem[Depot][first]--
		rem[first][Depot]--
		for cur != Depot {
			if seen[cur] {
				return nil, fmt.Errorf("customer %d visited twice", cur)
			}
			seen[cur] = true
			r.Customers = append(r.Customers, cur)
			r.Demand += inst.Demands[cur]
			r.Cost += inst.Cost(prev, cur)
			next := -1
			for j := 1; j < n; j++ {
				if rem[cur][j] > 0 {
					next = j
					break
				}
			}
			if next < 0 {
				if rem[cur][Depot] == 0 {
					return nil, fmt.Errorf("route through %d does not return to the depot", cur)
				}
				next = Depot
			}
			rem[cur][next]--
			rem[next][cur]--
			prev, cur = cur, next
		}
		r.Cost += inst.Cost(prev, Depot)
		routes = append(routes, r)
	}
	for j := 1; j < n; j++ {
		if !seen[j] {
			return nil, fmt.Errorf("customer %d is not on a depot route", j)
		}
	}
	return routes, nil
}

// StartValues encodes routes as a MIP start for the formulation. A single
// customer route needs SingleCustomerRoutes.
func (f *Formulation) StartValues(numVars int, routes [][]int) ([]float64, error) {
	x := make([]float64, numVars)
	add := func(i, j int) {
		x[f.Edges.Get(i, j).Index()]++
	}
	vehicles := 0
	for _, r := range routes {
		if len(r) == 0 {
			continue
		}
		if len(r) == 1 && !f.Options.SingleCustomerRoutes {
			return nil, fmt.Errorf("route %v needs single-customer routes", r)
		}
		vehicles++
		add(Depot, r[0])
		for i := 0; i+1 < len(r); i++ {
			add(r[i], r[i+1])
		}
		add(r[len(r)-1], Depot)
	}
	x[f.Vehicles.Index()] = float64(vehicles)
	return x, nil
}

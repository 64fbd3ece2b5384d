package opt

func (p Problem) customers() int { return len(p.Cost) - 1 }

// routeCost is the closed tour depot -> route -> depot.
func (p Problem) routeCost(route []int) float64 {
	if len(route) == 0 {
		return 0
	}
	total := p.Cost[0][route[0]] + p.Cost[route[len(route)-1]][0]
	for i := 1; i < len(route); i++ {
		total += p.Cost[route[i-1]][route[i]]
	}
	return total
}

func (p Problem) load(route []int) float64 {
	w := 0.0
	for _, c := range route {
		w += p.Demand[c]
	}
	return w
}

// cost sums route costs plus VehicleCost per non-empty route.
func (p Problem) cost(s Solution) float64 {
	total := 0.0
	for _, r := range s.Routes {
		if len(r) > 0 {
			total += p.routeCost(r) + p.VehicleCost
		}
	}
	return total
}

func (s Solution) clone() Solution {
	out := Solution{Routes: make([][]int, len(s.Routes)), Cost: s.Cost}
	for i, r := range s.Routes {
		out.Routes[i] = append([]int(nil), r...)
	}
	return out
}

func (s Solution) customers() []int {
	var out []int
	for _, r := range s.Routes {
		out = append(out, r...)
	}
	return out
}

// without copies s minus the given customers and any route left empty.
func (s Solution) without(removed []int) Solution {
	drop := make(map[int]bool, len(removed))
	for _, c := range removed {
		drop[c] = true
	}
	var out Solution
	for _, r := range s.Routes {
		var kept []int
		for _, c := range r {
			if !drop[c] {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			out.Routes = append(out.Routes, kept)
		}
	}
	return out
}

// nearestNeighbourSeed fills one route at a time with the nearest customer
// that still fits and opens a new route when none does.
func (p Problem) nearestNeighbourSeed() Solution {
	n := len(p.Cost)
	used := make([]bool, n)
	var sol Solution
	for left := n - 1; left > 0; {
		var route []int
		at, w := 0, 0.0
		for {
			next := -1
			for c := 1; c < n; c++ {
				if used[c] || w+p.Demand[c] > p.Capacity {
					continue
				}
				if next < 0 || p.Cost[at][c] < p.Cost[at][next] {
					next = c
				}
			}
			if next < 0 {
				break
			}
			route = append(route, next)
			used[next] = true
			w += p.Demand[next]
			at = next
			left--
		}
		if len(route) == 0 {
			panic("opt: customer demand exceeds capacity")
		}
		sol.Routes = append(sol.Routes, route)
	}
	sol.Cost = p.cost(sol)
	return sol
}

// polish runs the local searches: 2-opt inside routes, customer swaps
// between routes, then short segment exchanges between routes.
func (p Problem) polish(sol Solution) Solution {
	for i, r := range sol.Routes {
		sol.Routes[i] = ImproveRoute2Opt(p, r, len(r)*len(r)+1)
	}
	sol = p.swapBetween(sol)
	sol = p.exchangeSegments(sol)
	sol.Cost = p.cost(sol)
	return sol
}

// ImproveRoute2Opt applies 2-opt to one route, depot ends fixed, until no
// reversal shortens it or iterations run out.
func ImproveRoute2Opt(p Problem, route []int, iterations int) []int {
	best := append([]int(nil), route...)
	bestCost := p.routeCost(best)
	for it := 0; it < max(iterations, 1); it++ {
		improved := false
		for i := 0; i < len(best)-1; i++ {
			for k := i + 1; k < len(best); k++ {
				cand := reverse(best, i, k)
				if c := p.routeCost(cand); c+eps < bestCost {
					best, bestCost, improved = cand, c, true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

// reverse copies ord with ord[i..k] reversed.
func reverse(ord []int, i, k int) []int {
	out := append([]int(nil), ord...)
	for a, b := i, k; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

// relocateWithin moves single customers to another position of the same
// route while that shortens it.
func (p Problem) relocateWithin(sol Solution) Solution {
	for ri, r := range sol.Routes {
		for moved := true; moved; {
			moved = false
			base := p.routeCost(r)
		scan:
			for i := range r {
				for j := range r {
					if i == j {
						continue
					}
					cand := make([]int, 0, len(r))
					cand = append(cand, r[:i]...)
					cand = append(cand, r[i+1:]...)
					cand = append(cand[:j], append([]int{r[i]}, cand[j:]...)...)
					if p.routeCost(cand)+eps < base {
						r, moved = cand, true
						break scan
					}
				}
			}
		}
		sol.Routes[ri] = r
	}
	sol.Cost = p.cost(sol)
	return sol
}

// swapBetween exchanges one customer of a route with one of another while
// that lowers the cost and both loads stay within capacity.
func (p Problem) swapBetween(sol Solution) Solution {
	for improved := true; improved; {
		improved = false
		for a := range sol.Routes {
			for b := a + 1; b < len(sol.Routes); b++ {
				ra, rb := sol.Routes[a], sol.Routes[b]
				la, lb := p.load(ra), p.load(rb)
				before := p.routeCost(ra) + p.routeCost(rb)
				for i := range ra {
					for j := range rb {
						d := p.Demand[rb[j]] - p.Demand[ra[i]]
						if la+d > p.Capacity || lb-d > p.Capacity {
							continue
						}
						ca := append([]int(nil), ra...)
						cb := append([]int(nil), rb...)
						ca[i], cb[j] = cb[j], ca[i]
						if after := p.routeCost(ca) + p.routeCost(cb); after+eps < before {
							ra, rb, la, lb, before = ca, cb, la+d, lb-d, after
							sol.Routes[a], sol.Routes[b] = ca, cb
							improved = true
						}
					}
				}
			}
		}
	}
	return sol
}

// exchangeSegments swaps a segment of one or two customers of a route with
// a segment of zero to two customers of another (2-opt* style). Routes left
// empty are dropped.
func (p Problem) exchangeSegments(sol Solution) Solution {
	for p.exchangeOnce(&sol) {
		sol = sol.without(nil)
	}
	return sol
}

// exchangeOnce applies the first improving segment exchange it finds.
func (p Problem) exchangeOnce(sol *Solution) bool {
	pairCost := func(x, y []int) float64 { return p.cost(Solution{Routes: [][]int{x, y}}) }
	splice := func(r []int, at, n int, seg []int) []int {
		out := make([]int, 0, len(r)-n+len(seg))
		out = append(out, r[:at]...)
		out = append(out, seg...)
		return append(out, r[at+n:]...)
	}
	for a := range sol.Routes {
		for b := a + 1; b < len(sol.Routes); b++ {
			ra, rb := sol.Routes[a], sol.Routes[b]
			before := pairCost(ra, rb)
			for i := range ra {
				for j := range rb {
					for na := 1; na <= 2 && i+na <= len(ra); na++ {
						for nb := 0; nb <= 2 && j+nb <= len(rb); nb++ {
							ca := splice(ra, i, na, rb[j:j+nb])
							cb := splice(rb, j, nb, ra[i:i+na])
							if p.load(ca) > p.Capacity || p.load(cb) > p.Capacity {
								continue
							}
							if pairCost(ca, cb)+eps < before {
								sol.Routes[a], sol.Routes[b] = ca, cb
								return true
							}
						}
					}
				}
			}
		}
	}
	return false
}

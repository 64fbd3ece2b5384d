package cvrp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/milp"
	"cvrpbc/internal/opt"
)

// SolveConfig drives BuildAndSolve.
type SolveConfig struct {
	TimeLimit       time.Duration
	LazyConstraints bool
	MaxNodes        int
	Options         Options

	// WarmStart runs the heuristic for WarmStartBudget and offers its
	// routes as the first incumbent.
	WarmStart       bool
	WarmStartBudget time.Duration
	Seed            int64

	Logger      log.FieldLogger
	OnIncumbent func(Progress)
	OnCut       func(Cut)
	// OnHeuristic receives the warm start heuristic metrics.
	OnHeuristic func(opt.Metrics)
}

// DefaultSolveConfig is a 30 minute limit with lazy constraints on.
func DefaultSolveConfig() SolveConfig {
	return SolveConfig{
		TimeLimit:       1800 * time.Second,
		LazyConstraints: true,
		Options:         DefaultOptions(),
		WarmStart:       true,
		WarmStartBudget: 2 * time.Second,
	}
}

// Progress describes a new incumbent.
type Progress struct {
	Objective float64       `json:"objective"`
	Bound     float64       `json:"bound"`
	TotalCost float64       `json:"totalCost"`
	Vehicles  int           `json:"vehicles"`
	Nodes     int           `json:"nodes"`
	LazyCuts  int           `json:"lazyCuts"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Solution is the best set of routes found.
type Solution struct {
	Routes    []Route    `json:"routes"`
	TotalCost float64    `json:"totalCost"`
	Vehicles  int        `json:"vehicles"`
	Objective float64    `json:"objective"`
	Bound     float64    `json:"bound,omitempty"`
	Status    string     `json:"status"`
	Optimal   bool       `json:"optimal"`
	Stats     milp.Stats `json:"stats"`
	Overload  []int      `json:"overload,omitempty"`
}

// BuildAndSolve formulates inst, attaches the cut generator and runs the
// search. It returns ErrNoSolution when the search ends without any
// feasible solution.
func BuildAndSolve(ctx context.Context, inst *Instance, cfg SolveConfig) (*Solution, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger = logger.WithFields(log.Fields{"instance": inst.Name, "size": inst.Size})

	m := milp.NewModel("cvrp")
	f, err := BuildFormulation(m, inst, cfg.Options)
	if err != nil {
		return nil, err
	}
	gen := NewCutGenerator(f)
	gen.OnCut = cfg.OnCut
	m.SetCandidateHandler(gen)

	p := m.Params()
	p.TimeLimit = cfg.TimeLimit
	p.LazyConstraints = cfg.LazyConstraints
	p.MaxNodes = cfg.MaxNodes
	p.Logger = logger
	p.OnIncumbent = func(inc milp.Incumbent) {
		if cfg.OnIncumbent == nil {
			return
		}
		veh := int(valueReader(inc.Values).Value(f.Vehicles) + 0.5)
		cfg.OnIncumbent(Progress{
			Objective: inc.Objective,
			Bound:     finite(inc.Bound),
			TotalCost: inc.Objective - float64(veh),
			Vehicles:  veh,
			Nodes:     inc.Nodes,
			LazyCuts:  inc.LazyCuts,
			Elapsed:   inc.Elapsed,
		})
	}
	m.SetParams(p)

	if cfg.WarmStart {
		warmStart(m, f, cfg, logger)
	}

	logger.WithFields(log.Fields{
		"vars":        m.NumVars(),
		"constraints": m.NumConstraints(),
		"cut_bound":   cfg.Options.CutBound.String(),
	}).Info("starting branch-and-cut")
	res, err := m.Solve(ctx)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, newError(ErrNoSolution, "solve", err)
	}
	if !res.HasSolution() {
		return nil, newError(ErrNoSolution, "solve", fmt.Errorf("search ended with status %s", res.Status))
	}

	routes, err := f.ExtractRoutes(valueReader(res.Values))
	if err != nil {
		return nil, newError(ErrNoSolution, "extract routes", err)
	}
	sol := &Solution{
		Routes:    routes,
		Vehicles:  len(routes),
		Objective: res.Objective,
		Bound:     finite(res.Bound),
		Status:    res.Status.String(),
		Optimal:   res.Status == milp.StatusOptimal,
		Stats:     res.Stats,
	}
	for i, r := range routes {
		sol.TotalCost += r.Cost
		if r.Demand > inst.Capacity {
			sol.Overload = append(sol.Overload, i)
		}
	}
	if len(sol.Overload) > 0 {
		logger.WithField("routes", sol.Overload).Warn("solution has routes over capacity; use rounded cuts to enforce capacity")
	}
	logger.WithFields(log.Fields{
		"status":   sol.Status,
		"cost":     sol.TotalCost,
		"vehicles": sol.Vehicles,
	}).Info("solve finished")
	return sol, nil
}

// Problem converts the instance for the heuristic.
func (inst *Instance) Problem() opt.Problem {
	return opt.Problem{Cost: inst.CostMatrix(), Demand: append([]float64(nil), inst.Demands...), Capacity: inst.Capacity, VehicleCost: 1}
}

func warmStart(m *milp.Model, f *Formulation, cfg SolveConfig, logger log.FieldLogger) {
	p := f.Instance.Problem()
	if err := p.Validate(); err != nil {
		logger.WithError(err).Warn("skipping warm start")
		return
	}
	sol, metrics := opt.Solve(p, cfg.Seed, cfg.WarmStartBudget)
	if cfg.OnHeuristic != nil {
		cfg.OnHeuristic(metrics)
	}
	x, err := f.StartValues(m.NumVars(), sol.Routes)
	if err != nil {
		logger.WithError(err).Warn("skipping warm start")
		return
	}
	if err := m.SetStart(x); err != nil {
		logger.WithError(err).Warn("skipping warm start")
		return
	}
	logger.WithFields(log.Fields{"cost": sol.Cost, "vehicles": sol.Vehicles(), "iterations": metrics.Iterations}).Info("warm start ready")
}

// finite maps an unknown (infinite) bound to zero so it survives JSON.
func finite(x float64) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return 0
	}
	return x
}

package cvrp

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/milp"
)

func quietConfig() SolveConfig {
	l := log.New()
	l.SetOutput(io.Discard)
	cfg := DefaultSolveConfig()
	cfg.TimeLimit = time.Minute
	cfg.WarmStartBudget = 50 * time.Millisecond
	cfg.Seed = 7
	cfg.Logger = l
	return cfg
}

func TestBuildAndSolveUnitSquare(t *testing.T) {
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)

	for _, warm := range []bool{false, true} {
		cfg := quietConfig()
		cfg.WarmStart = warm
		var cuts []Cut
		cfg.OnCut = func(c Cut) { cuts = append(cuts, c) }
		sol, err := BuildAndSolve(context.Background(), inst, cfg)
		require.NoError(t, err)

		assert.True(t, sol.Optimal)
		assert.Equal(t, 2, sol.Vehicles)
		require.Len(t, sol.Routes, 2)
		var customers []int
		for _, r := range sol.Routes {
			assert.LessOrEqual(t, r.Demand, inst.Capacity)
			customers = append(customers, r.Customers...)
		}
		sort.Ints(customers)
		assert.Equal(t, []int{1, 2, 3}, customers)
		assert.InDelta(t, 5, sol.TotalCost, 1e-9)
		assert.InDelta(t, 7, sol.Objective, 1e-6)
		assert.Empty(t, sol.Overload)
		if !warm {
			assert.NotEmpty(t, cuts)
		}
	}
}

func TestBuildAndSolveFractionalBoundMissesOverload(t *testing.T) {
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	cfg := quietConfig()
	cfg.WarmStart = false
	cfg.Options.CutBound = BoundFractional
	sol, err := BuildAndSolve(context.Background(), inst, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, sol.Vehicles)
	assert.Equal(t, []int{0}, sol.Overload)
}

func TestBuildAndSolveLazyDisabled(t *testing.T) {
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	cfg := quietConfig()
	cfg.WarmStart = false
	cfg.LazyConstraints = false
	_, err = BuildAndSolve(context.Background(), inst, cfg)
	assert.ErrorIs(t, err, ErrCutSubmission)
	assert.ErrorIs(t, err, milp.ErrLazyDisabled)
}

func TestBuildAndSolveCancelled(t *testing.T) {
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := quietConfig()
	cfg.WarmStart = false
	_, err = BuildAndSolve(ctx, inst, cfg)
	assert.ErrorIs(t, err, ErrNoSolution)

	cfg.WarmStart = true
	var progress []Progress
	cfg.OnIncumbent = func(p Progress) { progress = append(progress, p) }
	sol, err := BuildAndSolve(ctx, inst, cfg)
	require.NoError(t, err)
	assert.False(t, sol.Optimal)
	assert.Equal(t, milp.StatusInterrupted.String(), sol.Status)
	require.Len(t, progress, 1)
	assert.Equal(t, sol.Vehicles, progress[0].Vehicles)
	assert.InDelta(t, sol.TotalCost, progress[0].TotalCost, 1e-9)
}

func TestExtractRoutesRoundTrip(t *testing.T) {
	m, f := fixture(t, 10, ones(6), DefaultOptions())
	want := [][]int{{2, 1}, {3}, {5, 4}}
	x, err := f.StartValues(m.NumVars(), want)
	require.NoError(t, err)
	assert.Equal(t, 2.0, x[f.Edges.Get(0, 3).Index()])
	assert.Equal(t, 3.0, x[f.Vehicles.Index()])

	routes, err := f.ExtractRoutes(valueReader(x))
	require.NoError(t, err)
	require.Len(t, routes, 3)
	got := map[int][]int{}
	for _, r := range routes {
		got[r.Customers[0]] = r.Customers
	}
	assert.Equal(t, map[int][]int{1: {1, 2}, 3: {3}, 4: {4, 5}}, got)
	assert.Equal(t, 2.0, routes[0].Demand)
}

func TestStartValuesNeedsSingleCustomerRoutes(t *testing.T) {
	m, f := fixture(t, 10, ones(3), Options{})
	_, err := f.StartValues(m.NumVars(), [][]int{{1}, {2}})
	assert.Error(t, err)
}

func TestExtractRoutesRejectsSubtour(t *testing.T) {
	m, f := fixture(t, 10, ones(5), DefaultOptions())
	_, err := f.ExtractRoutes(tours(m, f, []int{0, 1, 2}, []int{3, 4}))
	assert.Error(t, err)
}

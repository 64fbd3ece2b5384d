package cvrp

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/milp"
)

func squareFixture(t *testing.T, opts Options) (*milp.Model, *Formulation) {
	t.Helper()
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	m := milp.NewModel("test")
	f, err := BuildFormulation(m, inst, opts)
	require.NoError(t, err)
	return m, f
}

func TestBuildFormulationDegreeInvariant(t *testing.T) {
	m, f := squareFixture(t, DefaultOptions())
	n := f.Instance.Size
	assert.Equal(t, n*(n+1)/2+1, m.NumVars())

	names := map[string]int{}
	for _, c := range m.Constraints() {
		names[c.Name()]++
	}
	for i := 1; i < n; i++ {
		assert.Equal(t, 1, names["deg2_"+strconv.Itoa(i)], "customer %d", i)
	}
	assert.Equal(t, 1, names["depot_degree"])
	assert.Len(t, names, n)

	deg := m.LookupConstraint("deg2_2")
	require.NotNil(t, deg)
	assert.Equal(t, milp.Equal, deg.Sense())
	assert.Equal(t, 2.0, deg.RHS())
	for j := 0; j < n; j++ {
		assert.Equal(t, 1.0, deg.Coef(f.Edges.Get(2, j)))
	}

	depot := m.LookupConstraint("depot_degree")
	require.NotNil(t, depot)
	assert.Equal(t, milp.Equal, depot.Sense())
	assert.Equal(t, 0.0, depot.RHS())
	assert.Equal(t, -2.0, depot.Coef(f.Vehicles))
	for j := 0; j < n; j++ {
		assert.Equal(t, 1.0, depot.Coef(f.Edges.Get(Depot, j)))
	}
}

func TestBuildFormulationVariables(t *testing.T) {
	_, f := squareFixture(t, DefaultOptions())
	for i := 0; i < f.Instance.Size; i++ {
		loop := f.Edges.Get(i, i)
		assert.Equal(t, 0.0, loop.UB(), "self-loop %d", i)
		for j := 0; j < f.Instance.Size; j++ {
			assert.Same(t, f.Edges.Get(i, j), f.Edges.Get(j, i))
			assert.Equal(t, f.Instance.Cost(i, j), f.Edges.Get(i, j).Obj())
		}
	}
	assert.Equal(t, milp.Integer, f.Edges.Get(0, 2).Type())
	assert.Equal(t, 2.0, f.Edges.Get(2, 0).UB())
	assert.Equal(t, milp.Binary, f.Edges.Get(1, 2).Type())
	assert.Equal(t, "x1_2", f.Edges.Get(2, 1).Name())

	assert.Equal(t, milp.Integer, f.Vehicles.Type())
	assert.Equal(t, 0.0, f.Vehicles.LB())
	assert.Equal(t, float64(f.Instance.Size), f.Vehicles.UB())
	assert.Equal(t, 1.0, f.Vehicles.Obj())
}

func TestBuildFormulationBinaryEdges(t *testing.T) {
	_, f := squareFixture(t, Options{})
	f.Edges.Each(func(k EdgeKey, v *milp.Var) {
		assert.Equal(t, milp.Binary, v.Type(), k.String())
	})
}

func TestEdgeKey(t *testing.T) {
	assert.Equal(t, EdgeKey{Lo: 1, Hi: 4}, Edge(4, 1))
	assert.Equal(t, Edge(1, 4), Edge(1, 4))
	ev := newEdgeVars(5)
	seen := map[int]bool{}
	ev.Each(func(k EdgeKey, _ *milp.Var) {
		s := ev.slot(k)
		assert.False(t, seen[s], "slot %d reused by %v", s, k)
		seen[s] = true
	})
	assert.Len(t, seen, ev.Len())
}

type failingBuilder struct {
	*milp.Model
	failOn string
}

var errRejected = errors.New("rejected")

func (b failingBuilder) AddConstraint(name string, lhs *milp.LinExpr, sense milp.Sense, rhs *milp.LinExpr) (*milp.Constraint, error) {
	if name == b.failOn {
		return nil, errRejected
	}
	return b.Model.AddConstraint(name, lhs, sense, rhs)
}

func TestBuildFormulationFailure(t *testing.T) {
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	f, err := BuildFormulation(failingBuilder{Model: milp.NewModel("x"), failOn: "depot_degree"}, inst, DefaultOptions())
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrFormulation)
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, err.Error(), "depot_degree")
}

func TestParseCutBound(t *testing.T) {
	b, err := ParseCutBound("fractional")
	require.NoError(t, err)
	assert.Equal(t, BoundFractional, b)
	b, err = ParseCutBound("")
	require.NoError(t, err)
	assert.Equal(t, BoundRounded, b)
	_, err = ParseCutBound("ceil")
	assert.Error(t, err)
}

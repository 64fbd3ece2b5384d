package cvrp

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareInstance = `4
10
0 0 0
1 1 0
2 1 1
3 0 1
0 0
1 5
2 5
3 5
`

func TestLoad(t *testing.T) {
	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	assert.Equal(t, 4, inst.Size)
	assert.Equal(t, 10.0, inst.Capacity)
	assert.Equal(t, []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, inst.Positions)
	assert.Equal(t, []float64{0, 5, 5, 5}, inst.Demands)
	assert.Equal(t, 1.0, inst.Cost(0, 2)) // round(sqrt 2)
	assert.Equal(t, 15.0, inst.TotalDemand())
	assert.Equal(t, 2, inst.MinVehicles())
	assert.Equal(t, 3, inst.Customers())
}

func TestLoadSkipsBlankLines(t *testing.T) {
	inst, err := Load(strings.NewReader("\n2\n\n7\n0 0 0\n1 3 4\n\n0 0\n1 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 5.0, inst.Cost(0, 1))
}

func TestLoadMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
		line  int
	}{
		{"empty", "", 1},
		{"size not a number", "four\n", 1},
		{"zero size", "0\n10\n", 1},
		{"capacity missing", "2\n", 2},
		{"bad capacity", "2\n-3\n0 0 0\n1 1 1\n0 0\n1 1\n", 0},
		{"short position", "2\n10\n0 0 0\n1 1\n", 4},
		{"non-numeric position", "2\n10\n0 0 0\n1 a 1\n", 4},
		{"missing demand", "2\n10\n0 0 0\n1 1 1\n0 0\n", 6},
		{"non-numeric demand", "2\n10\n0 0 0\n1 1 1\n0 0\n1 x\n", 6},
		{"negative demand", "2\n10\n0 0 0\n1 1 1\n0 0\n1 -4\n", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedInstance)
			var ce *Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.line, ce.Line)
			assert.NotEmpty(t, ce.Op)
		})
	}
}

func TestLoadFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.vrp"))
	assert.ErrorIs(t, err, ErrIO)

	inst, err := Load(strings.NewReader(squareInstance))
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = inst.WriteTo(&buf)
	require.NoError(t, err)
	again, err := Load(&buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(inst.CostMatrix(), again.CostMatrix()))
	assert.Equal(t, inst.Demands, again.Demands)
}

func TestComputeEdgeCostsIdempotent(t *testing.T) {
	inst, err := NewInstance("t", 10, []Point{{0, 0}, {3, 4}, {-2, 7}, {10, 1}}, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	before := inst.CostMatrix()
	inst.ComputeEdgeCosts()
	assert.Empty(t, cmp.Diff(before, inst.CostMatrix()))
	for i := 0; i < inst.Size; i++ {
		for j := 0; j < inst.Size; j++ {
			assert.Equal(t, inst.Cost(i, j), inst.Cost(j, i))
		}
	}
	assert.Equal(t, 5.0, inst.Cost(0, 1))
}

func TestNewInstanceValidation(t *testing.T) {
	_, err := NewInstance("t", 10, nil, nil)
	assert.ErrorIs(t, err, ErrMalformedInstance)
	_, err = NewInstance("t", 10, []Point{{0, 0}}, []float64{0, 1})
	assert.ErrorIs(t, err, ErrMalformedInstance)
	_, err = NewInstance("t", 0, []Point{{0, 0}}, []float64{0})
	assert.ErrorIs(t, err, ErrMalformedInstance)
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Op: "read demand", Line: 7, Kind: ErrMalformedInstance, Err: cause}
	assert.Equal(t, "cvrp: read demand: malformed instance (line 7): boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrMalformedInstance)
	assert.NotErrorIs(t, err, ErrIO)
}

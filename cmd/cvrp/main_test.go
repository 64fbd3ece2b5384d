package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/cvrp"
)

const squareInstance = "4\n10\n0 0 0\n1 1 0\n2 1 1\n3 0 1\n0 0\n1 5\n2 5\n3 5\n"

func TestRunPrintsRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.vrp")
	require.NoError(t, os.WriteFile(path, []byte(squareInstance), 0o644))
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	require.NoError(t, run([]string{"-instance", path, "-time-limit", "30s", "-seed", "1"}, &out))
	s := out.String()
	assert.Contains(t, s, "instance square: 3 customers")
	assert.Contains(t, s, "total cost: 5\n")
	assert.Contains(t, s, "vehicles: 2\n")
	assert.Contains(t, s, "route 1: 0 -> ")
}

func TestRunFailures(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	err := run([]string{"-instance", filepath.Join(t.TempDir(), "missing.vrp")}, &bytes.Buffer{})
	assert.ErrorIs(t, err, cvrp.ErrIO)

	path := filepath.Join(t.TempDir(), "bad.vrp")
	require.NoError(t, os.WriteFile(path, []byte("4\n10\n0 0 0\n"), 0o644))
	err = run([]string{"-instance", path}, &bytes.Buffer{})
	assert.ErrorIs(t, err, cvrp.ErrMalformedInstance)

	err = run([]string{"-instance", path, "-cut-bound", "tight"}, &bytes.Buffer{})
	assert.Error(t, err)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultIsIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	Solves.WithLabelValues("completed", "optimal").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(Solves.WithLabelValues("completed", "optimal")))

	families, err := Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cvrp_solves_total"])
	assert.True(t, names["go_goroutines"])
}

//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"cvrpbc/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(t.Context()))
	require.NoError(t, p.MigrateDir("../../db/migrations"))

	rec, err := p.SaveInstance(t.Context(), model.InstanceRecord{TenantID: "t_it", Name: "it", Size: 2, Capacity: 1, Data: "2\n1\n0 0 0\n1 1 1\n0 0\n1 1\n"})
	require.NoError(t, err)
	got, err := p.GetInstance(t.Context(), "t_it", rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Name, got.Name)
	require.NoError(t, p.DeleteInstance(t.Context(), "t_it", rec.ID))
}

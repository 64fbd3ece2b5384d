package api

import (
	"encoding/json"
	"net/http"
	"time"

	"cvrpbc/internal/buildinfo"
)

// DebugJSON reports the build and the effective config. Secrets are reduced
// to whether they are set.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               c.Server.Port,
			"allowOrigins":       c.Server.AllowOrigins,
			"authMode":           c.Auth.Mode,
			"rateRps":            c.Rate.RPS,
			"rateBurst":          c.Rate.Burst,
			"webhookMaxAttempts": c.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     c.Database.URL != "",
			"hasRedisUrl":        c.Redis.URL != "",
			"hasHmacSecret":      c.Auth.HMACSecret != "",
			"solverTimeLimit":    c.Solver.TimeLimit.String(),
			"solverLazy":         c.Solver.LazyConstraints,
			"solverCutBound":     c.Solver.CutBound,
			"solverWorkers":      c.Solver.Workers,
			"solverWarmStart":    c.Solver.WarmStart,
			"instanceDir":        c.Solver.InstanceDir,
			"defaultInstance":    c.Solver.DefaultInstance,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

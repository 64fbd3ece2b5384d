// Package api implements the HTTP handlers of the CVRP solver service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Tenant string
	Role   string // admin, planner, viewer
}

// anonymous is the principal of unauthenticated requests outside dev mode.
var anonymous = Principal{Tenant: "", Role: "viewer"}

// getPrincipal extracts tenant and role from a bearer token or headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac/jwks).
// - Else, in dev mode only, falls back to X-Tenant-Id / X-Role.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Tenant: pr.Tenant, Role: strings.ToLower(pr.Role)}
		}
	}
	if s.Cfg.Auth.Mode != "" && s.Cfg.Auth.Mode != "dev" {
		return anonymous
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := r.Header.Get("X-Role")
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role)}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may upload instances and start solves.
func (p Principal) CanPlan() bool { return p.Role == "admin" || p.Role == "planner" }

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/model"
	"cvrpbc/internal/runner"
	"cvrpbc/internal/store"
)

const maxInstanceBytes = 8 << 20

// InstancesHandler handles POST/GET /v1/instances. POST takes a JSON
// InstanceIn or, with Content-Type text/plain, the raw instance file.
func (s *Server) InstancesHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
		in, err := decodeInstanceIn(r)
		if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error(), r.URL.Path); return }
		inst, err := instanceFromInput(in)
		if err != nil { writeProblem(w, http.StatusUnprocessableEntity, "Invalid instance", err.Error(), r.URL.Path); return }
		if in.Name == "" { in.Name = inst.Name }
		rec, err := s.Store.SaveInstance(r.Context(), instanceRecord(p.Tenant, in.Name, inst))
		if err != nil { writeProblem(w, http.StatusInternalServerError, "Save instance failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusCreated, rec)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := queryInt(r.URL.Query(), "limit", 100)
		items, next, err := s.Store.ListInstances(r.Context(), p.Tenant, cursor, limit)
		if err != nil { writeProblem(w, http.StatusInternalServerError, "List instances failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeInstanceIn(r *http.Request) (model.InstanceIn, error) {
	body := http.MaxBytesReader(nil, r.Body, maxInstanceBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "text/plain" {
		b, err := io.ReadAll(body)
		if err != nil { return model.InstanceIn{}, err }
		return model.InstanceIn{Name: r.URL.Query().Get("name"), Data: string(b)}, nil
	}
	var in model.InstanceIn
	if err := json.NewDecoder(body).Decode(&in); err != nil { return model.InstanceIn{}, err }
	return in, nil
}

// instanceRecord stores the canonical text of inst.
func instanceRecord(tenant, name string, inst *cvrp.Instance) model.InstanceRecord {
	var b strings.Builder
	_, _ = inst.WriteTo(&b)
	return model.InstanceRecord{
		TenantID:    tenant,
		Name:        name,
		Size:        inst.Size,
		Capacity:    inst.Capacity,
		TotalDemand: inst.TotalDemand(),
		Data:        b.String(),
	}
}

// InstanceByIDHandler handles GET/DELETE /v1/instances/{id}. GET with
// ?format=vrp returns the raw instance text.
func (s *Server) InstanceByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/instances/")
	if id == "" || strings.Contains(id, "/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		rec, err := s.Store.GetInstance(r.Context(), p.Tenant, id)
		if err != nil { writeStoreError(w, r, "Get instance failed", err); return }
		if r.URL.Query().Get("format") == "vrp" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, rec.Data)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
		if err := s.Store.DeleteInstance(r.Context(), p.Tenant, id); err != nil { writeStoreError(w, r, "Delete instance failed", err); return }
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SourcesHandler handles GET /v1/sources
func (s *Server) SourcesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Sources.Names()})
}

// SourceByNameHandler handles GET /v1/sources/{name}/instances and
// POST /v1/sources/{name}/import.
func (s *Server) SourceByNameHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/sources/"), "/")
	if len(parts) != 2 { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	src, ok := s.Sources.Get(parts[0])
	if !ok { writeProblem(w, 404, "Source not found", parts[0], r.URL.Path); return }
	p := s.getPrincipal(r)
	switch {
	case parts[1] == "instances" && r.Method == http.MethodGet:
		names, err := src.List(r.Context())
		if err != nil { writeProblem(w, 502, "List source failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, map[string]any{"items": names})
	case parts[1] == "import" && r.Method == http.MethodPost:
		if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
		var req struct {
			Ref  string `json:"ref"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if req.Ref == "" { req.Ref = s.Cfg.Solver.DefaultInstance }
		inst, err := src.Open(r.Context(), req.Ref)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, cvrp.ErrIO) { status = http.StatusNotFound }
			writeProblem(w, status, "Import failed", err.Error(), r.URL.Path)
			return
		}
		if req.Name == "" { req.Name = inst.Name }
		rec, err := s.Store.SaveInstance(r.Context(), instanceRecord(p.Tenant, req.Name, inst))
		if err != nil { writeProblem(w, 500, "Save instance failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusCreated, rec)
	default:
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
	}
}

// SolveHandler handles POST /v1/solve. The job runs asynchronously; follow it
// with GET /v1/solves/{id} or its event stream.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	p := s.getPrincipal(r)
	if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
	if !s.limiter.Allow(p.Tenant) { writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "solve rate limit exceeded", r.URL.Path); return }
	var req model.SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
	if err := validateSolveRequest(&req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path); return }
	job, err := s.Runner.Submit(r.Context(), p.Tenant, req)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Instance not found", req.InstanceID, r.URL.Path)
	case errors.Is(err, runner.ErrQueueFull), errors.Is(err, runner.ErrClosed):
		writeProblem(w, http.StatusServiceUnavailable, "Solver busy", err.Error(), r.URL.Path)
	case err != nil:
		writeProblem(w, http.StatusInternalServerError, "Submit solve failed", err.Error(), r.URL.Path)
	default:
		w.Header().Set("Location", "/v1/solves/"+job.ID)
		writeJSON(w, http.StatusAccepted, job)
	}
}

// SolvesIndexHandler handles GET /v1/solves
func (s *Server) SolvesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	p := s.getPrincipal(r)
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r.URL.Query(), "limit", 100)
	items, next, err := s.Store.ListSolveJobs(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil { writeProblem(w, http.StatusInternalServerError, "List solves failed", err.Error(), r.URL.Path); return }
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// SolveByIDHandler handles GET /v1/solves/{id}, POST /v1/solves/{id}/cancel
// and GET /v1/solves/{id}/events/stream
func (s *Server) SolveByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/solves/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" { writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path); return }
	p := s.getPrincipal(r)
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
		job, err := s.Store.GetSolveJob(r.Context(), p.Tenant, id)
		if err != nil { writeStoreError(w, r, "Get solve failed", err); return }
		writeJSON(w, http.StatusOK, job)
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
		if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
		err := s.Runner.Cancel(r.Context(), p.Tenant, id)
		if errors.Is(err, runner.ErrJobFinished) { writeProblem(w, http.StatusConflict, "Solve already finished", "", r.URL.Path); return }
		if err != nil { writeStoreError(w, r, "Cancel solve failed", err); return }
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelling": true})
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
		s.streamSolveEvents(w, r, p.Tenant, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// SolverConfigHandler returns the service defaults overlaid with the tenant config.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	defaults := runner.Defaults(s.Cfg.Solver)
	defaults["latencyBuckets"] = defaultLatencyBuckets
	p := s.getPrincipal(r)
	cfg, _ := s.Store.GetSolverConfig(r.Context(), p.Tenant)
	for k, v := range cfg { defaults[k] = v }
	writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// AdminSolverConfigHandler gets or replaces the tenant solver config.
func (s *Server) AdminSolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	p := s.getPrincipal(r)
	if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
	switch r.Method {
	case http.MethodGet:
		cfg, _ := s.Store.GetSolverConfig(r.Context(), p.Tenant)
		if cfg == nil { cfg = map[string]any{} }
		writeJSON(w, 200, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct{ Config map[string]any `json:"config"` }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
		if _, err := runner.Resolve(s.Cfg.Solver, body.Config, model.SolveRequest{}); err != nil { writeProblem(w, 400, "Invalid config", err.Error(), r.URL.Path); return }
		if err := s.Store.SaveSolverConfig(r.Context(), p.Tenant, body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
		if req.URL == "" || len(req.Events) == 0 { writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path); return }
		req.TenantID = p.Tenant
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil { writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := queryInt(r.URL.Query(), "limit", 100)
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete { w.WriteHeader(405); return }
	p := s.getPrincipal(r)
	if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeStoreError(w, r, "Delete subscription failed", err); return }
	w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		if pg, ok := dep.(pinger); ok {
			if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", name+": "+err.Error(), r.URL.Path); return }
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

func writeStoreError(w http.ResponseWriter, r *http.Request, title string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

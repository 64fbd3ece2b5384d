package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cvrpbc/internal/opt"
	"cvrpbc/internal/runner"
)

var defaultLatencyBuckets = []int{100, 500, 1000}

// admin resolves the caller and rejects anyone but a tenant admin.
func (s *Server) admin(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}

func queryInt(q url.Values, key string, def int) int {
	v := def
	if s := q.Get(key); s != "" {
		fmt.Sscanf(s, "%d", &v)
	}
	return v
}

// hoursAgo is the zero time for n <= 0.
func hoursAgo(n int) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-time.Duration(n) * time.Hour)
}

// responseCodes reads responseCodeMin/Max, or a codeClass such as 4xx when
// neither bound is set.
func responseCodes(q url.Values) (lo, hi int) {
	lo, hi = queryInt(q, "responseCodeMin", 0), queryInt(q, "responseCodeMax", 0)
	if c := q.Get("codeClass"); lo == 0 && hi == 0 && len(c) == 3 && strings.HasSuffix(c, "xx") && c[0] >= '1' && c[0] <= '5' {
		lo = int(c[0]-'0') * 100
		hi = lo + 99
	}
	return lo, hi
}

// latencyBuckets reads the tenant's histogram edges; nil means store defaults.
func (s *Server) latencyBuckets(ctx context.Context, tenant string) []int {
	cfg, _ := s.Store.GetSolverConfig(ctx, tenant)
	lst, _ := cfg["latencyBuckets"].([]any)
	var out []int
	for _, x := range lst {
		if f, ok := x.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

// HeuristicMetricsHandler reports the warm start metrics of a solve. Stored
// metrics win; solves run by this process fall back to the in-memory copy,
// which also carries the weight snapshots.
func (s *Server) HeuristicMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/heuristic-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	p, ok := s.admin(w, r)
	if !ok { return }
	q := r.URL.Query()
	jobID, algo := q.Get("jobId"), q.Get("algo")
	if jobID == "" { writeProblem(w, 400, "Missing jobId", "", r.URL.Path); return }
	recent := opt.GetMetrics(p.Tenant, jobID)
	items, err := s.Store.ListHeuristicMetrics(r.Context(), p.Tenant, jobID, algo)
	if err != nil || len(items) == 0 {
		items = []map[string]any{}
		for a, m := range recent {
			if algo == "" || a == algo {
				it := runner.HeuristicMetricsMap(m)
				it["algo"] = a
				items = append(items, it)
			}
		}
	}
	if v := q.Get("includeWeights"); v == "1" || strings.EqualFold(v, "true") {
		for _, it := range items {
			a, _ := it["algo"].(string)
			if m := recent[a]; len(m.Snapshots) > 0 { it["weights"] = m.Snapshots }
		}
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookDeliveriesHandler lists the tenant's solve event deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	p, ok := s.admin(w, r)
	if !ok { return }
	if r.Method != http.MethodGet { w.WriteHeader(405); return }
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryInt(q, "limit", 100))
	if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
	id, ok := strings.CutSuffix(rest, "/retry")
	if !ok || id == "" || strings.Contains(id, "/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	if r.Method != http.MethodPost { w.WriteHeader(405); return }
	p, ok := s.admin(w, r)
	if !ok { return }
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil { writeStoreError(w, r, "Retry delivery failed", err); return }
	writeJSON(w, 202, map[string]int{"accepted": 1})
}

// WebhookMetricsHandler aggregates deliveries of the last sinceHours hours
// (default 24) into latency histograms per event type and status.
func (s *Server) WebhookMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	p, ok := s.admin(w, r)
	if !ok { return }
	q := r.URL.Query()
	lo, hi := responseCodes(q)
	since := hoursAgo(queryInt(q, "sinceHours", 24))
	items, err := s.Store.WebhookMetrics(r.Context(), p.Tenant, since, q.Get("eventType"), q.Get("status"), lo, hi, s.latencyBuckets(r.Context(), p.Tenant))
	if err != nil { writeProblem(w, 500, "Metrics failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookDLQHandler serves the dead letter queue: GET lists, POST requeues
// the given ids, DELETE drops ids or letters older than olderThanHours, and
// POST {id}/requeue requeues one letter.
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.admin(w, r)
	if !ok { return }
	if id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/"), "/requeue"); ok && r.Method == http.MethodPost && id != "" && !strings.Contains(id, "/") {
		if err := s.Store.RequeueWebhookDLQ(r.Context(), p.Tenant, id); err != nil { writeStoreError(w, r, "Requeue failed", err); return }
		writeJSON(w, 202, map[string]int{"accepted": 1})
		return
	}
	if r.URL.Path != "/v1/admin/webhook-dlq" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	switch r.Method {
	case http.MethodGet:
		s.listDLQ(w, r, p)
	case http.MethodPost:
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if len(req.IDs) == 0 { writeProblem(w, 400, "Missing ids", "", r.URL.Path); return }
		if err := s.Store.RequeueWebhookDLQBulk(r.Context(), p.Tenant, req.IDs); err != nil { writeStoreError(w, r, "Bulk requeue failed", err); return }
		writeJSON(w, 202, map[string]int{"accepted": len(req.IDs)})
	case http.MethodDelete:
		var req struct {
			IDs            []string `json:"ids"`
			OlderThanHours int      `json:"olderThanHours"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if len(req.IDs) == 0 && req.OlderThanHours <= 0 { writeProblem(w, 400, "Missing ids or olderThanHours", "", r.URL.Path); return }
		if err := s.Store.DeleteWebhookDLQBulk(r.Context(), p.Tenant, req.IDs, hoursAgo(req.OlderThanHours)); err != nil { writeProblem(w, 500, "Bulk delete failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 202, map[string]int{"accepted": 1})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listDLQ(w http.ResponseWriter, r *http.Request, p Principal) {
	q := r.URL.Query()
	lo, hi := responseCodes(q)
	older := hoursAgo(queryInt(q, "olderThanHours", 0))
	items, next, err := s.Store.ListWebhookDLQ(r.Context(), p.Tenant, q.Get("eventType"), older, lo, hi, q.Get("errorQuery"), q.Get("cursor"), queryInt(q, "limit", 100))
	if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

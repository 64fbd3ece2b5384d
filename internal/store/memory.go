package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cvrpbc/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	instances map[string]model.InstanceRecord // id -> instance
	instTen   map[string][]string             // tenant -> instance ids
	jobs      map[string]model.SolveJob       // id -> job
	jobsTen   map[string][]string             // tenant -> job ids
	subs      map[string][]model.Subscription // tenant -> subscriptions
	// Webhooks queue state
	deliveries map[string]*memDelivery // id -> delivery state
	order      []string                // delivery ids in enqueue order
	dedup      map[string]string       // tenant|event|url|key -> delivery id
	dlq        []memDLQ
	heurMx     map[string]map[string][]map[string]any // tenant -> job -> items
	solverCfg  map[string]map[string]any              // tenant -> config
}

func NewMemory() *Memory {
	return &Memory{
		instances:  map[string]model.InstanceRecord{},
		instTen:    map[string][]string{},
		jobs:       map[string]model.SolveJob{},
		jobsTen:    map[string][]string{},
		subs:       map[string][]model.Subscription{},
		deliveries: map[string]*memDelivery{},
		dedup:      map[string]string{},
		heurMx:     map[string]map[string][]map[string]any{},
		solverCfg:  map[string]map[string]any{},
	}
}

// page cuts ids after cursor to at most limit entries. next is empty on the last page.
func page(ids []string, cursor string, limit int) ([]string, string) {
	limit = pageSize(limit)
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor { start = i + 1; break }
		}
	}
	end := start + limit
	if end >= len(ids) { return ids[start:], "" }
	return ids[start:end], ids[end-1]
}

// Instances
func (m *Memory) SaveInstance(ctx context.Context, rec model.InstanceRecord) (model.InstanceRecord, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if rec.ID == "" { rec.ID = uuid.New().String() }
	if rec.CreatedAt.IsZero() { rec.CreatedAt = time.Now().UTC() }
	if _, exists := m.instances[rec.ID]; !exists {
		m.instTen[rec.TenantID] = append(m.instTen[rec.TenantID], rec.ID)
	}
	m.instances[rec.ID] = rec
	return rec, nil
}

func (m *Memory) GetInstance(ctx context.Context, tenantID, id string) (model.InstanceRecord, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	rec, ok := m.instances[id]
	if !ok || rec.TenantID != tenantID { return model.InstanceRecord{}, ErrNotFound }
	return rec, nil
}

func (m *Memory) ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.InstanceRecord, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ids, next := page(m.instTen[tenantID], cursor, limit)
	out := make([]model.InstanceRecord, 0, len(ids))
	for _, id := range ids {
		rec := m.instances[id]
		rec.Data = ""
		out = append(out, rec)
	}
	return out, next, nil
}

func (m *Memory) DeleteInstance(ctx context.Context, tenantID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	rec, ok := m.instances[id]
	if !ok || rec.TenantID != tenantID { return ErrNotFound }
	delete(m.instances, id)
	m.instTen[tenantID] = without(m.instTen[tenantID], id)
	return nil
}

// Solve jobs
func (m *Memory) CreateSolveJob(ctx context.Context, job model.SolveJob) (model.SolveJob, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if job.ID == "" { job.ID = uuid.New().String() }
	if job.CreatedAt.IsZero() { job.CreatedAt = time.Now().UTC() }
	if job.Status == "" { job.Status = model.JobQueued }
	m.jobs[job.ID] = job
	m.jobsTen[job.TenantID] = append(m.jobsTen[job.TenantID], job.ID)
	return job, nil
}

func (m *Memory) GetSolveJob(ctx context.Context, tenantID, id string) (model.SolveJob, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.TenantID != tenantID { return model.SolveJob{}, ErrNotFound }
	return job, nil
}

func (m *Memory) ListSolveJobs(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolveJob, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ids := m.jobsTen[tenantID]
	if status != "" {
		filtered := make([]string, 0, len(ids))
		for _, id := range ids {
			if m.jobs[id].Status == status { filtered = append(filtered, id) }
		}
		ids = filtered
	}
	ids, next := page(ids, cursor, limit)
	out := make([]model.SolveJob, 0, len(ids))
	for _, id := range ids { out = append(out, m.jobs[id]) }
	return out, next, nil
}

func (m *Memory) UpdateSolveJob(ctx context.Context, job model.SolveJob) error {
	m.mu.Lock(); defer m.mu.Unlock()
	old, ok := m.jobs[job.ID]
	if !ok || old.TenantID != job.TenantID { return ErrNotFound }
	m.jobs[job.ID] = job
	return nil
}

// Heuristic metrics
func (m *Memory) SaveHeuristicMetrics(ctx context.Context, tenantID, jobID, algo string, metrics map[string]any) error {
	m.mu.Lock(); defer m.mu.Unlock()
	if m.heurMx[tenantID] == nil { m.heurMx[tenantID] = map[string][]map[string]any{} }
	item := map[string]any{}
	for k, v := range metrics { item[k] = v }
	item["algo"] = algo
	items := m.heurMx[tenantID][jobID]
	for i := range items {
		if items[i]["algo"] == algo { items[i] = item; return nil }
	}
	m.heurMx[tenantID][jobID] = append(items, item)
	return nil
}

func (m *Memory) ListHeuristicMetrics(ctx context.Context, tenantID, jobID, algo string) ([]map[string]any, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []map[string]any{}
	for _, it := range m.heurMx[tenantID][jobID] {
		if algo == "" || it["algo"] == algo { out = append(out, it) }
	}
	return out, nil
}

// Solver config
func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if cfg, ok := m.solverCfg[tenantID]; ok { return cfg, nil }
	return nil, nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock(); defer m.mu.Unlock()
	m.solverCfg[tenantID] = cfg
	return nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids { if v != id { out = append(out, v) } }
	return out
}

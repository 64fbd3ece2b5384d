package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE ... IF NOT EXISTS).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil { return err }
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil { return err }
		if _, err := p.db.Exec(string(b)); err != nil { return fmt.Errorf("migration %s: %w", n, err) }
		log.WithField("file", n).Info("migration applied")
	}
	return nil
}

// Instances
func (p *Postgres) SaveInstance(ctx context.Context, rec model.InstanceRecord) (model.InstanceRecord, error) {
	if rec.ID == "" { rec.ID = uuid.New().String() }
	if rec.CreatedAt.IsZero() { rec.CreatedAt = time.Now().UTC() }
	_, err := p.db.ExecContext(ctx, `INSERT INTO instances (id, tenant_id, name, size, capacity, total_demand, data, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET name=$3, size=$4, capacity=$5, total_demand=$6, data=$7`,
		rec.ID, rec.TenantID, rec.Name, rec.Size, rec.Capacity, rec.TotalDemand, rec.Data, rec.CreatedAt)
	if err != nil { return model.InstanceRecord{}, err }
	return rec, nil
}

func (p *Postgres) GetInstance(ctx context.Context, tenantID, id string) (model.InstanceRecord, error) {
	rec := model.InstanceRecord{TenantID: tenantID}
	err := p.db.QueryRowContext(ctx, `SELECT id::text, name, size, capacity, total_demand, data, created_at FROM instances WHERE tenant_id=$1 AND id::text=$2`, tenantID, id).
		Scan(&rec.ID, &rec.Name, &rec.Size, &rec.Capacity, &rec.TotalDemand, &rec.Data, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) { return model.InstanceRecord{}, ErrNotFound }
	if err != nil { return model.InstanceRecord{}, err }
	return rec, nil
}

func (p *Postgres) ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.InstanceRecord, string, error) {
	limit = pageSize(limit)
	rows, err := tenantQuery(`SELECT id::text, name, size, capacity, total_demand, created_at FROM instances`, tenantID).page(cursor, limit).rows(ctx, p.db)
	if err != nil { return nil, "", err }
	return collectPage(rows, limit, func(rows *sql.Rows) (model.InstanceRecord, string, error) {
		rec := model.InstanceRecord{TenantID: tenantID}
		err := rows.Scan(&rec.ID, &rec.Name, &rec.Size, &rec.Capacity, &rec.TotalDemand, &rec.CreatedAt)
		return rec, rec.ID, err
	})
}

func (p *Postgres) DeleteInstance(ctx context.Context, tenantID, id string) error {
	return execOne(ctx, p.db, `DELETE FROM instances WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
}

// Solve jobs
func (p *Postgres) CreateSolveJob(ctx context.Context, job model.SolveJob) (model.SolveJob, error) {
	if job.ID == "" { job.ID = uuid.New().String() }
	if job.CreatedAt.IsZero() { job.CreatedAt = time.Now().UTC() }
	if job.Status == "" { job.Status = model.JobQueued }
	req, _ := json.Marshal(job.Request)
	_, err := p.db.ExecContext(ctx, `INSERT INTO solve_jobs (id, tenant_id, instance_id, status, request, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		job.ID, job.TenantID, job.InstanceID, job.Status, req, job.CreatedAt)
	if err != nil { return model.SolveJob{}, err }
	return job, nil
}

const jobColumns = `id::text, instance_id::text, status, request, result, progress, COALESCE(error,''), created_at, started_at, finished_at`

func scanJob(sc interface{ Scan(...any) error }, tenantID string) (model.SolveJob, error) {
	job := model.SolveJob{TenantID: tenantID}
	var req, res, prog []byte
	var started, finished sql.NullTime
	if err := sc.Scan(&job.ID, &job.InstanceID, &job.Status, &req, &res, &prog, &job.Error, &job.CreatedAt, &started, &finished); err != nil {
		return model.SolveJob{}, err
	}
	if len(req) > 0 { _ = json.Unmarshal(req, &job.Request) }
	if len(res) > 0 {
		job.Result = &model.SolveResult{}
		if err := json.Unmarshal(res, job.Result); err != nil { return model.SolveJob{}, err }
	}
	if len(prog) > 0 {
		job.Progress = &model.Progress{}
		if err := json.Unmarshal(prog, job.Progress); err != nil { return model.SolveJob{}, err }
	}
	if started.Valid { t := started.Time; job.StartedAt = &t }
	if finished.Valid { t := finished.Time; job.FinishedAt = &t }
	return job, nil
}

func (p *Postgres) GetSolveJob(ctx context.Context, tenantID, id string) (model.SolveJob, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM solve_jobs WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	job, err := scanJob(row, tenantID)
	if errors.Is(err, sql.ErrNoRows) { return model.SolveJob{}, ErrNotFound }
	return job, err
}

func (p *Postgres) ListSolveJobs(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolveJob, string, error) {
	limit = pageSize(limit)
	rows, err := tenantQuery(`SELECT `+jobColumns+` FROM solve_jobs`, tenantID).
		andIf(status != "", "status=?", status).
		page(cursor, limit).
		rows(ctx, p.db)
	if err != nil { return nil, "", err }
	return collectPage(rows, limit, func(rows *sql.Rows) (model.SolveJob, string, error) {
		job, err := scanJob(rows, tenantID)
		return job, job.ID, err
	})
}

func (p *Postgres) UpdateSolveJob(ctx context.Context, job model.SolveJob) error {
	var res, prog any
	if job.Result != nil { res, _ = json.Marshal(job.Result) }
	if job.Progress != nil { prog, _ = json.Marshal(job.Progress) }
	return execOne(ctx, p.db, `UPDATE solve_jobs SET status=$3, result=$4, progress=$5, error=$6, started_at=$7, finished_at=$8 WHERE tenant_id=$1 AND id::text=$2`,
		job.TenantID, job.ID, job.Status, res, prog, nullIfEmpty(job.Error), job.StartedAt, job.FinishedAt)
}

// Heuristic metrics
func (p *Postgres) SaveHeuristicMetrics(ctx context.Context, tenantID, jobID, algo string, metrics map[string]any) error {
	js, err := json.Marshal(metrics)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO heuristic_metrics (tenant_id, job_id, algo, metrics, created_at) VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id, job_id, algo) DO UPDATE SET metrics=$4, created_at=now()`, tenantID, jobID, algo, js)
	return err
}

func (p *Postgres) ListHeuristicMetrics(ctx context.Context, tenantID, jobID, algo string) ([]map[string]any, error) {
	q := tenantQuery(`SELECT algo, metrics FROM heuristic_metrics`, tenantID).
		and("job_id=?", jobID).
		andIf(algo != "", "algo=?", algo)
	q.b.WriteString(" ORDER BY algo")
	rows, err := q.rows(ctx, p.db)
	if err != nil { return nil, err }
	items, _, err := collectPage(rows, 0, func(rows *sql.Rows) (map[string]any, string, error) {
		var a string
		var js []byte
		if err := rows.Scan(&a, &js); err != nil { return nil, "", err }
		item := map[string]any{}
		if err := json.Unmarshal(js, &item); err != nil { return nil, "", err }
		item["algo"] = a
		return item, "", nil
	})
	return items, err
}

// Solver config
func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	row := p.db.QueryRowContext(ctx, `SELECT config FROM solver_config WHERE tenant_id=$1`, tenantID)
	var js []byte
	if err := row.Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) { return nil, nil }
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
	return cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	js, err := json.Marshal(cfg)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO solver_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
	return err
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

// Package runner executes solve jobs on a bounded worker pool and reports
// their progress to the event broker, the store and webhook subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/config"
	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/events"
	"cvrpbc/internal/metrics"
	"cvrpbc/internal/model"
	"cvrpbc/internal/opt"
	"cvrpbc/internal/store"
	"cvrpbc/internal/webhooks"
)

var (
	ErrQueueFull   = errors.New("solve queue is full")
	ErrJobFinished = errors.New("solve job already finished")
	ErrClosed      = errors.New("runner closed")
)

const heuristicAlgo = "alns"

// SolveFunc runs one branch-and-cut solve.
type SolveFunc func(ctx context.Context, inst *cvrp.Instance, cfg cvrp.SolveConfig) (*cvrp.Solution, error)

type Options struct {
	Solver    config.SolverConfig
	QueueSize int
	Logger    log.FieldLogger
	// Solve defaults to cvrp.BuildAndSolve.
	Solve SolveFunc
}

type Runner struct {
	store  store.Store
	broker events.EventBroker
	pub    *webhooks.Publisher
	opts   Options
	logger log.FieldLogger

	pool  *ants.PoolWithFunc
	queue chan *task
	wg    sync.WaitGroup
	done  chan struct{}

	mu     sync.Mutex
	active map[string]*task
	closed bool
}

type task struct {
	job       model.SolveJob
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

func New(st store.Store, broker events.EventBroker, pub *webhooks.Publisher, opts Options) (*Runner, error) {
	if opts.Solver.Workers < 1 {
		opts.Solver.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Solve == nil {
		opts.Solve = cvrp.BuildAndSolve
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	r := &Runner{
		store:  st,
		broker: broker,
		pub:    pub,
		opts:   opts,
		logger: opts.Logger.WithField("component", "runner"),
		queue:  make(chan *task, opts.QueueSize),
		done:   make(chan struct{}),
		active: map[string]*task{},
	}
	pool, err := ants.NewPoolWithFunc(opts.Solver.Workers, func(arg interface{}) {
		defer r.wg.Done()
		r.run(arg.(*task))
	})
	if err != nil {
		return nil, fmt.Errorf("solve pool: %w", err)
	}
	r.pool = pool
	go r.dispatch()
	return r, nil
}

// dispatch hands queued tasks to the pool in submission order. Invoke blocks
// while every worker is busy.
func (r *Runner) dispatch() {
	defer close(r.done)
	for t := range r.queue {
		if err := r.pool.Invoke(t); err != nil {
			r.logger.WithError(err).WithField("job", t.job.ID).Error("invoke failed")
			metrics.JobsInFlight.WithLabelValues(model.JobQueued).Dec()
			r.finish(t, nil, err)
			r.wg.Done()
		}
	}
}

// Submit records a queued job for an existing instance and schedules it.
func (r *Runner) Submit(ctx context.Context, tenantID string, req model.SolveRequest) (model.SolveJob, error) {
	if _, err := r.store.GetInstance(ctx, tenantID, req.InstanceID); err != nil {
		return model.SolveJob{}, err
	}
	req.TenantID = tenantID
	job, err := r.store.CreateSolveJob(ctx, model.SolveJob{TenantID: tenantID, InstanceID: req.InstanceID, Status: model.JobQueued, Request: req})
	if err != nil {
		return model.SolveJob{}, err
	}
	jctx, cancel := context.WithCancel(context.Background())
	t := &task{job: job, ctx: jctx, cancel: cancel}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		r.finish(t, nil, ErrClosed)
		return model.SolveJob{}, ErrClosed
	}
	r.wg.Add(1)
	select {
	case r.queue <- t:
		r.active[job.ID] = t
		r.mu.Unlock()
	default:
		r.wg.Done()
		r.mu.Unlock()
		cancel()
		r.finish(t, nil, ErrQueueFull)
		return model.SolveJob{}, ErrQueueFull
	}
	metrics.JobsInFlight.WithLabelValues(model.JobQueued).Inc()
	r.logger.WithFields(log.Fields{"job": job.ID, "tenant": tenantID, "instance": req.InstanceID}).Info("solve queued")
	return job, nil
}

// Cancel stops a queued or running job. The job ends as cancelled and keeps
// the best routes found so far.
func (r *Runner) Cancel(ctx context.Context, tenantID, id string) error {
	job, err := r.store.GetSolveJob(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if job.Done() {
		return ErrJobFinished
	}
	r.mu.Lock()
	t := r.active[id]
	if t != nil {
		t.cancelled = true
	}
	r.mu.Unlock()
	if t == nil {
		// accepted by another replica
		return ErrJobFinished
	}
	t.cancel()
	return nil
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Close stops accepting jobs, cancels the ones in flight and waits for them.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, t := range r.active {
		t.cancelled = true
		t.cancel()
	}
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	r.wg.Wait()
	r.pool.Release()
}

func (r *Runner) run(t *task) {
	metrics.JobsInFlight.WithLabelValues(model.JobQueued).Dec()
	job := &t.job
	logger := r.logger.WithFields(log.Fields{"job": job.ID, "tenant": job.TenantID})
	if t.ctx.Err() != nil {
		r.finish(t, nil, t.ctx.Err())
		return
	}

	metrics.JobsInFlight.WithLabelValues(model.JobRunning).Inc()
	defer metrics.JobsInFlight.WithLabelValues(model.JobRunning).Dec()
	started := time.Now().UTC()
	job.Status = model.JobRunning
	job.StartedAt = &started
	r.save(job, logger)
	r.broker.Publish(job.ID, events.Event{Type: events.SolveStarted, Data: map[string]any{"jobId": job.ID, "instanceId": job.InstanceID}})

	inst, cfg, err := r.prepare(t.ctx, job, logger)
	if err != nil {
		r.finish(t, nil, err)
		return
	}
	logger.WithFields(log.Fields{"time_limit": cfg.TimeLimit, "lazy": cfg.LazyConstraints, "cut_bound": cfg.Options.CutBound.String()}).Info("solve started")
	sol, err := r.opts.Solve(t.ctx, inst, cfg)
	r.finish(t, sol, err)
}

func (r *Runner) prepare(ctx context.Context, job *model.SolveJob, logger log.FieldLogger) (*cvrp.Instance, cvrp.SolveConfig, error) {
	rec, err := r.store.GetInstance(ctx, job.TenantID, job.InstanceID)
	if err != nil {
		return nil, cvrp.SolveConfig{}, fmt.Errorf("load instance %s: %w", job.InstanceID, err)
	}
	inst, err := cvrp.Load(strings.NewReader(rec.Data))
	if err != nil {
		return nil, cvrp.SolveConfig{}, err
	}
	inst.Name = rec.Name
	tenantCfg, err := r.store.GetSolverConfig(ctx, job.TenantID)
	if err != nil {
		return nil, cvrp.SolveConfig{}, err
	}
	cfg, err := Resolve(r.opts.Solver, tenantCfg, job.Request)
	if err != nil {
		return nil, cvrp.SolveConfig{}, err
	}
	cutBound := cfg.Options.CutBound.String()
	cfg.Logger = logger
	cfg.OnIncumbent = func(p cvrp.Progress) {
		metrics.Incumbents.Inc()
		job.Progress = &model.Progress{
			Objective: p.Objective, Bound: p.Bound, TotalCost: p.TotalCost, Vehicles: p.Vehicles,
			Nodes: p.Nodes, LazyCuts: p.LazyCuts, ElapsedMs: p.Elapsed.Milliseconds(),
		}
		r.save(job, logger)
		r.broker.Publish(job.ID, events.Event{Type: events.SolveIncumbent, Data: progressData(job.ID, job.Progress)})
	}
	cfg.OnCut = func(c cvrp.Cut) {
		metrics.LazyCuts.WithLabelValues(cutBound).Inc()
		r.broker.Publish(job.ID, events.Event{Type: events.SolveCut, Data: map[string]any{
			"jobId": job.ID, "set": c.Set, "demand": c.Demand, "rhs": c.RHS, "depot": c.Cycle.ContainsDepot,
		}})
	}
	cfg.OnHeuristic = func(m opt.Metrics) {
		opt.RecordMetrics(job.TenantID, job.ID, heuristicAlgo, m)
		if err := r.store.SaveHeuristicMetrics(context.Background(), job.TenantID, job.ID, heuristicAlgo, HeuristicMetricsMap(m)); err != nil {
			logger.WithError(err).Warn("save heuristic metrics")
		}
	}
	return inst, cfg, nil
}

// finish records the terminal state of a job. A job cancelled by the user is
// cancelled even when the search returned routes.
func (r *Runner) finish(t *task, sol *cvrp.Solution, err error) {
	job := &t.job
	logger := r.logger.WithFields(log.Fields{"job": job.ID, "tenant": job.TenantID})
	r.mu.Lock()
	cancelled := t.cancelled
	delete(r.active, job.ID)
	r.mu.Unlock()
	t.cancel()

	now := time.Now().UTC()
	job.FinishedAt = &now
	if sol != nil {
		job.Result = resultFromSolution(sol)
	}
	evt := events.Event{Data: map[string]any{"jobId": job.ID}}
	switch {
	case cancelled:
		job.Status = model.JobCancelled
		evt.Type = events.SolveCancelled
	case err != nil:
		job.Status = model.JobFailed
		job.Error = err.Error()
		evt.Type = events.SolveFailed
		evt.Data["error"] = job.Error
	default:
		job.Status = model.JobCompleted
		evt.Type = events.SolveCompleted
	}
	if job.Result != nil {
		evt.Data["totalCost"] = job.Result.TotalCost
		evt.Data["vehicles"] = job.Result.Vehicles
		evt.Data["searchStatus"] = job.Result.SearchStatus
		evt.Data["optimal"] = job.Result.Optimal
	}
	r.save(job, logger)
	r.broker.Publish(job.ID, evt)
	if r.pub != nil {
		r.pub.Emit(context.Background(), job.TenantID, evt.Type, evt.Data)
	}

	search := ""
	if job.Result != nil {
		search = job.Result.SearchStatus
		metrics.Nodes.Observe(float64(job.Result.Nodes))
	}
	metrics.Solves.WithLabelValues(job.Status, search).Inc()
	if job.StartedAt != nil {
		metrics.SolveDuration.Observe(now.Sub(*job.StartedAt).Seconds())
	}
	fields := log.Fields{"status": job.Status}
	if job.Result != nil {
		fields["cost"] = job.Result.TotalCost
		fields["vehicles"] = job.Result.Vehicles
	}
	if job.Status == model.JobFailed {
		logger.WithError(err).WithFields(fields).Error("solve failed")
		return
	}
	logger.WithFields(fields).Info("solve finished")
}

func (r *Runner) save(job *model.SolveJob, logger log.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.UpdateSolveJob(ctx, *job); err != nil {
		logger.WithError(err).Warn("persist solve job")
	}
}

func resultFromSolution(sol *cvrp.Solution) *model.SolveResult {
	res := &model.SolveResult{
		Routes:       make([]model.RouteOut, 0, len(sol.Routes)),
		TotalCost:    sol.TotalCost,
		Vehicles:     sol.Vehicles,
		Objective:    sol.Objective,
		Bound:        sol.Bound,
		SearchStatus: sol.Status,
		Optimal:      sol.Optimal,
		Nodes:        sol.Stats.Nodes,
		LPs:          sol.Stats.LPs,
		LazyCuts:     sol.Stats.LazyCuts,
		RuntimeMs:    sol.Stats.Runtime.Milliseconds(),
		Overload:     sol.Overload,
	}
	for _, rt := range sol.Routes {
		res.Routes = append(res.Routes, model.RouteOut{Customers: rt.Customers, Demand: rt.Demand, Cost: rt.Cost})
	}
	return res
}

func progressData(jobID string, p *model.Progress) map[string]any {
	return map[string]any{
		"jobId": jobID, "objective": p.Objective, "bound": p.Bound, "totalCost": p.TotalCost,
		"vehicles": p.Vehicles, "nodes": p.Nodes, "lazyCuts": p.LazyCuts, "elapsedMs": p.ElapsedMs,
	}
}

// HeuristicMetricsMap flattens warm start metrics for storage and the admin API.
func HeuristicMetricsMap(m opt.Metrics) map[string]any {
	return map[string]any{
		"iterations":            m.Iterations,
		"improvements":          m.Improvements,
		"acceptedWorse":         m.AcceptedWorse,
		"bestCost":              m.BestCost,
		"finalCost":             m.FinalCost,
		"removalSelects":        []int{m.RemovalSelects[0], m.RemovalSelects[1]},
		"insertSelects":         []int{m.InsertSelects[0], m.InsertSelects[1]},
		"finalRemovalWeights":   []float64{m.FinalRemovalWeights[0], m.FinalRemovalWeights[1]},
		"finalInsertionWeights": []float64{m.FinalInsertionWeights[0], m.FinalInsertionWeights[1]},
	}
}

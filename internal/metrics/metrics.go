// Package metrics holds the Prometheus collectors of the solver service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var httpLabels = []string{"method", "path", "status"}

// HTTP
var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests.",
	}, httpLabels)
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, httpLabels)
)

// Webhooks, labelled by event type and delivery outcome.
var (
	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook deliveries by event type and status.",
	}, []string{"event_type", "status"})
	WebhookLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_delivery_latency_ms",
		Help:    "Webhook delivery latency in ms.",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"event_type", "status"})
)

// Solver
var (
	// Solves is labelled by job status and the final search status.
	Solves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cvrp", Name: "solves_total",
		Help: "Finished solve jobs by job status and search status.",
	}, []string{"status", "search_status"})
	SolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cvrp", Name: "solve_duration_seconds",
		Help:    "Wall time of solve jobs in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
	})
	LazyCuts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cvrp", Name: "lazy_cuts_total",
		Help: "Capacity cuts submitted as lazy constraints.",
	}, []string{"cut_bound"})
	Nodes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cvrp", Name: "search_nodes",
		Help:    "Branch-and-bound nodes per solve.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	Incumbents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cvrp", Name: "incumbents_total",
		Help: "Improving solutions found across all solves.",
	})
	// JobsInFlight has state "queued" or "running".
	JobsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cvrp", Name: "jobs_in_flight",
		Help: "Solve jobs waiting or running.",
	}, []string{"state"})
)

var register sync.Once

// RegisterDefault adds every collector, plus the Go and process collectors,
// to Registry. Later calls are no-ops.
func RegisterDefault() {
	register.Do(func() {
		Registry.MustRegister(
			HTTPRequests, HTTPDuration,
			WebhookDeliveries, WebhookLatency,
			Solves, SolveDuration, LazyCuts, Nodes, Incumbents, JobsInFlight,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/auth"
	"cvrpbc/internal/config"
	"cvrpbc/internal/events"
	"cvrpbc/internal/integrations"
	"cvrpbc/internal/integrations/dirsource"
	"cvrpbc/internal/metrics"
	"cvrpbc/internal/runner"
	"cvrpbc/internal/store"
	"cvrpbc/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  events.EventBroker
	Runner  *runner.Runner
	Sources *integrations.Registry

	limiter *tenantLimiter
}

// NewServer wires the service from cfg. Without a database URL the store is
// in memory; without a Redis URL events stay in process.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := sp.MigrateDir(cfg.Database.MigrationsDir); err != nil {
				return nil, err
			}
		}
		s = sp
	}
	var broker events.EventBroker = events.NewBroker()
	if cfg.Redis.URL != "" {
		if rb, err := events.NewRedisBroker(cfg.Redis.URL); err == nil {
			broker = rb
		} else {
			log.WithError(err).Warn("redis broker unavailable, using in-process events")
		}
	}
	pub := webhooks.NewPublisher(s)
	run, err := runner.New(s, broker, pub, runner.Options{Solver: cfg.Solver})
	if err != nil {
		return nil, err
	}
	return &Server{
		Cfg:     cfg,
		Store:   s,
		Pub:     pub,
		Auth:    auth.NewVerifier(cfg.Auth),
		Broker:  broker,
		Runner:  run,
		Sources: integrations.NewRegistry(dirsource.New(cfg.Solver.InstanceDir)),
		limiter: newTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
	}, nil
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Instances
	mux.HandleFunc("/v1/instances", s.InstancesHandler)
	mux.HandleFunc("/v1/instances/", s.InstanceByIDHandler)
	mux.HandleFunc("/v1/sources", s.SourcesHandler)
	mux.HandleFunc("/v1/sources/", s.SourceByNameHandler)

	// Solves
	mux.HandleFunc("/v1/solve", s.SolveHandler)
	mux.HandleFunc("/v1/solves", s.SolvesIndexHandler)
	mux.HandleFunc("/v1/solves/", s.SolveByIDHandler) // includes /cancel, /events/stream
	mux.HandleFunc("/v1/solver/config", s.SolverConfigHandler)
	mux.HandleFunc("/v1/ws", s.WSHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

	// Admin
	mux.HandleFunc("/v1/admin/solver/config", s.AdminSolverConfigHandler)
	mux.HandleFunc("/v1/admin/heuristic-metrics", s.HeuristicMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/webhook-metrics", s.WebhookMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq/", s.WebhookDLQHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/swagger", s.SwaggerHandler)
	metrics.RegisterDefault()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

// Handler is Routes wrapped in the access log, metrics and CORS middleware.
func (s *Server) Handler() http.Handler {
	return logMiddleware(metricsMiddleware(corsMiddleware(s.Cfg.Server.AllowOrigins, s.Routes())))
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts, s.Cfg.Webhooks.PollInterval)
}

// Close cancels running solves and releases the store and broker.
func (s *Server) Close() {
	s.Runner.Close()
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

package store

import (
	"context"
	"errors"
	"time"

	"cvrpbc/internal/model"
)

// Store is the persistence interface used by the API server and the solve runner.
type Store interface {
	// Instances
	SaveInstance(ctx context.Context, rec model.InstanceRecord) (model.InstanceRecord, error)
	GetInstance(ctx context.Context, tenantID, id string) (model.InstanceRecord, error)
	ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.InstanceRecord, string, error)
	DeleteInstance(ctx context.Context, tenantID, id string) error

	// Solve jobs
	CreateSolveJob(ctx context.Context, job model.SolveJob) (model.SolveJob, error)
	GetSolveJob(ctx context.Context, tenantID, id string) (model.SolveJob, error)
	ListSolveJobs(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolveJob, string, error)
	UpdateSolveJob(ctx context.Context, job model.SolveJob) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
	WebhookMetrics(ctx context.Context, tenantID string, since time.Time, eventType, status string, codeMin, codeMax int, buckets []int) ([]map[string]any, error)

	// Dead-letter queue
	ListWebhookDLQ(ctx context.Context, tenantID, eventType string, olderThan time.Time, codeMin, codeMax int, errorQuery, cursor string, limit int) ([]map[string]any, string, error)
	RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error
	RequeueWebhookDLQBulk(ctx context.Context, tenantID string, ids []string) error
	DeleteWebhookDLQBulk(ctx context.Context, tenantID string, ids []string, olderThan time.Time) error

	// Warm start heuristic metrics per job
	SaveHeuristicMetrics(ctx context.Context, tenantID, jobID, algo string, metrics map[string]any) error
	ListHeuristicMetrics(ctx context.Context, tenantID, jobID, algo string) ([]map[string]any, error)

	// Solver config per tenant
	GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error
}

var ErrNotFound = errors.New("not found")

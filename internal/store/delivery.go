package store

import "time"

// WebhookDelivery is one queued POST of a solve event to a subscriber.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

// Delivery states.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// defaultLatencyBuckets are the upper edges in ms used when the tenant
// solver config has none.
var defaultLatencyBuckets = []int{100, 500, 1000}

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
	UpdatedAt     time.Time
}

func (d *memDelivery) item() map[string]any {
	m := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
	if !d.NextAttemptAt.IsZero() {
		m["nextAttemptAt"] = d.NextAttemptAt
	}
	if d.LastError != "" {
		m["lastError"] = d.LastError
	}
	return m
}

// memDLQ is a dead letter: a delivery that ran out of attempts.
type memDLQ struct {
	ID, DeliveryID, TenantID string
	EventType, URL, Secret   string
	Payload                  []byte
	Attempts                 int
	LastError                string
	ResponseCode, LatencyMs  int
	CreatedAt                time.Time
}

func (d memDLQ) item() map[string]any {
	return map[string]any{
		"id":           d.ID,
		"deliveryId":   d.DeliveryID,
		"eventType":    d.EventType,
		"url":          d.URL,
		"lastError":    d.LastError,
		"attempts":     d.Attempts,
		"createdAt":    d.CreatedAt,
		"responseCode": d.ResponseCode,
		"latencyMs":    d.LatencyMs,
	}
}

// latencyBucket is the index of the first edge above ms, or len(edges)
// for the overflow bucket.
func latencyBucket(edges []int, ms int) int {
	for i, edge := range edges {
		if ms < edge {
			return i
		}
	}
	return len(edges)
}

func metricsRow(eventType, status string, count, avgMs int64, edges []int, counts []int64) map[string]any {
	return map[string]any{
		"eventType":           eventType,
		"status":              status,
		"count":               count,
		"avgLatencyMs":        avgMs,
		"latencyBucketEdges":  edges,
		"latencyBucketCounts": counts,
	}
}

package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/store"
)

// Event types delivered to subscribers.
const (
	EventSolveCompleted = "solve.completed"
	EventSolveFailed    = "solve.failed"
	EventSolveCancelled = "solve.cancelled"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues an event for every subscription of the tenant to eventType.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		log.WithError(err).WithField("event", eventType).Warn("webhook subscriptions lookup failed")
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(map[string]any{
		"id":       fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	})
	if err != nil {
		log.WithError(err).WithField("event", eventType).Error("webhook payload encode failed")
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			log.WithError(err).WithFields(log.Fields{"event": eventType, "subscription": s.ID}).Warn("webhook enqueue failed")
		}
	}
}

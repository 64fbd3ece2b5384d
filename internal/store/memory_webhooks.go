package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"cvrpbc/internal/model"
)

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs[tenantID] {
		if slices.Contains(s.Events, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[tenantID]
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	ids, next := page(ids, cursor, limit)
	out := make([]model.Subscription, 0, len(ids))
	for _, sub := range subs {
		if slices.Contains(ids, sub.ID) {
			out = append(out, sub)
		}
	}
	return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[tenantID]
	i := slices.IndexFunc(subs, func(s model.Subscription) bool { return s.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	m.subs[tenantID] = slices.Delete(slices.Clone(subs), i, i+1)
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.Join([]string{tenantID, eventType, url, computeDedupKey(payload)}, "|")
	if id, dup := m.dedup[key]; dup {
		return id, nil
	}
	now := time.Now()
	d := &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: uuid.New().String(), TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   now,
		UpdatedAt:       now,
	}
	m.deliveries[d.ID] = d
	m.order = append(m.order, d.ID)
	m.dedup[key] = d.ID
	return d.ID, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		due := (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now)
		if !due {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// attempt records the outcome fields shared by every attempt.
func (d *memDelivery) attempt(status, lastError string, responseCode, latencyMs int) {
	d.Status = status
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	d.UpdatedAt = time.Now()
	if lastError != "" {
		d.LastError = lastError
	}
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	if success {
		d.attempt(DeliveryDelivered, "", responseCode, latencyMs)
		at := d.UpdatedAt
		d.DeliveredAt = &at
		return nil
	}
	d.attempt(DeliveryRetry, lastError, responseCode, latencyMs)
	d.NextAttemptAt = d.UpdatedAt.Add(time.Minute)
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.attempt(DeliveryFailed, lastError, responseCode, latencyMs)
	m.dlq = append(m.dlq, memDLQ{
		ID:           uuid.New().String(),
		DeliveryID:   id,
		TenantID:     d.TenantID,
		EventType:    d.EventType,
		URL:          d.URL,
		Secret:       d.Secret,
		Payload:      d.Payload,
		Attempts:     d.Attempts + 1,
		LastError:    lastError,
		ResponseCode: responseCode,
		LatencyMs:    latencyMs,
		CreatedAt:    d.UpdatedAt,
	})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		if d := m.deliveries[id]; d.TenantID == tenantID && (status == "" || d.Status == status) {
			ids = append(ids, id)
		}
	}
	ids, next := page(ids, cursor, limit)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.deliveries[id].item())
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}

// codeInRange treats a zero bound as open.
func codeInRange(code, lo, hi int) bool {
	return (lo <= 0 || code >= lo) && (hi <= 0 || code <= hi)
}

func (m *Memory) WebhookMetrics(ctx context.Context, tenantID string, since time.Time, eventType, status string, codeMin, codeMax int, buckets []int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}
	type group struct {
		count, sumMs int64
		counts       []int64
	}
	groups := map[[2]string]*group{}
	for _, id := range m.order {
		d := m.deliveries[id]
		switch {
		case d.TenantID != tenantID, d.UpdatedAt.Before(since),
			eventType != "" && d.EventType != eventType,
			status != "" && d.Status != status,
			!codeInRange(d.ResponseCode, codeMin, codeMax):
			continue
		}
		k := [2]string{d.EventType, d.Status}
		g := groups[k]
		if g == nil {
			g = &group{counts: make([]int64, len(buckets)+1)}
			groups[k] = g
		}
		g.count++
		g.sumMs += int64(max(d.LatencyMs, 0))
		g.counts[latencyBucket(buckets, d.LatencyMs)]++
	}
	keys := make([][2]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i][0] < keys[j][0] || keys[i][0] == keys[j][0] && keys[i][1] < keys[j][1]
	})
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		out = append(out, metricsRow(k[0], k[1], g.count, g.sumMs/g.count, buckets, g.counts))
	}
	return out, nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID, eventType string, olderThan time.Time, codeMin, codeMax int, errorQuery, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	errorQuery = strings.ToLower(errorQuery)
	var ids []string
	byID := map[string]memDLQ{}
	for _, d := range m.dlq {
		switch {
		case d.TenantID != tenantID,
			eventType != "" && d.EventType != eventType,
			!olderThan.IsZero() && !d.CreatedAt.Before(olderThan),
			!codeInRange(d.ResponseCode, codeMin, codeMax),
			!strings.Contains(strings.ToLower(d.LastError), errorQuery):
			continue
		}
		ids = append(ids, d.ID)
		byID[d.ID] = d
	}
	ids, next := page(ids, cursor, limit)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id].item())
	}
	return out, next, nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
	return m.RequeueWebhookDLQBulk(ctx, tenantID, []string{id})
}

// RequeueWebhookDLQBulk re-arms the original deliveries and drops the
// letters. Nothing changes when one of the ids is unknown.
func (m *Memory) RequeueWebhookDLQBulk(ctx context.Context, tenantID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if m.dlqIndex(tenantID, id) < 0 {
			return ErrNotFound
		}
	}
	now := time.Now()
	for _, id := range ids {
		i := m.dlqIndex(tenantID, id)
		if d := m.deliveries[m.dlq[i].DeliveryID]; d != nil {
			d.Status = DeliveryPending
			d.Attempts = 0
			d.NextAttemptAt = now
		}
		m.dlq = slices.Delete(m.dlq, i, i+1)
	}
	return nil
}

func (m *Memory) DeleteWebhookDLQBulk(ctx context.Context, tenantID string, ids []string, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 && olderThan.IsZero() {
		return nil
	}
	m.dlq = slices.DeleteFunc(m.dlq, func(d memDLQ) bool {
		if d.TenantID != tenantID {
			return false
		}
		if len(ids) > 0 {
			return slices.Contains(ids, d.ID)
		}
		return d.CreatedAt.Before(olderThan)
	})
	return nil
}

func (m *Memory) dlqIndex(tenantID, id string) int {
	return slices.IndexFunc(m.dlq, func(d memDLQ) bool { return d.ID == id && d.TenantID == tenantID })
}

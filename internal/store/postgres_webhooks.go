package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cvrpbc/internal/model"
)

const subscriptionColumns = `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions`

func scanSubscription(tenantID string) func(*sql.Rows) (model.Subscription, string, error) {
	return func(rows *sql.Rows) (model.Subscription, string, error) {
		s := model.Subscription{TenantID: tenantID}
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return s, "", err
		}
		_ = json.Unmarshal(ev, &s.Events)
		return s, s.ID, nil
	}
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	ev, _ := json.Marshal(s.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, s.ID, s.TenantID, s.URL, ev, s.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	filter, _ := json.Marshal([]string{eventType})
	rows, err := tenantQuery(subscriptionColumns, tenantID).and("events @> ?::jsonb", string(filter)).rows(ctx, p.db)
	if err != nil {
		return nil, err
	}
	subs, _, err := collectPage(rows, 0, scanSubscription(tenantID))
	return subs, err
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = pageSize(limit)
	rows, err := tenantQuery(subscriptionColumns, tenantID).page(cursor, limit).rows(ctx, p.db)
	if err != nil {
		return nil, "", err
	}
	return collectPage(rows, limit, scanSubscription(tenantID))
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	return execOne(ctx, p.db, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
}

// EnqueueWebhook queues a delivery unless one with the same dedup key is
// already queued for the tenant, event type and URL.
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
		ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`,
		id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	due, _, err := collectPage(rows, 0, func(rows *sql.Rows) (WebhookDelivery, string, error) {
		var d WebhookDelivery
		err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts)
		return d, d.ID, err
	})
	return due, err
}

// MarkWebhookDelivery records an attempt. A failed attempt is retried at
// nextAttemptAt, or a minute from now when nil.
func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	retryAt := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		retryAt = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), retryAt, responseCode, latencyMs)
	return err
}

// FailWebhookDelivery marks a delivery failed and copies it to the dead
// letter queue in one transaction.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
			id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
			SELECT $3, tenant_id, id, event_type, url, secret, payload, attempts+1, $2, response_code, latency_ms FROM webhook_deliveries WHERE id=$1`,
			id, nullIfEmpty(lastError), uuid.New().String())
		return err
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	limit = pageSize(limit)
	rows, err := tenantQuery(`SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries`, tenantID).
		andIf(status != "", "status=?", status).
		page(cursor, limit).
		rows(ctx, p.db)
	if err != nil {
		return nil, "", err
	}
	return collectPage(rows, limit, func(rows *sql.Rows) (map[string]any, string, error) {
		var d memDelivery
		var nextAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.EventType, &d.Status, &d.Attempts, &nextAt, &d.LastError, &d.URL); err != nil {
			return nil, "", err
		}
		d.NextAttemptAt = nextAt.Time
		return d.item(), d.ID, nil
	})
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	return execOne(ctx, p.db, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
}

// WebhookMetrics groups deliveries updated since the given time by event
// type and status, with latency histogram counts for the bucket edges.
func (p *Postgres) WebhookMetrics(ctx context.Context, tenantID string, since time.Time, eventType, status string, codeMin, codeMax int, buckets []int) ([]map[string]any, error) {
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}
	cols := []string{"event_type", "status", "COUNT(*)", "COALESCE(AVG(latency_ms),0)::bigint"}
	lower := 0
	for _, edge := range buckets {
		cols = append(cols, fmt.Sprintf("COUNT(*) FILTER (WHERE COALESCE(latency_ms,0) >= %d AND COALESCE(latency_ms,0) < %d)", lower, edge))
		lower = edge
	}
	cols = append(cols, fmt.Sprintf("COUNT(*) FILTER (WHERE COALESCE(latency_ms,0) >= %d)", lower))
	q := tenantQuery(`SELECT `+strings.Join(cols, ", ")+` FROM webhook_deliveries`, tenantID).
		and("updated_at >= ?", since).
		andIf(eventType != "", "event_type=?", eventType).
		andIf(status != "", "status=?", status).
		andIf(codeMin > 0, "COALESCE(response_code,0) >= ?", codeMin).
		andIf(codeMax > 0, "COALESCE(response_code,0) <= ?", codeMax)
	q.b.WriteString(" GROUP BY event_type, status ORDER BY event_type, status")
	rows, err := q.rows(ctx, p.db)
	if err != nil {
		return nil, err
	}
	out, _, err := collectPage(rows, 0, func(rows *sql.Rows) (map[string]any, string, error) {
		var et, st string
		var cnt, avg int64
		counts := make([]int64, len(buckets)+1)
		dest := []any{&et, &st, &cnt, &avg}
		for i := range counts {
			dest = append(dest, &counts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, "", err
		}
		return metricsRow(et, st, cnt, avg, buckets, counts), "", nil
	})
	return out, err
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, tenantID, eventType string, olderThan time.Time, codeMin, codeMax int, errorQuery, cursor string, limit int) ([]map[string]any, string, error) {
	limit = pageSize(limit)
	rows, err := tenantQuery(`SELECT id::text, COALESCE(delivery_id::text,''), event_type, url, COALESCE(last_error,''), attempts, created_at, COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_dlq`, tenantID).
		andIf(eventType != "", "event_type=?", eventType).
		andIf(!olderThan.IsZero(), "created_at < ?", olderThan).
		andIf(codeMin > 0, "COALESCE(response_code,0) >= ?", codeMin).
		andIf(codeMax > 0, "COALESCE(response_code,0) <= ?", codeMax).
		andIf(errorQuery != "", "last_error ILIKE ?", "%"+errorQuery+"%").
		page(cursor, limit).
		rows(ctx, p.db)
	if err != nil {
		return nil, "", err
	}
	return collectPage(rows, limit, func(rows *sql.Rows) (map[string]any, string, error) {
		var d memDLQ
		err := rows.Scan(&d.ID, &d.DeliveryID, &d.EventType, &d.URL, &d.LastError, &d.Attempts, &d.CreatedAt, &d.ResponseCode, &d.LatencyMs)
		return d.item(), d.ID, err
	})
}

func (p *Postgres) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
	return p.RequeueWebhookDLQBulk(ctx, tenantID, []string{id})
}

// RequeueWebhookDLQBulk re-arms the original deliveries of the dead letters
// and removes the letters. The failed delivery still holds the dedup slot,
// so it is reset rather than inserted again.
func (p *Postgres) RequeueWebhookDLQBulk(ctx context.Context, tenantID string, ids []string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var et, url string
			var payload []byte
			err := tx.QueryRowContext(ctx, `DELETE FROM webhook_dlq WHERE tenant_id=$1 AND id::text=$2 RETURNING event_type, url, payload`, tenantID, id).Scan(&et, &url, &payload)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND event_type=$2 AND url=$3 AND dedup_key=$4`,
				tenantID, et, url, computeDedupKey(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteWebhookDLQBulk deletes the listed letters, or when ids is empty
// every letter created before olderThan.
func (p *Postgres) DeleteWebhookDLQBulk(ctx context.Context, tenantID string, ids []string, olderThan time.Time) error {
	switch {
	case len(ids) > 0:
		_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE tenant_id=$1 AND id::text = ANY($2)`, tenantID, ids)
		return err
	case !olderThan.IsZero():
		_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE tenant_id=$1 AND created_at < $2`, tenantID, olderThan)
		return err
	}
	return nil
}

// computeDedupKey identifies the event a payload carries. A solve reaches
// one terminal state, so its job id is enough within an event type; other
// payloads fall back to the event id, then to a short content hash.
func computeDedupKey(payload []byte) string {
	var evt struct {
		ID   string `json:"id"`
		Data struct {
			JobID string `json:"jobId"`
		} `json:"data"`
	}
	if json.Unmarshal(payload, &evt) == nil {
		if evt.Data.JobID != "" {
			return "job:" + evt.Data.JobID
		}
		if evt.ID != "" {
			return evt.ID
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

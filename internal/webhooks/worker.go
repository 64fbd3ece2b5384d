package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/metrics"
	"cvrpbc/internal/store"
)

const (
	batchSize  = 50
	maxBackoff = time.Hour
)

// Worker polls the store for due deliveries and POSTs them to subscribers.
// A delivery that fails MaxAttempts times goes to the dead letter queue.
type Worker struct {
	Store        store.Store
	HTTP         *http.Client
	Stop         chan struct{}
	MaxAttempts  int
	PollInterval time.Duration
}

func NewWorker(s store.Store, maxAttempts int, poll time.Duration) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 10
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{
		Store:        s,
		HTTP:         &http.Client{Timeout: 5 * time.Second},
		Stop:         make(chan struct{}),
		MaxAttempts:  maxAttempts,
		PollInterval: poll,
	}
}

// Start polls until Stop is closed.
func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

// outcome is the result of one POST.
type outcome struct {
	code      int
	latencyMs int
	err       error
	// fatal marks a request that could not be built; retrying cannot help.
	fatal bool
}

func (o outcome) ok() bool { return o.err == nil && o.code >= 200 && o.code < 300 }

func (o outcome) reason() string {
	switch {
	case o.err != nil:
		return o.err.Error()
	case !o.ok():
		return fmt.Sprintf("status %d", o.code)
	}
	return ""
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	due, err := w.Store.FetchDueWebhookDeliveries(ctx, batchSize)
	if err != nil {
		log.WithError(err).Warn("fetch due webhooks failed")
		return
	}
	for _, d := range due {
		w.settle(ctx, d, w.post(ctx, d))
	}
}

func (w *Worker) post(ctx context.Context, d store.WebhookDelivery) outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return outcome{err: err, fatal: true}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.EventType)
	if d.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(d.Secret, d.Payload, time.Now()))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	o := outcome{latencyMs: int(time.Since(start).Milliseconds()), err: err}
	if err == nil {
		o.code = resp.StatusCode
		_ = resp.Body.Close()
	}
	return o
}

// settle records the attempt: delivered, retried with backoff, or dead
// lettered once the attempts are used up.
func (w *Worker) settle(ctx context.Context, d store.WebhookDelivery, o outcome) {
	attempt := d.Attempts + 1
	status := store.DeliveryDelivered
	switch {
	case o.ok():
	case attempt >= w.MaxAttempts || o.fatal:
		status = store.DeliveryFailed
	default:
		status = store.DeliveryRetry
	}
	metrics.WebhookDeliveries.WithLabelValues(d.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(d.EventType, status).Observe(float64(o.latencyMs))
	logger := log.WithFields(log.Fields{"delivery": d.ID, "event": d.EventType, "code": o.code, "attempt": attempt})

	if status == store.DeliveryFailed {
		logger.WithField("error", o.reason()).Warn("webhook moved to dead-letter queue")
		if err := w.Store.FailWebhookDelivery(ctx, d.ID, o.reason(), o.code, o.latencyMs); err != nil {
			logger.WithError(err).Error("webhook fail bookkeeping")
		}
		return
	}
	logger.Debugf("webhook %s", status)
	next := time.Now().Add(nextBackoff(d.Attempts))
	if err := w.Store.MarkWebhookDelivery(ctx, d.ID, o.ok(), &next, o.reason(), o.code, o.latencyMs); err != nil {
		logger.WithError(err).Error("webhook mark bookkeeping")
	}
}

// nextBackoff doubles from one second per attempt, capped at an hour.
func nextBackoff(attempts int) time.Duration {
	attempts = min(max(attempts, 0), 10)
	return min(time.Second<<attempts, maxBackoff)
}

package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/model"
	"cvrpbc/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}

type failRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnceSuccessAndSignature(t *testing.T) {
	body := []byte(`{"id":"evt1"}`)
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("X-Event-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventSolveCompleted, srv.URL, "secret", body)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	w.processOnce()

	assert.Equal(t, EventSolveCompleted, gotType)
	assert.True(t, Verify("secret", body, gotSig, time.Now(), 5*time.Minute))
	assert.False(t, Verify("other", body, gotSig, time.Now(), 5*time.Minute))
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)
	assert.Equal(t, 200, rs.marks[0].Code)
}

func TestWorkerProcessOnceRetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 2}
	_, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventSolveFailed, srv.URL, "", []byte(`{"id":"evt2"}`))
	require.NoError(t, err)

	w.processOnce()
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, "status 500", rs.marks[0].LastErr)
	assert.Empty(t, rs.fails)

	// the retry is scheduled in the future; nothing is due yet
	w.processOnce()
	assert.Len(t, rs.marks, 1)
}

func TestWorkerProcessOnceFailMovesToDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 1}
	_, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventSolveFailed, srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce()
	require.Len(t, rs.fails, 1)
	assert.Equal(t, http.StatusBadGateway, rs.fails[0].Code)
	dlq, _, err := rs.ListWebhookDLQ(context.Background(), "t1", "", time.Time{}, 0, 0, "", "", 10)
	require.NoError(t, err)
	assert.Len(t, dlq, 1)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, 1024*time.Second, nextBackoff(50))
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(store.NewMemory(), 0, 0)
	assert.Equal(t, 10, w.MaxAttempts)
	assert.Equal(t, time.Second, w.PollInterval)
}

func TestPublisherEmitEnqueuesPerSubscription(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{EventSolveCompleted}, Secret: "s"})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{EventSolveFailed}})
	require.NoError(t, err)

	NewPublisher(m).Emit(ctx, "t1", EventSolveCompleted, map[string]any{"jobId": "j1", "totalCost": 4})

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "http://a", due[0].URL)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(due[0].Payload, &payload))
	assert.Equal(t, EventSolveCompleted, payload["type"])
	assert.Equal(t, "t1", payload["tenantId"])
	assert.Equal(t, "j1", payload["data"].(map[string]any)["jobId"])
}

func TestSignatureVerify(t *testing.T) {
	body := []byte(`{"type":"solve.completed"}`)
	at := time.Unix(1_700_000_000, 0)
	sig := Sign("k", body, at)
	assert.True(t, strings.HasPrefix(sig, "t=1700000000,v1="))

	assert.True(t, Verify("k", body, sig, at.Add(time.Minute), 5*time.Minute))
	assert.False(t, Verify("k", body, sig, at.Add(time.Hour), 5*time.Minute), "stale")
	assert.True(t, Verify("k", body, sig, at.Add(time.Hour), 0), "no age check")
	assert.False(t, Verify("k", []byte(`{}`), sig, at, 0), "body changed")
	// moving the timestamp invalidates the MAC
	forged := strings.Replace(sig, "t=1700000000", "t=1700003600", 1)
	assert.False(t, Verify("k", body, forged, at.Add(time.Hour), 5*time.Minute))
	assert.False(t, Verify("k", body, "garbage", at, 0))
	assert.False(t, Verify("k", body, "t=1,v1=zz", at, 0))
}

func TestWorkerBadURLGoesStraightToDLQ(t *testing.T) {
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: http.DefaultClient, Stop: make(chan struct{}), MaxAttempts: 5}
	_, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventSolveCompleted, "http://bad host/\x7f", "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce()
	assert.Empty(t, rs.marks)
	require.Len(t, rs.fails, 1)
	assert.Zero(t, rs.fails[0].Code)
}

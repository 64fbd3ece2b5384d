package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricPath(t *testing.T) {
	cases := map[string]string{
		"/v1/solves":                      "/v1/solves",
		"/v1/solves/abc":                  "/v1/solves/{id}",
		"/v1/solves/abc/events/stream":    "/v1/solves/{id}/events/stream",
		"/v1/instances/42":                "/v1/instances/{id}",
		"/v1/admin/webhook-dlq/x/requeue": "/v1/admin/webhook-dlq/{id}/requeue",
		"/v1/sources/dir/import":          "/v1/sources/{id}/import",
		"/healthz":                        "/healthz",
	}
	for in, want := range cases {
		assert.Equal(t, want, metricPath(in), in)
	}
}

func TestCORS(t *testing.T) {
	h := corsMiddleware("https://app.example", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/solve", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/solve", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusRecorderKeepsFlusher(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := record(rr)
	rec.WriteHeader(http.StatusAccepted)
	_, ok := any(rec).(http.Flusher)
	assert.True(t, ok)
	rec.Flush()
	assert.True(t, rr.Flushed)
	assert.Equal(t, http.StatusAccepted, rec.status)
	assert.Same(t, rec, record(rec))
}

func TestTenantLimiter(t *testing.T) {
	assert.Nil(t, newTenantLimiter(0, 5))
	var none *tenantLimiter
	assert.True(t, none.Allow("t"))

	l := newTenantLimiter(0.001, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestResponseCodes(t *testing.T) {
	lo, hi := responseCodes(url.Values{"codeClass": {"4xx"}})
	assert.Equal(t, [2]int{400, 499}, [2]int{lo, hi})
	lo, hi = responseCodes(url.Values{"codeClass": {"5xx"}, "responseCodeMin": {"502"}})
	assert.Equal(t, [2]int{502, 0}, [2]int{lo, hi})
	lo, hi = responseCodes(url.Values{"codeClass": {"9xx"}})
	assert.Equal(t, [2]int{0, 0}, [2]int{lo, hi})
	assert.True(t, hoursAgo(0).IsZero())
	assert.Equal(t, 7, queryInt(url.Values{"limit": {"7"}}, "limit", 100))
	assert.Equal(t, 100, queryInt(url.Values{}, "limit", 100))
}

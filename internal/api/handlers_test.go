package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/auth"
	"cvrpbc/internal/config"
	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/events"
	"cvrpbc/internal/integrations"
	"cvrpbc/internal/integrations/dirsource"
	"cvrpbc/internal/model"
	"cvrpbc/internal/runner"
	"cvrpbc/internal/store"
	"cvrpbc/internal/webhooks"
)

const squareInstance = "4\n10\n0 0 0\n1 1 0\n2 1 1\n3 0 1\n0 0\n1 5\n2 5\n3 5\n"

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, solve runner.SolveFunc, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Solver.TimeLimit = time.Minute
	cfg.Solver.WarmStartBudget = 50 * time.Millisecond
	cfg.Solver.Workers = 1
	cfg.Solver.InstanceDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	st := store.NewMemory()
	broker := events.NewBroker()
	pub := webhooks.NewPublisher(st)
	quiet := log.New()
	quiet.SetOutput(io.Discard)
	run, err := runner.New(st, broker, pub, runner.Options{Solver: cfg.Solver, Logger: quiet, Solve: solve})
	require.NoError(t, err)
	s := &Server{
		Cfg:     cfg,
		Store:   st,
		Pub:     pub,
		Auth:    auth.NewVerifier(cfg.Auth),
		Broker:  broker,
		Runner:  run,
		Sources: integrations.NewRegistry(dirsource.New(cfg.Solver.InstanceDir)),
		limiter: newTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
	}
	t.Cleanup(s.Close)
	return s
}

// blockingSolve parks until the job context ends.
func blockingSolve(started chan<- struct{}) runner.SolveFunc {
	return func(ctx context.Context, inst *cvrp.Instance, cfg cvrp.SolveConfig) (*cvrp.Solution, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func uploadSquare(t *testing.T, h http.Handler) model.InstanceRecord {
	t.Helper()
	body, _ := json.Marshal(model.InstanceIn{Name: "square", Data: squareInstance})
	rr := do(t, h, http.MethodPost, "/v1/instances", string(body), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[model.InstanceRecord](t, rr)
}

func TestInstancesCRUD(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()

	rec := uploadSquare(t, h)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "square", rec.Name)
	assert.Equal(t, 4, rec.Size)
	assert.Equal(t, 10.0, rec.Capacity)
	assert.Equal(t, 15.0, rec.TotalDemand)

	rr := do(t, h, http.MethodGet, "/v1/instances", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[struct{ Items []model.InstanceRecord }](t, rr)
	require.Len(t, page.Items, 1)

	rr = do(t, h, http.MethodGet, "/v1/instances/"+rec.ID+"?format=vrp", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	inst, err := cvrp.Load(strings.NewReader(rr.Body.String()))
	require.NoError(t, err)
	assert.Equal(t, 4, inst.Size)

	rr = do(t, h, http.MethodDelete, "/v1/instances/"+rec.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/instances/"+rec.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInstanceUploadPlainTextAndStructured(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/instances?name=raw", squareInstance, map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "raw", decode[model.InstanceRecord](t, rr).Name)

	body, _ := json.Marshal(model.InstanceIn{
		Name:      "line",
		Capacity:  10,
		Positions: []model.Point{{X: 0, Y: 0}, {X: 3, Y: 4}},
		Demands:   []float64{0, 2},
	})
	rr = do(t, h, http.MethodPost, "/v1/instances", string(body), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rec := decode[model.InstanceRecord](t, rr)
	assert.Equal(t, 2, rec.Size)
	assert.Equal(t, 2.0, rec.TotalDemand)
}

func TestInstanceUploadRejected(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/instances", `{"name":"bad","data":"4\n10\n0 0 0\n"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "Invalid instance", decode[Problem](t, rr).Title)

	rr = do(t, h, http.MethodPost, "/v1/instances", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/instances", `{"name":"x","data":"1\n1\n0 0 0\n0 0\n"}`, map[string]string{"X-Role": "viewer"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestInstancesAreTenantScoped(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()
	rec := uploadSquare(t, h)

	rr := do(t, h, http.MethodGet, "/v1/instances/"+rec.ID, "", map[string]string{"X-Tenant-Id": "other"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSourcesImport(t *testing.T) {
	s := newTestServer(t, nil, nil)
	require.NoError(t, os.WriteFile(filepath.Join(s.Cfg.Solver.InstanceDir, "instance1.vrp"), []byte(squareInstance), 0o644))
	h := s.Handler()

	rr := do(t, h, http.MethodGet, "/v1/sources", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"dir"`)

	rr = do(t, h, http.MethodGet, "/v1/sources/dir/instances", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "instance1")

	rr = do(t, h, http.MethodPost, "/v1/sources/dir/import", `{}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "instance1", decode[model.InstanceRecord](t, rr).Name)

	rr = do(t, h, http.MethodPost, "/v1/sources/dir/import", `{"ref":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/sources/nope/instances", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSolveLifecycle(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()
	rec := uploadSquare(t, h)

	rr := do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"`+rec.ID+`","seed":3}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	job := decode[model.SolveJob](t, rr)
	assert.Equal(t, "/v1/solves/"+job.ID, rr.Header().Get("Location"))
	s.Runner.Wait()

	rr = do(t, h, http.MethodGet, "/v1/solves/"+job.ID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[model.SolveJob](t, rr)
	require.Equal(t, model.JobCompleted, got.Status, got.Error)
	require.NotNil(t, got.Result)
	assert.InDelta(t, 5, got.Result.TotalCost, 1e-9)
	assert.Equal(t, 2, got.Result.Vehicles)
	assert.True(t, got.Result.Optimal)

	rr = do(t, h, http.MethodGet, "/v1/solves?status=completed", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[struct{ Items []model.SolveJob }](t, rr).Items, 1)

	rr = do(t, h, http.MethodPost, "/v1/solves/"+job.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/admin/heuristic-metrics?jobId="+job.ID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"algo":"alns"`)
}

func TestSolveErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/solve", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"x","cutBound":"tight"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"x","timeLimitSec":-1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/solve", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/solves/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSolveRateLimited(t *testing.T) {
	s := newTestServer(t, nil, func(c *config.Config) { c.Rate.RPS = 0.001; c.Rate.Burst = 1 })
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"missing"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	// other tenants have their own bucket
	rr = do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"missing"}`, map[string]string{"X-Tenant-Id": "t2"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelRunningSolve(t *testing.T) {
	started := make(chan struct{}, 1)
	s := newTestServer(t, blockingSolve(started), nil)
	h := s.Handler()
	rec := uploadSquare(t, h)

	rr := do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"`+rec.ID+`"}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	job := decode[model.SolveJob](t, rr)
	<-started

	rr = do(t, h, http.MethodPost, "/v1/solves/"+job.ID+"/cancel", "", map[string]string{"X-Role": "viewer"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/solves/"+job.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	s.Runner.Wait()

	got, err := s.Store.GetSolveJob(context.Background(), "t_demo", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)
}

// readSSE collects event names until the stream ends.
func readSSE(t *testing.T, sc *bufio.Scanner) []string {
	t.Helper()
	var types []string
	for sc.Scan() {
		if ev, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			types = append(types, ev)
		}
	}
	return types
}

func TestEventStreamFinishedJob(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()
	rec := uploadSquare(t, h)
	rr := do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"`+rec.ID+`"}`, nil)
	job := decode[model.SolveJob](t, rr)
	s.Runner.Wait()

	rr = do(t, h, http.MethodGet, "/v1/solves/"+job.ID+"/events/stream", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Equal(t, []string{"solve.snapshot"}, readSSE(t, bufio.NewScanner(strings.NewReader(body))))
	assert.Contains(t, body, `"status":"completed"`)
}

func TestEventStreamLiveJob(t *testing.T) {
	started := make(chan struct{}, 1)
	s := newTestServer(t, blockingSolve(started), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	h := s.Handler()
	rec := uploadSquare(t, h)
	job := decode[model.SolveJob](t, do(t, h, http.MethodPost, "/v1/solve", `{"instanceId":"`+rec.ID+`"}`, nil))
	<-started

	resp, err := http.Get(srv.URL + "/v1/solves/" + job.ID + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: solve.snapshot", sc.Text())

	require.NoError(t, s.Runner.Cancel(context.Background(), "t_demo", job.ID))
	// the stream closes itself after the terminal event
	types := readSSE(t, sc)
	require.NotEmpty(t, types)
	assert.Equal(t, events.SolveCancelled, types[len(types)-1])
}

func TestSolverConfigEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodGet, "/v1/solver/config", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"cutBound":"rounded"`)

	rr = do(t, h, http.MethodPut, "/v1/admin/solver/config", `{"config":{"cutBound":"tight"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPut, "/v1/admin/solver/config", `{"config":{"lazyConstraints":"yes"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPut, "/v1/admin/solver/config", `{"config":{"cutBound":"fractional","timeLimitSec":30}}`, map[string]string{"X-Role": "planner"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = do(t, h, http.MethodPut, "/v1/admin/solver/config", `{"config":{"cutBound":"fractional","timeLimitSec":30}}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/solver/config", "", nil)
	assert.Contains(t, rr.Body.String(), `"cutBound":"fractional"`)
	rr = do(t, h, http.MethodGet, "/v1/admin/solver/config", "", nil)
	assert.Contains(t, rr.Body.String(), `"timeLimitSec":30`)
}

func TestSubscriptionsEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://hook"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://hook","events":["solve.completed"],"secret":"s"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	sub := decode[model.Subscription](t, rr)
	assert.Equal(t, "t_demo", sub.TenantID)

	rr = do(t, h, http.MethodGet, "/v1/subscriptions", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[struct{ Items []model.Subscription }](t, rr).Items, 1)

	rr = do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/subscriptions", "", map[string]string{"X-Role": "viewer"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	s := newTestServer(t, nil, nil)
	h := s.Handler()
	viewer := map[string]string{"X-Role": "viewer"}
	for _, path := range []string{
		"/v1/admin/heuristic-metrics?jobId=x",
		"/v1/admin/webhook-deliveries",
		"/v1/admin/webhook-metrics",
		"/v1/admin/webhook-dlq",
		"/v1/admin/solver/config",
	} {
		rr := do(t, h, http.MethodGet, path, "", viewer)
		assert.Equal(t, http.StatusForbidden, rr.Code, path)
		rr = do(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
	rr := do(t, h, http.MethodGet, "/v1/admin/heuristic-metrics", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNonDevAuthIgnoresHeaders(t *testing.T) {
	s := newTestServer(t, nil, func(c *config.Config) { c.Auth.Mode = "hmac"; c.Auth.HMACSecret = "k" })
	h := s.Handler()
	rr := do(t, h, http.MethodPost, "/v1/instances", `{"name":"x","data":"1\n1\n0 0 0\n0 0\n"}`, map[string]string{"X-Tenant-Id": "t1", "X-Role": "admin"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthAndDocs(t *testing.T) {
	s := newTestServer(t, nil, func(c *config.Config) { c.Auth.HMACSecret = "s3cret-value" })
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)

	rr := do(t, h, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/solve:")
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/swagger", "", nil).Code)

	rr = do(t, h, http.MethodGet, "/debug/info", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"solverCutBound":"rounded"`)
	assert.NotContains(t, rr.Body.String(), "s3cret-value")
	assert.Contains(t, rr.Body.String(), `"hasHmacSecret":true`)

	rr = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestNewServerInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.InstanceDir = t.TempDir()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &store.Memory{}, s.Store)
	assert.IsType(t, &events.Broker{}, s.Broker)
	assert.NotNil(t, s.NewWebhookWorker())
}

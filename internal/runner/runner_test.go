package runner

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/config"
	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/events"
	"cvrpbc/internal/model"
	"cvrpbc/internal/store"
	"cvrpbc/internal/webhooks"
)

const squareInstance = "4\n10\n0 0 0\n1 1 0\n2 1 1\n3 0 1\n0 0\n1 5\n2 5\n3 5\n"

type recordingBroker struct {
	*events.Broker
	mu   sync.Mutex
	seen []events.Event
}

func (b *recordingBroker) Publish(topic string, evt events.Event) {
	b.mu.Lock()
	b.seen = append(b.seen, evt)
	b.mu.Unlock()
	b.Broker.Publish(topic, evt)
}

func (b *recordingBroker) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.seen))
	for _, e := range b.seen {
		out = append(out, e.Type)
	}
	return out
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newRunner(t *testing.T, solve SolveFunc, workers, queue int) (*Runner, *store.Memory, *recordingBroker) {
	t.Helper()
	st := store.NewMemory()
	broker := &recordingBroker{Broker: events.NewBroker()}
	sc := config.Default().Solver
	sc.TimeLimit = time.Minute
	sc.WarmStartBudget = 50 * time.Millisecond
	sc.Workers = workers
	r, err := New(st, broker, webhooks.NewPublisher(st), Options{Solver: sc, QueueSize: queue, Logger: quietLogger(), Solve: solve})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, st, broker
}

func saveInstance(t *testing.T, st store.Store, data string) model.InstanceRecord {
	t.Helper()
	rec, err := st.SaveInstance(context.Background(), model.InstanceRecord{TenantID: "t1", Name: "square", Data: data})
	require.NoError(t, err)
	return rec
}

// blockingSolve parks until the job context ends.
func blockingSolve(started chan<- string) SolveFunc {
	return func(ctx context.Context, inst *cvrp.Instance, cfg cvrp.SolveConfig) (*cvrp.Solution, error) {
		started <- inst.Name
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestRunnerCompletesJob(t *testing.T) {
	ctx := context.Background()
	r, st, broker := newRunner(t, nil, 1, 4)
	rec := saveInstance(t, st, squareInstance)
	_, err := st.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://hook", Events: []string{events.SolveCompleted}})
	require.NoError(t, err)

	job, err := r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, job.Status)
	r.Wait()

	got, err := st.GetSolveJob(ctx, "t1", job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, got.Status, got.Error)
	require.NotNil(t, got.Result)
	assert.InDelta(t, 5, got.Result.TotalCost, 1e-9)
	assert.Equal(t, 2, got.Result.Vehicles)
	assert.True(t, got.Result.Optimal)
	assert.Equal(t, "optimal", got.Result.SearchStatus)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	types := broker.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.SolveStarted, types[0])
	assert.Equal(t, events.SolveCompleted, types[len(types)-1])
	assert.Contains(t, types, events.SolveIncumbent)

	hm, err := st.ListHeuristicMetrics(ctx, "t1", job.ID, "")
	require.NoError(t, err)
	require.Len(t, hm, 1)
	assert.Equal(t, "alns", hm[0]["algo"])

	due, err := st.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, events.SolveCompleted, due[0].EventType)
}

func TestRunnerMalformedInstanceFails(t *testing.T) {
	ctx := context.Background()
	r, st, broker := newRunner(t, nil, 1, 4)
	rec := saveInstance(t, st, "4\nten\n")

	job, err := r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID})
	require.NoError(t, err)
	r.Wait()

	got, err := st.GetSolveJob(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Contains(t, got.Error, "malformed instance")
	assert.Nil(t, got.Result)
	types := broker.types()
	assert.Equal(t, events.SolveFailed, types[len(types)-1])
}

func TestRunnerSubmitUnknownInstance(t *testing.T) {
	r, _, _ := newRunner(t, nil, 1, 4)
	_, err := r.Submit(context.Background(), "t1", model.SolveRequest{InstanceID: "nope"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunnerCancelRunningJob(t *testing.T) {
	ctx := context.Background()
	started := make(chan string, 1)
	r, st, broker := newRunner(t, blockingSolve(started), 1, 4)
	rec := saveInstance(t, st, squareInstance)

	job, err := r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("solve never started")
	}
	running, err := st.GetSolveJob(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, running.Status)

	require.NoError(t, r.Cancel(ctx, "t1", job.ID))
	r.Wait()

	got, err := st.GetSolveJob(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)
	types := broker.types()
	assert.Equal(t, events.SolveCancelled, types[len(types)-1])
	assert.ErrorIs(t, r.Cancel(ctx, "t1", job.ID), ErrJobFinished)
}

func TestRunnerQueueFull(t *testing.T) {
	ctx := context.Background()
	started := make(chan string, 8)
	r, st, _ := newRunner(t, blockingSolve(started), 1, 1)
	rec := saveInstance(t, st, squareInstance)

	_, err := r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID})
	require.NoError(t, err)
	<-started

	// one job can wait in Invoke and one in the queue
	rejected := 0
	for i := 0; i < 3; i++ {
		if _, err := r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID}); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			rejected++
		}
	}
	assert.GreaterOrEqual(t, rejected, 1)

	failed, _, err := st.ListSolveJobs(ctx, "t1", model.JobFailed, "", 10)
	require.NoError(t, err)
	assert.Len(t, failed, rejected)
}

func TestRunnerCloseCancelsInFlight(t *testing.T) {
	ctx := context.Background()
	started := make(chan string, 1)
	r, st, _ := newRunner(t, blockingSolve(started), 1, 4)
	rec := saveInstance(t, st, squareInstance)
	job, err := r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID})
	require.NoError(t, err)
	<-started

	r.Close()
	got, err := st.GetSolveJob(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)

	_, err = r.Submit(ctx, "t1", model.SolveRequest{InstanceID: rec.ID})
	assert.ErrorIs(t, err, ErrClosed)
}

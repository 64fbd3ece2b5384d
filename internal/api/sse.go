package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cvrpbc/internal/events"
	"cvrpbc/internal/model"
)

const heartbeatInterval = 15 * time.Second

// streamSolveEvents writes the job's events as server-sent events. The first
// event is a snapshot of the job; the stream ends after a terminal event.
func (s *Server) streamSolveEvents(w http.ResponseWriter, r *http.Request, tenant, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok { writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path); return }
	// subscribe before the snapshot so no event falls in between
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	job, err := s.Store.GetSolveJob(r.Context(), tenant, id)
	if err != nil { writeStoreError(w, r, "Get solve failed", err); return }

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	writeSSE(w, "solve.snapshot", job)
	flusher.Flush()
	if job.Done() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt.Type, evt.Data)
			flusher.Flush()
			if evt.Terminal() {
				return
			}
		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]string{"jobId": id, "ts": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", b)
}

// snapshotEvent renders a stored job as the event a late subscriber would
// have seen last.
func snapshotEvent(job model.SolveJob) (events.Event, bool) {
	data := map[string]any{"jobId": job.ID}
	if job.Result != nil {
		data["totalCost"] = job.Result.TotalCost
		data["vehicles"] = job.Result.Vehicles
		data["searchStatus"] = job.Result.SearchStatus
		data["optimal"] = job.Result.Optimal
	}
	switch job.Status {
	case model.JobCompleted:
		return events.Event{Type: events.SolveCompleted, Data: data}, true
	case model.JobFailed:
		data["error"] = job.Error
		return events.Event{Type: events.SolveFailed, Data: data}, true
	case model.JobCancelled:
		return events.Event{Type: events.SolveCancelled, Data: data}, true
	}
	return events.Event{}, false
}

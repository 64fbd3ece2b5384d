package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cvrpbc/internal/events"
)

// Solve events over WebSocket with graphql-transport-ws style framing:
// connection_init/connection_ack, ping/pong, subscribe/next/error/complete.
// A subscription names its job in payload.variables.solveId.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout = 60 * time.Second
	wsKeepalive   = 20 * time.Second
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type wsSub struct {
	jobID string
	ch    chan events.Event
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) fail(id, message string) {
	payload, _ := json.Marshal([]map[string]string{{"message": message}})
	_ = c.write(wsMessage{Type: "error", ID: id, Payload: payload})
}

func nextMessage(id string, evt events.Event) wsMessage {
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{"solveEvents": evt}})
	return wsMessage{Type: "next", ID: id, Payload: payload}
}

// WSHandler handles /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = raw.Close() }()
	c := &wsConn{conn: raw}

	var mu sync.Mutex
	subs := map[string]wsSub{}
	drop := func(id string) {
		mu.Lock()
		sb, ok := subs[id]
		delete(subs, id)
		mu.Unlock()
		if ok {
			s.Broker.Unsubscribe(sb.jobID, sb.ch)
		}
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		mu.Lock()
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		mu.Unlock()
		for _, id := range ids {
			drop(id)
		}
	}()

	raw.SetReadLimit(1 << 20)
	_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error { _ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout)); return nil })

	acked := false
	for {
		var msg wsMessage
		if err := raw.ReadJSON(&msg); err != nil {
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			if acked {
				continue
			}
			acked = true
			_ = c.write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(wsKeepalive)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := c.write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = c.write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			if !acked {
				c.fail(msg.ID, "connection_init required")
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			jobID, _ := pl.Variables["solveId"].(string)
			if jobID == "" {
				c.fail(msg.ID, "solveId required")
				continue
			}
			mu.Lock()
			_, dup := subs[msg.ID]
			mu.Unlock()
			if dup {
				c.fail(msg.ID, "subscription id already in use")
				continue
			}
			// subscribe before reading the job so no terminal event is missed
			ch := s.Broker.Subscribe(jobID)
			job, err := s.Store.GetSolveJob(r.Context(), p.Tenant, jobID)
			if err != nil {
				s.Broker.Unsubscribe(jobID, ch)
				c.fail(msg.ID, "solve not found")
				continue
			}
			if evt, ok := snapshotEvent(job); ok {
				s.Broker.Unsubscribe(jobID, ch)
				_ = c.write(nextMessage(msg.ID, evt))
				_ = c.write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			mu.Lock()
			subs[msg.ID] = wsSub{jobID: jobID, ch: ch}
			mu.Unlock()
			go func(id string, ch chan events.Event) {
				for {
					select {
					case <-done:
						return
					case evt, ok := <-ch:
						if !ok {
							// closed by drop, or by a broker that lost the topic
							mu.Lock()
							_, live := subs[id]
							mu.Unlock()
							if live {
								c.fail(id, "event stream closed")
								drop(id)
							}
							return
						}
						if err := c.write(nextMessage(id, evt)); err != nil {
							return
						}
						if evt.Terminal() {
							_ = c.write(wsMessage{Type: "complete", ID: id})
							drop(id)
							return
						}
					}
				}
			}(msg.ID, ch)
		case "complete":
			drop(msg.ID)
		default:
			// ignore
		}
	}
}

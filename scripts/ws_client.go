// Command ws_client uploads a small instance, starts a solve and prints the
// solve events streamed over /v1/ws until the solve finishes.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// demoInstance has six customers and solves in a few seconds.
const demoInstance = `7
15
0 50 50
1 20 70
2 30 90
3 80 80
4 90 40
5 60 10
6 25 25
0 0
1 4
2 6
3 5
4 7
5 3
6 6
`

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	base   *url.URL
	tenant string
	role   string
}

func (c client) headers() http.Header {
	h := http.Header{}
	h.Set("X-Tenant-Id", c.tenant)
	h.Set("X-Role", c.role)
	return h
}

// create POSTs body to path and returns the id of the created resource.
func (c client) create(path string, body any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header = c.headers()
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("POST %s: %s", path, resp.Status)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// follow subscribes to the solve and logs frames until complete or error.
func (c client) follow(solveID string, timeout time.Duration) error {
	ws := *c.base
	ws.Scheme = map[string]string{"https": "wss"}[c.base.Scheme]
	if ws.Scheme == "" {
		ws.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.Dial(ws.JoinPath("/v1/ws").String(), c.headers())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	sub, _ := json.Marshal(map[string]any{
		"query":     "subscription($solveId: ID!) { solveEvents(solveId: $solveId) }",
		"variables": map[string]any{"solveId": solveID},
	})
	for _, f := range []frame{{Type: "connection_init"}, {Type: "subscribe", ID: "1", Payload: sub}} {
		if err := conn.WriteJSON(f); err != nil {
			return err
		}
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case "ping":
			_ = conn.WriteJSON(frame{Type: "pong"})
		case "next":
			log.WithField("solve", solveID).Info(string(f.Payload))
		case "error":
			return fmt.Errorf("subscription error: %s", f.Payload)
		case "complete":
			return nil
		}
	}
}

func main() {
	addr := flag.String("addr", "http://localhost:"+envOr("PORT", "8080"), "API base URL")
	tenant := flag.String("tenant", "t_demo", "tenant id")
	timeLimit := flag.Float64("time-limit", 30, "solve time limit in seconds")
	flag.Parse()

	base, err := url.Parse(*addr)
	if err != nil {
		log.WithError(err).Fatal("bad -addr")
	}
	c := client{base: base, tenant: *tenant, role: "admin"}
	instID, err := c.create("/v1/instances", map[string]any{"name": "demo", "data": demoInstance})
	if err != nil {
		log.WithError(err).Fatal("upload instance")
	}
	solveID, err := c.create("/v1/solve", map[string]any{"instanceId": instID, "timeLimitSec": *timeLimit})
	if err != nil {
		log.WithError(err).Fatal("start solve")
	}
	log.WithFields(log.Fields{"instance": instID, "solve": solveID}).Info("solve started")
	if err := c.follow(solveID, time.Duration(*timeLimit)*time.Second+time.Minute); err != nil {
		log.WithError(err).Fatal("follow solve")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

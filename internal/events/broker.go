// Package events fans out solve progress to stream subscribers. Topics are
// solve job ids.
package events

import "sync"

// Event types published while a job runs.
const (
	SolveStarted   = "solve.started"
	SolveIncumbent = "solve.incumbent"
	SolveCut       = "solve.cut"
	SolveCompleted = "solve.completed"
	SolveFailed    = "solve.failed"
	SolveCancelled = "solve.cancelled"
)

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Terminal reports whether no further events follow on the topic.
func (e Event) Terminal() bool {
	return e.Type == SolveCompleted || e.Type == SolveFailed || e.Type == SolveCancelled
}

type EventBroker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Broker is the in-process EventBroker. Slow subscribers drop events
// instead of blocking the publisher, except for the terminal event which
// evicts buffered ones.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Broker) Publish(topic string, evt Event) {
	b.mu.Lock()
	for ch := range b.subs[topic] {
		deliver(ch, evt)
	}
	b.mu.Unlock()
}

// deliver never blocks. A full buffer drops evt, unless evt is terminal:
// then the oldest buffered events are discarded to make room, so streams
// waiting for the end of a job always see it.
func deliver(ch chan Event, evt Event) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		if !evt.Terminal() {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}

package events

import (
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j1")
	other := b.Subscribe("j2")

	b.Publish("j1", Event{Type: SolveIncumbent, Data: map[string]any{"objective": 7.0}})

	select {
	case got := <-ch:
		assert.Equal(t, SolveIncumbent, got.Type)
		assert.Equal(t, 7.0, got.Data["objective"])
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case evt := <-other:
		t.Fatalf("event leaked to another topic: %+v", evt)
	default:
	}

	b.Unsubscribe("j1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
	// a second unsubscribe is a no-op
	b.Unsubscribe("j1", ch)
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j1")
	for i := 0; i < 100; i++ {
		b.Publish("j1", Event{Type: SolveCut})
	}
	require.Len(t, ch, cap(ch))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Event{Type: SolveCompleted}.Terminal())
	assert.True(t, Event{Type: SolveCancelled}.Terminal())
	assert.False(t, Event{Type: SolveCut}.Terminal())
}

func TestRedisChanName(t *testing.T) {
	b := NewRedisBrokerClient(nil)
	assert.Equal(t, "cvrp:solve:j1", b.chanName("j1"))
}

func TestBrokerKeepsTerminalEventWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j1")
	for i := 0; i < 40; i++ {
		b.Publish("j1", Event{Type: SolveCut})
	}
	b.Publish("j1", Event{Type: SolveCompleted})
	b.Unsubscribe("j1", ch)

	var got []Event
	for evt := range ch {
		got = append(got, evt)
	}
	require.Len(t, got, cap(ch))
	assert.Equal(t, SolveCompleted, got[len(got)-1].Type)
	assert.Equal(t, SolveCut, got[0].Type)
}

func TestRedisSubscribeFailureClosesChannel(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	b := NewRedisBrokerClient(rdb)
	defer func() { _ = b.Close() }()

	ch := b.Subscribe("j1")
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closed when redis is unreachable")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel left open")
	}
	b.Unsubscribe("j1", ch)
}

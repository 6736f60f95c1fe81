package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var m Message
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHub_PublishReachesEveryClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a, b := NewClient(hub, nil), NewClient(hub, nil)
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))

	hub.Publish("save.attempt", map[string]int{"attempt": 1})

	for _, c := range []*Client{a, b} {
		m := receive(t, c)
		assert.Equal(t, "save.attempt", m.Action)
		assert.Equal(t, map[string]interface{}{"attempt": float64(1)}, m.Payload)
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := NewClient(hub, nil)
	require.True(t, hub.Register(c))
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	assert.False(t, c.Reply([]byte("late")))
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	slow := &Client{ID: "slow", hub: hub, Send: make(chan []byte)}
	require.True(t, hub.Register(slow))
	hub.Publish("status.update", nil)

	require.Eventually(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return slow.closed
	}, time.Second, 10*time.Millisecond)
}

func TestHub_RegisterAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()
	hub.Stop()

	c := NewClient(hub, nil)
	registered := make(chan bool, 1)
	go func() { registered <- hub.Register(c) }()
	select {
	case ok := <-registered:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Register blocked on a stopped hub")
	}

	unregistered := make(chan struct{})
	go func() {
		hub.Unregister(c)
		close(unregistered)
	}()
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked on a stopped hub")
	}
	assert.False(t, c.Reply([]byte("late")))
}

func TestClient_Reply(t *testing.T) {
	c := NewClient(NewHub(), nil)
	assert.True(t, c.Reply(NewErrorMessage("boom")))

	var m Message
	require.NoError(t, json.Unmarshal(<-c.Send, &m))
	assert.Equal(t, "error", m.Action)
}

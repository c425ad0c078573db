package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/mood-map/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// attach registers a connection-less client so the fan-out can be
// observed through its send queue.
func attach(h *Hub, buf int) *Client {
	c := &Client{hub: h, send: make(chan Message, buf)}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("no message")
		return Message{}, false
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("status", log.Discard())
	go h.Run(ctx)
	defer func() {
		cancel()
		<-h.Done()
	}()

	a := attach(h, 4)
	b := attach(h, 4)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.BroadcastJSON(map[string]string{"state": "ready"}))
	for _, c := range []*Client{a, b} {
		msg, ok := receive(t, c)
		require.True(t, ok)
		assert.Equal(t, JSONMessage, msg.Type)
		assert.JSONEq(t, `{"state":"ready"}`, string(msg.Data))
	}

	h.BroadcastBinary([]byte{0xff, 0xd8})
	msg, _ := receive(t, a)
	assert.Equal(t, BinaryMessage, msg.Type)
}

func TestHub_UnregisterClosesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("status", log.Discard())
	go h.Run(ctx)
	defer func() {
		cancel()
		<-h.Done()
	}()

	c := attach(h, 1)
	h.unregister <- c
	_, ok := receive(t, c)
	assert.False(t, ok)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("camera", log.Discard())
	go h.Run(ctx)
	defer func() {
		cancel()
		<-h.Done()
	}()

	slow := attach(h, 1)
	h.BroadcastBinary([]byte("1"))
	h.BroadcastBinary([]byte("2"))

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
	msg, ok := receive(t, slow)
	require.True(t, ok)
	assert.Equal(t, "1", string(msg.Data))
	_, ok = receive(t, slow)
	assert.False(t, ok)
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("status", log.Discard())
	go h.Run(ctx)

	c := attach(h, 1)
	cancel()
	<-h.Done()

	_, ok := receive(t, c)
	assert.False(t, ok)
}

func TestClient_QueueIsBounded(t *testing.T) {
	c := &Client{send: make(chan Message, 1)}
	assert.True(t, c.queue(NewJSONMessage([]byte("{}"))))
	assert.False(t, c.queue(NewJSONMessage([]byte("{}"))))
}

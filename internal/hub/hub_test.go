package hub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmark/flowmark/internal/hub"
	"github.com/flowmark/flowmark/pkg/api"
)

func receiveOne(
	t *testing.T, c *hub.Consumer,
) *api.InstanceEvent {
	t.Helper()
	select {
	case ev := <-c.Receive():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesAllConsumers(t *testing.T) {
	h := hub.New()
	defer h.Close()

	a := h.NewConsumer()
	b := h.NewConsumer()

	h.Publish(api.EventTypeInstanceCreated, "inst-1", "")

	for _, c := range []*hub.Consumer{a, b} {
		ev := receiveOne(t, c)
		assert.Equal(t, api.EventTypeInstanceCreated, ev.Type)
		assert.Equal(t, api.InstanceID("inst-1"), ev.InstanceID)
		assert.False(t, ev.At.IsZero())
	}
}

func TestClosedConsumerStopsReceiving(t *testing.T) {
	h := hub.New()
	defer h.Close()

	c := h.NewConsumer()
	c.Close()

	_, ok := <-c.Receive()
	assert.False(t, ok)

	// Publishing after close must not panic
	h.Publish(api.EventTypeInstanceIdle, "inst-1", "")
}

func TestSlowConsumerDropsEvents(t *testing.T) {
	h := hub.New()
	defer h.Close()

	c := h.NewConsumer()
	for i := 0; i < 200; i++ {
		h.Publish(api.EventTypeInstanceBusy, "inst-1", "")
	}

	// The consumer buffer bounds what a stalled consumer can hold
	ev := receiveOne(t, c)
	require.NotNil(t, ev)
	assert.Less(t, len(c.Receive()), 200)
}

func TestHubClose(t *testing.T) {
	h := hub.New()
	c := h.NewConsumer()

	h.Close()

	_, ok := <-c.Receive()
	assert.False(t, ok)

	// A consumer created after close is immediately closed
	late := h.NewConsumer()
	_, ok = <-late.Receive()
	assert.False(t, ok)
}

// Package hub fans instance lifecycle events out to interested consumers,
// such as the management API's websocket stream.
package hub

import (
	"sync"
	"time"

	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/util"
)

type (
	// Hub broadcasts lifecycle events to all open consumers
	Hub struct {
		mu        sync.Mutex
		consumers util.Set[*Consumer]
		closed    bool
	}

	// Consumer receives a buffered stream of lifecycle events. A consumer
	// that falls behind loses events rather than blocking publishers
	Consumer struct {
		hub  *Hub
		ch   chan *api.InstanceEvent
		once sync.Once
	}
)

const consumerBuffer = 64

// New creates an empty hub
func New() *Hub {
	return &Hub{consumers: util.Set[*Consumer]{}}
}

// NewConsumer registers a consumer with the hub
func (h *Hub) NewConsumer() *Consumer {
	c := &Consumer{
		hub: h,
		ch:  make(chan *api.InstanceEvent, consumerBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.ch)
		return c
	}
	h.consumers.Add(c)
	return c
}

// Publish delivers the event to every consumer without blocking
func (h *Hub) Publish(
	typ api.EventType, id api.InstanceID, detail string,
) {
	ev := &api.InstanceEvent{
		Type:       typ,
		InstanceID: id,
		At:         time.Now(),
		Detail:     detail,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.consumers {
		select {
		case c.ch <- ev:
		default:
		}
	}
}

// Close shuts down the hub and all registered consumers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.consumers {
		close(c.ch)
	}
	h.consumers = util.Set[*Consumer]{}
}

// Receive returns the consumer's event channel. The channel is closed when
// the consumer or the hub shuts down
func (c *Consumer) Receive() <-chan *api.InstanceEvent {
	return c.ch
}

// Close removes the consumer from the hub
func (c *Consumer) Close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		defer c.hub.mu.Unlock()
		if c.hub.consumers.Contains(c) {
			c.hub.consumers.Remove(c)
			close(c.ch)
		}
	})
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flowmark/flowmark/internal/hub"
	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/log"
)

type (
	// Client represents a WebSocket client connection streaming instance
	// lifecycle events
	Client struct {
		server   *Server
		conn     *websocket.Conn
		consumer *hub.Consumer
		filter   EventFilter
	}

	// EventFilter reports whether an event should be sent to the client
	EventFilter func(*api.InstanceEvent) bool
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", log.Error(err))
		return
	}

	client := &Client{
		server:   s,
		conn:     conn,
		consumer: s.hub.NewConsumer(),
		filter:   matchAll,
	}
	s.registerWebSocket(client)

	go client.run()
}

// Close terminates the client's connection
func (c *Client) Close() {
	_ = c.conn.Close()
}

func (c *Client) run() {
	defer func() {
		c.server.unregisterWebSocket(c)
		c.consumer.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message", log.Error(err))
		return
	}

	if sub.Type != "subscribe" {
		return
	}
	c.filter = BuildFilter(&sub.Data)
}

func (c *Client) sendEventIfMatched(event *api.InstanceEvent) bool {
	if !c.filter(event) {
		return true
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(event); err != nil {
		slog.Error("WebSocket write failed", log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

// BuildFilter creates an event filter from the client's subscription.
// Empty subscription fields match every event
func BuildFilter(sub *api.ClientSubscription) EventFilter {
	types := map[api.EventType]bool{}
	for _, et := range sub.EventTypes {
		types[et] = true
	}

	return func(ev *api.InstanceEvent) bool {
		if sub.InstanceID != "" && ev.InstanceID != sub.InstanceID {
			return false
		}
		if len(types) > 0 && !types[ev.Type] {
			return false
		}
		return true
	}
}

func matchAll(*api.InstanceEvent) bool {
	return true
}

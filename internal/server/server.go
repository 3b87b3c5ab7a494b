// Package server exposes the HTTP surface: workflow dispatch on the
// unrouted namespace plus a management API for inspecting instances and
// streaming lifecycle events.
package server

import (
	"log/slog"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/flowmark/flowmark/internal/host"
	"github.com/flowmark/flowmark/internal/hub"
	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/pkg/util"
)

// Server implements the HTTP API server for the workflow host
type Server struct {
	host    *host.Host
	hub     *hub.Hub
	store   store.Store
	sockets util.Set[*Client]
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(h *host.Host, hb *hub.Hub, st store.Store) *Server {
	return &Server{
		host:    h,
		hub:     hb,
		store:   st,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router. Management endpoints
// live under /engine; every other request is handed to the dispatcher,
// which matches it against the workflow's receive points
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	router.GET("/healthz", s.handleHealth)

	eng := router.Group("/engine")
	{
		eng.GET("/instances", s.listInstances)
		eng.POST("/instances/query", s.queryInstances)
		eng.GET("/instances/:instanceID", s.getInstance)
		eng.DELETE("/instances/:instanceID", s.terminateInstance)

		eng.GET("/ws", s.handleWebSocket)
	}

	router.NoRoute(func(c *gin.Context) {
		s.host.Dispatch(c.Writer, c.Request)
	})

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowmark/flowmark"
	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/pkg/api"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := api.HealthStatusHealthy
	code := http.StatusOK

	if p, ok := s.store.(store.Pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			status = api.HealthStatusUnhealthy
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, api.HealthResponse{
		Service:   flowmark.Name,
		Version:   flowmark.Version,
		Status:    status,
		Instances: s.host.Cache().Len(),
	})
}

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowmark/flowmark/internal/host"
	"github.com/flowmark/flowmark/pkg/api"
)

// ErrQueryPathRequired is returned when an instance query omits the path
var ErrQueryPathRequired = errors.New("query path is required")

func (s *Server) listInstances(c *gin.Context) {
	instances := s.host.Instances()
	c.JSON(http.StatusOK, api.InstancesListResponse{
		Instances: instances,
		Count:     len(instances),
	})
}

func (s *Server) getInstance(c *gin.Context) {
	id := api.InstanceID(c.Param("instanceID"))

	snap, err := s.host.Snapshot(c.Request.Context(), id)
	if errors.Is(err, host.ErrUnknownInstance) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("instance not found: %s", id),
			Status: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (s *Server) terminateInstance(c *gin.Context) {
	id := api.InstanceID(c.Param("instanceID"))

	err := s.host.Terminate(c.Request.Context(), id)
	if errors.Is(err, host.ErrUnknownInstance) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("instance not found: %s", id),
			Status: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) queryInstances(c *gin.Context) {
	var req api.QueryInstancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Path == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  ErrQueryPathRequired.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	ids, err := s.host.Query(c.Request.Context(), req.Path, req.Value)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.QueryInstancesResponse{
		Instances: ids,
		Count:     len(ids),
	})
}

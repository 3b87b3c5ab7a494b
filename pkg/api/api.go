package api

import (
	"net/http"
	"time"
)

type (
	// InstanceID is the canonical textual form of an instance's 128-bit
	// identifier
	InstanceID string

	// InstanceStatus describes where an instance is in its lifecycle
	InstanceStatus string

	// Vars holds an instance's durable user state
	Vars map[string]any

	// Snapshot is the durable representation of an instance between
	// episodes of work
	Snapshot struct {
		ID        InstanceID     `json:"id"`
		Status    InstanceStatus `json:"status"`
		State     Vars           `json:"state"`
		Version   int64          `json:"version"`
		UpdatedAt time.Time      `json:"updated_at"`
	}

	// Response is a prebuilt HTTP response a receive handler may return
	// instead of raw data. It is sent as-is, bypassing content negotiation
	Response struct {
		StatusCode  int
		ContentType string
		Header      http.Header
		Body        []byte
	}

	// Instance summarizes a live instance for the management API
	Instance struct {
		ID        InstanceID     `json:"id"`
		Status    InstanceStatus `json:"status"`
		Bookmarks []string       `json:"bookmarks,omitempty"`
	}
)

const (
	// InstanceActivating is the state before the first idle transition
	InstanceActivating = InstanceStatus("activating")

	// InstanceIdle means the instance is parked at its bookmarks, purely
	// waiting on external input
	InstanceIdle = InstanceStatus("idle")

	// InstanceBusy means a delivered request is being handled
	InstanceBusy = InstanceStatus("busy")

	// InstanceCompleted means the instance finished successfully
	InstanceCompleted = InstanceStatus("completed")

	// InstanceTerminated means the instance ended with an unhandled failure
	InstanceTerminated = InstanceStatus("terminated")

	// InstanceUnloaded means in-memory state was released; durable storage
	// is required to reactivate
	InstanceUnloaded = InstanceStatus("unloaded")
)

// Media types involved in response content negotiation
const (
	JSONMediaType     = "application/json"
	JSONTextMediaType = "text/json"
	XMLMediaType      = "application/xml"
	TextXMLMediaType  = "text/xml"
)

// IsTerminal returns true once an instance can no longer accept requests
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceTerminated
}

package api

type (
	// ErrorResponse is the JSON error body produced by the management API
	// and, when error details are enabled, by the dispatcher
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// InstancesListResponse lists the instances currently held in memory
	InstancesListResponse struct {
		Instances []*Instance `json:"instances"`
		Count     int         `json:"count"`
	}

	// QueryInstancesRequest filters stored snapshots by a JSON path. Value
	// is compared against the path's raw JSON representation when present
	QueryInstancesRequest struct {
		Path  string `json:"path"`
		Value string `json:"value,omitempty"`
	}

	// QueryInstancesResponse carries the identifiers of matching instances
	QueryInstancesResponse struct {
		Instances []InstanceID `json:"instances"`
		Count     int          `json:"count"`
	}

	// HealthResponse reports service liveness and store reachability
	HealthResponse struct {
		Service   string `json:"service"`
		Version   string `json:"version"`
		Status    string `json:"status"`
		Instances int    `json:"instances"`
	}

	// SubscribeRequest is sent by a websocket client to narrow the event
	// stream to particular instances or event types
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription describes which lifecycle events a websocket
	// client wants to receive. Empty fields match everything
	ClientSubscription struct {
		InstanceID InstanceID  `json:"instance_id,omitempty"`
		EventTypes []EventType `json:"event_types,omitempty"`
	}
)

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

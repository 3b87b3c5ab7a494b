package api

import "time"

type (
	// EventType identifies an instance lifecycle event
	EventType string

	// InstanceEvent is published on the lifecycle hub whenever an instance
	// changes state
	InstanceEvent struct {
		Type       EventType  `json:"type"`
		InstanceID InstanceID `json:"instance_id"`
		At         time.Time  `json:"at"`
		Detail     string     `json:"detail,omitempty"`
	}
)

const (
	EventTypeInstanceCreated    = EventType("instance:created")
	EventTypeInstanceLoaded     = EventType("instance:loaded")
	EventTypeInstanceIdle       = EventType("instance:idle")
	EventTypeInstanceBusy       = EventType("instance:busy")
	EventTypeInstancePersisted  = EventType("instance:persisted")
	EventTypeInstanceUnloaded   = EventType("instance:unloaded")
	EventTypeInstanceCompleted  = EventType("instance:completed")
	EventTypeInstanceTerminated = EventType("instance:terminated")
)

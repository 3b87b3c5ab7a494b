// Package store defines the durable instance store contract the host uses
// to persist and reactivate workflow instances across idle periods.
package store

import (
	"context"
	"errors"

	"github.com/flowmark/flowmark/pkg/api"
)

type (
	// Store persists instance snapshots by identifier
	Store interface {
		// Load retrieves the snapshot for an instance, or ErrNotFound
		Load(ctx context.Context, id api.InstanceID) (*api.Snapshot, error)

		// Save writes the snapshot, replacing any previous version
		Save(ctx context.Context, snap *api.Snapshot) error

		// Delete removes the snapshot. Deleting an absent snapshot is not
		// an error
		Delete(ctx context.Context, id api.InstanceID) error

		// IDs lists the identifiers of all stored snapshots
		IDs(ctx context.Context) ([]api.InstanceID, error)

		Close() error
	}

	// Pinger is implemented by stores that can report connectivity for
	// health checks
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// ErrNotFound is returned when no snapshot exists for an instance
var ErrNotFound = errors.New("instance snapshot not found")

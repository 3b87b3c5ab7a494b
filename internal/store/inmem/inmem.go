// Package inmem provides an in-memory instance store for tests and
// single-process deployments without durability requirements.
package inmem

import (
	"context"
	"sync"

	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/pkg/api"
)

// Store is a map-backed instance store guarded by a single mutex
type Store struct {
	mu    sync.Mutex
	snaps map[api.InstanceID][]byte
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{snaps: map[api.InstanceID][]byte{}}
}

func (s *Store) Load(
	_ context.Context, id api.InstanceID,
) (*api.Snapshot, error) {
	s.mu.Lock()
	data, ok := s.snaps[id]
	s.mu.Unlock()

	if !ok {
		return nil, store.ErrNotFound
	}
	return store.DecodeSnapshot(data)
}

func (s *Store) Save(_ context.Context, snap *api.Snapshot) error {
	data, err := store.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snaps[snap.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, id api.InstanceID) error {
	s.mu.Lock()
	delete(s.snaps, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) IDs(_ context.Context) ([]api.InstanceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]api.InstanceID, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) Close() error {
	return nil
}

package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/internal/store/inmem"
	"github.com/flowmark/flowmark/pkg/api"
)

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	snap := &api.Snapshot{
		ID:      api.InstanceID("inst-1"),
		Status:  api.InstanceIdle,
		State:   api.Vars{"count": float64(2)},
		Version: 3,
	}
	require.NoError(t, s.Save(ctx, snap))

	loaded, err := s.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, api.InstanceIdle, loaded.Status)
	assert.Equal(t, float64(2), loaded.State["count"])
	assert.Equal(t, int64(3), loaded.Version)

	require.NoError(t, s.Delete(ctx, snap.ID))
	_, err = s.Load(ctx, snap.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadMissing(t *testing.T) {
	s := inmem.New()
	_, err := s.Load(context.Background(), api.InstanceID("missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIDs(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	require.NoError(t, s.Save(ctx, &api.Snapshot{ID: "a"}))
	require.NoError(t, s.Save(ctx, &api.Snapshot{ID: "b"}))

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]api.InstanceID{"a", "b"}, ids)
}

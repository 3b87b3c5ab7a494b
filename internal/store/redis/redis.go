// Package redis provides a Redis-backed instance store. Snapshots are kept
// as JSON values under a configurable key prefix.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowmark/flowmark/internal/config"
	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/pkg/api"
)

// Store persists instance snapshots in Redis
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Pinger = (*Store)(nil)
)

// New creates a store backed by the Redis endpoint in cfg
func New(cfg config.StoreConfig) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, prefix: cfg.Prefix}
}

func (s *Store) Load(
	ctx context.Context, id api.InstanceID,
) (*api.Snapshot, error) {
	data, err := s.client.Get(ctx, s.keyFor(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	return store.DecodeSnapshot(data)
}

func (s *Store) Save(ctx context.Context, snap *api.Snapshot) error {
	data, err := store.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(
		ctx, s.keyFor(snap.ID), data, 0,
	).Err(); err != nil {
		return fmt.Errorf("save instance %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id api.InstanceID) error {
	if err := s.client.Del(ctx, s.keyFor(id)).Err(); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return nil
}

func (s *Store) IDs(ctx context.Context) ([]api.InstanceID, error) {
	var (
		ids    []api.InstanceID
		cursor uint64
	)
	pattern := s.prefix + ":instance:*"
	strip := len(pattern) - 1

	for {
		keys, next, err := s.client.Scan(
			ctx, cursor, pattern, 100,
		).Result()
		if err != nil {
			return nil, fmt.Errorf("scan instances: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, api.InstanceID(key[strip:]))
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) keyFor(id api.InstanceID) string {
	return fmt.Sprintf("%s:instance:%s", s.prefix, id)
}

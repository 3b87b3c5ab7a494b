// Package blob provides an instance store on top of gocloud.dev/blob,
// supporting S3, GCS, Azure Blob Storage, and S3-compatible stores.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/pkg/api"
)

// Store persists instance snapshots as JSON objects in a blob bucket
type Store struct {
	bucket *blob.Bucket
	prefix string
}

var _ store.Store = (*Store)(nil)

// New opens the bucket at bucketURL. The prefix is prepended to every
// object key
func New(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Store{bucket: bucket, prefix: prefix}, nil
}

// NewWithBucket wraps an already-open bucket, used by tests
func NewWithBucket(bucket *blob.Bucket, prefix string) *Store {
	return &Store{bucket: bucket, prefix: prefix}
}

func (s *Store) Load(
	ctx context.Context, id api.InstanceID,
) (*api.Snapshot, error) {
	data, err := s.bucket.ReadAll(ctx, s.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	return store.DecodeSnapshot(data)
}

func (s *Store) Save(ctx context.Context, snap *api.Snapshot) error {
	data, err := store.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.bucket.WriteAll(
		ctx, s.keyFor(snap.ID), data, nil,
	); err != nil {
		return fmt.Errorf("save instance %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id api.InstanceID) error {
	err := s.bucket.Delete(ctx, s.keyFor(id))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return nil
}

func (s *Store) IDs(ctx context.Context) ([]api.InstanceID, error) {
	var ids []api.InstanceID
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		key := strings.TrimPrefix(obj.Key, s.prefix)
		key = strings.TrimSuffix(key, ".json")
		ids = append(ids, api.InstanceID(key))
	}
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

func (s *Store) keyFor(id api.InstanceID) string {
	return s.prefix + string(id) + ".json"
}

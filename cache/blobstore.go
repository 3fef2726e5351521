// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// A BlobStore is a Store backed by a gocloud blob bucket. Each asset
// occupies one object keyed by its id.
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
}

// NewBlobStore returns a BlobStore over the given bucket. The prefix,
// if non-empty, is prepended to every object key.
func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, prefix: prefix}
}

func (s *BlobStore) key(id uuid.UUID) string {
	return s.prefix + id.String()
}

// Find returns the stored bytes for the asset, or ErrNotFound.
func (s *BlobStore) Find(ctx context.Context, id uuid.UUID) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: find %s: %w", id, err)
	}
	return data, nil
}

// Add stores data for the asset, replacing any previous entry.
func (s *BlobStore) Add(ctx context.Context, id uuid.UUID, data []byte) error {
	if err := s.bucket.WriteAll(ctx, s.key(id), data, nil); err != nil {
		return fmt.Errorf("cache: add %s: %w", id, err)
	}
	return nil
}

// Remove deletes the entry for the asset, ignoring absent entries.
func (s *BlobStore) Remove(ctx context.Context, id uuid.UUID) error {
	err := s.bucket.Delete(ctx, s.key(id))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("cache: remove %s: %w", id, err)
	}
	return nil
}

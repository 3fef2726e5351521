// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func newTestStore(t *testing.T) *BlobStore {
	t.Helper()
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bucket.Close() })
	return NewBlobStore(bucket, "assets/")
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New()

	require.NoError(t, s.Add(ctx, id, []byte("first")))
	data, err := s.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// replace
	require.NoError(t, s.Add(ctx, id, []byte("second")))
	data, err = s.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestBlobStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Find(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobStoreRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New()

	require.NoError(t, s.Add(ctx, id, []byte("data")))
	require.NoError(t, s.Remove(ctx, id))

	_, err := s.Find(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// absent entry is not an error
	assert.NoError(t, s.Remove(ctx, id))
}

// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Store.Find when no entry exists for the
// asset.
var ErrNotFound = errors.New("cache: asset not found")

// A Store holds encoded asset bytes keyed by asset id. Entries are
// whole values: Add replaces any previous entry, and Find returns the
// complete stored bytes.
//
// Implementations of Store must be safe for concurrent use by multiple
// goroutines.
type Store interface {
	// Find returns the stored bytes for the asset, or ErrNotFound.
	Find(ctx context.Context, id uuid.UUID) ([]byte, error)

	// Add stores data for the asset, replacing any previous entry.
	Add(ctx context.Context, id uuid.UUID, data []byte) error

	// Remove deletes the entry for the asset. Removing an absent
	// entry is not an error.
	Remove(ctx context.Context, id uuid.UUID) error
}

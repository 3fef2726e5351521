// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cache defines the asset cache contract the fetch pipeline
// reads from and writes to, and a gocloud blob implementation of it.
// Any bucket scheme gocloud supports (file, memory, GCS, S3) can back
// the cache by importing the matching driver.
package cache

// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package admission bounds the number of concurrent HTTP fetches with
// a watermarked counting semaphore.
package admission

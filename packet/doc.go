// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package packet reassembles asset bytes arriving out of order on the
// legacy datagram transport. Callers feed it the header payload and
// numbered data packets; it tracks the contiguous prefix, detects
// duplicates and malformed sizes, and can resume a stream on top of
// bytes already recovered from the cache.
package packet

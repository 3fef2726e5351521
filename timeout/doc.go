// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package timeout provides the per-attempt timeout policies applied to
// fetch attempts issued over HTTP.
package timeout

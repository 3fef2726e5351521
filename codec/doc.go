// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package codec defines the decoder contract the fetch pipeline calls
// into, and the deterministic size estimate that maps discard levels
// to encoded byte budgets.
//
// The pipeline never decodes pixels itself. It parses a header to
// learn image dimensions, estimates how many encoded bytes a desired
// discard level requires, and hands complete byte prefixes to a
// Decoder implementation supplied by the caller.
package codec

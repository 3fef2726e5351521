// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry provides the retry policies applied to failed fetch
// attempts, and the per-request Tracker that accumulates attempt state.
//
// A retry Policy is the composition of a Decider, which decides whether
// a failed attempt may be retried, and a Waiter, which decides how long
// to wait before the retry. DefaultPolicy allows up to 10 retries of
// retryable failures (HTTP 429/502/503/504 and transient transport
// errors) with jittered exponential backoff between 10 seconds and one
// hour.
package retry

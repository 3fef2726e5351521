// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import "time"

// An Attempt is the accumulated state of one fetch request's transport
// attempts.
//
// An Attempt is created for the request's first attempt and updated as
// failures accumulate; a successful attempt resets it. Retry deciders,
// waiters, and timeout policies read the record to make their
// decisions; they must treat the exported fields as immutable.
type Attempt struct {
	// N is the count of failed attempts so far. It is zero while the
	// initial attempt is underway, one after the first failure, and so
	// on; a decider consulted with N == n is deciding whether to allow
	// the nth retry.
	N int

	// Start is the time the first attempt failed. It contains the zero
	// value until then, and remains constant afterward until the
	// record is reset.
	Start time.Time

	// StatusCode is the HTTP status code received by the most recent
	// attempt, or 0 if no valid response was received.
	StatusCode int

	// Err is the transport error from the most recent attempt, or nil
	// if a response was received.
	Err error

	// Timeouts is the count of attempts that failed with a timeout.
	Timeouts int
}

// Duration returns the time elapsed since the first failure, or zero
// if no attempt has failed yet. The return value is monotonically
// increasing over the life of the record.
func (a *Attempt) Duration() time.Duration {
	if a.Start == (time.Time{}) {
		return time.Duration(0)
	}

	return time.Since(a.Start)
}

// Timeout indicates whether Err currently contains a non-nil value
// which indicates a timeout.
//
// Note that Timeout may return false even if Timeouts > 0, when the
// most recent attempt failed for a reason other than a timeout.
func (a *Attempt) Timeout() bool {
	return Categorize(a.Err) == Timeout
}

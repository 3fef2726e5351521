// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import "time"

// A Tracker accumulates the attempt history of one fetch request and
// applies a Policy to it. Each fetch worker owns one Tracker; a failure
// either schedules a retry after the policy's wait period or reports
// that the request should be abandoned.
//
// Tracker is not safe for concurrent use. The owning worker serializes
// access under its own lock.
type Tracker struct {
	policy  Policy
	attempt Attempt
	retryAt time.Time
}

// NewTracker constructs a Tracker applying the given policy. A nil
// policy selects DefaultPolicy.
func NewTracker(p Policy) *Tracker {
	if p == nil {
		p = DefaultPolicy
	}
	return &Tracker{policy: p}
}

// OnFailure records a failed attempt and consults the policy. It
// returns true if the request may be retried, in which case Delay
// reports the remaining backoff; it returns false if the request
// should be abandoned.
func (t *Tracker) OnFailure(statusCode int, err error) bool {
	now := time.Now()
	if t.attempt.Start.IsZero() {
		t.attempt.Start = now
	}
	t.attempt.N++
	t.attempt.StatusCode = statusCode
	t.attempt.Err = err
	if Categorize(err) == Timeout {
		t.attempt.Timeouts++
	}
	if !t.policy.Decide(&t.attempt) {
		t.retryAt = time.Time{}
		return false
	}
	t.retryAt = now.Add(t.policy.Wait(&t.attempt))
	return true
}

// OnSuccess resets the attempt history after a successful attempt.
func (t *Tracker) OnSuccess() {
	t.attempt = Attempt{}
	t.retryAt = time.Time{}
}

// Delay returns the backoff remaining before the next attempt may be
// issued, or zero if no retry is pending.
func (t *Tracker) Delay(now time.Time) time.Duration {
	if t.retryAt.IsZero() || !now.Before(t.retryAt) {
		return 0
	}
	return t.retryAt.Sub(now)
}

// Attempt returns the current attempt record. The returned pointer
// remains owned by the Tracker; callers must not retain it across
// further Tracker calls.
func (t *Tracker) Attempt() *Attempt {
	return &t.attempt
}

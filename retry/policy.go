// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import "time"

// A Policy controls if and how failed fetch attempts are retried.
// After every failed attempt, a Policy decides whether a retry should
// be done and, if so, how long the wait period should be before
// retrying the attempt.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
//
// A Policy is composed of the Decider and Waiter interfaces. While you
// can implement Policy yourself, it may be more convenient to use one
// of the built-in retry policies, DefaultPolicy or Never, or to
// construct your policy with the NewPolicy constructor from existing
// Decider and Waiter implementations.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy is the retry policy applied to fetch requests that do
// not specify one. It is a composition of DefaultDecider for retry
// decisions and DefaultWaiter for wait time calculations: up to 10
// retries, jittered exponential backoff from 10 seconds to one hour.
var DefaultPolicy Policy = policy{DefaultDecider, DefaultWaiter}

// Never is a policy that never retries.
var Never Policy = policy{Times(-1), DefaultWaiter}

type policy struct {
	decider Decider
	waiter  Waiter
}

// NewPolicy composes a Decider and a Waiter into a retry Policy.
func NewPolicy(d Decider, w Waiter) Policy {
	return policy{decider: d, waiter: w}
}

func (p policy) Decide(a *Attempt) bool {
	return p.decider.Decide(a)
}

func (p policy) Wait(a *Attempt) time.Duration {
	return p.waiter.Wait(a)
}

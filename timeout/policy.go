// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"time"

	"github.com/gridscape/assetfetch/retry"
)

// A Policy directs how to set the client-side timeout for the next
// fetch attempt, for the initial attempt as well as for any retries.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the timeout to set on the next attempt, given
	// the attempt record accumulated so far.
	Timeout(a *retry.Attempt) time.Duration
}

// DefaultPolicy is the default timeout policy. It sets a fixed timeout
// of 30 seconds on each attempt.
var DefaultPolicy Policy = Fixed(30 * time.Second)

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(1<<63 - 1)

// Fixed constructs a timeout policy that uses the same value to set
// every attempt timeout. The return value is a timeout policy that
// always returns the value d.
func Fixed(d time.Duration) Policy {
	return policy([]time.Duration{d})
}

// Adaptive constructs a timeout policy that varies the next timeout
// value if the previous attempt timed out.
//
// Parameter usual represents the timeout value the policy will return
// for an initial attempt and for any retry where the immediately
// preceding attempt did not time out.
//
// Parameter after contains timeout values the policy will return if
// the previous attempt timed out. If this was the first timeout of the
// request, after[0] is returned; if the second, after[1], and so on.
// If more attempts have timed out than after has elements, the last
// element of after is returned.
//
// Use Adaptive when the remote service exhibits one-off slow responses
// that are best cured by timing out quickly and retrying, while still
// protecting the request from failing outright when the service goes
// through a longer burst of slowness.
func Adaptive(usual time.Duration, after ...time.Duration) Policy {
	p := make([]time.Duration, 1, 1+len(after))
	p[0] = usual
	return policy(append(p, after...))
}

type policy []time.Duration

func (p policy) Timeout(a *retry.Attempt) time.Duration {
	if !a.Timeout() {
		return p[0]
	}

	i := a.Timeouts
	if i > len(p)-1 {
		i = len(p) - 1
	}

	return p[i]
}

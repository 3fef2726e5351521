// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import "time"

// A Decider decides if a retry should be done.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
//
// Use the built-in constructors Times, StatusCode, and Before, and the
// built-in decider TransientErr; or implement your own Decider. Use
// DeciderFunc to convert an ordinary function into a Decider, and to
// compose deciders logically using DeciderFunc.And and DeciderFunc.Or.
type Decider interface {
	Decide(a *Attempt) bool
}

// The DeciderFunc type is an adapter to allow the use of ordinary
// functions as retry deciders. It implements the Decider interface, and
// also provides the logical composition methods And and Or.
//
// Every DeciderFunc must be safe for concurrent use by multiple
// goroutines.
type DeciderFunc func(a *Attempt) bool

// DefaultTimes is the number of times DefaultPolicy will retry.
const DefaultTimes = 10

// DefaultDecider is the retry decider used by DefaultPolicy. It allows
// up to DefaultTimes retries, and retries in the case of a transient
// transport error (TransientErr) or if the attempt received one of the
// following status codes: 429 (Too Many Requests); 502 (Bad Gateway);
// 503 (Service Unavailable); or 504 (Gateway Timeout).
var DefaultDecider = Times(DefaultTimes).And(StatusCode(429, 502, 503, 504).Or(TransientErr))

// TransientErr is a decider that indicates a retry if the current
// error is transient according to Categorize.
//
// TransientErr only looks at the error, so it will always return false
// if a valid response was received. Compose it with other deciders, for
// example a status code decider constructed with StatusCode, to get
// more complex functionality.
var TransientErr DeciderFunc = transientErr

// Decide returns true if a retry should be done, and false otherwise,
// after examining the current attempt record.
func (f DeciderFunc) Decide(a *Attempt) bool {
	return f(a)
}

// And composes two retry deciders into a new decider which returns true
// if both sub-deciders return true, and false otherwise.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// false.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(a *Attempt) bool {
		return f(a) && g(a)
	}
}

// Or composes two retry deciders into a new decider which returns
// true if either of the two sub-deciders returns true, but false if
// they both return false.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// true.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(a *Attempt) bool {
		return f(a) || g(a)
	}
}

// Times constructs a retry decider which allows up to n retries. The
// returned decider returns true while the failed attempt count a.N is
// at most n, and false otherwise.
func Times(n int) DeciderFunc {
	return func(a *Attempt) bool {
		return a.N <= n
	}
}

// Before constructs a retry decider allowing retries until a certain
// amount of time has elapsed since the first attempt. The returned
// decider returns true while the attempt duration is less than d, and
// false afterward.
func Before(d time.Duration) DeciderFunc {
	return func(a *Attempt) bool {
		return a.Duration() < d
	}
}

// StatusCode constructs a retry decider allowing retries based on the
// HTTP response status code. If the most recent attempt received a
// valid response whose status code is contained in the list ss, the
// decider returns true. Otherwise, it returns false.
func StatusCode(ss ...int) DeciderFunc {
	ss2 := make([]int, len(ss))
	copy(ss2, ss)
	return func(a *Attempt) bool {
		for _, s := range ss2 {
			if a.StatusCode == s {
				return true
			}
		}
		return false
	}
}

func transientErr(a *Attempt) bool {
	return Categorize(a.Err) != Not
}

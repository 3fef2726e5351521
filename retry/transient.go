// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"errors"
	"syscall"
)

// A Category is the transience category of a particular error, as
// reported by function Categorize.
//
// The category Not means the error is not transient from the
// perspective of completing a fetch attempt successfully, or in other
// words that a retry after encountering this error is very unlikely to
// succeed. All other categories indicate a retry has some prospect of
// success.
type Category int

const (
	// Not indicates any non-transient error.
	Not Category = iota
	// Timeout indicates a client-side timeout. The server may be going
	// through a temporary period of slowness, or the client may succeed
	// on a future attempt waiting longer (increasing its timeout).
	//
	// Categorize returns Timeout if the error or any of its wrapped
	// causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection,
	// and corresponds to the POSIX error code ECONNREFUSED.
	//
	// Although connection refusal may be a permanent condition, it is
	// classified as transient because it can happen if the service
	// running on the remote host is in the process of starting or
	// restarting.
	ConnRefused
	// ConnReset indicates the remote host returned an RST packet on a
	// previously active TCP connection, and corresponds to the POSIX
	// error code ECONNRESET.
	ConnReset
)

// Categorize returns the transience category of the given error. A nil
// error, and an error that is not transient from the perspective of
// completing a fetch attempt, both produce the return value Not.
//
// In assessing transience, Categorize looks at wrapped cause errors
// contained within err, not just err itself. It never checks whether an
// error has a Temporary() function, as the semantics of Temporary()
// aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == syscall.ECONNRESET {
			return ConnReset
		} else if errno == syscall.ECONNREFUSED {
			return ConnRefused
		}
	}

	return Not
}

type hasTimeout interface {
	Timeout() bool
}

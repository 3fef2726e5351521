// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

// A Band is the urgency class of a queued worker. Bands dominate the
// numeric priority: any Elevated worker runs before any Normal worker,
// which runs before any Waiting worker.
type Band int8

const (
	// BandWaiting holds workers parked on an external event (backoff
	// expiry, admission slot, inbound packets).
	BandWaiting Band = iota
	// BandNormal holds workers with runnable work at their caller's
	// priority.
	BandNormal
	// BandElevated holds workers that just became runnable again and
	// should be serviced promptly (arrived data, state transitions).
	BandElevated
)

func (b Band) String() string {
	switch b {
	case BandWaiting:
		return "waiting"
	case BandNormal:
		return "normal"
	case BandElevated:
		return "elevated"
	default:
		return "unknown"
	}
}

// A Priority orders workers in the scheduler queue: band first, then
// the caller-assigned base value. Ties are broken by insertion order,
// giving a strict total order.
type Priority struct {
	Band Band
	Base float32
}

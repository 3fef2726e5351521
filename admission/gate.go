// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package admission

import "sync"

// High and low watermarks on concurrent HTTP fetches. The pipelined
// pair applies when the transport multiplexes requests per connection;
// the non-pipelined pair applies otherwise.
const (
	PipelinedHighWater = 100
	PipelinedLowWater  = 50
	HighWater          = 40
	LowWater           = 20
)

// A Gate is a counting semaphore bounding concurrent HTTP fetches. An
// acquisition is permitted while the in-flight count is below the high
// watermark; waiters parked behind a full Gate are only re-admitted
// once the count has drained below the low watermark, so admission
// happens in bursts rather than one-in-one-out churn.
//
// A Gate is safe for concurrent use by multiple goroutines.
type Gate struct {
	mu       sync.Mutex
	inFlight int
	high     int
	low      int
}

// NewGate returns a Gate with the non-pipelined watermarks.
func NewGate() *Gate {
	return &Gate{high: HighWater, low: LowWater}
}

// SetPipelined switches the Gate between the pipelined and
// non-pipelined watermark pairs. Requests already in flight are
// unaffected.
func (g *Gate) SetPipelined(pipelined bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pipelined {
		g.high, g.low = PipelinedHighWater, PipelinedLowWater
	} else {
		g.high, g.low = HighWater, LowWater
	}
}

// TryAcquire claims one admission slot. It returns false without
// blocking if the in-flight count has reached the high watermark.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight >= g.high {
		return false
	}
	g.inFlight++
	return true
}

// Release returns one admission slot. Releasing a slot that was never
// acquired is a programming error and panics.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight <= 0 {
		panic("assetfetch/admission: release without acquire")
	}
	g.inFlight--
}

// InFlight returns the current in-flight count.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// BelowLowWater reports whether the in-flight count has drained below
// the low watermark, i.e. whether parked waiters may be re-admitted.
func (g *Gate) BelowLowWater() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight < g.low
}

// Available returns the number of slots open below the high watermark.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.high - g.inFlight
	if n < 0 {
		n = 0
	}
	return n
}

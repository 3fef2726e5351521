// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateHighWater(t *testing.T) {
	g := NewGate()

	for i := 0; i < HighWater; i++ {
		require.True(t, g.TryAcquire(), "slot %d", i)
	}
	assert.False(t, g.TryAcquire())
	assert.Equal(t, HighWater, g.InFlight())
	assert.Zero(t, g.Available())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGateLowWater(t *testing.T) {
	g := NewGate()

	for i := 0; i < HighWater; i++ {
		require.True(t, g.TryAcquire())
	}
	assert.False(t, g.BelowLowWater())

	for g.InFlight() >= LowWater {
		g.Release()
	}
	assert.True(t, g.BelowLowWater())
	assert.Equal(t, HighWater-LowWater+1, g.Available())
}

func TestGatePipelined(t *testing.T) {
	g := NewGate()

	for i := 0; i < HighWater; i++ {
		require.True(t, g.TryAcquire())
	}
	require.False(t, g.TryAcquire())

	g.SetPipelined(true)
	for i := HighWater; i < PipelinedHighWater; i++ {
		require.True(t, g.TryAcquire(), "slot %d", i)
	}
	assert.False(t, g.TryAcquire())

	g.SetPipelined(false)
	// over the non-pipelined high watermark: drains, admits nothing
	assert.False(t, g.TryAcquire())
	assert.Zero(t, g.Available())
}

func TestGateReleaseWithoutAcquire(t *testing.T) {
	g := NewGate()

	assert.Panics(t, func() { g.Release() })
}

// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	t.Run("NilPolicySelectsDefault", func(t *testing.T) {
		tr := NewTracker(nil)

		assert.True(t, tr.OnFailure(503, nil))
	})
	t.Run("BackoffScheduled", func(t *testing.T) {
		tr := NewTracker(NewPolicy(Times(3), NewFixedWaiter(time.Minute)))

		require.True(t, tr.OnFailure(503, nil))
		now := time.Now()
		d := tr.Delay(now)
		assert.Greater(t, d, 50*time.Second)
		assert.LessOrEqual(t, d, time.Minute)
		assert.Zero(t, tr.Delay(now.Add(2*time.Minute)))
	})
	t.Run("Exhaustion", func(t *testing.T) {
		tr := NewTracker(NewPolicy(Times(2), NewFixedWaiter(0)))

		assert.True(t, tr.OnFailure(503, nil))
		assert.True(t, tr.OnFailure(503, nil))
		assert.False(t, tr.OnFailure(503, nil))
		assert.Zero(t, tr.Delay(time.Now()))
	})
	t.Run("SuccessResets", func(t *testing.T) {
		tr := NewTracker(NewPolicy(Times(1), NewFixedWaiter(time.Hour)))

		require.True(t, tr.OnFailure(503, nil))
		require.False(t, tr.OnFailure(503, nil))
		tr.OnSuccess()
		assert.Zero(t, tr.Delay(time.Now()))
		assert.Zero(t, tr.Attempt().N)
		assert.True(t, tr.OnFailure(503, nil))
	})
	t.Run("TimeoutCounted", func(t *testing.T) {
		tr := NewTracker(NewPolicy(Times(5), NewFixedWaiter(0)))

		tr.OnFailure(0, timeoutErr{})
		tr.OnFailure(503, nil)
		tr.OnFailure(0, timeoutErr{})
		assert.Equal(t, 2, tr.Attempt().Timeouts)
		assert.Equal(t, 3, tr.Attempt().N)
	})
	t.Run("NeverPolicy", func(t *testing.T) {
		tr := NewTracker(Never)

		assert.False(t, tr.OnFailure(503, nil))
	})
}

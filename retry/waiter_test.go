// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWaiter(t *testing.T) {
	w := NewFixedWaiter(10 * time.Second)

	assert.Equal(t, 10*time.Second, w.Wait(&Attempt{N: 1}))
	assert.Equal(t, 10*time.Second, w.Wait(&Attempt{N: 9}))
}

func TestExpWaiter(t *testing.T) {
	t.Run("InvalidBase", func(t *testing.T) {
		assert.Panics(t, func() { NewExpWaiter(0, time.Hour, nil) })
	})
	t.Run("MaxBelowBase", func(t *testing.T) {
		assert.Panics(t, func() { NewExpWaiter(time.Minute, time.Second, nil) })
	})
	t.Run("NoJitter", func(t *testing.T) {
		w := NewExpWaiter(10*time.Second, 3600*time.Second, nil)

		assert.Equal(t, 10*time.Second, w.Wait(&Attempt{N: 1}))
		assert.Equal(t, 20*time.Second, w.Wait(&Attempt{N: 2}))
		assert.Equal(t, 40*time.Second, w.Wait(&Attempt{N: 3}))
		assert.Equal(t, 3600*time.Second, w.Wait(&Attempt{N: 10}))
		assert.Equal(t, 3600*time.Second, w.Wait(&Attempt{N: 100}))
	})
	t.Run("Jitter", func(t *testing.T) {
		w := NewExpWaiter(10*time.Second, time.Hour, int64(1))

		for n := 1; n <= 12; n++ {
			d := w.Wait(&Attempt{N: n})
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.Less(t, d, time.Hour)
		}
	})
}

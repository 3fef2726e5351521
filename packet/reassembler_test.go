// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func TestInsertInOrder(t *testing.T) {
	r := New()
	r.Begin(3)

	require.NoError(t, r.Insert(0, payload(FirstPacketSize, 0)))
	require.NoError(t, r.Insert(1, payload(MaxPacketSize, 1)))
	require.NoError(t, r.Insert(2, payload(137, 2)))

	assert.True(t, r.Complete())
	assert.Equal(t, 2, r.Last())
	assert.Equal(t, FirstPacketSize+MaxPacketSize+137, r.BufferedBytes())

	out := r.Assemble(nil)
	assert.Len(t, out, FirstPacketSize+MaxPacketSize+137)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(1), out[FirstPacketSize])
	assert.Equal(t, byte(2), out[FirstPacketSize+MaxPacketSize])
}

func TestInsertOutOfOrder(t *testing.T) {
	r := New()
	r.Begin(4)

	require.NoError(t, r.Insert(2, payload(MaxPacketSize, 2)))
	assert.Equal(t, -1, r.Last())
	assert.False(t, r.Started())

	require.NoError(t, r.Insert(0, payload(FirstPacketSize, 0)))
	assert.Equal(t, 0, r.Last())
	assert.True(t, r.Started())

	require.NoError(t, r.Insert(1, payload(MaxPacketSize, 1)))
	// prefix advances across the buffered packet 2
	assert.Equal(t, 2, r.Last())
	assert.Equal(t, 3, r.Next())
	assert.False(t, r.Complete())

	require.NoError(t, r.Insert(3, payload(10, 3)))
	assert.True(t, r.Complete())

	want := append(payload(FirstPacketSize, 0), payload(MaxPacketSize, 1)...)
	want = append(want, payload(MaxPacketSize, 2)...)
	want = append(want, payload(10, 3)...)
	assert.Equal(t, want, r.Assemble(nil))
}

func TestInsertRejects(t *testing.T) {
	t.Run("IndexOutOfRange", func(t *testing.T) {
		r := New()
		r.Begin(2)
		assert.ErrorIs(t, r.Insert(2, payload(10, 0)), ErrIndexRange)
	})
	t.Run("Duplicate", func(t *testing.T) {
		r := New()
		r.Begin(3)
		require.NoError(t, r.Insert(1, payload(MaxPacketSize, 1)))
		assert.ErrorIs(t, r.Insert(1, payload(MaxPacketSize, 1)), ErrDuplicate)
	})
	t.Run("ShortMiddlePacket", func(t *testing.T) {
		r := New()
		r.Begin(4)
		assert.ErrorIs(t, r.Insert(1, payload(999, 1)), ErrBadSize)
	})
	t.Run("ShortLastPacketAllowed", func(t *testing.T) {
		r := New()
		r.Begin(4)
		assert.NoError(t, r.Insert(3, payload(5, 3)))
	})
}

func TestSeedFromCache(t *testing.T) {
	t.Run("Resume", func(t *testing.T) {
		r := New()
		stored := FirstPacketSize + 2*MaxPacketSize
		total := FirstPacketSize + 3*MaxPacketSize + 50

		require.NoError(t, r.SeedFromCache(stored, total))
		assert.Equal(t, 3, r.First())
		assert.Equal(t, 2, r.Last())
		assert.Equal(t, 3, r.Next())
		assert.Equal(t, 5, r.Total())
		assert.False(t, r.Complete())
		assert.Zero(t, r.BufferedBytes())

		require.NoError(t, r.Insert(3, payload(MaxPacketSize, 3)))
		require.NoError(t, r.Insert(4, payload(50, 4)))
		assert.True(t, r.Complete())

		prefix := payload(stored, 9)
		out := r.Assemble(prefix)
		assert.Len(t, out, total)
		assert.Equal(t, byte(9), out[stored-1])
		assert.Equal(t, byte(3), out[stored])
	})
	t.Run("ReplayOfSeededIndexRejected", func(t *testing.T) {
		r := New()
		require.NoError(t, r.SeedFromCache(FirstPacketSize+MaxPacketSize, FirstPacketSize+2*MaxPacketSize))
		assert.ErrorIs(t, r.Insert(0, payload(FirstPacketSize, 0)), ErrDuplicate)
		assert.ErrorIs(t, r.Insert(1, payload(MaxPacketSize, 1)), ErrDuplicate)
	})
	t.Run("OffBoundary", func(t *testing.T) {
		r := New()
		assert.ErrorIs(t, r.SeedFromCache(FirstPacketSize+500, 5000), ErrSizeMismatch)
	})
	t.Run("UnknownTotal", func(t *testing.T) {
		r := New()
		assert.ErrorIs(t, r.SeedFromCache(FirstPacketSize, 0), ErrUnknownTotal)
	})
}

func TestReset(t *testing.T) {
	r := New()
	r.Begin(2)
	require.NoError(t, r.Insert(0, payload(FirstPacketSize, 0)))

	r.Reset()

	assert.False(t, r.Started())
	assert.Zero(t, r.Total())
	assert.Zero(t, r.BufferedBytes())
	assert.Equal(t, -1, r.Last())
}

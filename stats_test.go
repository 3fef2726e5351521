// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStatsReport(t *testing.T) {
	session := uuid.New()
	agent := uuid.New()

	t.Run("BinsPerRegion", func(t *testing.T) {
		s := newFetchStats()
		s.setRegion(100)
		s.recordEnqueue(true)
		s.recordBytes(true, 2048)
		s.recordDequeue()
		s.setRegion(200)
		s.recordEnqueue(false)
		s.recordBytes(false, 512)

		rep := s.report(session, agent)
		require.Len(t, rep.Regions, 2)
		assert.Equal(t, uint64(100), rep.Regions[0].Handle)
		assert.Equal(t, 1, rep.Regions[0].HTTPRequests)
		assert.Equal(t, int64(2048), rep.Regions[0].HTTPBytes)
		assert.Equal(t, 1, rep.Regions[0].Dequeued)
		assert.Equal(t, uint64(200), rep.Regions[1].Handle)
		assert.Equal(t, 1, rep.Regions[1].SimRequests)
		assert.Equal(t, int64(512), rep.Regions[1].SimBytes)
		assert.Equal(t, session, rep.SessionID)
		assert.Equal(t, agent, rep.AgentID)
	})

	t.Run("SameRegionIsNoOp", func(t *testing.T) {
		s := newFetchStats()
		s.setRegion(100)
		s.recordEnqueue(true)
		s.setRegion(100)
		s.recordEnqueue(true)
		rep := s.report(session, agent)
		require.Len(t, rep.Regions, 1)
		assert.Equal(t, 2, rep.Regions[0].HTTPRequests)
	})

	t.Run("SequenceAndInitial", func(t *testing.T) {
		s := newFetchStats()
		s.setRegion(1)
		first := s.report(session, agent)
		second := s.report(session, agent)
		assert.Equal(t, 0, first.Sequence)
		assert.True(t, first.Initial)
		assert.Equal(t, 1, second.Sequence)
		assert.False(t, second.Initial)
	})

	t.Run("RollsCurrentBinForward", func(t *testing.T) {
		s := newFetchStats()
		s.setRegion(7)
		s.recordEnqueue(true)
		s.report(session, agent)
		s.recordEnqueue(true)
		rep := s.report(session, agent)
		require.Len(t, rep.Regions, 1)
		assert.Equal(t, uint64(7), rep.Regions[0].Handle)
		assert.Equal(t, 1, rep.Regions[0].HTTPRequests, "counts must not carry across reports")
	})

	t.Run("BreakFlagConsumed", func(t *testing.T) {
		s := newFetchStats()
		s.markBreak()
		assert.True(t, s.report(session, agent).Break)
		assert.False(t, s.report(session, agent).Break)
	})

	t.Run("WorkerTotalsAccumulate", func(t *testing.T) {
		s := newFetchStats()
		s.addWorkerTotals(2, 1, 3)
		s.addWorkerTotals(1, 0, 0)
		rep := s.report(session, agent)
		assert.Equal(t, 3, rep.CacheReads)
		assert.Equal(t, 1, rep.CacheWrites)
		assert.Equal(t, 3, rep.ResourceWaits)
	})

	t.Run("ImplicitBin", func(t *testing.T) {
		s := newFetchStats()
		s.recordEnqueue(true)
		rep := s.report(session, agent)
		require.Len(t, rep.Regions, 1)
		assert.Equal(t, uint64(0), rep.Regions[0].Handle)
	})
}

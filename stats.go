// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// regionBin accumulates transfer accounting for one region visit.
type regionBin struct {
	handle       uint64
	start        time.Time
	httpRequests int
	simRequests  int
	httpBytes    int64
	simBytes     int64
	enqueued     int
	dequeued     int
}

// fetchStats aggregates transfer accounting across region visits and
// renders the periodic metrics report.
type fetchStats struct {
	mu            sync.Mutex
	sequence      int
	reported      bool
	breakFlag     bool
	current       *regionBin
	closed        []*regionBin
	cacheReads    int
	cacheWrites   int
	resourceWaits int
}

func newFetchStats() *fetchStats {
	return &fetchStats{}
}

// setRegion switches the active accounting bin. Re-announcing the
// current region is a no-op.
func (s *fetchStats) setRegion(handle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.handle == handle {
		return
	}
	if s.current != nil {
		s.closed = append(s.closed, s.current)
	}
	s.current = &regionBin{handle: handle, start: time.Now()}
}

func (s *fetchStats) bin() *regionBin {
	if s.current == nil {
		s.current = &regionBin{start: time.Now()}
	}
	return s.current
}

func (s *fetchStats) recordEnqueue(http bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bin()
	b.enqueued++
	if http {
		b.httpRequests++
	} else {
		b.simRequests++
	}
}

func (s *fetchStats) recordDequeue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bin().dequeued++
}

func (s *fetchStats) recordBytes(http bool, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bin()
	if http {
		b.httpBytes += int64(n)
	} else {
		b.simBytes += int64(n)
	}
}

func (s *fetchStats) addWorkerTotals(cacheReads, cacheWrites, resourceWaits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheReads += cacheReads
	s.cacheWrites += cacheWrites
	s.resourceWaits += resourceWaits
}

// markBreak flags the next report as following lost accounting data.
func (s *fetchStats) markBreak() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakFlag = true
}

// MetricsRegion is the per-region section of a metrics report.
type MetricsRegion struct {
	Handle       uint64  `json:"region_handle"`
	Seconds      float64 `json:"duration_seconds"`
	HTTPRequests int     `json:"http_requests"`
	SimRequests  int     `json:"sim_requests"`
	HTTPBytes    int64   `json:"http_bytes"`
	SimBytes     int64   `json:"sim_bytes"`
	Enqueued     int     `json:"enqueued"`
	Dequeued     int     `json:"dequeued"`
}

// MetricsReport is the JSON payload posted by the SendMetrics command.
type MetricsReport struct {
	SessionID     uuid.UUID       `json:"session_id"`
	AgentID       uuid.UUID       `json:"agent_id"`
	Sequence      int             `json:"sequence"`
	Initial       bool            `json:"initial"`
	Break         bool            `json:"break"`
	CacheReads    int             `json:"cache_reads"`
	CacheWrites   int             `json:"cache_writes"`
	ResourceWaits int             `json:"resource_waits"`
	Regions       []MetricsRegion `json:"regions"`
}

// report snapshots accounting into a MetricsReport and rolls the
// closed bins forward.
func (s *fetchStats) report(session, agent uuid.UUID) MetricsReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	bins := s.closed
	s.closed = nil
	if s.current != nil {
		bins = append(bins, s.current)
		s.current = &regionBin{handle: s.current.handle, start: now}
	}

	rep := MetricsReport{
		SessionID:     session,
		AgentID:       agent,
		Sequence:      s.sequence,
		Initial:       !s.reported,
		Break:         s.breakFlag,
		CacheReads:    s.cacheReads,
		CacheWrites:   s.cacheWrites,
		ResourceWaits: s.resourceWaits,
	}
	for _, b := range bins {
		rep.Regions = append(rep.Regions, MetricsRegion{
			Handle:       b.handle,
			Seconds:      now.Sub(b.start).Seconds(),
			HTTPRequests: b.httpRequests,
			SimRequests:  b.simRequests,
			HTTPBytes:    b.httpBytes,
			SimBytes:     b.simBytes,
			Enqueued:     b.enqueued,
			Dequeued:     b.dequeued,
		})
	}
	s.sequence++
	s.reported = true
	s.breakFlag = false
	return rep
}

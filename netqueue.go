// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"errors"
	"net/netip"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gridscape/assetfetch/packet"
	"github.com/gridscape/assetfetch/sim"
)

const (
	// requestFlushInterval is the cadence of outbound datagram request
	// batching (4Hz).
	requestFlushInterval = 250 * time.Millisecond
	// simLazyFlushTimeout re-issues a request when nothing has been
	// heard for this long.
	simLazyFlushTimeout = 2 * time.Second
	// minRequestTime is the shortest interval between re-requests of
	// the same asset.
	minRequestTime = time.Second
	// minPriorityDelta is the priority change below which a request
	// is not re-issued early.
	minPriorityDelta = 1000
)

func (f *Fetcher) enqueueNetworkRequest(id uuid.UUID) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	f.netQueue[id] = struct{}{}
}

func (f *Fetcher) dequeueNetworkRequest(id uuid.UUID) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	delete(f.netQueue, id)
}

func (f *Fetcher) queueCancel(host netip.AddrPort, id uuid.UUID) {
	if !host.IsValid() {
		return
	}
	f.netMu.Lock()
	defer f.netMu.Unlock()
	set := f.cancelQueue[host]
	if set == nil {
		set = make(map[uuid.UUID]struct{})
		f.cancelQueue[host] = set
	}
	set[id] = struct{}{}
}

func (f *Fetcher) addToHTTPQueue(id uuid.UUID) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	f.httpQueue[id] = struct{}{}
	f.totalHTTPRequests++
}

func (f *Fetcher) removeFromHTTPQueue(id uuid.UUID) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	delete(f.httpQueue, id)
}

func (f *Fetcher) addHTTPWaiter(id uuid.UUID) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	f.httpWaiters[id] = struct{}{}
}

func (f *Fetcher) removeHTTPWaiter(id uuid.UUID) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	delete(f.httpWaiters, id)
}

func (f *Fetcher) isHTTPWaiter(id uuid.UUID) bool {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	_, ok := f.httpWaiters[id]
	return ok
}

func (f *Fetcher) hasHTTPWaiters() bool {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	return len(f.httpWaiters) > 0
}

func (f *Fetcher) addHTTPBytes(n int64) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	f.httpBytes += n
}

// releaseHTTPWaiters admits parked workers once the gate has drained
// below its low watermark, highest priority first.
func (f *Fetcher) releaseHTTPWaiters() {
	if !f.gate.BelowLowWater() {
		return
	}
	f.netMu.Lock()
	ids := make([]uuid.UUID, 0, len(f.httpWaiters))
	for id := range f.httpWaiters {
		ids = append(ids, id)
	}
	f.netMu.Unlock()
	if len(ids) == 0 {
		return
	}

	type cand struct {
		w   *Worker
		pri float32
	}
	cands := make([]cand, 0, len(ids))
	for _, id := range ids {
		w := f.getWorker(id)
		if w == nil {
			f.removeHTTPWaiter(id)
			continue
		}
		w.mu.Lock()
		if w.state != StateWaitHTTPResource2 {
			w.mu.Unlock()
			f.removeHTTPWaiter(id)
			continue
		}
		cands = append(cands, cand{w, w.imagePriority})
		w.mu.Unlock()
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].pri > cands[j].pri })

	for _, c := range cands {
		w := c.w
		w.mu.Lock()
		if w.state != StateWaitHTTPResource2 {
			w.mu.Unlock()
			continue
		}
		if !w.acquireHTTPResource() {
			w.mu.Unlock()
			break
		}
		w.setState(StateSendHTTPReq)
		w.schedule(BandElevated)
		w.mu.Unlock()
		f.removeHTTPWaiter(w.id)
	}
}

// flushNetworkRequests drains the datagram request and cancellation
// queues into batched per-host messages, highest priority first.
func (f *Fetcher) flushNetworkRequests(now time.Time) {
	if f.sim == nil {
		return
	}

	f.netMu.Lock()
	ids := make([]uuid.UUID, 0, len(f.netQueue))
	for id := range f.netQueue {
		ids = append(ids, id)
	}
	f.netMu.Unlock()

	type pend struct {
		w   *Worker
		pri float32
	}
	byHost := make(map[netip.AddrPort][]pend)
	for _, id := range ids {
		w := f.getWorker(id)
		if w == nil {
			f.dequeueNetworkRequest(id)
			continue
		}
		w.mu.Lock()
		if w.state != StateLoadFromNetwork && w.state != StateLoadFromSimulator {
			f.log.Warn("queued request in unexpected state",
				"id", w.id, "state", w.state.String())
			w.mu.Unlock()
			f.dequeueNetworkRequest(id)
			continue
		}
		if w.sent == sentSim && w.packets.Complete() {
			w.mu.Unlock()
			continue
		}
		elapsed := now.Sub(w.requestAt)
		delta := w.requestedPriority - w.imagePriority
		if delta < 0 {
			delta = -delta
		}
		need := w.simRequestedDiscard != w.desiredDiscard ||
			(delta > minPriorityDelta && elapsed >= minRequestTime) ||
			elapsed >= simLazyFlushTimeout
		host := w.host
		if !host.IsValid() {
			host = f.agentHost
		}
		pri := w.imagePriority
		w.mu.Unlock()
		if need && host.IsValid() {
			byHost[host] = append(byHost[host], pend{w, pri})
		}
	}

	for host, list := range byHost {
		sort.Slice(list, func(i, j int) bool { return list[i].pri > list[j].pri })
		batch := make([]sim.Request, 0, sim.RequestsPerMessage)
		for _, p := range list {
			w := p.w
			w.mu.Lock()
			if w.sent != sentSim && len(w.data) > 0 {
				// resume a partially held asset mid-stream
				if err := w.packets.SeedFromCache(len(w.data), w.fileSize); err != nil {
					f.log.Warn("held bytes not resumable, restarting stream",
						"id", w.id, "error", err)
					if errors.Is(err, packet.ErrSizeMismatch) && w.inLocalCache && f.cache != nil {
						if rerr := f.cache.Remove(f.ctx, w.id); rerr != nil {
							f.log.Warn("cache purge failed", "id", w.id, "error", rerr)
						}
					}
					w.data = nil
					w.packets.Reset()
				}
			}
			typ := sim.TypeDefault
			if w.host.IsValid() {
				typ = sim.TypeHosted
			}
			req := sim.Request{
				ID:       w.id,
				Discard:  int8(w.desiredDiscard),
				Priority: w.imagePriority,
				Packet:   uint32(w.packets.Next()),
				Type:     typ,
			}
			w.sent = sentSim
			w.simRequestedDiscard = w.desiredDiscard
			w.requestedPriority = w.imagePriority
			w.requestAt = now
			w.mu.Unlock()
			batch = append(batch, req)
			if len(batch) == sim.RequestsPerMessage {
				f.sendRequestBatch(host, batch)
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			f.sendRequestBatch(host, batch)
		}
	}

	f.flushCancels()
}

func (f *Fetcher) flushCancels() {
	f.netMu.Lock()
	cancels := f.cancelQueue
	f.cancelQueue = make(map[netip.AddrPort]map[uuid.UUID]struct{})
	f.netMu.Unlock()

	for host, set := range cancels {
		batch := make([]sim.Request, 0, sim.RequestsPerMessage)
		for id := range set {
			batch = append(batch, sim.Cancel(id))
			if len(batch) == sim.RequestsPerMessage {
				f.sendRequestBatch(host, batch)
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			f.sendRequestBatch(host, batch)
		}
	}
}

func (f *Fetcher) sendRequestBatch(host netip.AddrPort, reqs []sim.Request) {
	out := make([]sim.Request, len(reqs))
	copy(out, reqs)
	if err := f.sim.SendRequests(host, out); err != nil {
		f.log.Warn("request batch send failed",
			"host", host.String(), "count", len(out), "error", err)
	}
}

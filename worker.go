// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridscape/assetfetch/cache"
	"github.com/gridscape/assetfetch/codec"
	"github.com/gridscape/assetfetch/packet"
	"github.com/gridscape/assetfetch/retry"
)

const (
	// minDesiredSize is the floor on any byte budget; below this even
	// the coarsest level is not reconstructable.
	minDesiredSize = 1 << 12
	// almostZeroPriority: requests whose priority has decayed to
	// effectively zero are abandoned before they reach a transport.
	almostZeroPriority = 1e-4
	// priorityRedispatchFraction is the relative priority change below
	// which a queued worker is not re-dispatched.
	priorityRedispatchFraction = 0.05
)

// A Worker drives the fetch of one asset through the state machine.
// At most one Worker exists per asset id; all fields below the mutex
// are guarded by it.
type Worker struct {
	f    *Fetcher
	id   uuid.UUID
	host netip.AddrPort

	mu sync.Mutex

	state      State
	writeState writeToCacheState
	band       Band

	url string

	imagePriority     float32
	requestedPriority float32

	desiredDiscard      int
	simRequestedDiscard int
	requestedDiscard    int
	loadedDiscard       int
	decodedDiscard      int

	fullWidth  int
	fullHeight int
	components int

	desiredSize     int
	requestedSize   int
	requestedOffset int
	fileSize        int
	cachedSize      int

	sent            sentState
	loaded          bool
	decoded         bool
	written         bool
	needsAux        bool
	haveAllData     bool
	inLocalCache    bool
	canUseHTTP      bool
	canUseNet       bool
	aborted         bool
	deleteRequested bool
	haveWork        bool
	finished        bool

	activeCount int

	httpActive      bool
	httpHasResource bool
	httpOK          bool
	httpPartial     bool
	httpStatus      int
	httpErr         error
	httpBody        []byte
	replyOffset     int
	replySize       int
	httpCancel      context.CancelFunc

	data []byte
	raw  *codec.Raw
	aux  *codec.Raw

	imageCodec byte
	packets    *packet.Reassembler
	tracker    *retry.Tracker

	fetchStart     time.Time
	activityAt     time.Time
	requestAt      time.Time
	cacheReadStart time.Time
	cacheReadTime  time.Duration
	decodeTime     time.Duration
	fetchTime      time.Duration

	cacheReadCount    int
	cacheWriteCount   int
	resourceWaitCount int

	// dispatchSeq identifies the worker's live queue entry. Guarded
	// by Fetcher.mu, not by mu.
	dispatchSeq uint64
}

func newWorker(f *Fetcher, url string, id uuid.UUID, host netip.AddrPort, priority float32) *Worker {
	now := time.Now()
	w := &Worker{
		f:                   f,
		id:                  id,
		host:                host,
		url:                 url,
		state:               StateInit,
		writeState:          canWrite,
		band:                BandElevated,
		imagePriority:       priority,
		desiredDiscard:      -1,
		simRequestedDiscard: -1,
		requestedDiscard:    -1,
		loadedDiscard:       -1,
		decodedDiscard:      -1,
		packets:             packet.New(),
		tracker:             retry.NewTracker(f.retryPolicy),
		fetchStart:          now,
		activityAt:          now,
		requestAt:           now,
	}
	w.canUseNet = url == "" && f.sim != nil
	return w
}

// schedule marks the worker runnable and queues a pass at the given
// band. Caller holds w.mu.
func (w *Worker) schedule(band Band) {
	w.haveWork = true
	w.finished = false
	w.band = band
	w.f.dispatch(w, Priority{Band: band, Base: w.imagePriority})
}

// setBand moves an already queued worker to a different band. Caller
// holds w.mu.
func (w *Worker) setBand(band Band) {
	w.band = band
	if w.haveWork {
		w.f.dispatch(w, Priority{Band: band, Base: w.imagePriority})
	}
}

// setDesiredDiscard records a new desired level and byte budget,
// waking or re-prioritizing the worker as needed. Caller holds w.mu.
func (w *Worker) setDesiredDiscard(discard, size int) {
	prioritize := false
	if w.desiredDiscard != discard {
		if !w.haveWork {
			if w.state == StateDone {
				w.setState(StateInit)
			}
			w.schedule(BandElevated)
		} else if w.desiredDiscard < discard {
			prioritize = true
		}
		w.desiredDiscard = discard
		w.desiredSize = size
	} else if size > w.desiredSize {
		w.desiredSize = size
		prioritize = true
	}
	if w.desiredSize < minDesiredSize {
		w.desiredSize = minDesiredSize
	}
	if prioritize && (w.state == StateInit || w.state == StateDone) {
		w.setState(StateInit)
		w.schedule(BandElevated)
	}
}

// setImagePriority records a new caller priority. A significant change
// (or any change to a DONE worker) re-dispatches the queued pass at the
// elevated band so the new priority takes effect promptly. Caller holds
// w.mu.
func (w *Worker) setImagePriority(priority float32) {
	delta := w.imagePriority - priority
	if delta < 0 {
		delta = -delta
	}
	if delta <= priority*priorityRedispatchFraction && w.state != StateDone {
		w.imagePriority = priority
		return
	}
	w.imagePriority = priority
	if w.haveWork {
		w.band = BandElevated
		w.f.dispatch(w, Priority{Band: BandElevated, Base: priority})
	}
}

func (w *Worker) setState(next State) {
	w.f.log.Debug("fetch state change",
		"id", w.id, "from", w.state.String(), "to", next.String())
	w.state = next
}

// abort abandons the fetch, releasing any held admission slot and
// cancelling any in-flight HTTP attempt. Caller holds w.mu.
func (w *Worker) abort(reason string) {
	w.f.log.Debug("fetch aborted", "id", w.id, "reason", reason)
	w.releaseHTTPResource()
	if w.httpCancel != nil {
		w.httpCancel()
	}
	w.aborted = true
	w.haveWork = false
	w.finished = true
}

func (w *Worker) acquireHTTPResource() bool {
	if w.httpHasResource {
		panic("assetfetch: admission slot acquired twice")
	}
	if !w.f.gate.TryAcquire() {
		return false
	}
	w.httpHasResource = true
	return true
}

func (w *Worker) releaseHTTPResource() {
	if !w.httpHasResource {
		return
	}
	w.httpHasResource = false
	w.f.gate.Release()
}

// doWork gives the worker one state machine pass. It returns true when
// no further passes should be scheduled.
func (w *Worker) doWork() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.haveWork {
		return true
	}

	if (w.deleteRequested || w.f.isShuttingDown()) && w.state < StateDecodeImage {
		w.abort("request deleted")
		return true
	}
	if w.imagePriority < almostZeroPriority &&
		(w.state == StateInit || w.state == StateLoadFromNetwork || w.state == StateLoadFromSimulator) {
		w.abort("priority decayed to zero")
		return true
	}
	if w.state > StateCachePost && !w.canUseNet && !w.canUseHTTP {
		w.f.log.Warn("no transport available", "id", w.id, "state", w.state.String())
		w.abort("no transport")
		return true
	}
	if w.state != StateDone {
		w.activityAt = time.Now()
	}

	if w.state == StateInit {
		w.requestedDiscard = -1
		w.loadedDiscard = -1
		w.decodedDiscard = -1
		w.requestedSize = 0
		w.requestedOffset = 0
		w.fileSize = 0
		w.cachedSize = 0
		w.loaded = false
		w.decoded = false
		w.written = false
		w.haveAllData = false
		w.inLocalCache = false
		w.sent = sentNone
		w.raw = nil
		w.aux = nil
		w.httpBody = nil
		w.replyOffset, w.replySize = 0, 0
		w.packets.Reset()
		if w.desiredSize < minDesiredSize {
			w.desiredSize = minDesiredSize
		}
		w.setState(StateLoadFromCache)
		w.band = BandWaiting
	}

	if w.state == StateLoadFromCache {
		offset := len(w.data)
		if w.desiredSize-offset <= 0 {
			w.setState(StateCachePost)
		} else {
			w.fileSize = 0
			w.loaded = false
			if strings.HasPrefix(w.url, "file://") {
				path := strings.TrimPrefix(w.url, "file://")
				w.cacheReadStart = time.Now()
				b, err := os.ReadFile(path)
				if err != nil {
					w.f.log.Warn("local file read failed", "id", w.id, "path", path, "error", err)
					w.setState(StateDone)
					w.setBand(BandElevated)
					return false
				}
				w.cacheReadTime = time.Since(w.cacheReadStart)
				w.cacheReadCount++
				w.data = b
				w.fileSize = len(b)
				w.desiredSize = len(b)
				w.haveAllData = true
				w.loaded = true
				w.writeState = notWrite
			} else if w.url == "" && w.f.cache != nil && offset == 0 {
				w.cacheReadStart = time.Now()
				b, err := w.f.cache.Find(w.f.ctx, w.id)
				w.cacheReadCount++
				switch {
				case err == nil:
					w.cacheReadTime = time.Since(w.cacheReadStart)
					w.data = b
					w.loaded = true
					w.inLocalCache = true
					w.f.addCacheRead()
				case errors.Is(err, cache.ErrNotFound):
					// miss; fall through to a network source
				default:
					w.f.log.Warn("cache read failed", "id", w.id, "error", err)
				}
			}
			if w.loaded {
				w.setState(StateCachePost)
			} else if w.url != "" && w.canUseHTTP {
				w.setState(StateWaitHTTPResource)
				w.setBand(BandElevated)
			} else {
				w.setState(StateLoadFromNetwork)
				w.setBand(BandElevated)
			}
		}
	}

	if w.state == StateCachePost {
		w.cachedSize = len(w.data)
		if w.haveAllData || w.cachedSize >= w.desiredSize {
			if w.desiredDiscard < 0 {
				w.f.log.Warn("negative desired discard at cache post", "id", w.id)
			}
			w.loadedDiscard = w.desiredDiscard
			if w.haveAllData {
				w.loadedDiscard = 0
			}
			w.setState(StateDecodeImage)
			w.setBand(BandElevated)
		} else if strings.HasPrefix(w.url, "file://") {
			// local file was shorter than the smallest budget
			w.f.log.Warn("local file too small", "id", w.id, "size", w.cachedSize)
			w.abort("local file too small")
			return true
		} else if w.url != "" && w.canUseHTTP {
			w.setState(StateWaitHTTPResource)
			w.setBand(BandElevated)
		} else {
			w.setState(StateLoadFromNetwork)
			w.setBand(BandElevated)
		}
	}

	if w.state == StateLoadFromNetwork {
		if d := w.tracker.Delay(time.Now()); d > 0 {
			w.setBand(BandWaiting)
			return false
		}
		if w.canUseHTTP && w.url == "" {
			host := w.host
			if !host.IsValid() {
				host = w.f.agentHost
			}
			if base := w.f.assetURL(host); base != "" {
				w.url = base + "/?asset_id=" + w.id.String()
				w.writeState = canWrite
			} else {
				w.canUseHTTP = false
			}
		}
		if w.canUseHTTP && w.url != "" {
			w.setState(StateWaitHTTPResource)
			w.setBand(BandElevated)
		} else if w.canUseNet && w.sent == sentNone {
			w.requestedSize = w.desiredSize
			w.requestedDiscard = w.desiredDiscard
			w.requestedPriority = w.imagePriority
			w.sent = sentQueued
			w.f.enqueueNetworkRequest(w.id)
			w.f.stats.recordEnqueue(false)
			w.setBand(BandWaiting)
			return false
		} else if !w.canUseNet && !w.canUseHTTP {
			w.f.log.Warn("no transport available", "id", w.id)
			w.abort("no transport")
			return true
		} else {
			// request already queued or in flight on the datagram path
			w.setBand(BandWaiting)
			return false
		}
	}

	if w.state == StateLoadFromSimulator {
		if !w.processSimPackets() {
			// failsafe: keep the request queued so the periodic flush
			// can re-issue it if packets stop arriving
			w.f.enqueueNetworkRequest(w.id)
			w.setBand(BandWaiting)
			return false
		}
		w.f.dequeueNetworkRequest(w.id)
		if len(w.data) == 0 {
			w.f.log.Warn("datagram fetch produced no data", "id", w.id)
			w.abort("empty datagram response")
			return true
		}
		if w.f.decoder != nil {
			hdr, err := w.f.decoder.ParseHeader(w.data)
			if err != nil {
				w.f.log.Warn("unparseable asset header", "id", w.id, "error", err)
				w.setState(StateDone)
				w.setBand(BandElevated)
				return false
			}
			w.fullWidth, w.fullHeight, w.components = hdr.Width, hdr.Height, hdr.Components
		}
		w.f.stats.recordBytes(false, len(w.data))
		w.setState(StateDecodeImage)
		w.setBand(BandElevated)
	}

	if w.state == StateWaitHTTPResource {
		w.setBand(BandWaiting)
		if w.f.hasHTTPWaiters() || !w.acquireHTTPResource() {
			w.setState(StateWaitHTTPResource2)
			w.f.addHTTPWaiter(w.id)
			w.resourceWaitCount++
			w.f.addResourceWait()
			return false
		}
		w.setState(StateSendHTTPReq)
	}

	if w.state == StateWaitHTTPResource2 {
		// released by the fetcher once the gate drains
		return false
	}

	if w.state == StateSendHTTPReq {
		if !w.canUseHTTP {
			w.releaseHTTPResource()
			w.abort("http disabled for request")
			return true
		}
		w.f.dequeueNetworkRequest(w.id)
		curSize := len(w.data)
		if w.haveAllData {
			if curSize > 0 {
				w.loadedDiscard = 0
				w.setState(StateDecodeImage)
				w.setBand(BandElevated)
				w.releaseHTTPResource()
				return false
			}
			w.releaseHTTPResource()
			w.abort("no data to fetch")
			return true
		}
		w.requestedSize = w.desiredSize
		w.requestedDiscard = w.desiredDiscard
		w.requestedPriority = w.imagePriority
		w.requestedOffset = curSize
		if w.requestedOffset > 0 {
			// re-request the last held byte so a range starting at
			// EOF still draws a definitive answer (206 or 416)
			w.requestedOffset--
			w.requestedSize++
		}
		w.loaded = false
		w.httpOK = false
		w.httpStatus = 0
		w.httpErr = nil
		w.replyOffset, w.replySize = 0, 0
		if err := w.f.startHTTPFetch(w); err != nil {
			w.f.log.Warn("http dispatch failed", "id", w.id, "error", err)
			w.releaseHTTPResource()
			w.abort("http dispatch failed")
			return true
		}
		w.httpActive = true
		w.requestAt = time.Now()
		w.f.stats.recordEnqueue(true)
		w.setState(StateWaitHTTPReq)
		w.setBand(BandWaiting)
		return false
	}

	if w.state == StateWaitHTTPReq {
		if !w.loaded {
			return false
		}
		curSize := len(w.data)
		if !w.httpOK {
			switch {
			case w.httpStatus == http.StatusNotFound:
				if w.canUseNet {
					w.f.log.Debug("asset missing over http, using datagram transport",
						"id", w.id)
					w.url = ""
					w.canUseHTTP = false
					w.releaseHTTPResource()
					w.setState(StateInit)
					w.setBand(BandElevated)
					return false
				}
				w.f.log.Warn("asset missing", "id", w.id, "url", w.url)
			case w.httpStatus == http.StatusRequestedRangeNotSatisfiable:
				// requested past EOF: what we hold is all there is
				w.haveAllData = true
			case w.httpStatus == http.StatusServiceUnavailable ||
				retry.Categorize(w.httpErr) != retry.Not:
				if w.tracker.OnFailure(w.httpStatus, w.httpErr) {
					w.f.log.Debug("will retry fetch",
						"id", w.id, "status", w.httpStatus, "error", w.httpErr)
					w.releaseHTTPResource()
					w.setState(StateLoadFromNetwork)
					w.setBand(BandWaiting)
					return false
				}
				w.f.log.Warn("retries exhausted", "id", w.id, "status", w.httpStatus)
			default:
				w.f.log.Warn("http fetch failed",
					"id", w.id, "status", w.httpStatus, "error", w.httpErr)
			}
			if !w.haveAllData {
				if curSize > 0 {
					// decode whatever arrived before the failure
					w.loadedDiscard = codec.DiscardForSize(curSize, w.fullWidth, w.fullHeight, w.components)
					w.setState(StateDecodeImage)
					w.setBand(BandElevated)
					w.releaseHTTPResource()
					return false
				}
				w.data = nil
				w.setState(StateDone)
				w.setBand(BandElevated)
				w.releaseHTTPResource()
				return true
			}
			w.httpBody = nil
		}
		body := w.httpBody
		w.httpBody = nil
		if len(body) == 0 {
			// zero-length reply: the asset has no more bytes
			w.haveAllData = true
		} else {
			if !w.httpPartial {
				// full-asset reply supersedes anything partial we held
				w.data = nil
				curSize = 0
				w.replyOffset = 0
				w.haveAllData = true
			} else {
				if w.replySize == 0 {
					// no Content-Range: assume the reply matches the request
					w.replyOffset = w.requestedOffset
					w.replySize = len(body)
				}
				if len(body) < w.requestedSize {
					w.haveAllData = true
				} else if len(body) > w.requestedSize {
					w.data = nil
					curSize = 0
					w.replyOffset = 0
					w.haveAllData = true
				}
			}
			src := 0
			if w.replyOffset != curSize {
				if w.replyOffset > curSize || curSize > w.replyOffset+len(body) {
					w.f.log.Warn("discontiguous http reply",
						"id", w.id, "reply_offset", w.replyOffset, "held", curSize)
					w.data = nil
					w.setState(StateDone)
					w.setBand(BandElevated)
					w.releaseHTTPResource()
					return true
				}
				src = curSize - w.replyOffset
			}
			w.data = append(w.data, body[src:]...)
		}
		total := len(w.data)
		if total == 0 {
			w.setState(StateDone)
			w.setBand(BandElevated)
			w.releaseHTTPResource()
			return true
		}
		if w.haveAllData {
			w.fileSize = total
			w.desiredSize = total
		} else {
			// at least one more byte exists past what we requested
			w.fileSize = total + 1
		}
		if w.fullWidth == 0 && w.f.decoder != nil {
			hdr, err := w.f.decoder.ParseHeader(w.data)
			if err != nil {
				w.f.log.Warn("unparseable asset header", "id", w.id, "error", err)
				w.data = nil
				w.setState(StateDone)
				w.setBand(BandElevated)
				w.releaseHTTPResource()
				return false
			}
			w.fullWidth, w.fullHeight, w.components = hdr.Width, hdr.Height, hdr.Components
		}
		w.tracker.OnSuccess()
		if w.haveAllData {
			w.loadedDiscard = 0
		} else {
			w.loadedDiscard = w.requestedDiscard
		}
		if w.loadedDiscard == 0 && w.writeState == canWrite {
			w.writeState = shouldWrite
		}
		w.setState(StateDecodeImage)
		w.setBand(BandElevated)
		w.releaseHTTPResource()
	}

	if w.state == StateDecodeImage {
		switch {
		case w.f.settings.DisableDecode || w.f.decoder == nil:
			// fetched bytes still reach the cache
			w.setState(StateWriteToCache)
		case w.desiredDiscard < 0 || w.loadedDiscard < 0 || len(w.data) == 0:
			w.f.log.Debug("nothing to decode", "id", w.id,
				"desired", w.desiredDiscard, "loaded", w.loadedDiscard, "bytes", len(w.data))
			w.setState(StateDone)
			w.setBand(BandElevated)
			return false
		default:
			discard := w.loadedDiscard
			if w.haveAllData {
				discard = 0
			}
			start := time.Now()
			res, err := w.f.decoder.Decode(w.data, discard, w.needsAux)
			w.decodeTime = time.Since(start)
			if err != nil || res.Image == nil {
				if w.inLocalCache {
					// cached bytes are corrupt: purge and refetch
					w.f.log.Warn("corrupt cached asset, refetching", "id", w.id, "error", err)
					if w.f.cache != nil {
						if rerr := w.f.cache.Remove(w.f.ctx, w.id); rerr != nil {
							w.f.log.Warn("cache purge failed", "id", w.id, "error", rerr)
						}
					}
					w.data = nil
					w.inLocalCache = false
					w.haveAllData = false
					w.writeState = canWrite
					w.setState(StateInit)
					w.setBand(BandElevated)
					return false
				}
				w.f.log.Warn("decode failed", "id", w.id, "error", err)
				w.setState(StateDone)
				w.setBand(BandElevated)
				return false
			}
			w.raw = res.Image
			w.aux = res.Aux
			w.decoded = true
			w.decodedDiscard = res.Discard
			w.setState(StateWriteToCache)
		}
	}

	if w.state == StateWriteToCache {
		if w.writeState != shouldWrite || len(w.data) == 0 || w.f.cache == nil {
			w.setState(StateDone)
		} else {
			w.setState(StateWaitOnWrite)
			if err := w.f.cache.Add(w.f.ctx, w.id, w.data); err != nil {
				w.f.log.Warn("cache write failed", "id", w.id, "error", err)
			} else {
				w.written = true
				w.cacheWriteCount++
				w.f.addCacheWrite()
			}
		}
	}

	if w.state == StateWaitOnWrite {
		// the store is synchronous, so the write has already settled
		w.writeState = notWrite
		w.setState(StateDone)
	}

	if w.state == StateDone {
		if w.decodedDiscard > 0 && w.desiredDiscard < w.decodedDiscard {
			// caller wants finer detail than we decoded: go around again
			w.setState(StateInit)
			w.setBand(BandElevated)
			return false
		}
		w.fetchTime = time.Since(w.fetchStart)
		w.f.stats.recordDequeue()
		return true
	}

	return false
}

// processSimPackets folds contiguous received packets into the data
// buffer once the requested budget (or the whole asset) is covered.
// Caller holds w.mu.
func (w *Worker) processSimPackets() bool {
	if !w.packets.Started() {
		return false
	}
	buffered := w.packets.BufferedBytes()
	total := len(w.data) + buffered
	haveAll := w.packets.Complete()
	if total < w.requestedSize && !haveAll {
		return false
	}
	if buffered > 0 {
		w.data = w.packets.Assemble(w.data)
	}
	if haveAll {
		w.haveAllData = true
		w.loadedDiscard = 0
		if w.writeState == canWrite {
			w.writeState = shouldWrite
		}
	} else {
		w.loadedDiscard = w.requestedDiscard
	}
	w.loaded = true
	return true
}

// onHTTPComplete receives the result of an asynchronous HTTP attempt.
// Called from the transport goroutine.
func (w *Worker) onHTTPComplete(status int, partial bool, cr contentRange, body []byte, err error) {
	w.f.removeFromHTTPQueue(w.id)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.httpActive = false
	w.httpCancel = nil
	if w.state != StateWaitHTTPReq {
		w.f.log.Warn("http completion in unexpected state",
			"id", w.id, "state", w.state.String())
		return
	}
	if w.loaded {
		w.f.log.Warn("duplicate http completion dropped", "id", w.id)
		return
	}
	w.httpStatus = status
	w.httpErr = err
	w.httpPartial = partial
	w.httpOK = err == nil && status >= 200 && status < 300
	if w.httpOK {
		w.httpBody = body
		if partial && cr.valid {
			w.replyOffset = cr.offset
			w.replySize = cr.length
		}
	}
	w.loaded = true
	w.setBand(BandElevated)
}

// deleteOK reports whether the worker can be finalized: no HTTP
// attempt in flight, not parked in the admission waiter set, and not
// mid cache write.
func (w *Worker) deleteOK() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.httpActive {
		return false
	}
	if w.state == StateWaitHTTPResource2 && w.f.isHTTPWaiter(w.id) {
		return false
	}
	if w.haveWork && w.state >= StateWriteToCache && w.state <= StateWaitOnWrite {
		return false
	}
	return true
}

// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"container/heap"
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridscape/assetfetch/admission"
	"github.com/gridscape/assetfetch/cache"
	"github.com/gridscape/assetfetch/codec"
	"github.com/gridscape/assetfetch/config"
	"github.com/gridscape/assetfetch/retry"
	"github.com/gridscape/assetfetch/sim"
	"github.com/gridscape/assetfetch/timeout"
)

// Options configures a Fetcher. Cache, Decoder, Doer, and Sim are the
// pipeline's collaborators; all are optional, but a Fetcher without a
// Sim cannot use the datagram transport and a Fetcher without a Cache
// neither reads nor writes cached assets.
type Options struct {
	// Cache stores encoded asset bytes, nil to disable caching.
	Cache cache.Store

	// Decoder decodes fetched assets, nil to skip decoding.
	Decoder codec.Decoder

	// Doer issues HTTP fetches. Nil selects http.DefaultClient.
	Doer HTTPDoer

	// Sim delivers datagram request batches, nil to disable the
	// datagram transport.
	Sim sim.Sender

	// AssetURL resolves a host to the base URL of its asset service,
	// returning "" when the host offers none.
	AssetURL func(host netip.AddrPort) string

	// AgentHost is the host used for requests that carry no host of
	// their own.
	AgentHost netip.AddrPort

	// Settings holds the runtime knobs; nil selects config.Default().
	Settings *config.Settings

	// RetryPolicy governs retryable HTTP failures; nil selects
	// retry.DefaultPolicy.
	RetryPolicy retry.Policy

	// TimeoutPolicy sets per-attempt HTTP timeouts; nil applies
	// Settings.AttemptTimeout to every attempt.
	TimeoutPolicy timeout.Policy

	// Logger receives structured diagnostics; nil selects
	// slog.Default().
	Logger *slog.Logger
}

// A Fetcher owns the fleet of per-asset fetch workers, the priority
// scheduler that drives them, and the shared transport queues.
//
// All exported methods are safe for concurrent use, except Update,
// which must be driven from a single goroutine; Start launches one.
type Fetcher struct {
	log           *slog.Logger
	doer          HTTPDoer
	cache         cache.Store
	decoder       codec.Decoder
	sim           sim.Sender
	assetURLFn    func(host netip.AddrPort) string
	agentHost     netip.AddrPort
	settings      config.Settings
	retryPolicy   retry.Policy
	timeoutPolicy timeout.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	gate     *admission.Gate
	stats    *fetchStats
	commands chan command

	mu      sync.Mutex
	workers map[uuid.UUID]*Worker
	queue   workQueue
	seq     uint64
	deleted []*Worker
	locked  bool
	running bool

	netMu             sync.Mutex
	netQueue          map[uuid.UUID]struct{}
	cancelQueue       map[netip.AddrPort]map[uuid.UUID]struct{}
	httpQueue         map[uuid.UUID]struct{}
	httpWaiters       map[uuid.UUID]struct{}
	httpBytes         int64
	totalHTTPRequests int
	packetCount       int
	badPacketCount    int

	// lastFlush is touched only by the Update goroutine.
	lastFlush time.Time
}

// New constructs a Fetcher. Call Start to drive it with a background
// goroutine, or drive Update directly.
func New(opts Options) *Fetcher {
	settings := config.Default()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	doer := opts.Doer
	if doer == nil {
		doer = http.DefaultClient
	}
	retryPolicy := opts.RetryPolicy
	if retryPolicy == nil {
		retryPolicy = retry.DefaultPolicy
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Fetcher{
		log:           log,
		doer:          doer,
		cache:         opts.Cache,
		decoder:       opts.Decoder,
		sim:           opts.Sim,
		assetURLFn:    opts.AssetURL,
		agentHost:     opts.AgentHost,
		settings:      settings,
		retryPolicy:   retryPolicy,
		timeoutPolicy: opts.TimeoutPolicy,
		ctx:           ctx,
		cancel:        cancel,
		gate:          admission.NewGate(),
		stats:         newFetchStats(),
		commands:      make(chan command, 64),
		workers:       make(map[uuid.UUID]*Worker),
		netQueue:      make(map[uuid.UUID]struct{}),
		cancelQueue:   make(map[netip.AddrPort]map[uuid.UUID]struct{}),
		httpQueue:     make(map[uuid.UUID]struct{}),
		httpWaiters:   make(map[uuid.UUID]struct{}),
		lastFlush:     time.Now(),
	}
	f.gate.SetPipelined(settings.PipelinedHTTP)
	return f
}

// Start launches the scheduler goroutine. It is a no-op if the
// Fetcher is already running.
func (f *Fetcher) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()
	f.wg.Add(1)
	go f.run()
}

func (f *Fetcher) run() {
	defer f.wg.Done()
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-t.C:
			f.Update(50 * time.Millisecond)
		}
	}
}

// Shutdown stops the scheduler, abandons outstanding requests, and
// waits briefly for in-flight work to drain.
func (f *Fetcher) Shutdown() {
	f.cancel()
	f.wg.Wait()
	f.DeleteAllRequests()
	for i := 0; i < 100; i++ {
		f.reapDeleted()
		f.mu.Lock()
		n := len(f.deleted)
		f.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.log.Warn("shutdown with unreclaimed workers")
}

func (f *Fetcher) isShuttingDown() bool {
	select {
	case <-f.ctx.Done():
		return true
	default:
		return false
	}
}

// SetLocked locks or unlocks request creation. While locked,
// CreateRequest refuses all requests; used around teardown and bulk
// state changes.
func (f *Fetcher) SetLocked(locked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = locked
}

func (f *Fetcher) isLocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}

// Update gives one scheduler pass: each queued worker gets at most one
// state machine quantum, highest priority first, until the time budget
// is spent (zero means unbounded). It then drains one command, reaps
// deletable workers, re-admits parked HTTP waiters, and flushes the
// datagram request queue on its cadence. Returns the number of worker
// passes run.
func (f *Fetcher) Update(budget time.Duration) int {
	start := time.Now()

	f.mu.Lock()
	n := f.queue.Len()
	f.mu.Unlock()

	ran := 0
	for i := 0; i < n; i++ {
		if budget > 0 && time.Since(start) >= budget {
			break
		}
		w, ok := f.popTop()
		if !ok {
			break
		}
		if w.doWork() {
			w.mu.Lock()
			w.haveWork = false
			w.finished = true
			w.mu.Unlock()
		} else {
			w.mu.Lock()
			requeue := w.haveWork
			pri := Priority{Band: w.band, Base: w.imagePriority}
			w.mu.Unlock()
			if requeue {
				f.dispatch(w, pri)
			}
		}
		ran++
	}

	f.drainOneCommand()
	f.reapDeleted()
	f.releaseHTTPWaiters()

	now := time.Now()
	if now.Sub(f.lastFlush) >= requestFlushInterval {
		f.lastFlush = now
		f.flushNetworkRequests(now)
	}
	return ran
}

// dispatch queues a scheduler pass for the worker, superseding any
// previously queued pass.
func (f *Fetcher) dispatch(w *Worker, pri Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	w.dispatchSeq = f.seq
	heap.Push(&f.queue, &queueEntry{w: w, pri: pri, seq: f.seq})
}

func (f *Fetcher) popTop() (*Worker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.queue.Len() > 0 {
		e := heap.Pop(&f.queue).(*queueEntry)
		if e.seq != e.w.dispatchSeq {
			continue // superseded entry
		}
		return e.w, true
	}
	return nil, false
}

func (f *Fetcher) deletePending(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.deleted {
		if w.id == id {
			return true
		}
	}
	return false
}

func (f *Fetcher) getWorker(id uuid.UUID) *Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workers[id]
}

func (f *Fetcher) assetURL(host netip.AddrPort) string {
	if f.assetURLFn == nil {
		return ""
	}
	return f.assetURLFn(host)
}

func (f *Fetcher) hostOrAgent(host netip.AddrPort) netip.AddrPort {
	if host.IsValid() {
		return host
	}
	return f.agentHost
}

// CreateRequest begins or refreshes the fetch of an asset. url may
// name a direct source (including file:// paths); an empty url lets
// the fetcher resolve one or fall back to the datagram transport.
// width/height/components may be zero when unknown. It returns false
// when the fetcher is locked, the asset's previous request is still
// being torn down, or the request moved hosts.
func (f *Fetcher) CreateRequest(url string, id uuid.UUID, host netip.AddrPort, priority float32,
	width, height, components, discard int, needsAux, canUseHTTP bool) bool {
	if f.isLocked() {
		return false
	}
	if f.deletePending(id) {
		// previous request still tearing down; caller retries later
		return false
	}
	w := f.getWorker(id)
	if w != nil && w.host != host {
		f.log.Warn("request moved hosts, deleting old request", "id", id)
		f.DeleteRequest(id, true)
		return false
	}

	desiredSize := 0
	if exten := path.Ext(url); url != "" && exten != "" && !strings.EqualFold(exten, ".j2c") {
		// not a progressive codestream: fetch the whole thing
		desiredSize = codec.MaxDataSize
		discard = 0
	} else if discard == 0 {
		if width*height*components > 0 {
			desiredSize = codec.FullFetchSize(width, height, components)
		} else {
			desiredSize = codec.ProbeSize()
		}
	} else if width*height*components > 0 {
		if discard > codec.MaxDiscard {
			discard = codec.MaxDiscard
		}
		desiredSize = codec.DataSize(width, height, components, discard)
	} else {
		// dimensions unknown: probe with a generous budget
		desiredSize = codec.ProbeSize()
		if discard > codec.MaxDiscard {
			discard = codec.MaxDiscard
		}
	}

	isNew := false
	if w == nil {
		nw := newWorker(f, url, id, host, priority)
		f.mu.Lock()
		if existing := f.workers[id]; existing != nil {
			w = existing
		} else {
			f.workers[id] = nw
			w = nw
			isNew = true
		}
		f.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deleteRequested || w.aborted {
		return false
	}
	w.activeCount++
	if needsAux {
		w.needsAux = true
	}
	w.canUseHTTP = canUseHTTP
	if isNew {
		w.fullWidth, w.fullHeight, w.components = width, height, components
	} else {
		w.setImagePriority(priority)
	}
	w.setDesiredDiscard(discard, desiredSize)
	return true
}

// DeleteRequest schedules the asset's worker for deletion. Teardown is
// two-phase: the worker leaves the live map immediately but is only
// reclaimed once it holds no transport or cache resources. When cancel
// is true and a datagram request was sent, the host is told to stop.
// Returns false if no request exists for the asset.
func (f *Fetcher) DeleteRequest(id uuid.UUID, cancel bool) bool {
	f.mu.Lock()
	w := f.workers[id]
	if w != nil {
		delete(f.workers, id)
		f.deleted = append(f.deleted, w)
	}
	f.mu.Unlock()
	if w == nil {
		return false
	}
	w.mu.Lock()
	w.deleteRequested = true
	host := w.host
	sent := w.sent
	w.mu.Unlock()
	f.dequeueNetworkRequest(id)
	if cancel && sent == sentSim {
		f.queueCancel(f.hostOrAgent(host), id)
	}
	return true
}

// DeleteAllRequests schedules every outstanding request for deletion.
func (f *Fetcher) DeleteAllRequests() {
	f.mu.Lock()
	ids := make([]uuid.UUID, 0, len(f.workers))
	for id := range f.workers {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		f.DeleteRequest(id, true)
	}
}

// reapDeleted finalizes scheduled deletions whose workers have
// released their resources; the rest stay parked for a later pass.
func (f *Fetcher) reapDeleted() {
	f.mu.Lock()
	pending := f.deleted
	f.deleted = nil
	f.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	var keep []*Worker
	for _, w := range pending {
		if w.deleteOK() {
			f.finalizeWorker(w)
		} else {
			keep = append(keep, w)
		}
	}
	if len(keep) > 0 {
		f.mu.Lock()
		f.deleted = append(f.deleted, keep...)
		f.mu.Unlock()
	}
}

func (f *Fetcher) finalizeWorker(w *Worker) {
	w.mu.Lock()
	if w.httpCancel != nil {
		w.httpCancel()
	}
	w.releaseHTTPResource()
	w.haveWork = false
	w.finished = true
	w.data = nil
	w.httpBody = nil
	w.raw = nil
	w.aux = nil
	w.packets.Reset()
	w.mu.Unlock()

	f.removeHTTPWaiter(w.id)
	f.dequeueNetworkRequest(w.id)
	f.mu.Lock()
	w.dispatchSeq = 0
	f.mu.Unlock()
	f.log.Debug("request reclaimed", "id", w.id)
}

// UpdateRequestPriority changes the caller priority of an outstanding
// request. Returns false if no request exists for the asset.
func (f *Fetcher) UpdateRequestPriority(id uuid.UUID, priority float32) bool {
	w := f.getWorker(id)
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setImagePriority(priority)
	return true
}

// A Result carries the product of a finished (or partially decoded)
// fetch.
type Result struct {
	// Discard is the decoded discard level, -1 when nothing decoded.
	Discard int
	// Width and Height are the full image dimensions.
	Width  int
	Height int
	// Image and Aux are the decoded buffers; they are handed off to
	// the caller and not retained by the fetcher.
	Image *codec.Raw
	Aux   *codec.Raw
	// LastStatus is the most recent HTTP status, 0 if none.
	LastStatus int
	// Aborted reports that the fetch was abandoned.
	Aborted bool
}

// RequestFinished polls the asset's worker for completion. It returns
// finished == true with the final Result when the worker is done (an
// unknown asset also reports finished, with an empty Result). While
// unfinished it may still surface a partial decode finer than
// prevDiscard once the worker has passed its cache write.
func (f *Fetcher) RequestFinished(id uuid.UUID, prevDiscard int) (Result, bool) {
	res := Result{Discard: -1}
	w := f.getWorker(id)
	if w == nil {
		return res, true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.aborted {
		res.Aborted = true
		res.LastStatus = w.httpStatus
		return res, true
	}
	if !w.haveWork && !w.finished {
		// idle but unfinished: kick it back into the queue
		w.schedule(BandElevated)
		return res, false
	}
	if w.finished {
		res.Discard = w.decodedDiscard
		res.Width, res.Height = w.fullWidth, w.fullHeight
		res.Image, res.Aux = w.raw, w.aux
		res.LastStatus = w.httpStatus
		return res, true
	}
	if w.decodedDiscard >= 0 && (prevDiscard < 0 || w.decodedDiscard < prevDiscard) &&
		w.state >= StateWaitOnWrite {
		res.Discard = w.decodedDiscard
		res.Width, res.Height = w.fullWidth, w.fullHeight
		res.Image, res.Aux = w.raw, w.aux
	}
	return res, false
}

// A Status is a point-in-time snapshot of one request, for monitoring
// and debugging.
type Status struct {
	State             State
	Band              Band
	Priority          float32
	RequestedPriority float32
	// Progress is the fraction of the known asset size fetched so
	// far, 0 when the size is still unknown.
	Progress float32
	// FetchIdle is the time since the worker's last scheduler pass;
	// RequestIdle the time since its last transport activity.
	FetchIdle   time.Duration
	RequestIdle time.Duration
	CanUseHTTP  bool
}

// FetchState snapshots the asset's request. Unknown assets report
// StateInvalid.
func (f *Fetcher) FetchState(id uuid.UUID) Status {
	w := f.getWorker(id)
	if w == nil {
		return Status{State: StateInvalid}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		State:      w.state,
		Band:       w.band,
		Priority:   w.imagePriority,
		CanUseHTTP: w.canUseHTTP,
	}
	if w.fileSize > 0 {
		have := len(w.data)
		if w.state == StateLoadFromSimulator {
			have += w.packets.BufferedBytes()
		}
		p := float32(have) / float32(w.fileSize)
		if p > 1 {
			p = 1
		}
		s.Progress = p
	}
	if w.state >= StateLoadFromNetwork && w.state <= StateWaitHTTPReq {
		s.RequestedPriority = w.requestedPriority
	} else {
		s.RequestedPriority = w.imagePriority
	}
	s.FetchIdle = time.Since(w.activityAt)
	s.RequestIdle = time.Since(w.requestAt)
	return s
}

// IsFromLocalCache reports whether the asset's bytes were found in the
// local cache.
func (f *Fetcher) IsFromLocalCache(id uuid.UUID) bool {
	w := f.getWorker(id)
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inLocalCache
}

// Settings returns the runtime settings the Fetcher was built with.
func (f *Fetcher) Settings() config.Settings {
	return f.settings
}

// NumRequests returns the number of outstanding requests.
func (f *Fetcher) NumRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workers)
}

// NumHTTPRequests returns the number of HTTP fetches in flight.
func (f *Fetcher) NumHTTPRequests() int {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	return len(f.httpQueue)
}

// TotalHTTPRequests returns the number of HTTP fetches issued over the
// Fetcher's lifetime.
func (f *Fetcher) TotalHTTPRequests() int {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	return f.totalHTTPRequests
}

// HTTPBytesReceived returns the total HTTP payload bytes received.
func (f *Fetcher) HTTPBytesReceived() int64 {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	return f.httpBytes
}

// BadPacketCount returns the number of inbound packets dropped as
// unusable.
func (f *Fetcher) BadPacketCount() int {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	return f.badPacketCount
}

func (f *Fetcher) countPacket(bad bool) {
	f.netMu.Lock()
	defer f.netMu.Unlock()
	f.packetCount++
	if bad {
		f.badPacketCount++
	}
}

func (f *Fetcher) addCacheRead()    { f.stats.addWorkerTotals(1, 0, 0) }
func (f *Fetcher) addCacheWrite()   { f.stats.addWorkerTotals(0, 1, 0) }
func (f *Fetcher) addResourceWait() { f.stats.addWorkerTotals(0, 0, 1) }

// ReceiveImageHeader feeds the header message of a datagram asset
// stream into its worker: codec tag, announced packet count, total
// byte size, and the first packet's payload. Unusable headers are
// counted and answered with a cancellation.
func (f *Fetcher) ReceiveImageHeader(host netip.AddrPort, id uuid.UUID, codecID byte,
	packets, totalBytes int, data []byte) bool {
	w := f.getWorker(id)
	ok := false
	if w != nil {
		w.mu.Lock()
		switch {
		case w.state != StateLoadFromNetwork || w.sent != sentSim:
			f.log.Warn("image header for request not waiting on datagrams",
				"id", id, "state", w.state.String())
		case w.packets.Started():
			f.log.Warn("duplicate image header", "id", id)
		case len(data) == 0:
			f.log.Warn("empty image header", "id", id)
		default:
			w.imageCodec = codecID
			w.fileSize = totalBytes
			w.packets.Begin(packets)
			if err := w.packets.Insert(0, data); err != nil {
				f.log.Warn("bad image header payload", "id", id, "error", err)
			} else {
				w.requestAt = time.Now()
				w.setState(StateLoadFromSimulator)
				w.setBand(BandElevated)
				ok = true
			}
		}
		w.mu.Unlock()
	}
	f.countPacket(!ok)
	if !ok {
		f.queueCancel(f.hostOrAgent(host), id)
	}
	return ok
}

// ReceiveImagePacket feeds one numbered data packet of a datagram
// asset stream into its worker. Duplicates, out-of-range indexes, and
// packets preceding the header are counted and dropped.
func (f *Fetcher) ReceiveImagePacket(host netip.AddrPort, id uuid.UUID, packetNum int, data []byte) bool {
	w := f.getWorker(id)
	ok := false
	wrongState := false
	if w != nil {
		w.mu.Lock()
		switch {
		case !w.packets.Started():
			f.log.Warn("image packet before header", "id", id, "packet", packetNum)
		case len(data) == 0:
			f.log.Warn("empty image packet", "id", id, "packet", packetNum)
		default:
			if err := w.packets.Insert(packetNum, data); err != nil {
				f.log.Warn("image packet dropped",
					"id", id, "packet", packetNum, "error", err)
			} else {
				ok = true
				w.requestAt = time.Now()
				if w.state == StateLoadFromNetwork || w.state == StateLoadFromSimulator {
					w.setState(StateLoadFromSimulator)
				} else {
					// no longer listening for this stream
					wrongState = true
				}
			}
		}
		w.mu.Unlock()
	}
	f.countPacket(!ok)
	if wrongState {
		f.dequeueNetworkRequest(id)
	}
	if !ok || wrongState {
		f.queueCancel(f.hostOrAgent(host), id)
	}
	return ok
}

// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

// A State identifies the stage a fetch worker has reached. Workers
// advance monotonically except for the documented loops: DONE back to
// INIT when finer detail is wanted, and WAIT_HTTP_REQ back to INIT or
// LOAD_FROM_NETWORK on fallback and retry.
type State int

const (
	// StateInvalid is reported for assets with no active request.
	StateInvalid State = iota
	// StateInit resets per-pass fields before a fetch round.
	StateInit
	// StateLoadFromCache attempts to satisfy the request from the
	// local cache or from a file:// URL.
	StateLoadFromCache
	// StateCachePost decides, from what the cache held, whether to
	// decode or go to the network.
	StateCachePost
	// StateLoadFromNetwork picks a transport and, for the datagram
	// path, queues a batched request.
	StateLoadFromNetwork
	// StateLoadFromSimulator accumulates datagram packets until the
	// requested byte budget is covered.
	StateLoadFromSimulator
	// StateWaitHTTPResource claims an admission slot, parking the
	// worker when none is available.
	StateWaitHTTPResource
	// StateWaitHTTPResource2 parks the worker until the admission
	// gate drains below its low watermark.
	StateWaitHTTPResource2
	// StateSendHTTPReq issues the byte-range HTTP fetch.
	StateSendHTTPReq
	// StateWaitHTTPReq waits for the asynchronous HTTP completion,
	// then splices or fails over.
	StateWaitHTTPReq
	// StateDecodeImage hands the accumulated bytes to the decoder.
	StateDecodeImage
	// StateWriteToCache persists newly complete level-0 data.
	StateWriteToCache
	// StateWaitOnWrite confirms the cache write finished.
	StateWaitOnWrite
	// StateDone holds the final result, or loops back to StateInit
	// when the desired discard has become finer than the decoded one.
	StateDone
)

var stateNames = map[State]string{
	StateInvalid:           "INVALID",
	StateInit:              "INIT",
	StateLoadFromCache:     "LOAD_FROM_CACHE",
	StateCachePost:         "CACHE_POST",
	StateLoadFromNetwork:   "LOAD_FROM_NETWORK",
	StateLoadFromSimulator: "LOAD_FROM_SIMULATOR",
	StateWaitHTTPResource:  "WAIT_HTTP_RESOURCE",
	StateWaitHTTPResource2: "WAIT_HTTP_RESOURCE2",
	StateSendHTTPReq:       "SEND_HTTP_REQ",
	StateWaitHTTPReq:       "WAIT_HTTP_REQ",
	StateDecodeImage:       "DECODE_IMAGE",
	StateWriteToCache:      "WRITE_TO_CACHE",
	StateWaitOnWrite:       "WAIT_ON_WRITE",
	StateDone:              "DONE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// writeToCacheState gates the cache write at the end of a fetch round.
type writeToCacheState int

const (
	// notWrite suppresses the write (file:// loads, data that came
	// from the cache itself).
	notWrite writeToCacheState = iota
	// canWrite permits a write but nothing new is complete yet.
	canWrite
	// shouldWrite marks newly complete level-0 data for persisting.
	shouldWrite
)

// sentState tracks the datagram request lifecycle.
type sentState int

const (
	sentNone sentState = iota
	sentQueued
	sentSim
)

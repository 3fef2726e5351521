// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package assetfetch fetches progressively encoded image assets over HTTP
byte ranges, with a datagram transport fallback, a local byte cache, and
incremental decoding.

A Fetcher owns one Worker per requested asset. Each Worker walks a state
machine from INIT through cache probe, transport selection, fetch,
decode, and cache write-back to DONE, accumulating codestream bytes so
that a later request for finer detail resumes where the last one ended
instead of starting over. A priority scheduler drives all workers from a
single goroutine: each Update pass gives the highest-priority queued
workers one state machine quantum each, so a flood of background fetches
cannot starve an urgent one.

Construct a Fetcher with New, wire its collaborators through Options,
and drive it either with Start or by calling Update from your own loop:

	f := assetfetch.New(assetfetch.Options{
		Cache:   store,
		Decoder: dec,
		Sim:     sender,
	})
	f.Start()
	defer f.Shutdown()

	f.CreateRequest("", id, host, 1000, 0, 0, 0, 2, false, true)
	for {
		res, done := f.RequestFinished(id, -1)
		if done {
			use(res)
			break
		}
	}

HTTP fetches are issued as Range requests sized to the byte budget of
the caller's desired discard level, admitted through a watermark gate
that bounds concurrent transfers, and retried with jittered exponential
backoff on transient failures. Assets absent from the HTTP service fall
back to the datagram transport when a sim.Sender is configured.
*/
package assetfetch

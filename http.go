// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// httpRangeEndMax is the cap on explicit range ends. A request whose
// window would end past this mark is issued open-ended instead, since
// several servers mishandle very large range ends.
const httpRangeEndMax = 20_000_000

// acceptHeader names the progressive codestream encoding asset
// services deliver.
const acceptHeader = "image/x-j2c"

// HTTPDoer is the interface the fetch pipeline uses to issue HTTP
// fetches, allowing any customized implementation to be plugged in
// alongside the standard *http.Client.
//
// Implementations of HTTPDoer must be safe for concurrent use by
// multiple goroutines.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// contentRange is a parsed Content-Range response header.
type contentRange struct {
	valid  bool
	offset int
	length int
}

// parseContentRange reads "bytes first-last/total" headers. Malformed
// or absent headers yield an invalid contentRange; callers then assume
// the reply matches the request.
func parseContentRange(h string) contentRange {
	rest, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes ")
	if !ok {
		return contentRange{}
	}
	span, _, ok := strings.Cut(rest, "/")
	if !ok {
		return contentRange{}
	}
	firstS, lastS, ok := strings.Cut(span, "-")
	if !ok {
		return contentRange{}
	}
	first, err := strconv.Atoi(strings.TrimSpace(firstS))
	if err != nil || first < 0 {
		return contentRange{}
	}
	last, err := strconv.Atoi(strings.TrimSpace(lastS))
	if err != nil || last < first {
		return contentRange{}
	}
	return contentRange{valid: true, offset: first, length: last - first + 1}
}

// rangeHeader renders the request window as a Range header value. A
// window ending past httpRangeEndMax is issued open-ended.
func rangeHeader(offset, size int) string {
	if offset+size > httpRangeEndMax {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+size-1)
}

// startHTTPFetch launches the asynchronous HTTP attempt for the
// worker's current request window. Caller holds w.mu; the worker is in
// StateSendHTTPReq.
func (f *Fetcher) startHTTPFetch(w *Worker) error {
	req, err := http.NewRequest(http.MethodGet, w.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if !f.settings.DisableRangeRequests {
		req.Header.Set("Range", rangeHeader(w.requestedOffset, w.requestedSize))
	}
	timeout := f.settings.AttemptTimeout
	if f.timeoutPolicy != nil {
		timeout = f.timeoutPolicy.Timeout(w.tracker.Attempt())
	}
	ctx, cancel := context.WithCancel(f.ctx)
	w.httpCancel = cancel
	f.addToHTTPQueue(w.id)
	go f.runHTTPFetch(w, req.WithContext(ctx), cancel, timeout)
	return nil
}

// runHTTPFetch performs one HTTP attempt and hands the outcome back to
// the worker. Runs on its own goroutine.
func (f *Fetcher) runHTTPFetch(w *Worker, req *http.Request, cancel context.CancelFunc, timeout time.Duration) {
	defer cancel()
	if timeout > 0 {
		tctx, tcancel := context.WithTimeout(req.Context(), timeout)
		defer tcancel()
		req = req.WithContext(tctx)
	}

	var (
		status  int
		partial bool
		cr      contentRange
		body    []byte
	)
	resp, err := f.doer.Do(req)
	if err == nil {
		status = resp.StatusCode
		partial = status == http.StatusPartialContent
		if partial {
			cr = parseContentRange(resp.Header.Get("Content-Range"))
		}
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			body = nil
			err = fmt.Errorf("read response body: %w", err)
		}
	}
	if err == nil && status >= 200 && status < 300 {
		f.addHTTPBytes(int64(len(body)))
		f.stats.recordBytes(true, len(body))
	}
	w.onHTTPComplete(status, partial, cr, body, err)
}

// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Commands cross from caller threads into the scheduler, which drains
// at most one per Update pass so command work never starves fetch
// work.

type commandKind int

const (
	cmdSetRegion commandKind = iota
	cmdSendMetrics
)

type command struct {
	kind    commandKind
	region  uint64
	report  string
	session uuid.UUID
	agent   uuid.UUID
}

// SetRegion tells the fetcher the caller has moved to a new region, so
// transfer accounting starts a fresh bin. Safe to call from any
// goroutine.
func (f *Fetcher) SetRegion(handle uint64) {
	f.enqueueCommand(command{kind: cmdSetRegion, region: handle})
}

// SendMetrics asks the fetcher to post its accumulated transfer
// metrics as JSON to reportURL. Safe to call from any goroutine.
func (f *Fetcher) SendMetrics(reportURL string, session, agent uuid.UUID) {
	f.enqueueCommand(command{kind: cmdSendMetrics, report: reportURL, session: session, agent: agent})
}

func (f *Fetcher) enqueueCommand(c command) {
	select {
	case f.commands <- c:
	default:
		// a full queue loses accounting fidelity; flag it on the next
		// report rather than blocking the caller
		f.log.Warn("command queue full, dropping command")
		f.stats.markBreak()
	}
}

// drainOneCommand runs at most one queued command.
func (f *Fetcher) drainOneCommand() {
	select {
	case c := <-f.commands:
		f.runCommand(c)
	default:
	}
}

func (f *Fetcher) runCommand(c command) {
	switch c.kind {
	case cmdSetRegion:
		f.log.Debug("region changed", "handle", c.region)
		f.stats.setRegion(c.region)
	case cmdSendMetrics:
		rep := f.stats.report(c.session, c.agent)
		go f.postMetrics(c.report, rep)
	}
}

func (f *Fetcher) postMetrics(reportURL string, rep MetricsReport) {
	body, err := json.Marshal(rep)
	if err != nil {
		f.log.Warn("metrics encode failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(f.ctx, http.MethodPost, reportURL, bytes.NewReader(body))
	if err != nil {
		f.log.Warn("metrics request build failed", "url", reportURL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.doer.Do(req)
	if err != nil {
		f.log.Warn("metrics report failed", "url", reportURL, "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		f.log.Warn("metrics report rejected", "url", reportURL, "status", resp.StatusCode)
		return
	}
	f.log.Debug("metrics report delivered", "sequence", rep.Sequence)
}

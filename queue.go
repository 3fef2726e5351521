// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package assetfetch

// queueEntry is one scheduled pass for a worker. Re-prioritizing a
// worker pushes a fresh entry and bumps the worker's dispatch sequence;
// entries whose sequence no longer matches are skipped on pop, so the
// queue never needs in-place updates.
type queueEntry struct {
	w   *Worker
	pri Priority
	seq uint64
}

// workQueue is a max-heap of queue entries: highest band first, then
// highest base priority, then oldest insertion. Guarded by Fetcher.mu.
type workQueue []*queueEntry

func (q workQueue) Len() int { return len(q) }

func (q workQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.pri.Band != b.pri.Band {
		return a.pri.Band > b.pri.Band
	}
	if a.pri.Base != b.pri.Base {
		return a.pri.Base > b.pri.Base
	}
	return a.seq < b.seq
}

func (q workQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *workQueue) Push(x interface{}) {
	*q = append(*q, x.(*queueEntry))
}

func (q *workQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

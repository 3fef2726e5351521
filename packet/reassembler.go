// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package packet

import "errors"

// Packet sizing on the legacy datagram transport. The first packet of
// an asset rides in the header message and carries at most
// FirstPacketSize bytes; every subsequent packet carries exactly
// MaxPacketSize bytes except the final one, which may be short.
const (
	FirstPacketSize = 600
	MaxPacketSize   = 1000
)

var (
	// ErrNoHeader rejects a data packet arriving before the header
	// packet established the stream.
	ErrNoHeader = errors.New("packet: data before header")
	// ErrIndexRange rejects a packet index at or beyond the announced
	// total.
	ErrIndexRange = errors.New("packet: index out of range")
	// ErrDuplicate rejects a packet index that already holds data.
	ErrDuplicate = errors.New("packet: duplicate index")
	// ErrBadSize rejects a non-final packet whose payload is not
	// exactly MaxPacketSize bytes.
	ErrBadSize = errors.New("packet: bad payload size")
	// ErrSizeMismatch reports that previously stored bytes do not
	// fall on a packet boundary and cannot seed a resumed stream.
	ErrSizeMismatch = errors.New("packet: stored size not on packet boundary")
	// ErrUnknownTotal reports that a resumed stream has no recorded
	// total size to derive the packet count from.
	ErrUnknownTotal = errors.New("packet: unknown total size")
)

// A Reassembler accumulates out-of-order packets of one asset arriving
// on the legacy datagram transport and tracks the contiguous prefix
// available for assembly.
//
// Reassembler is not safe for concurrent use. The owning worker
// serializes access under its own lock.
type Reassembler struct {
	packets [][]byte
	first   int // index of the first packet not already held elsewhere
	last    int // highest index of the contiguous received prefix, -1 if none
	total   int // announced packet count, 0 if not yet known
}

// New returns an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{last: -1}
}

// Reset discards all accumulated state.
func (r *Reassembler) Reset() {
	r.packets = nil
	r.first = 0
	r.last = -1
	r.total = 0
}

// Begin records the announced packet count from a header message. It
// does not store any data; the header payload is inserted separately
// at index 0.
func (r *Reassembler) Begin(total int) {
	r.total = total
}

// Started reports whether any contiguous data has been received or
// seeded.
func (r *Reassembler) Started() bool {
	return r.last >= 0
}

// Total returns the announced packet count, 0 if unknown.
func (r *Reassembler) Total() int {
	return r.total
}

// First returns the index of the first packet this stream still needs
// delivered, accounting for seeded data.
func (r *Reassembler) First() int {
	return r.first
}

// Last returns the highest index of the contiguous received prefix,
// -1 if nothing has arrived.
func (r *Reassembler) Last() int {
	return r.last
}

// Next returns the packet index the sender should resume from.
func (r *Reassembler) Next() int {
	return r.last + 1
}

// Complete reports whether every announced packet has been received.
func (r *Reassembler) Complete() bool {
	return r.total > 0 && r.last >= r.total-1
}

// Insert stores one packet payload. The index must lie inside the
// announced total, must not already hold data, and non-final packets
// after the first must carry exactly MaxPacketSize bytes. On success
// the contiguous prefix is advanced across any previously buffered
// out-of-order packets.
func (r *Reassembler) Insert(index int, data []byte) error {
	if r.total > 0 && index >= r.total {
		return ErrIndexRange
	}
	if index > 0 && index < r.total-1 && len(data) != MaxPacketSize {
		return ErrBadSize
	}
	if index < r.first {
		return ErrDuplicate
	}
	if index < len(r.packets) && r.packets[index] != nil {
		return ErrDuplicate
	}
	for index >= len(r.packets) {
		r.packets = append(r.packets, nil)
	}
	p := make([]byte, len(data))
	copy(p, data)
	r.packets[index] = p
	if index == r.last+1 {
		r.last = index
		for r.last+1 < len(r.packets) && r.packets[r.last+1] != nil {
			r.last++
		}
	}
	return nil
}

// SeedFromCache primes a resumed stream from previously stored bytes.
// storedSize is the byte count already held outside the Reassembler
// and must fall exactly on a packet boundary; totalSize is the full
// asset size recorded when those bytes were stored. After seeding,
// delivery resumes at First() and Assemble returns only the bytes past
// the seed.
func (r *Reassembler) SeedFromCache(storedSize, totalSize int) error {
	if totalSize <= 0 {
		return ErrUnknownTotal
	}
	first := 1 + (storedSize-FirstPacketSize)/MaxPacketSize
	if FirstPacketSize+(first-1)*MaxPacketSize != storedSize {
		return ErrSizeMismatch
	}
	r.packets = make([][]byte, first)
	r.first = first
	r.last = first - 1
	rest := totalSize - FirstPacketSize
	r.total = 1
	if rest > 0 {
		r.total += (rest + MaxPacketSize - 1) / MaxPacketSize
	}
	return nil
}

// BufferedBytes returns the byte count of the contiguous prefix past
// any seed, i.e. the bytes Assemble would append.
func (r *Reassembler) BufferedBytes() int {
	n := 0
	for i := r.first; i <= r.last; i++ {
		n += len(r.packets[i])
	}
	return n
}

// Assemble appends the contiguous prefix past any seed to dst and
// returns the result.
func (r *Reassembler) Assemble(dst []byte) []byte {
	for i := r.first; i <= r.last; i++ {
		dst = append(dst, r.packets[i]...)
	}
	return dst
}

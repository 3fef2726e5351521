// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package sim

import (
	"net/netip"

	"github.com/google/uuid"
)

// RequestsPerMessage is the maximum number of request entries carried
// by one outbound message; larger batches are split.
const RequestsPerMessage = 128

// CancelDiscard is the sentinel discard level that tells a host to
// stop sending packets for an asset.
const CancelDiscard = -1

// Request type tags carried on each entry.
const (
	TypeDefault byte = iota
	TypeHosted
)

// A Request is one entry in an outbound request-image message.
type Request struct {
	// ID identifies the asset.
	ID uuid.UUID
	// Discard is the requested discard level, or CancelDiscard to
	// cancel delivery.
	Discard int8
	// Priority is the requester's priority for the asset.
	Priority float32
	// Packet is the packet index delivery should resume from.
	Packet uint32
	// Type tags how the host should source the asset.
	Type byte
}

// Cancel returns a cancellation entry for the given asset.
func Cancel(id uuid.UUID) Request {
	return Request{ID: id, Discard: CancelDiscard}
}

// A Sender delivers batched request-image messages to hosts on the
// legacy datagram transport. Implementations own the wire framing;
// this package only defines the payload.
//
// Implementations of Sender must be safe for concurrent use by
// multiple goroutines.
type Sender interface {
	SendRequests(host netip.AddrPort, reqs []Request) error
}

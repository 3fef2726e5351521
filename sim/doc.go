// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sim defines the boundary to the legacy datagram transport:
// the request entries batched into outbound request-image messages and
// the Sender that delivers them to simulator hosts.
package sim

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the frame pacing core: the bounded
// keep-latest buffer between the forwarder and the bus, the per-panel
// dirty-write cache, and the fixed-cadence dispatcher that maps each
// frame and writes panel messages to the transport.
//
// The dispatcher is the only writer to the transport and the only
// owner of the dirty cache. The buffer is the sole hand-off point
// from the ingest side; occupancy and drop counters feed the credit
// protocol. Pacing configuration travels as an immutable Settings
// snapshot behind an atomic pointer: the control plane swaps it, the
// dispatcher and forwarder read it at most once per tick or request
// and never hold it across a suspension point.
package engine

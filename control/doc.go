// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the operator surface: read canvas, topology, and
// pacing configuration; set the target FPS and the active source;
// switch buffered mode; trigger test patterns; reset the transport;
// and subscribe to statistics snapshots.
//
// Configuration changes are applied by swapping the engine's
// immutable settings snapshot. Readers see either the old or the new
// configuration, never a mix, and no mutation suspends midway.
//
// The stats stream emits one snapshot per second plus an
// edge-triggered snapshot on FPS changes, active-source changes,
// worker start/stop, and degraded-state changes.
//
// Two adapters sit on top: the HTTP/WebSocket server (package server)
// and a Unix control socket speaking length-prefixed CBOR, used by
// flipdisc-ctl.
package control

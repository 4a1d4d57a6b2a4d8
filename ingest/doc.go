// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest accepts producer frames and forwards them to the
// pacing engine.
//
// The per-frame pipeline is: parse and validate the RBM envelope,
// record the producer heartbeat, gate on the active source, suppress
// payload duplicates, consult the token bucket, rewrite the frame
// duration to the dispatcher cadence, and enqueue. Every response
// carries the current credit count so producers self-pace; credits
// are always derived from the buffer's authoritative counters, never
// stored.
//
// Frames from producers other than the active source are observed
// (heartbeat, last-seen) but not buffered.
package ingest

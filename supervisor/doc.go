// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor tracks producer liveness and restarts local
// producer tasks that stop heartbeating.
//
// Every successful ingest records a heartbeat. A periodic sweep finds
// running producers whose last heartbeat is older than the timeout,
// stops them (bounded, escalating to forced termination), and
// restarts them with exponential backoff. A producer that burns
// through its restart budget is parked in the stopped state with a
// reason, rather than flapping forever.
//
// Remote producers have no runner; the supervisor still keeps a
// record for them (first observation creates it) so the control plane
// can report last-seen liveness for everything that ever submitted a
// frame.
package supervisor

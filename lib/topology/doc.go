// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology describes the physical display: the logical canvas
// producers draw on, and the set of panels that realize it on the
// RS-485 bus.
//
// A topology is declarative and loaded once at startup from a YAML or
// JSONC file; changing it at runtime means restarting the dispatcher.
// Validation enforces the structural invariants the rest of the
// system assumes: panel rectangles are disjoint and contained in the
// canvas, no two panels share an ID or a bus address, and every panel
// is a geometry the bus protocol can express.
//
// Panels iterate in canonical order, sorted by (origin Y, origin X,
// ID), so that mapping output and bus write order are stable across
// runs.
package topology

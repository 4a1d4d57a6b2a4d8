// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel assertion helpers with timeouts.
//
// Pacing tests coordinate a goroutine under test (the dispatcher loop,
// the supervisor sweep) with the test body through channels. A missed
// signal must fail the test rather than hang it, so every receive and
// send goes through a helper with a timeout safety valve.
package testutil

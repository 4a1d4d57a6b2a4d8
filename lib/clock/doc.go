// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that pacing
// code is testable without real sleeps.
//
// The dispatcher tick loop, the supervisor sweep, and the token bucket
// all run on wall-clock time in production but must be exercised
// deterministically in tests. Production code injects Real(); tests
// inject Fake() and call Advance to move time forward, which fires any
// pending tickers, timers, and sleeps in deadline order.
//
// Any production function that would otherwise call time.Now,
// time.After, time.NewTicker, or time.Sleep should accept a Clock
// parameter (or be a method on a struct with a Clock field) instead.
package clock

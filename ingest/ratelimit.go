// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"sync"
	"time"

	"github.com/Garrettjson/flip-disc/lib/clock"
)

// DefaultPenaltyDivisor slows token refill during a cooldown window.
const DefaultPenaltyDivisor = 4

// RateLimiter is the single global token bucket sized from the target
// cadence: capacity and refill rate both equal the configured FPS.
// Tokens are consumed per forwarded frame, not per received frame, so
// duplicates and observed-only frames do not deplete the bucket.
type RateLimiter struct {
	clock clock.Clock

	mu             sync.Mutex
	capacity       float64
	tokens         float64
	refillPerSec   float64
	lastRefill     time.Time
	penaltyUntil   time.Time
	penaltyDivisor float64
}

// NewRateLimiter returns a full bucket sized for the given FPS.
func NewRateLimiter(clk clock.Clock, fps int) *RateLimiter {
	return &RateLimiter{
		clock:          clk,
		capacity:       float64(fps),
		tokens:         float64(fps),
		refillPerSec:   float64(fps),
		lastRefill:     clk.Now(),
		penaltyDivisor: DefaultPenaltyDivisor,
	}
}

// Allow takes one token if available.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// refill adds tokens for the elapsed time since the last refill. While
// under penalty, the refill rate is divided by the penalty divisor.
// Called with mu held.
func (r *RateLimiter) refill() {
	now := r.clock.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now
	if elapsed <= 0 {
		return
	}

	rate := r.refillPerSec
	if now.Before(r.penaltyUntil) {
		rate /= r.penaltyDivisor
	}
	r.tokens += rate * elapsed.Seconds()
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}

// Penalize opens (or extends) a cooldown window during which refill
// runs at a quarter rate. Invoked when downstream signals back-off.
func (r *RateLimiter) Penalize(window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Settle tokens at the pre-penalty rate before the window starts.
	r.refill()
	until := r.clock.Now().Add(window)
	if until.After(r.penaltyUntil) {
		r.penaltyUntil = until
	}
}

// RetryAfter returns the remaining cooldown window, or zero.
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.penaltyUntil.Sub(r.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reconfigure resizes the bucket for a new FPS, keeping the current
// fill ratio so a cadence change neither grants a burst nor starves
// producers.
func (r *RateLimiter) Reconfigure(fps int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	ratio := 1.0
	if r.capacity > 0 {
		ratio = r.tokens / r.capacity
	}
	r.capacity = float64(fps)
	r.refillPerSec = float64(fps)
	r.tokens = ratio * r.capacity
}

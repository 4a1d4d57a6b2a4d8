// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. Timers, tickers, and sleeps register
// pending waiters that fire when the clock advances past their
// deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Waiters fire in deadline order; waiters that
// share a deadline fire in registration order.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is a pending timer, ticker, or sleep operation.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for ticker waiters. After firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool

	// fired marks one-shot waiters that have already delivered, so
	// overlapping Advance calls cannot double-fire them.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot waiter firing after duration d. If
// d <= 0 the returned channel receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addWaiter(&fakeWaiter{deadline: c.current.Add(d), channel: channel})
	return channel
}

// NewTicker registers a repeating waiter with the given interval.
// Panics if d <= 0, matching time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.addWaiter(waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
		resetFunc: func(interval time.Duration) {
			if interval <= 0 {
				panic("clock: non-positive interval for Ticker.Reset")
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.deadline = c.current.Add(interval)
			waiter.interval = interval
			waiter.stopped = false
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past
// the deadline. Returns immediately if d <= 0.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the fake time forward by d, firing every waiter whose
// deadline falls within the advanced window, in deadline order.
// Ticker waiters are rescheduled and may fire multiple times during a
// single large Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)
	for {
		waiter := c.earliestDue(target)
		if waiter == nil {
			break
		}
		// Time flows monotonically through each waiter's deadline so
		// that a waiter registered by a fired ticker consumer (via
		// Now) sees consistent time.
		if waiter.deadline.After(c.current) {
			c.current = waiter.deadline
		}
		c.fire(waiter)
	}
	c.current = target
	c.compact()
}

// WaiterCount returns the number of pending (unfired, unstopped)
// waiters. Tests use this to confirm the code under test has reached
// its blocking point before calling Advance.
func (c *FakeClock) WaiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// AwaitWaiters blocks until at least n waiters are pending. This is
// the synchronization point between a test goroutine and the loop
// under test: once the loop is parked on its ticker or sleep, Advance
// can fire it deterministically.
func (c *FakeClock) AwaitWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.waitersChanged.Wait()
	}
}

func (c *FakeClock) addWaiter(waiter *fakeWaiter) {
	c.waiters = append(c.waiters, waiter)
	c.waitersChanged.Broadcast()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}

// earliestDue returns the unfired waiter with the earliest deadline at
// or before target, or nil if none is due.
func (c *FakeClock) earliestDue(target time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		if waiter.deadline.After(target) {
			continue
		}
		if earliest == nil || waiter.deadline.Before(earliest.deadline) {
			earliest = waiter
		}
	}
	return earliest
}

// fire delivers to a due waiter. One-shot waiters are marked fired;
// ticker waiters are rescheduled. Ticker delivery is non-blocking to
// match time.Ticker's drop-on-full behavior.
func (c *FakeClock) fire(waiter *fakeWaiter) {
	if waiter.interval > 0 {
		select {
		case waiter.channel <- waiter.deadline:
		default:
		}
		waiter.deadline = waiter.deadline.Add(waiter.interval)
		return
	}
	waiter.channel <- waiter.deadline
	waiter.fired = true
}

// compact drops fired and stopped waiters. Called with mu held.
func (c *FakeClock) compact() {
	kept := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			kept = append(kept, waiter)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].deadline.Before(kept[j].deadline)
	})
	c.waiters = kept
}

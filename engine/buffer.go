// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Garrettjson/flip-disc/lib/rbm"
)

// Entry is one buffered frame with its provenance. It is owned by the
// buffer until Pop hands it to the dispatcher.
type Entry struct {
	Frame      *rbm.Frame
	ProducerID string
	ReceivedAt time.Time
}

// BufferCounters is a monotonic statistics snapshot.
type BufferCounters struct {
	Received        uint64
	DroppedOverflow uint64
	Popped          uint64
}

// Buffer is the bounded keep-latest FIFO between the forwarder and
// the dispatcher. Push on a full buffer drops the oldest entry, not
// the new one: a slow bus shows the freshest frames and skips the
// stale middle.
//
// One forwarder pushes, one dispatcher pops. Both go through the
// internal mutex; occupancy is additionally published as an atomic so
// the credit responder can read it without contending.
type Buffer struct {
	mu        sync.Mutex
	entries   []Entry
	capacity  int
	counters  BufferCounters
	highWater int

	occupancy atomic.Int32
}

// NewBuffer returns a buffer with the given capacity (minimum 1).
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity}
}

// Push appends an entry, dropping the oldest first when full.
// Returns true when an entry was dropped.
func (b *Buffer) Push(entry Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
		b.counters.DroppedOverflow++
		dropped = true
	}
	b.entries = append(b.entries, entry)
	b.counters.Received++
	if len(b.entries) > b.highWater {
		b.highWater = len(b.entries)
	}
	b.occupancy.Store(int32(len(b.entries)))
	return dropped
}

// Pop removes and returns the oldest entry. Non-blocking: ok is false
// when the buffer is empty.
func (b *Buffer) Pop() (entry Entry, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return Entry{}, false
	}
	entry = b.entries[0]
	b.entries = b.entries[1:]
	b.counters.Popped++
	b.occupancy.Store(int32(len(b.entries)))
	return entry, true
}

// Len returns the current occupancy without taking the lock.
func (b *Buffer) Len() int { return int(b.occupancy.Load()) }

// Capacity returns the current capacity.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Resize changes the capacity, keeping the newest entries when
// shrinking. Dropped entries count as overflow drops.
func (b *Buffer) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.capacity = capacity
	for len(b.entries) > capacity {
		b.entries = b.entries[1:]
		b.counters.DroppedOverflow++
	}
	b.occupancy.Store(int32(len(b.entries)))
}

// Counters returns the monotonic counters.
func (b *Buffer) Counters() BufferCounters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// TakeHighWater returns the peak occupancy since the previous call
// and resets it to the current occupancy.
func (b *Buffer) TakeHighWater() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	peak := b.highWater
	b.highWater = len(b.entries)
	return peak
}

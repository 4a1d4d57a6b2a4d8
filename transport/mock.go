// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Garrettjson/flip-disc/lib/clock"
)

// Mock is an in-memory Transport for development and tests. It
// records every write, can simulate per-byte line latency, and can be
// scripted to fail.
type Mock struct {
	clock  clock.Clock
	logger *slog.Logger

	// ByteDelay simulates line rate: each write sleeps
	// len(data) * ByteDelay before completing. Zero disables it.
	ByteDelay time.Duration

	mu        sync.Mutex
	open      bool
	writes    [][]byte
	notify    chan []byte
	failQueue []error
	permanent map[error]bool
}

// NewMock returns a Mock transport. The notify channel is sized
// generously so tests never deadlock the dispatcher by forgetting to
// drain it.
func NewMock(clk clock.Clock, logger *slog.Logger) *Mock {
	return &Mock{
		clock:     clk,
		logger:    logger.With("component", "transport.mock"),
		notify:    make(chan []byte, 1024),
		permanent: make(map[error]bool),
	}
}

// Open marks the mock writable.
func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

// Close stops accepting writes.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// WriteAll records the write, or returns the next scripted error.
func (m *Mock) WriteAll(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrClosed
	}
	if len(m.failQueue) > 0 {
		err := m.failQueue[0]
		m.failQueue = m.failQueue[1:]
		m.mu.Unlock()
		return err
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.writes = append(m.writes, copied)
	byteDelay := m.ByteDelay
	m.mu.Unlock()

	if byteDelay > 0 {
		m.Sleep(ctx, time.Duration(len(data))*byteDelay)
	}

	m.logger.Debug("write", "bytes", len(copied))
	select {
	case m.notify <- copied:
	default:
	}
	return nil
}

// Sleep waits on the injected clock, returning early on cancellation.
func (m *Mock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-m.clock.After(d):
	case <-ctx.Done():
	}
}

// IsPermanent reports whether err was scripted as permanent.
func (m *Mock) IsPermanent(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permanent[err]
}

// Reset reopens the mock and clears any remaining scripted errors.
func (m *Mock) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	m.failQueue = nil
	return nil
}

// FailNext scripts err to be returned by an upcoming WriteAll, in
// FIFO order. When permanent is true, IsPermanent(err) reports true.
func (m *Mock) FailNext(err error, permanent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failQueue = append(m.failQueue, err)
	if permanent {
		m.permanent[err] = true
	}
}

// Writes returns a copy of everything written so far.
func (m *Mock) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// WriteCount returns the number of completed writes.
func (m *Mock) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

// Notify exposes a channel receiving each completed write, for tests
// that want to block until bus traffic happens.
func (m *Mock) Notify() <-chan []byte { return m.notify }

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"time"
)

// Transport is an opaque byte sink for encoded bus messages. The
// dispatcher owns it exclusively: no other component may call
// WriteAll or Sleep.
type Transport interface {
	// Open prepares the sink for writing.
	Open() error

	// Close releases the sink. Writes after Close fail.
	Close() error

	// WriteAll writes the whole buffer or fails. Partial writes are
	// surfaced as errors, never as short counts.
	WriteAll(ctx context.Context, data []byte) error

	// Sleep pauses between bus messages, honoring cancellation. Used
	// for the configured inter-panel gap.
	Sleep(ctx context.Context, d time.Duration)

	// IsPermanent classifies an error returned by WriteAll. Permanent
	// means the device cannot recover without operator intervention
	// (port unplugged, closed); everything else is retried on the
	// next tick.
	IsPermanent(err error) bool

	// Reset attempts to recover from a permanent failure, reopening
	// the underlying device if necessary. On success the dispatcher
	// leaves the degraded state and forces a full write.
	Reset() error
}

// ErrClosed is returned by writes on a transport that is not open.
var ErrClosed = errors.New("transport: closed")

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Garrettjson/flip-disc/engine"
	"github.com/Garrettjson/flip-disc/lib/clock"
	"github.com/Garrettjson/flip-disc/lib/rbm"
)

// ErrGeometryMismatch reports a frame whose dimensions do not match
// the published canvas.
var ErrGeometryMismatch = errors.New("ingest: frame geometry does not match canvas")

// Status classifies the outcome of one ingest call. Every status
// except rejection is a success from the producer's point of view;
// Duplicate and NoToken mean the frame was deliberately dropped.
type Status string

const (
	// StatusAccepted: validated, rewritten, and enqueued.
	StatusAccepted Status = "accepted"
	// StatusDuplicate: payload identical to the producer's previous
	// forwarded frame.
	StatusDuplicate Status = "duplicate"
	// StatusNoToken: rate limited; dropped.
	StatusNoToken Status = "no-token"
	// StatusObserved: producer is not the active source; heartbeat
	// recorded, frame not buffered.
	StatusObserved Status = "observed"
)

// Result is returned to the producer with every successful ingest.
type Result struct {
	Status Status
	// Credits is the number of further frames the server is willing
	// to accept right now.
	Credits int
	// RetryAfter is nonzero while a cooldown window is advertised.
	RetryAfter time.Duration
	// SeqAck echoes the frame's sequence number.
	SeqAck uint32
}

// Counters is a monotonic ingest statistics snapshot.
type Counters struct {
	Received   uint64
	Forwarded  uint64
	Duplicates uint64
	NoToken    uint64
	Observed   uint64
	Rejected   uint64
}

// HeartbeatRecorder receives producer liveness signals. The worker
// supervisor implements it; a nil recorder disables heartbeats.
type HeartbeatRecorder interface {
	RecordHeartbeat(producerID string, at time.Time)
}

// inFlightCounter is the dispatcher's contribution to the credit
// formula.
type inFlightCounter interface {
	InFlight() int
}

// Forwarder is the ingest pipeline. It is strictly sequential per
// call (the internal mutex covers dedupe state and the buffer push),
// which gives each producer in-order processing.
type Forwarder struct {
	clock      clock.Clock
	logger     *slog.Logger
	buffer     *engine.Buffer
	settings   *engine.SettingsStore
	limiter    *RateLimiter
	dispatcher inFlightCounter
	heartbeats HeartbeatRecorder

	mu           sync.Mutex
	activeSource string
	lastHash     map[string]uint32
	lastSeen     map[string]time.Time
	counters     Counters
}

// NewForwarder wires the ingest pipeline. heartbeats may be nil.
func NewForwarder(clk clock.Clock, logger *slog.Logger, buffer *engine.Buffer, settings *engine.SettingsStore, limiter *RateLimiter, dispatcher inFlightCounter, heartbeats HeartbeatRecorder) *Forwarder {
	return &Forwarder{
		clock:      clk,
		logger:     logger.With("component", "forwarder"),
		buffer:     buffer,
		settings:   settings,
		limiter:    limiter,
		dispatcher: dispatcher,
		heartbeats: heartbeats,
		lastHash:   make(map[string]uint32),
		lastSeen:   make(map[string]time.Time),
	}
}

// Ingest runs one frame through the pipeline. The returned error is
// non-nil only for rejections (bad header, geometry mismatch), which
// the HTTP adapter surfaces as client errors; drops are successes
// with a non-accepted status.
//
// The raw buffer is retained by the pacing engine when the frame is
// accepted; callers must not reuse it.
func (f *Forwarder) Ingest(raw []byte, producerID string) (Result, error) {
	frame, err := rbm.Decode(raw)
	if err != nil {
		f.bump(func(c *Counters) { c.Rejected++ })
		return Result{}, fmt.Errorf("parsing frame from %s: %w", producerID, err)
	}

	settings := f.settings.Load()
	canvas := settings.Topology.Canvas
	if int(frame.Width) != canvas.Width || int(frame.Height) != canvas.Height {
		f.bump(func(c *Counters) { c.Rejected++ })
		return Result{}, fmt.Errorf("%w: got %dx%d, want %dx%d",
			ErrGeometryMismatch, frame.Width, frame.Height, canvas.Width, canvas.Height)
	}

	now := f.clock.Now()
	if f.heartbeats != nil {
		f.heartbeats.RecordHeartbeat(producerID, now)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.counters.Received++
	f.lastSeen[producerID] = now

	if producerID != f.activeSource || f.activeSource == "" {
		f.counters.Observed++
		return f.result(StatusObserved, frame.Seq), nil
	}

	payloadHash := engine.HashPayload(frame.Payload)
	if previous, seen := f.lastHash[producerID]; seen && previous == payloadHash {
		f.counters.Duplicates++
		return f.result(StatusDuplicate, frame.Seq), nil
	}

	if !f.limiter.Allow() {
		f.counters.NoToken++
		return f.result(StatusNoToken, frame.Seq), nil
	}

	// The server cadence is authoritative; align the header before it
	// enters the buffer so every downstream reader agrees.
	durationMS := settings.DurationMS()
	if err := rbm.RewriteDuration(raw, durationMS); err != nil {
		// Unreachable: Decode already validated the header size.
		return Result{}, fmt.Errorf("rewriting frame duration: %w", err)
	}
	frame.DurationMS = durationMS

	f.lastHash[producerID] = payloadHash
	f.buffer.Push(engine.Entry{Frame: frame, ProducerID: producerID, ReceivedAt: now})
	f.counters.Forwarded++

	return f.result(StatusAccepted, frame.Seq), nil
}

// result builds a producer response. Called with mu held.
func (f *Forwarder) result(status Status, seq uint32) Result {
	return Result{
		Status:     status,
		Credits:    f.creditsLocked(),
		RetryAfter: f.limiter.RetryAfter(),
		SeqAck:     seq,
	}
}

// Credits returns the current producer allowance:
// max(0, capacity - occupancy - inFlight). Derived on every call from
// the buffer's authoritative counters.
func (f *Forwarder) Credits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creditsLocked()
}

func (f *Forwarder) creditsLocked() int {
	credits := f.buffer.Capacity() - f.buffer.Len() - f.dispatcher.InFlight()
	if credits < 0 {
		credits = 0
	}
	return credits
}

// Penalize opens a cooldown window after a downstream back-off
// signal. Producers see it as retry_after on their next response.
func (f *Forwarder) Penalize(window time.Duration) {
	f.limiter.Penalize(window)
	f.logger.Warn("cooldown window opened", "window", window)
}

// SetActiveSource names the single producer whose frames are
// buffered. Empty means none. Switching sources clears the new
// source's dedupe hash so its first frame always forwards.
func (f *Forwarder) SetActiveSource(producerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if producerID == f.activeSource {
		return
	}
	f.activeSource = producerID
	delete(f.lastHash, producerID)
	f.logger.Info("active source changed", "producer", producerID)
}

// ActiveSource returns the current active producer ID, empty for
// none.
func (f *Forwarder) ActiveSource() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeSource
}

// LastSeen returns the most recent ingest time for a producer.
func (f *Forwarder) LastSeen(producerID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.lastSeen[producerID]
	return at, ok
}

// Counters returns the monotonic ingest counters.
func (f *Forwarder) Counters() Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters
}

func (f *Forwarder) bump(update func(*Counters)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	update(&f.counters)
}

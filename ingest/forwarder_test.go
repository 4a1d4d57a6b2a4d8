// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Garrettjson/flip-disc/engine"
	"github.com/Garrettjson/flip-disc/lib/clock"
	"github.com/Garrettjson/flip-disc/lib/rbm"
	"github.com/Garrettjson/flip-disc/lib/topology"
)

type fakeDispatcher struct{ inFlight int }

func (d *fakeDispatcher) InFlight() int { return d.inFlight }

type heartbeatLog struct {
	mu    sync.Mutex
	beats map[string]int
}

func (h *heartbeatLog) RecordHeartbeat(producerID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.beats == nil {
		h.beats = make(map[string]int)
	}
	h.beats[producerID]++
}

func (h *heartbeatLog) count(producerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats[producerID]
}

type ingestHarness struct {
	forwarder  *Forwarder
	buffer     *engine.Buffer
	limiter    *RateLimiter
	clock      *clock.FakeClock
	dispatcher *fakeDispatcher
	heartbeats *heartbeatLog
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()

	topo, err := topology.New(
		topology.Canvas{Width: 28, Height: 14},
		[]topology.Panel{
			{ID: "top", Address: 1, Origin: topology.Point{Y: 0}, Size: topology.Size{W: 28, H: 7}},
			{ID: "bottom", Address: 2, Origin: topology.Point{Y: 7}, Size: topology.Size{W: 28, H: 7}},
		},
		false,
	)
	if err != nil {
		t.Fatalf("topology.New: %v", err)
	}

	fake := clock.Fake(testEpoch)
	settings := engine.NewSettingsStore(&engine.Settings{Topology: topo, FPS: 30, BufferMS: 1000})
	buffer := engine.NewBuffer(settings.Load().BufferCapacity())
	limiter := NewRateLimiter(fake, 30)
	dispatcher := &fakeDispatcher{}
	heartbeats := &heartbeatLog{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	forwarder := NewForwarder(fake, logger, buffer, settings, limiter, dispatcher, heartbeats)
	forwarder.SetActiveSource("worker-a")
	return &ingestHarness{
		forwarder:  forwarder,
		buffer:     buffer,
		limiter:    limiter,
		clock:      fake,
		dispatcher: dispatcher,
		heartbeats: heartbeats,
	}
}

// frameBytes builds an encoded 28x14 frame whose payload is seeded
// from variant.
func frameBytes(t *testing.T, seq uint32, durationMS uint16, variant byte) []byte {
	t.Helper()
	payload := make([]byte, rbm.PayloadSize(28, 14))
	payload[0] = variant
	frame := &rbm.Frame{
		Header:  rbm.Header{Width: 28, Height: 14, Seq: seq, DurationMS: durationMS},
		Payload: payload,
	}
	return frame.Encode()
}

func TestIngestAccepts(t *testing.T) {
	h := newIngestHarness(t)

	result, err := h.forwarder.Ingest(frameBytes(t, 7, 0, 1), "worker-a")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", result.Status)
	}
	if result.SeqAck != 7 {
		t.Errorf("seq ack = %d, want 7", result.SeqAck)
	}
	if h.buffer.Len() != 1 {
		t.Errorf("buffer occupancy = %d, want 1", h.buffer.Len())
	}
}

func TestIngestRejectsBadHeader(t *testing.T) {
	h := newIngestHarness(t)

	_, err := h.forwarder.Ingest([]byte("not a frame"), "worker-a")
	if !errors.Is(err, rbm.ErrBadHeader) {
		t.Errorf("Ingest = %v, want ErrBadHeader", err)
	}
	if counters := h.forwarder.Counters(); counters.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", counters.Rejected)
	}
}

func TestIngestRejectsGeometryMismatch(t *testing.T) {
	h := newIngestHarness(t)

	wrong := &rbm.Frame{
		Header:  rbm.Header{Width: 14, Height: 7},
		Payload: make([]byte, rbm.PayloadSize(14, 7)),
	}
	_, err := h.forwarder.Ingest(wrong.Encode(), "worker-a")
	if !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("Ingest = %v, want ErrGeometryMismatch", err)
	}
}

func TestIngestCadenceAuthority(t *testing.T) {
	// Producer declares 100 ms; server at 30 fps rewrites to 33.
	h := newIngestHarness(t)

	raw := frameBytes(t, 1, 100, 1)
	if _, err := h.forwarder.Ingest(raw, "worker-a"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	entry, ok := h.buffer.Pop()
	if !ok {
		t.Fatal("nothing buffered")
	}
	if entry.Frame.DurationMS != 33 {
		t.Errorf("buffered duration = %d, want 33", entry.Frame.DurationMS)
	}
	// The raw bytes were rewritten in place as well.
	reparsed, err := rbm.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reparsed.DurationMS != 33 {
		t.Errorf("raw duration = %d, want 33", reparsed.DurationMS)
	}
}

func TestIngestDuplicateSuppression(t *testing.T) {
	// The same payload 100 times: one forward, 99 duplicates. Tokens
	// are only consumed for the forward.
	h := newIngestHarness(t)

	for i := 0; i < 100; i++ {
		result, err := h.forwarder.Ingest(frameBytes(t, uint32(i), 0, 1), "worker-a")
		if err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
		wantStatus := StatusDuplicate
		if i == 0 {
			wantStatus = StatusAccepted
		}
		if result.Status != wantStatus {
			t.Fatalf("frame %d status = %s, want %s", i, result.Status, wantStatus)
		}
	}

	counters := h.forwarder.Counters()
	if counters.Forwarded != 1 || counters.Duplicates != 99 {
		t.Errorf("forwarded %d duplicates %d, want 1 and 99", counters.Forwarded, counters.Duplicates)
	}
}

func TestIngestDedupePerProducer(t *testing.T) {
	h := newIngestHarness(t)

	h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-a")
	h.forwarder.SetActiveSource("worker-b")
	result, err := h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-b")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// Same payload, different producer: not a duplicate.
	if result.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", result.Status)
	}
}

func TestIngestNoToken(t *testing.T) {
	h := newIngestHarness(t)

	// Drain the bucket directly through the limiter; no frame enters
	// the buffer.
	variant := byte(0)
	for h.limiter.Allow() {
		variant++
	}

	result, err := h.forwarder.Ingest(frameBytes(t, 1, 0, 200), "worker-a")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != StatusNoToken {
		t.Errorf("status = %s, want no-token", result.Status)
	}
	if h.buffer.Len() != 0 {
		t.Errorf("buffer occupancy = %d, want 0", h.buffer.Len())
	}

	// The dropped frame must not poison dedupe: once tokens refill,
	// the same payload forwards.
	h.clock.Advance(time.Second)
	result, err = h.forwarder.Ingest(frameBytes(t, 2, 0, 200), "worker-a")
	if err != nil {
		t.Fatalf("Ingest after refill: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("status after refill = %s, want accepted", result.Status)
	}
}

func TestIngestObservedNotBuffered(t *testing.T) {
	h := newIngestHarness(t)

	result, err := h.forwarder.Ingest(frameBytes(t, 3, 0, 1), "worker-b")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != StatusObserved {
		t.Errorf("status = %s, want observed", result.Status)
	}
	if h.buffer.Len() != 0 {
		t.Errorf("buffer occupancy = %d, want 0", h.buffer.Len())
	}
	// Heartbeat and last-seen recorded anyway.
	if h.heartbeats.count("worker-b") != 1 {
		t.Errorf("heartbeats = %d, want 1", h.heartbeats.count("worker-b"))
	}
	if _, ok := h.forwarder.LastSeen("worker-b"); !ok {
		t.Error("last-seen not recorded for observed producer")
	}
}

func TestIngestNoActiveSource(t *testing.T) {
	h := newIngestHarness(t)
	h.forwarder.SetActiveSource("")

	result, err := h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-a")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != StatusObserved {
		t.Errorf("status with no active source = %s, want observed", result.Status)
	}
}

func TestCreditsDerived(t *testing.T) {
	h := newIngestHarness(t)

	capacity := h.buffer.Capacity()
	if got := h.forwarder.Credits(); got != capacity {
		t.Errorf("credits on empty buffer = %d, want %d", got, capacity)
	}

	h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-a")
	h.forwarder.Ingest(frameBytes(t, 2, 0, 2), "worker-a")
	if got := h.forwarder.Credits(); got != capacity-2 {
		t.Errorf("credits with 2 buffered = %d, want %d", got, capacity-2)
	}

	h.dispatcher.inFlight = 1
	if got := h.forwarder.Credits(); got != capacity-3 {
		t.Errorf("credits with in-flight = %d, want %d", got, capacity-3)
	}
}

func TestCreditsNeverNegative(t *testing.T) {
	h := newIngestHarness(t)
	h.buffer.Resize(1)
	h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-a")
	h.dispatcher.inFlight = 1
	if got := h.forwarder.Credits(); got != 0 {
		t.Errorf("credits = %d, want 0", got)
	}
}

func TestCreditSafety(t *testing.T) {
	// A producer observing credits = c gets at most c further frames
	// accepted before a new credit update.
	h := newIngestHarness(t)
	h.buffer.Resize(5)

	credits := h.forwarder.Credits()
	accepted := 0
	for i := 0; i < credits+10; i++ {
		result, err := h.forwarder.Ingest(frameBytes(t, uint32(i), 0, byte(i+1)), "worker-a")
		if err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
		if result.Status == StatusAccepted {
			accepted++
		}
		if result.Credits == 0 {
			break
		}
	}
	if accepted > credits {
		t.Errorf("accepted %d frames against %d credits", accepted, credits)
	}
}

func TestPenalizeAdvertisedInResults(t *testing.T) {
	h := newIngestHarness(t)
	h.forwarder.Penalize(time.Second)

	result, err := h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-a")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.RetryAfter != time.Second {
		t.Errorf("retry after = %v, want 1s", result.RetryAfter)
	}
}

func TestSwitchingSourceClearsDedupe(t *testing.T) {
	h := newIngestHarness(t)

	h.forwarder.Ingest(frameBytes(t, 1, 0, 1), "worker-a")
	h.forwarder.SetActiveSource("worker-b")
	h.forwarder.SetActiveSource("worker-a")

	// After switching away and back, the same payload forwards again.
	result, err := h.forwarder.Ingest(frameBytes(t, 2, 0, 1), "worker-a")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("status after source round-trip = %s, want accepted", result.Status)
	}
}

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Garrettjson/flip-disc/engine"
	"github.com/Garrettjson/flip-disc/ingest"
	"github.com/Garrettjson/flip-disc/lib/clock"
	"github.com/Garrettjson/flip-disc/lib/rbm"
	"github.com/Garrettjson/flip-disc/lib/testutil"
	"github.com/Garrettjson/flip-disc/lib/topology"
	"github.com/Garrettjson/flip-disc/supervisor"
	"github.com/Garrettjson/flip-disc/transport"
)

var testEpoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type planeHarness struct {
	plane    *Plane
	clock    *clock.FakeClock
	buffer   *engine.Buffer
	settings *engine.SettingsStore
	mock     *transport.Mock
}

func newPlaneHarness(t *testing.T) *planeHarness {
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
	logger := discardLogger()
	settings := engine.NewSettingsStore(&engine.Settings{Topology: topo, FPS: 30, BufferMS: 1000})
	buffer := engine.NewBuffer(settings.Load().BufferCapacity())
	mock := transport.NewMock(fake, logger)
	dispatcher := engine.NewDispatcher(fake, logger, buffer, settings, mock)
	limiter := ingest.NewRateLimiter(fake, 30)
	sup := supervisor.New(fake, logger)
	forwarder := ingest.NewForwarder(fake, logger, buffer, settings, limiter, dispatcher, sup)

	serial := topology.SerialConfig{Device: "/dev/ttyUSB0", Baud: 9600, DataBits: 8, StopBits: 1}
	plane := New(fake, logger, settings, buffer, dispatcher, forwarder, limiter, sup, serial)
	return &planeHarness{plane: plane, clock: fake, buffer: buffer, settings: settings, mock: mock}
}

func TestSetFPSChangesCadenceAndResizes(t *testing.T) {
	h := newPlaneHarness(t)

	if err := h.plane.SetFPS(10); err != nil {
		t.Fatalf("SetFPS: %v", err)
	}
	if got := h.settings.Load().FPS; got != 10 {
		t.Errorf("fps = %d, want 10", got)
	}
	// buffer_ms 1000 at 10 fps -> capacity 10.
	if got := h.buffer.Capacity(); got != 10 {
		t.Errorf("capacity = %d, want 10", got)
	}
	if got := h.settings.Load().DurationMS(); got != 100 {
		t.Errorf("duration = %d, want 100", got)
	}
}

func TestSetFPSSameValueIsNoOp(t *testing.T) {
	h := newPlaneHarness(t)

	// Make the capacity observably different from what a resize
	// would produce.
	h.buffer.Resize(3)
	if err := h.plane.SetFPS(30); err != nil {
		t.Fatalf("SetFPS: %v", err)
	}
	if got := h.buffer.Capacity(); got != 3 {
		t.Errorf("capacity = %d; same-value SetFPS resized the buffer", got)
	}
}

func TestSetFPSRejectsOutOfRange(t *testing.T) {
	h := newPlaneHarness(t)
	if err := h.plane.SetFPS(0); err == nil {
		t.Error("SetFPS(0) accepted")
	}
	if err := h.plane.SetFPS(topology.MaxFPS + 1); err == nil {
		t.Error("SetFPS above the ceiling accepted")
	}
}

func TestSetBuffered(t *testing.T) {
	h := newPlaneHarness(t)

	if err := h.plane.SetBuffered(true); err != nil {
		t.Fatalf("SetBuffered: %v", err)
	}
	if !h.settings.Load().Topology.Buffered {
		t.Error("topology not in buffered mode")
	}
	// Same value: no-op.
	if err := h.plane.SetBuffered(true); err != nil {
		t.Errorf("SetBuffered same value: %v", err)
	}
}

func TestTestPatternQueuesFrame(t *testing.T) {
	h := newPlaneHarness(t)

	if err := h.plane.TestPattern(rbm.PatternCheckerboard); err != nil {
		t.Fatalf("TestPattern: %v", err)
	}
	entry, ok := h.buffer.Pop()
	if !ok {
		t.Fatal("no frame buffered")
	}
	if entry.ProducerID != "control" {
		t.Errorf("producer = %q, want control", entry.ProducerID)
	}
	if entry.Frame.DurationMS != 33 {
		t.Errorf("duration = %d, want 33", entry.Frame.DurationMS)
	}

	if err := h.plane.TestPattern("plaid"); err == nil {
		t.Error("unknown pattern accepted")
	}
}

func TestStatsAggregates(t *testing.T) {
	h := newPlaneHarness(t)
	h.plane.SetActiveSource("worker-a")

	snapshot := h.plane.Stats()
	if snapshot.FPS != 30 || snapshot.BufferCapacity != 30 {
		t.Errorf("snapshot pacing = %+v", snapshot)
	}
	if snapshot.State != "idle" || snapshot.Degraded {
		t.Errorf("snapshot state = %s degraded=%v", snapshot.State, snapshot.Degraded)
	}
	if snapshot.ActiveSource != "worker-a" {
		t.Errorf("active source = %q", snapshot.ActiveSource)
	}
	if snapshot.Credits != 30 {
		t.Errorf("credits = %d, want 30", snapshot.Credits)
	}
}

func TestSubscribeReceivesEdges(t *testing.T) {
	h := newPlaneHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.plane.Run(ctx)
	}()

	snapshots, unsubscribe := h.plane.Subscribe()
	defer unsubscribe()

	// An fps change emits an edge snapshot without any clock advance.
	if err := h.plane.SetFPS(15); err != nil {
		t.Fatalf("SetFPS: %v", err)
	}
	snapshot := testutil.RequireReceive(t, snapshots, 5*time.Second, "edge snapshot")
	if snapshot.FPS != 15 {
		t.Errorf("edge snapshot fps = %d, want 15", snapshot.FPS)
	}

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "plane shutdown")
}

func TestSubscribePeriodicSnapshots(t *testing.T) {
	h := newPlaneHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.plane.Run(ctx)
	}()

	snapshots, unsubscribe := h.plane.Subscribe()
	defer unsubscribe()

	h.clock.AwaitWaiters(1)
	h.clock.Advance(time.Second)
	testutil.RequireReceive(t, snapshots, 5*time.Second, "periodic snapshot")

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "plane shutdown")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newPlaneHarness(t)

	snapshots, unsubscribe := h.plane.Subscribe()
	unsubscribe()
	if _, ok := <-snapshots; ok {
		t.Error("channel still open after unsubscribe")
	}
	// Double-unsubscribe must not panic.
	unsubscribe()
}

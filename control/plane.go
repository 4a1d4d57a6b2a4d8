// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Garrettjson/flip-disc/engine"
	"github.com/Garrettjson/flip-disc/ingest"
	"github.com/Garrettjson/flip-disc/lib/clock"
	"github.com/Garrettjson/flip-disc/lib/rbm"
	"github.com/Garrettjson/flip-disc/lib/topology"
	"github.com/Garrettjson/flip-disc/supervisor"
)

// Snapshot is one statistics observation, emitted on the stats stream
// and returned by status reads.
type Snapshot struct {
	Time             time.Time           `json:"time" cbor:"time"`
	FPS              int                 `json:"fps" cbor:"fps"`
	EffectiveFPS     float64             `json:"effective_fps" cbor:"effective_fps"`
	BufferLevel      int                 `json:"buffer_level" cbor:"buffer_level"`
	BufferCapacity   int                 `json:"buffer_capacity" cbor:"buffer_capacity"`
	BufferHighWater  int                 `json:"buffer_high_water" cbor:"buffer_high_water"`
	Received         uint64              `json:"received" cbor:"received"`
	Forwarded        uint64              `json:"forwarded" cbor:"forwarded"`
	Duplicates       uint64              `json:"duplicates" cbor:"duplicates"`
	NoToken          uint64              `json:"no_token" cbor:"no_token"`
	Observed         uint64              `json:"observed" cbor:"observed"`
	Rejected         uint64              `json:"rejected" cbor:"rejected"`
	DroppedOverflow  uint64              `json:"dropped_overflow" cbor:"dropped_overflow"`
	PanelsWritten    uint64              `json:"panels_written" cbor:"panels_written"`
	PanelsSuppressed uint64              `json:"panels_suppressed" cbor:"panels_suppressed"`
	EncodeErrors     uint64              `json:"encode_errors" cbor:"encode_errors"`
	TransientErrors  uint64              `json:"transient_errors" cbor:"transient_errors"`
	LastTickMS       float64             `json:"last_tick_ms" cbor:"last_tick_ms"`
	State            string              `json:"state" cbor:"state"`
	Degraded         bool                `json:"degraded" cbor:"degraded"`
	ActiveSource     string              `json:"active_source" cbor:"active_source"`
	Credits          int                 `json:"credits" cbor:"credits"`
	Workers          []supervisor.Record `json:"workers" cbor:"workers"`
}

// Capabilities declares optional behaviors so producers can probe
// instead of guessing.
type Capabilities struct {
	Invert       bool     `json:"invert" cbor:"invert"`
	BufferedMode bool     `json:"buffered_mode" cbor:"buffered_mode"`
	TestPatterns []string `json:"test_patterns" cbor:"test_patterns"`
}

// ConfigView is the read-only configuration publication: everything a
// producer needs to render compatible frames.
type ConfigView struct {
	Canvas       topology.Canvas       `json:"canvas" cbor:"canvas"`
	FPS          int                   `json:"fps" cbor:"fps"`
	FPSMax       int                   `json:"fps_max" cbor:"fps_max"`
	BufferMS     int                   `json:"buffer_ms" cbor:"buffer_ms"`
	FrameGapMS   int                   `json:"frame_gap_ms" cbor:"frame_gap_ms"`
	Buffered     bool                  `json:"buffered" cbor:"buffered"`
	Panels       []topology.Panel      `json:"panels" cbor:"panels"`
	Serial       topology.SerialConfig `json:"serial" cbor:"serial"`
	Capabilities Capabilities          `json:"capabilities" cbor:"capabilities"`
}

// Plane coordinates configuration changes and statistics. All
// mutations are serialized by an internal mutex and applied as
// settings-snapshot swaps.
type Plane struct {
	clock      clock.Clock
	logger     *slog.Logger
	settings   *engine.SettingsStore
	buffer     *engine.Buffer
	dispatcher *engine.Dispatcher
	forwarder  *ingest.Forwarder
	limiter    *ingest.RateLimiter
	supervisor *supervisor.Supervisor
	serial     topology.SerialConfig

	mu sync.Mutex

	patternSeq atomic.Uint32

	subscriberMu   sync.Mutex
	subscribers    map[int]chan Snapshot
	nextSubscriber int

	// edges signals an out-of-band snapshot. Capacity 1: coalescing
	// concurrent edges into one emission is fine.
	edges chan struct{}
}

// New wires the control plane and hooks the dispatcher and supervisor
// change notifications into the stats stream.
func New(clk clock.Clock, logger *slog.Logger, settings *engine.SettingsStore, buffer *engine.Buffer, dispatcher *engine.Dispatcher, forwarder *ingest.Forwarder, limiter *ingest.RateLimiter, sup *supervisor.Supervisor, serial topology.SerialConfig) *Plane {
	plane := &Plane{
		clock:       clk,
		logger:      logger.With("component", "control"),
		settings:    settings,
		buffer:      buffer,
		dispatcher:  dispatcher,
		forwarder:   forwarder,
		limiter:     limiter,
		supervisor:  sup,
		serial:      serial,
		subscribers: make(map[int]chan Snapshot),
		edges:       make(chan struct{}, 1),
	}
	dispatcher.OnStateChange = func(engine.State) { plane.edge() }
	if sup != nil {
		sup.OnChange = func(string, supervisor.Status) { plane.edge() }
	}
	return plane
}

// SetFPS retargets the cadence. Out-of-range values are rejected;
// setting the current value is a no-op (no buffer resize, no cache
// invalidation). Otherwise the buffer is resized preserving the
// newest entries and the token bucket is reconfigured.
func (p *Plane) SetFPS(fps int) error {
	if fps < 1 || fps > topology.MaxFPS {
		return fmt.Errorf("control: fps %d outside [1, %d]", fps, topology.MaxFPS)
	}

	p.mu.Lock()
	current := p.settings.Load()
	if current.FPS == fps {
		p.mu.Unlock()
		return nil
	}

	next := *current
	next.FPS = fps
	p.settings.Store(&next)
	p.buffer.Resize(next.BufferCapacity())
	p.limiter.Reconfigure(fps)
	p.mu.Unlock()

	p.logger.Info("fps changed", "fps", fps)
	p.edge()
	return nil
}

// SetBuffered switches between instant and buffered refresh. The
// topology is revalidated (7-wide panels cannot buffer) and every
// panel cache is invalidated so the next tick rewrites the wall.
func (p *Plane) SetBuffered(buffered bool) error {
	p.mu.Lock()
	current := p.settings.Load()
	if current.Topology.Buffered == buffered {
		p.mu.Unlock()
		return nil
	}

	topo, err := topology.New(current.Topology.Canvas, current.Topology.Panels, buffered)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("control: switching refresh mode: %w", err)
	}
	next := *current
	next.Topology = topo
	p.settings.Store(&next)
	p.dispatcher.ForceFullWrite()
	p.mu.Unlock()

	p.logger.Info("refresh mode changed", "buffered", buffered)
	p.edge()
	return nil
}

// SetActiveSource selects the producer whose frames drive the
// display; empty selects none.
func (p *Plane) SetActiveSource(producerID string) {
	p.forwarder.SetActiveSource(producerID)
	p.edge()
}

// ActiveSource returns the current active producer ID.
func (p *Plane) ActiveSource() string { return p.forwarder.ActiveSource() }

// ResetTransport recovers the dispatcher from a permanent transport
// failure. The resulting state change emits its own edge snapshot.
func (p *Plane) ResetTransport() error { return p.dispatcher.ResetTransport() }

// Cooldown opens a producer back-off window after a downstream
// back-pressure signal.
func (p *Plane) Cooldown(window time.Duration) { p.forwarder.Penalize(window) }

// TestPattern pushes a built-in pattern frame straight into the
// buffer, bypassing ingest. Used for hardware bring-up.
func (p *Plane) TestPattern(name rbm.TestPattern) error {
	settings := p.settings.Load()
	canvas := settings.Topology.Canvas
	bitmap, err := rbm.Pattern(name, canvas.Width, canvas.Height)
	if err != nil {
		return err
	}
	frame := &rbm.Frame{
		Header: rbm.Header{
			Width:      uint16(canvas.Width),
			Height:     uint16(canvas.Height),
			Seq:        p.patternSeq.Add(1),
			DurationMS: settings.DurationMS(),
		},
		Payload: bitmap.Pack(),
	}
	p.buffer.Push(engine.Entry{Frame: frame, ProducerID: "control", ReceivedAt: p.clock.Now()})
	p.logger.Info("test pattern queued", "pattern", string(name))
	return nil
}

// Config returns the current configuration publication.
func (p *Plane) Config() ConfigView {
	settings := p.settings.Load()
	return ConfigView{
		Canvas:     settings.Topology.Canvas,
		FPS:        settings.FPS,
		FPSMax:     topology.MaxFPS,
		BufferMS:   settings.BufferMS,
		FrameGapMS: settings.FrameGapMS,
		Buffered:   settings.Topology.Buffered,
		Panels:     settings.Topology.Panels,
		Serial:     p.serial,
		Capabilities: Capabilities{
			Invert:       true,
			BufferedMode: true,
			TestPatterns: []string{
				string(rbm.PatternCheckerboard),
				string(rbm.PatternBorder),
				string(rbm.PatternSolid),
				string(rbm.PatternClear),
			},
		},
	}
}

// Stats assembles a snapshot from the authoritative counters.
func (p *Plane) Stats() Snapshot {
	settings := p.settings.Load()
	ingestCounters := p.forwarder.Counters()
	bufferCounters := p.buffer.Counters()
	dispatcherStats := p.dispatcher.Snapshot()

	snapshot := Snapshot{
		Time:             p.clock.Now(),
		FPS:              settings.FPS,
		EffectiveFPS:     dispatcherStats.EffectiveFPS,
		BufferLevel:      p.buffer.Len(),
		BufferCapacity:   p.buffer.Capacity(),
		BufferHighWater:  p.buffer.TakeHighWater(),
		Received:         ingestCounters.Received,
		Forwarded:        ingestCounters.Forwarded,
		Duplicates:       ingestCounters.Duplicates,
		NoToken:          ingestCounters.NoToken,
		Observed:         ingestCounters.Observed,
		Rejected:         ingestCounters.Rejected,
		DroppedOverflow:  bufferCounters.DroppedOverflow,
		PanelsWritten:    dispatcherStats.PanelsWritten,
		PanelsSuppressed: dispatcherStats.PanelsSuppressed,
		EncodeErrors:     dispatcherStats.EncodeErrors,
		TransientErrors:  dispatcherStats.TransientErrors,
		LastTickMS:       float64(dispatcherStats.LastTickDuration) / float64(time.Millisecond),
		State:            dispatcherStats.State.String(),
		Degraded:         dispatcherStats.State == engine.StateDegraded,
		ActiveSource:     p.forwarder.ActiveSource(),
		Credits:          p.forwarder.Credits(),
	}
	if p.supervisor != nil {
		snapshot.Workers = p.supervisor.Records()
	}
	return snapshot
}

// Subscribe registers a stats stream consumer. The returned cancel
// must be called to release the subscription. Slow consumers miss
// snapshots rather than blocking the stream.
func (p *Plane) Subscribe() (<-chan Snapshot, func()) {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()

	id := p.nextSubscriber
	p.nextSubscriber++
	channel := make(chan Snapshot, 4)
	p.subscribers[id] = channel

	cancel := func() {
		p.subscriberMu.Lock()
		defer p.subscriberMu.Unlock()
		if _, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(channel)
		}
	}
	return channel, cancel
}

// Run emits one snapshot per second, plus an immediate snapshot on
// every configuration or state edge, until ctx is canceled.
func (p *Plane) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.edges:
		}
		p.broadcast(p.Stats())
	}
}

func (p *Plane) broadcast(snapshot Snapshot) {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	for _, channel := range p.subscribers {
		select {
		case channel <- snapshot:
		default:
		}
	}
}

// edge requests an out-of-band snapshot emission.
func (p *Plane) edge() {
	select {
	case p.edges <- struct{}{}:
	default:
	}
}

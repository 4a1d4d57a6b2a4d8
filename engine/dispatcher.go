// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Garrettjson/flip-disc/lib/busproto"
	"github.com/Garrettjson/flip-disc/lib/clock"
	"github.com/Garrettjson/flip-disc/lib/mapper"
	"github.com/Garrettjson/flip-disc/lib/rbm"
	"github.com/Garrettjson/flip-disc/transport"
)

// State is the dispatcher lifecycle state.
type State int32

const (
	// StateIdle: not started, or stopped. No writes.
	StateIdle State = iota
	// StateRunning: the only state that writes to the transport.
	StateRunning
	// StateDegraded: a permanent transport error occurred. The
	// dispatcher keeps draining the buffer so producers do not stall,
	// but discards every frame until a transport reset.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "idle"
	}
}

// emaWindow is the smoothing span (in ticks) for the effective FPS
// estimate.
const emaWindow = 16

// Stats is a dispatcher statistics snapshot.
type Stats struct {
	Ticks            uint64
	PanelsWritten    uint64
	PanelsSuppressed uint64
	EncodeErrors     uint64
	TransientErrors  uint64
	EffectiveFPS     float64
	LastTickDuration time.Duration
	LastWriteAt      time.Time
	State            State
}

// Dispatcher owns the fixed-cadence tick loop. Each tick pops at most
// one frame (falling back to the hold frame), maps it to panels,
// suppresses unchanged panels through the dirty cache, and writes the
// rest to the transport in canonical topology order.
type Dispatcher struct {
	clock     clock.Clock
	logger    *slog.Logger
	buffer    *Buffer
	settings  *SettingsStore
	transport transport.Transport
	cache     *DirtyCache

	state        atomic.Int32
	inFlight     atomic.Int32
	forcePending atomic.Bool

	// OnStateChange, when set before Run, is called from the
	// dispatcher goroutine (or from ResetTransport's caller) on every
	// state transition.
	OnStateChange func(State)

	// hold is the most recently displayed bitmap, reused when the
	// buffer is empty. Dispatcher goroutine only.
	hold *rbm.Bitmap

	// lastTickStart feeds the effective-FPS estimate. Dispatcher
	// goroutine only.
	lastTickStart time.Time

	statsMu sync.Mutex
	stats   Stats
}

// NewDispatcher wires a dispatcher. It starts in StateIdle; call Run
// to begin pacing.
func NewDispatcher(clk clock.Clock, logger *slog.Logger, buffer *Buffer, settings *SettingsStore, sink transport.Transport) *Dispatcher {
	return &Dispatcher{
		clock:     clk,
		logger:    logger.With("component", "dispatcher"),
		buffer:    buffer,
		settings:  settings,
		transport: sink,
		cache:     NewDirtyCache(),
	}
}

// Run opens the transport and paces ticks until ctx is canceled. Only
// one Run may be active at a time.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("dispatcher: already started (state %s)", State(d.state.Load()))
	}
	d.notifyState(StateRunning)

	if err := d.transport.Open(); err != nil {
		d.setState(StateIdle)
		return fmt.Errorf("opening transport: %w", err)
	}
	defer func() {
		if err := d.transport.Close(); err != nil {
			d.logger.Warn("closing transport", "error", err)
		}
		d.setState(StateIdle)
	}()

	d.logger.Info("dispatcher running",
		"fps", d.settings.Load().FPS,
		"panels", len(d.settings.Load().Topology.Panels),
	)

	for {
		settings := d.settings.Load()
		tickStart := d.clock.Now()
		d.tick(ctx, settings, tickStart)

		wait := d.nextWait(settings, tickStart)
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return nil
		case <-d.clock.After(wait):
		}
	}
}

// nextWait schedules the next tick at tickStart + interval + gap. An
// overrunning tick is not compensated: the next tick is simply pushed
// out by a minimal rearm bounded below by the inter-panel delay, so a
// slow bus never causes a burst of catch-up ticks.
func (d *Dispatcher) nextWait(settings *Settings, tickStart time.Time) time.Duration {
	deadline := tickStart.Add(settings.Interval() + settings.FrameGap())
	now := d.clock.Now()
	if now.Before(deadline) {
		return deadline.Sub(now)
	}
	rearm := settings.InterPanelDelay
	if rearm <= 0 {
		rearm = time.Millisecond
	}
	return rearm
}

func (d *Dispatcher) tick(ctx context.Context, settings *Settings, tickStart time.Time) {
	defer d.recordTick(tickStart)

	entry, popped := d.buffer.Pop()
	if popped {
		d.inFlight.Store(1)
		defer d.inFlight.Store(0)

		bitmap, err := entry.Frame.DecodeBitmap()
		if err != nil {
			// A frame this malformed should have been rejected at
			// ingest; keep the current hold.
			d.logger.Warn("dropping undecodable frame", "producer", entry.ProducerID, "error", err)
		} else {
			d.hold = bitmap
		}
	}

	// The frame's own duration field is advisory; the server cadence
	// is authoritative, so nothing here stretches the interval.

	if State(d.state.Load()) != StateRunning {
		// Degraded: drain but do not write.
		return
	}

	topo := settings.Topology
	if d.hold == nil || d.hold.Width != topo.Canvas.Width || d.hold.Height != topo.Canvas.Height {
		d.hold = rbm.NewBitmap(topo.Canvas.Width, topo.Canvas.Height)
	}

	if d.forcePending.Swap(false) {
		d.cache.ForceAll()
	}

	data, err := mapper.Map(d.hold, topo)
	if err != nil {
		d.bumpEncodeErrors()
		d.logger.Error("mapping frame", "error", err)
		return
	}

	wrote := false
	for i := range topo.Panels {
		panel := &topo.Panels[i]
		columns := data[panel.ID]
		hash := HashPayload(columns)
		if !d.cache.Changed(panel.ID, hash) {
			d.bumpSuppressed()
			continue
		}

		message, err := busproto.EncodePanel(panel.Address, columns, topo.Refresh())
		if err != nil {
			d.bumpEncodeErrors()
			d.logger.Error("encoding panel message", "panel", panel.ID, "error", err)
			return
		}

		if wrote {
			d.transport.Sleep(ctx, settings.InterPanelDelay)
		}
		if !d.writeMessage(ctx, settings, message, panel.ID) {
			return
		}
		d.cache.Commit(panel.ID, hash)
		wrote = true
		d.bumpWritten()
	}

	if wrote && topo.Buffered {
		d.transport.Sleep(ctx, settings.InterPanelDelay)
		if !d.writeMessage(ctx, settings, busproto.Flush(), "") {
			return
		}
	}

	if wrote {
		d.statsMu.Lock()
		d.stats.LastWriteAt = d.clock.Now()
		d.statsMu.Unlock()
	}
}

// writeMessage performs one bounded transport write. On failure it
// invalidates the panel's cache entry (when panelID is set), degrades
// on permanent errors, and reports false to abort the tick. Caches of
// panels already written this tick stay valid.
func (d *Dispatcher) writeMessage(ctx context.Context, settings *Settings, message []byte, panelID string) bool {
	timeout := settings.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	err := d.transport.WriteAll(writeCtx, message)
	cancel()
	if err == nil {
		return true
	}

	if panelID != "" {
		d.cache.Invalidate(panelID)
	}
	if d.transport.IsPermanent(err) {
		d.logger.Error("permanent transport failure, entering degraded state",
			"panel", panelID, "error", err)
		d.setState(StateDegraded)
	} else {
		d.statsMu.Lock()
		d.stats.TransientErrors++
		d.statsMu.Unlock()
		d.logger.Warn("transient transport failure, retrying next tick",
			"panel", panelID, "error", err)
	}
	return false
}

// ResetTransport recovers from a permanent failure: it resets the
// adapter, forces a full write on the next tick, and returns the
// dispatcher to Running. Safe to call from outside the dispatcher
// goroutine: in Degraded state the dispatcher does not touch the
// transport.
func (d *Dispatcher) ResetTransport() error {
	if err := d.transport.Reset(); err != nil {
		return fmt.Errorf("resetting transport: %w", err)
	}
	d.ForceFullWrite()
	if d.state.CompareAndSwap(int32(StateDegraded), int32(StateRunning)) {
		d.notifyState(StateRunning)
		d.logger.Info("transport reset, resuming writes")
	}
	return nil
}

// ForceFullWrite makes the next tick write every panel regardless of
// the dirty cache. Invoked on transport reset and on topology
// publication.
func (d *Dispatcher) ForceFullWrite() { d.forcePending.Store(true) }

// State returns the current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// InFlight reports whether the dispatcher currently holds a popped
// frame (0 or 1), the in-flight term of the credit formula.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Snapshot returns the current statistics.
func (d *Dispatcher) Snapshot() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	stats := d.stats
	stats.State = State(d.state.Load())
	return stats
}

func (d *Dispatcher) setState(next State) {
	previous := State(d.state.Swap(int32(next)))
	if previous != next {
		d.notifyState(next)
	}
}

func (d *Dispatcher) notifyState(next State) {
	if d.OnStateChange != nil {
		d.OnStateChange(next)
	}
}

func (d *Dispatcher) recordTick(tickStart time.Time) {
	now := d.clock.Now()

	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	d.stats.Ticks++
	d.stats.LastTickDuration = now.Sub(tickStart)

	if !d.lastTickStart.IsZero() {
		delta := tickStart.Sub(d.lastTickStart)
		if delta > 0 {
			instant := float64(time.Second) / float64(delta)
			if d.stats.EffectiveFPS == 0 {
				d.stats.EffectiveFPS = instant
			} else {
				d.stats.EffectiveFPS += (instant - d.stats.EffectiveFPS) / emaWindow
			}
		}
	}
	d.lastTickStart = tickStart
}

func (d *Dispatcher) bumpEncodeErrors() {
	d.statsMu.Lock()
	d.stats.EncodeErrors++
	d.statsMu.Unlock()
}

func (d *Dispatcher) bumpSuppressed() {
	d.statsMu.Lock()
	d.stats.PanelsSuppressed++
	d.statsMu.Unlock()
}

func (d *Dispatcher) bumpWritten() {
	d.statsMu.Lock()
	d.stats.PanelsWritten++
	d.statsMu.Unlock()
}

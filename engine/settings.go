// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/Garrettjson/flip-disc/lib/topology"
)

// DefaultWriteTimeout bounds each transport write within a tick. A
// timeout is classified as transient.
const DefaultWriteTimeout = 250 * time.Millisecond

// Settings is an immutable pacing configuration snapshot. Readers
// load it once per tick or per request; the control plane replaces
// the whole snapshot on any change, so no field is ever mutated in
// place.
type Settings struct {
	Topology        *topology.Topology
	FPS             int
	BufferMS        int
	FrameGapMS      int
	InterPanelDelay time.Duration
	WriteTimeout    time.Duration
}

// Interval returns the dispatcher tick interval T = 1s / FPS.
func (s *Settings) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(s.FPS))
}

// DurationMS returns round(1000 / FPS), the value the forwarder
// rewrites into every accepted frame's duration field.
func (s *Settings) DurationMS() uint16 {
	return uint16(math.Round(1000 / float64(s.FPS)))
}

// FrameGap returns the configured extra gap appended after each tick.
func (s *Settings) FrameGap() time.Duration {
	return time.Duration(s.FrameGapMS) * time.Millisecond
}

// BufferCapacity returns ceil(BufferMS x FPS / 1000), at least 1.
func (s *Settings) BufferCapacity() int {
	capacity := (s.BufferMS*s.FPS + 999) / 1000
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// SettingsStore is the shared atomic holder for the current Settings
// snapshot. Swap-on-change: readers see either the old or the new
// snapshot, never a mix.
type SettingsStore struct {
	pointer atomic.Pointer[Settings]
}

// NewSettingsStore returns a store holding the initial snapshot.
func NewSettingsStore(initial *Settings) *SettingsStore {
	store := &SettingsStore{}
	store.pointer.Store(initial)
	return store
}

// Load returns the current snapshot.
func (s *SettingsStore) Load() *Settings { return s.pointer.Load() }

// Store replaces the snapshot.
func (s *SettingsStore) Store(next *Settings) { s.pointer.Store(next) }

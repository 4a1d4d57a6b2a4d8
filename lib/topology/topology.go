// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"sort"

	"github.com/Garrettjson/flip-disc/lib/busproto"
)

// Orientation names the transform applied to a panel's crop of the
// canvas before column encoding. Rotations are clockwise. At most one
// orientation is set per panel.
type Orientation string

const (
	Normal         Orientation = "normal"
	Rotate90       Orientation = "rot90"
	Rotate180      Orientation = "rot180"
	Rotate270      Orientation = "rot270"
	FlipHorizontal Orientation = "flip_h"
	FlipVertical   Orientation = "flip_v"
)

// Valid reports whether o is a known orientation. The empty string is
// accepted as Normal for config ergonomics.
func (o Orientation) Valid() bool {
	switch o {
	case "", Normal, Rotate90, Rotate180, Rotate270, FlipHorizontal, FlipVertical:
		return true
	}
	return false
}

// Canvas is the logical pixel grid producers draw on.
type Canvas struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Point is a pixel position on the canvas.
type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// Size is a panel extent in pixels.
type Size struct {
	W int `yaml:"w" json:"w"`
	H int `yaml:"h" json:"h"`
}

// Panel is one physical display module on the bus.
type Panel struct {
	ID          string      `yaml:"id" json:"id"`
	Address     uint8       `yaml:"address" json:"address"`
	Origin      Point       `yaml:"origin" json:"origin"`
	Size        Size        `yaml:"size" json:"size"`
	Orientation Orientation `yaml:"orientation" json:"orientation"`
}

// Topology is the validated set of panels realizing a canvas.
type Topology struct {
	Canvas Canvas
	// Panels in canonical order: sorted by (origin Y, origin X, ID).
	Panels []Panel
	// Buffered selects buffered-refresh bus commands plus a global
	// flush per tick, so multi-panel walls update in one visual step.
	Buffered bool
}

// New validates the panel set against the canvas and returns a
// Topology with panels in canonical order. The input slice is not
// modified.
func New(canvas Canvas, panels []Panel, buffered bool) (*Topology, error) {
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return nil, fmt.Errorf("topology: canvas %dx%d is not positive", canvas.Width, canvas.Height)
	}
	if len(panels) == 0 {
		return nil, fmt.Errorf("topology: no panels")
	}

	ordered := make([]Panel, len(panels))
	copy(ordered, panels)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Origin.Y != b.Origin.Y {
			return a.Origin.Y < b.Origin.Y
		}
		if a.Origin.X != b.Origin.X {
			return a.Origin.X < b.Origin.X
		}
		return a.ID < b.ID
	})

	seenIDs := make(map[string]bool, len(ordered))
	seenAddresses := make(map[uint8]string, len(ordered))
	for i := range ordered {
		panel := &ordered[i]
		if panel.ID == "" {
			return nil, fmt.Errorf("topology: panel at (%d,%d) has no ID", panel.Origin.X, panel.Origin.Y)
		}
		if seenIDs[panel.ID] {
			return nil, fmt.Errorf("topology: duplicate panel ID %q", panel.ID)
		}
		seenIDs[panel.ID] = true

		if other, taken := seenAddresses[panel.Address]; taken {
			return nil, fmt.Errorf("topology: panels %q and %q share address %d", other, panel.ID, panel.Address)
		}
		if panel.Address == busproto.BroadcastAddress {
			return nil, fmt.Errorf("topology: panel %q uses the broadcast address 0x%02X", panel.ID, panel.Address)
		}
		seenAddresses[panel.Address] = panel.ID

		if !panel.Orientation.Valid() {
			return nil, fmt.Errorf("topology: panel %q has unknown orientation %q", panel.ID, panel.Orientation)
		}
		if panel.Orientation == "" {
			panel.Orientation = Normal
		}
		// A quarter turn swaps width and height, so it only maps back
		// onto the panel's own rectangle when that rectangle is
		// square.
		if (panel.Orientation == Rotate90 || panel.Orientation == Rotate270) && panel.Size.W != panel.Size.H {
			return nil, fmt.Errorf("topology: panel %q is %dx%d; %s requires a square panel",
				panel.ID, panel.Size.W, panel.Size.H, panel.Orientation)
		}

		refresh := busproto.Instant
		if buffered {
			refresh = busproto.Buffered
		}
		if err := busproto.ValidateGeometry(panel.Size.W, panel.Size.H, refresh); err != nil {
			return nil, fmt.Errorf("topology: panel %q: %w", panel.ID, err)
		}

		if panel.Origin.X < 0 || panel.Origin.Y < 0 ||
			panel.Origin.X+panel.Size.W > canvas.Width ||
			panel.Origin.Y+panel.Size.H > canvas.Height {
			return nil, fmt.Errorf("topology: panel %q rectangle (%d,%d %dx%d) exceeds canvas %dx%d",
				panel.ID, panel.Origin.X, panel.Origin.Y, panel.Size.W, panel.Size.H,
				canvas.Width, canvas.Height)
		}
	}

	for i := range ordered {
		for j := i + 1; j < len(ordered); j++ {
			if overlaps(ordered[i], ordered[j]) {
				return nil, fmt.Errorf("topology: panels %q and %q overlap", ordered[i].ID, ordered[j].ID)
			}
		}
	}

	return &Topology{Canvas: canvas, Panels: ordered, Buffered: buffered}, nil
}

func overlaps(a, b Panel) bool {
	return a.Origin.X < b.Origin.X+b.Size.W &&
		b.Origin.X < a.Origin.X+a.Size.W &&
		a.Origin.Y < b.Origin.Y+b.Size.H &&
		b.Origin.Y < a.Origin.Y+a.Size.H
}

// PanelByID returns the panel with the given ID, or nil.
func (t *Topology) PanelByID(id string) *Panel {
	for i := range t.Panels {
		if t.Panels[i].ID == id {
			return &t.Panels[i]
		}
	}
	return nil
}

// Refresh returns the bus refresh mode implied by the topology.
func (t *Topology) Refresh() busproto.Refresh {
	if t.Buffered {
		return busproto.Buffered
	}
	return busproto.Instant
}

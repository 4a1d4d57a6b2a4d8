// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"strings"
	"testing"
)

// wall28x14 is the reference two-panel wall used across the engine
// tests: two 28x7 panels stacked vertically.
func wall28x14(t *testing.T) *Topology {
	t.Helper()
	topo, err := New(
		Canvas{Width: 28, Height: 14},
		[]Panel{
			{ID: "bottom", Address: 2, Origin: Point{X: 0, Y: 7}, Size: Size{W: 28, H: 7}},
			{ID: "top", Address: 1, Origin: Point{X: 0, Y: 0}, Size: Size{W: 28, H: 7}},
		},
		false,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return topo
}

func TestCanonicalOrder(t *testing.T) {
	topo := wall28x14(t)
	if topo.Panels[0].ID != "top" || topo.Panels[1].ID != "bottom" {
		t.Errorf("panel order = %q, %q; want top, bottom", topo.Panels[0].ID, topo.Panels[1].ID)
	}

	// Same row: X breaks the tie, then ID.
	topo2, err := New(
		Canvas{Width: 28, Height: 7},
		[]Panel{
			{ID: "b", Address: 2, Origin: Point{X: 14, Y: 0}, Size: Size{W: 14, H: 7}},
			{ID: "a", Address: 1, Origin: Point{X: 0, Y: 0}, Size: Size{W: 14, H: 7}},
		},
		false,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if topo2.Panels[0].ID != "a" || topo2.Panels[1].ID != "b" {
		t.Errorf("panel order = %q, %q; want a, b", topo2.Panels[0].ID, topo2.Panels[1].ID)
	}
}

func TestValidationRejects(t *testing.T) {
	canvas := Canvas{Width: 28, Height: 14}
	base := Panel{ID: "p", Address: 1, Origin: Point{}, Size: Size{W: 28, H: 7}}

	tests := []struct {
		name    string
		canvas  Canvas
		panels  []Panel
		wantErr string
	}{
		{
			"no_panels", canvas, nil, "no panels",
		},
		{
			"duplicate_id", canvas,
			[]Panel{base, {ID: "p", Address: 2, Origin: Point{Y: 7}, Size: Size{W: 28, H: 7}}},
			"duplicate panel ID",
		},
		{
			"duplicate_address", canvas,
			[]Panel{base, {ID: "q", Address: 1, Origin: Point{Y: 7}, Size: Size{W: 28, H: 7}}},
			"share address",
		},
		{
			"broadcast_address", canvas,
			[]Panel{{ID: "p", Address: 0xFF, Size: Size{W: 28, H: 7}}},
			"broadcast address",
		},
		{
			"outside_canvas", canvas,
			[]Panel{{ID: "p", Address: 1, Origin: Point{X: 1}, Size: Size{W: 28, H: 7}}},
			"exceeds canvas",
		},
		{
			"overlap", canvas,
			[]Panel{base, {ID: "q", Address: 2, Origin: Point{X: 14, Y: 0}, Size: Size{W: 14, H: 7}}},
			"overlap",
		},
		{
			"bad_width", canvas,
			[]Panel{{ID: "p", Address: 1, Size: Size{W: 21, H: 7}}},
			"unsupported geometry",
		},
		{
			"bad_height", Canvas{Width: 28, Height: 14},
			[]Panel{{ID: "p", Address: 1, Size: Size{W: 28, H: 14}}},
			"unsupported geometry",
		},
		{
			"bad_orientation", canvas,
			[]Panel{{ID: "p", Address: 1, Size: Size{W: 28, H: 7}, Orientation: "rot45"}},
			"unknown orientation",
		},
		{
			"empty_id", canvas,
			[]Panel{{Address: 1, Size: Size{W: 28, H: 7}}},
			"no ID",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.canvas, test.panels, false)
			if err == nil {
				t.Fatal("New accepted an invalid topology")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not contain %q", err, test.wantErr)
			}
		})
	}
}

func TestSevenWideBufferedRejected(t *testing.T) {
	_, err := New(
		Canvas{Width: 7, Height: 7},
		[]Panel{{ID: "p", Address: 1, Size: Size{W: 7, H: 7}}},
		true,
	)
	if err == nil {
		t.Error("New accepted a 7-wide panel in buffered mode")
	}
}

func TestEmptyOrientationNormalized(t *testing.T) {
	topo := wall28x14(t)
	for _, panel := range topo.Panels {
		if panel.Orientation != Normal {
			t.Errorf("panel %q orientation = %q, want normal", panel.ID, panel.Orientation)
		}
	}
}

func TestPanelByID(t *testing.T) {
	topo := wall28x14(t)
	if panel := topo.PanelByID("top"); panel == nil || panel.Address != 1 {
		t.Errorf("PanelByID(top) = %+v", panel)
	}
	if panel := topo.PanelByID("missing"); panel != nil {
		t.Errorf("PanelByID(missing) = %+v, want nil", panel)
	}
}

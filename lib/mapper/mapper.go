// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"fmt"

	"github.com/Garrettjson/flip-disc/lib/rbm"
	"github.com/Garrettjson/flip-disc/lib/topology"
)

// PanelData maps panel ID to column bytes (one byte per panel column,
// LSB = top pixel).
type PanelData map[string][]byte

// Map derives every panel's column bytes from the canvas bitmap. The
// bitmap's dimensions must match the topology's canvas exactly.
func Map(bitmap *rbm.Bitmap, topo *topology.Topology) (PanelData, error) {
	if bitmap.Width != topo.Canvas.Width || bitmap.Height != topo.Canvas.Height {
		return nil, fmt.Errorf("mapper: bitmap %dx%d does not match canvas %dx%d",
			bitmap.Width, bitmap.Height, topo.Canvas.Width, topo.Canvas.Height)
	}

	out := make(PanelData, len(topo.Panels))
	for i := range topo.Panels {
		panel := &topo.Panels[i]
		grid := crop(bitmap, panel)
		grid = orient(grid, panel.Orientation)
		columns, err := foldColumns(grid)
		if err != nil {
			return nil, fmt.Errorf("mapper: panel %q: %w", panel.ID, err)
		}
		out[panel.ID] = columns
	}
	return out, nil
}

// Unmap writes every panel's pixels back onto a canvas-sized bitmap.
// Pixels outside all panel rectangles stay zero. For any canvas C,
// Unmap(Map(C, T), T) reproduces C on the covered pixels.
func Unmap(data PanelData, topo *topology.Topology) (*rbm.Bitmap, error) {
	bitmap := rbm.NewBitmap(topo.Canvas.Width, topo.Canvas.Height)
	for i := range topo.Panels {
		panel := &topo.Panels[i]
		columns, ok := data[panel.ID]
		if !ok {
			continue
		}
		grid, err := unfoldColumns(columns)
		if err != nil {
			return nil, fmt.Errorf("mapper: panel %q: %w", panel.ID, err)
		}
		grid = orient(grid, inverse(panel.Orientation))
		if grid.width != panel.Size.W || grid.height != panel.Size.H {
			return nil, fmt.Errorf("mapper: panel %q data is %dx%d, want %dx%d",
				panel.ID, grid.width, grid.height, panel.Size.W, panel.Size.H)
		}
		for y := 0; y < grid.height; y++ {
			for x := 0; x < grid.width; x++ {
				bitmap.Set(panel.Origin.X+x, panel.Origin.Y+y, grid.get(x, y))
			}
		}
	}
	return bitmap, nil
}

// grid is a small dense pixel rectangle, the intermediate between
// canvas crop and column fold.
type grid struct {
	width  int
	height int
	cells  []uint8
}

func newGrid(width, height int) grid {
	return grid{width: width, height: height, cells: make([]uint8, width*height)}
}

func (g grid) get(x, y int) uint8    { return g.cells[y*g.width+x] }
func (g grid) set(x, y int, v uint8) { g.cells[y*g.width+x] = v }

func crop(bitmap *rbm.Bitmap, panel *topology.Panel) grid {
	out := newGrid(panel.Size.W, panel.Size.H)
	for y := 0; y < panel.Size.H; y++ {
		for x := 0; x < panel.Size.W; x++ {
			out.set(x, y, bitmap.Get(panel.Origin.X+x, panel.Origin.Y+y))
		}
	}
	return out
}

// orient applies the named transform. Rotations are clockwise. A
// quarter turn transposes the grid's dimensions; topology validation
// restricts quarter turns to square panels so the result still
// matches the panel rectangle.
func orient(g grid, orientation topology.Orientation) grid {
	switch orientation {
	case topology.Rotate90:
		out := newGrid(g.height, g.width)
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				out.set(g.height-1-y, x, g.get(x, y))
			}
		}
		return out
	case topology.Rotate180:
		out := newGrid(g.width, g.height)
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				out.set(g.width-1-x, g.height-1-y, g.get(x, y))
			}
		}
		return out
	case topology.Rotate270:
		out := newGrid(g.height, g.width)
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				out.set(y, g.width-1-x, g.get(x, y))
			}
		}
		return out
	case topology.FlipHorizontal:
		out := newGrid(g.width, g.height)
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				out.set(g.width-1-x, y, g.get(x, y))
			}
		}
		return out
	case topology.FlipVertical:
		out := newGrid(g.width, g.height)
		for y := 0; y < g.height; y++ {
			for x := 0; x < g.width; x++ {
				out.set(x, g.height-1-y, g.get(x, y))
			}
		}
		return out
	default:
		return g
	}
}

// inverse returns the orientation that undoes o.
func inverse(o topology.Orientation) topology.Orientation {
	switch o {
	case topology.Rotate90:
		return topology.Rotate270
	case topology.Rotate270:
		return topology.Rotate90
	default:
		// rot180 and the mirrors are their own inverses.
		return o
	}
}

// foldColumns packs each grid column into one byte, LSB = top pixel.
// The grid must be at most 8 rows tall; at 7 rows bit 7 stays zero,
// which the bus protocol requires.
func foldColumns(g grid) ([]byte, error) {
	if g.height > 8 {
		return nil, fmt.Errorf("grid is %d rows tall, cannot fold into column bytes", g.height)
	}
	columns := make([]byte, g.width)
	for x := 0; x < g.width; x++ {
		var column byte
		for y := 0; y < g.height; y++ {
			if g.get(x, y) != 0 {
				column |= 1 << y
			}
		}
		columns[x] = column
	}
	return columns, nil
}

// unfoldColumns expands column bytes back into a grid of panel
// height.
func unfoldColumns(columns []byte) (grid, error) {
	out := newGrid(len(columns), 7)
	for x, column := range columns {
		if column&0x80 != 0 {
			return grid{}, fmt.Errorf("column %d byte 0x%02X has bit 7 set", x, column)
		}
		for y := 0; y < 7; y++ {
			if column&(1<<y) != 0 {
				out.set(x, y, 1)
			}
		}
	}
	return out, nil
}

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package rbm

import "fmt"

// TestPattern identifies a built-in canvas pattern. The control plane
// exposes these for hardware bring-up: a pattern frame bypasses the
// ingest path entirely and exercises the full map/encode/write
// pipeline with known pixels.
type TestPattern string

const (
	PatternCheckerboard TestPattern = "checkerboard"
	PatternBorder       TestPattern = "border"
	PatternSolid        TestPattern = "solid"
	PatternClear        TestPattern = "clear"
)

// Pattern renders a named test pattern at the given canvas size.
func Pattern(name TestPattern, width, height int) (*Bitmap, error) {
	bitmap := NewBitmap(width, height)
	switch name {
	case PatternCheckerboard:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if (x+y)%2 == 0 {
					bitmap.Set(x, y, 1)
				}
			}
		}
	case PatternBorder:
		for x := 0; x < width; x++ {
			bitmap.Set(x, 0, 1)
			bitmap.Set(x, height-1, 1)
		}
		for y := 0; y < height; y++ {
			bitmap.Set(0, y, 1)
			bitmap.Set(width-1, y, 1)
		}
	case PatternSolid:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				bitmap.Set(x, y, 1)
			}
		}
	case PatternClear:
		// Already all zero.
	default:
		return nil, fmt.Errorf("rbm: unknown test pattern %q", name)
	}
	return bitmap, nil
}

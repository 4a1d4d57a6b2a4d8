// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapper transforms a canvas bitmap into per-panel column
// bytes ready for bus encoding.
//
// For each panel the mapper crops the canvas to the panel's
// rectangle, applies the panel's orientation (clockwise rotations,
// horizontal or vertical mirror), and folds each column into one byte
// with the least significant bit as the topmost pixel. Bit 7 is
// always zero because panels are 7 pixels tall.
//
// Map is pure and deterministic: identical canvas and topology inputs
// always produce identical output, and panels are processed in the
// topology's canonical order. Unmap inverts the transform for the
// pixels covered by any panel, which the tests use to verify mapping
// parity.
package mapper

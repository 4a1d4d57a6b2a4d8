// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package rbm implements the 1-bit packed bitmap frame envelope used
// between producers and the display server.
//
// An RBM frame is a fixed 16-byte big-endian header followed by a
// row-major MSB-first packed payload of height x ceil(width/8) bytes:
//
//	offset  bytes  field
//	0       2      magic "RB"
//	2       1      version (1)
//	3       1      flags (bit 0 = invert)
//	4       2      width in pixels
//	6       2      height in pixels
//	8       4      sequence number (wraps at 2^32)
//	12      2      frame duration in milliseconds (0 = server cadence)
//	14      2      reserved (zero on write, ignored on read)
//
// The header layout is normative: Decode(Encode(frame)) must
// reproduce the frame bit-for-bit, and RewriteDuration must patch the
// duration field in place without reallocating, since the forwarder
// rewrites every accepted frame to the dispatcher's cadence.
//
// Bitmap is the unpacked H x W companion representation that the
// mapper consumes.
package rbm

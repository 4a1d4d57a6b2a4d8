// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package busproto encodes RS-485 panel messages for 7-row flip-dot
// panels.
//
// A panel message is the byte sequence
//
//	0x80, cfg, address, data..., 0x8F
//
// where cfg selects the panel width and refresh behavior, address is
// the panel's 8-bit bus address, and data carries one byte per panel
// column with the least significant bit as the topmost pixel and bit
// 7 always zero. The global flush 0x80 0x82 0x8F commits buffered
// writes on every panel at once.
//
// These byte sequences are normative: any two implementations must
// produce identical bus traffic for identical inputs.
package busproto

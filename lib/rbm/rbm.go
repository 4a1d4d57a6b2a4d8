// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package rbm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the RBM header in bytes.
const HeaderSize = 16

// Version is the only protocol version this server speaks.
const Version = 1

// FlagInvert requests that the decoded bitmap be inverted before
// mapping. Bits 1-7 of the flags field are reserved.
const FlagInvert = 0x01

var magic = [2]byte{'R', 'B'}

// ErrBadHeader reports an unknown magic or version, or a header
// shorter than HeaderSize.
var ErrBadHeader = errors.New("rbm: bad header")

// ErrTruncated reports a payload shorter than the header's dimensions
// require.
var ErrTruncated = errors.New("rbm: truncated payload")

// Header is the decoded fixed-size frame header.
type Header struct {
	Flags      uint8
	Width      uint16
	Height     uint16
	Seq        uint32
	DurationMS uint16
}

// Frame is a decoded RBM frame. Payload aliases the input buffer on
// Decode; callers that retain the frame past the request must copy.
type Frame struct {
	Header
	Payload []byte
}

// Stride returns the number of payload bytes per row for a canvas of
// the given pixel width.
func Stride(width int) int { return (width + 7) / 8 }

// PayloadSize returns the exact payload length for a width x height
// canvas.
func PayloadSize(width, height int) int { return height * Stride(width) }

// Decode parses and validates an RBM frame. The frame's payload
// length must equal exactly PayloadSize(width, height); trailing bytes
// are rejected the same as missing ones so a malformed producer is
// caught immediately rather than writing garbage to the bus.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrBadHeader, len(data), HeaderSize)
	}
	if data[0] != magic[0] || data[1] != magic[1] {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, data[0:2])
	}
	if data[2] != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadHeader, data[2], Version)
	}

	header := Header{
		Flags:      data[3],
		Width:      binary.BigEndian.Uint16(data[4:6]),
		Height:     binary.BigEndian.Uint16(data[6:8]),
		Seq:        binary.BigEndian.Uint32(data[8:12]),
		DurationMS: binary.BigEndian.Uint16(data[12:14]),
	}
	// Reserved bytes (14:16) are ignored on read.

	need := PayloadSize(int(header.Width), int(header.Height))
	got := len(data) - HeaderSize
	if got < need {
		return nil, fmt.Errorf("%w: %d payload bytes, want %d", ErrTruncated, got, need)
	}
	if got > need {
		return nil, fmt.Errorf("%w: %d payload bytes, want exactly %d", ErrBadHeader, got, need)
	}

	return &Frame{Header: header, Payload: data[HeaderSize:]}, nil
}

// Encode serializes the frame. The reserved field is written as zero.
func (f *Frame) Encode() []byte {
	out := make([]byte, HeaderSize+len(f.Payload))
	out[0], out[1] = magic[0], magic[1]
	out[2] = Version
	out[3] = f.Flags
	binary.BigEndian.PutUint16(out[4:6], f.Width)
	binary.BigEndian.PutUint16(out[6:8], f.Height)
	binary.BigEndian.PutUint32(out[8:12], f.Seq)
	binary.BigEndian.PutUint16(out[12:14], f.DurationMS)
	copy(out[HeaderSize:], f.Payload)
	return out
}

// RewriteDuration patches frame_duration_ms in an encoded frame
// without reallocating. The forwarder uses this to align every
// accepted frame with the dispatcher's cadence before buffering.
func RewriteDuration(encoded []byte, durationMS uint16) error {
	if len(encoded) < HeaderSize {
		return fmt.Errorf("%w: %d bytes, want at least %d", ErrBadHeader, len(encoded), HeaderSize)
	}
	binary.BigEndian.PutUint16(encoded[12:14], durationMS)
	return nil
}

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package busproto

import "fmt"

const (
	// FrameStart opens every bus message.
	FrameStart = 0x80
	// FrameEnd closes every bus message.
	FrameEnd = 0x8F
	// FlushCommand commits buffered panel data, sent with no address
	// and no data bytes.
	FlushCommand = 0x82
	// BroadcastAddress reaches every panel on the bus. The dispatcher
	// never uses it (panels are always addressed explicitly), but
	// bring-up tools may.
	BroadcastAddress = 0xFF
)

// PanelHeight is the only panel height the hardware exists in.
const PanelHeight = 7

// Refresh selects when a panel displays freshly written data.
type Refresh int

const (
	// Instant shows data as soon as the panel receives it.
	Instant Refresh = iota
	// Buffered stores data until a global flush arrives, so a
	// multi-panel wall updates in one visual step.
	Buffered
)

func (r Refresh) String() string {
	if r == Buffered {
		return "buffered"
	}
	return "instant"
}

// commandBytes maps (width, refresh) to the cfg selector byte. From
// the panel manufacturer's documentation; 7-wide panels have no
// buffered mode.
var commandBytes = map[int]map[Refresh]byte{
	28: {Instant: 0x83, Buffered: 0x84},
	14: {Instant: 0x92, Buffered: 0x93},
	7:  {Instant: 0x87},
}

// EncodeError reports a panel geometry or mode the bus protocol
// cannot express.
type EncodeError struct {
	Width   int
	Height  int
	Refresh Refresh
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("busproto: unsupported geometry %dx%d (%s refresh)", e.Width, e.Height, e.Refresh)
}

// ValidateGeometry reports whether a panel of the given size and
// refresh mode can be encoded. Width must be 7, 14, or 28; height
// must be 7; 7-wide panels support instant refresh only.
func ValidateGeometry(width, height int, refresh Refresh) error {
	modes, ok := commandBytes[width]
	if !ok || height != PanelHeight {
		return &EncodeError{Width: width, Height: height, Refresh: refresh}
	}
	if _, ok := modes[refresh]; !ok {
		return &EncodeError{Width: width, Height: height, Refresh: refresh}
	}
	return nil
}

// EncodePanel builds the bus message for one panel. columns carries
// one byte per panel column (so its length is the panel width), LSB =
// topmost pixel. Column bytes with bit 7 set are rejected: the data
// region must never contain bytes that could alias the 0x80-0x8F
// framing range.
func EncodePanel(address uint8, columns []byte, refresh Refresh) ([]byte, error) {
	if err := ValidateGeometry(len(columns), PanelHeight, refresh); err != nil {
		return nil, err
	}
	for i, column := range columns {
		if column&0x80 != 0 {
			return nil, fmt.Errorf("busproto: column %d byte 0x%02X has bit 7 set", i, column)
		}
	}

	message := make([]byte, 0, len(columns)+4)
	message = append(message, FrameStart, commandBytes[len(columns)][refresh], address)
	message = append(message, columns...)
	message = append(message, FrameEnd)
	return message, nil
}

// Flush returns the global flush message committing all buffered
// panel data.
func Flush() []byte {
	return []byte{FrameStart, FlushCommand, FrameEnd}
}

// MessageSize returns the on-bus size of a panel message for the
// given panel width.
func MessageSize(width int) int { return width + 4 }

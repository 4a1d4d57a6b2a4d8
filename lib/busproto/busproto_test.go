// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package busproto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodePanelFraming(t *testing.T) {
	columns := make([]byte, 28)
	for i := range columns {
		columns[i] = byte(i % 0x80)
	}

	message, err := EncodePanel(0x05, columns, Instant)
	if err != nil {
		t.Fatalf("EncodePanel: %v", err)
	}
	if len(message) != MessageSize(28) {
		t.Fatalf("message length = %d, want %d", len(message), MessageSize(28))
	}
	if message[0] != FrameStart || message[1] != 0x83 || message[2] != 0x05 {
		t.Errorf("prefix = % x, want 80 83 05", message[:3])
	}
	if message[len(message)-1] != FrameEnd {
		t.Errorf("terminator = 0x%02X, want 0x8F", message[len(message)-1])
	}
	if !bytes.Equal(message[3:len(message)-1], columns) {
		t.Error("data bytes do not match input columns")
	}
}

func TestCommandSelector(t *testing.T) {
	tests := []struct {
		width   int
		refresh Refresh
		want    byte
	}{
		{28, Instant, 0x83},
		{28, Buffered, 0x84},
		{14, Instant, 0x92},
		{14, Buffered, 0x93},
		{7, Instant, 0x87},
	}
	for _, test := range tests {
		message, err := EncodePanel(1, make([]byte, test.width), test.refresh)
		if err != nil {
			t.Fatalf("EncodePanel(%d, %s): %v", test.width, test.refresh, err)
		}
		if message[1] != test.want {
			t.Errorf("cfg byte for %d-wide %s = 0x%02X, want 0x%02X",
				test.width, test.refresh, message[1], test.want)
		}
	}
}

func TestEncodePanelRejectsGeometry(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		refresh Refresh
	}{
		{"width_21", 21, Instant},
		{"width_0", 0, Instant},
		{"width_56", 56, Instant},
		{"seven_wide_buffered", 7, Buffered},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := EncodePanel(1, make([]byte, test.width), test.refresh)
			var encodeErr *EncodeError
			if !errors.As(err, &encodeErr) {
				t.Fatalf("EncodePanel = %v, want *EncodeError", err)
			}
			if encodeErr.Width != test.width {
				t.Errorf("EncodeError.Width = %d, want %d", encodeErr.Width, test.width)
			}
		})
	}
}

func TestValidateGeometryHeight(t *testing.T) {
	if err := ValidateGeometry(28, 14, Instant); err == nil {
		t.Error("ValidateGeometry accepted height 14")
	}
	if err := ValidateGeometry(28, 7, Instant); err != nil {
		t.Errorf("ValidateGeometry(28, 7): %v", err)
	}
}

func TestEncodePanelRejectsHighBit(t *testing.T) {
	columns := make([]byte, 7)
	columns[3] = 0x80
	if _, err := EncodePanel(1, columns, Instant); err == nil {
		t.Error("EncodePanel accepted a column byte with bit 7 set")
	}
}

func TestFlush(t *testing.T) {
	if !bytes.Equal(Flush(), []byte{0x80, 0x82, 0x8F}) {
		t.Errorf("Flush = % x, want 80 82 8f", Flush())
	}
}

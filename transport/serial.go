// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/Garrettjson/flip-disc/lib/topology"
)

// Serial drives the RS-485 line through a serial port. 8N1 at 9600
// baud by default; the config may raise the rate to 115200 and select
// parity and stop bits.
type Serial struct {
	config topology.SerialConfig

	mu   sync.Mutex
	port serial.Port
}

// NewSerial returns an unopened serial transport for the given line
// settings.
func NewSerial(config topology.SerialConfig) *Serial {
	return &Serial{config: config}
}

// Open opens the serial device with the configured line settings.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}

	mode, err := s.mode()
	if err != nil {
		return err
	}
	port, err := serial.Open(s.config.Device, mode)
	if err != nil {
		return fmt.Errorf("opening serial device %s: %w", s.config.Device, err)
	}
	s.port = port
	return nil
}

func (s *Serial) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.config.Baud,
		DataBits: s.config.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch strings.ToLower(s.config.Parity) {
	case "", "none", "n":
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("serial parity %q is not none/even/odd", s.config.Parity)
	}
	if s.config.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}

// Close closes the port. Safe to call when already closed.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("closing serial device %s: %w", s.config.Device, err)
	}
	return nil
}

// WriteAll writes the whole buffer, looping over short writes. The
// context is checked between chunks only; a port write already in
// progress is not interrupted by the context deadline.
func (s *Serial) WriteAll(ctx context.Context, data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrClosed
	}

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("serial write canceled: %w", err)
		}
		written, err := port.Write(data)
		if err != nil {
			return fmt.Errorf("writing to serial device %s: %w", s.config.Device, err)
		}
		data = data[written:]
	}
	return nil
}

// Sleep waits for the inter-panel gap. Real time, not the injected
// clock: this gap exists to let the physical line drain.
func (s *Serial) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// IsPermanent reports whether err indicates a device that cannot
// recover on its own: the port disappeared (USB adapter unplugged),
// was closed, or never existed. Write timeouts and transient line
// errors are retried by the dispatcher on the next tick.
func (s *Serial) IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrClosed) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.PermissionDenied:
			return true
		}
	}
	return false
}

// Reset closes and reopens the device, recovering from unplug/replug.
func (s *Serial) Reset() error {
	// A failed close on a dead device is expected; reopening is what
	// matters.
	_ = s.Close()
	return s.Open()
}

// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Garrettjson/flip-disc/lib/codec"
)

// Client talks the control socket protocol. Used by flipdisc-ctl and
// by tests.
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing control socket %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call performs one request/response exchange. args may be nil;
// result may be nil for actions without a result body.
func (c *Client) Call(action string, args any, result any) error {
	request := Request{Action: action}
	if args != nil {
		encoded, err := codec.Marshal(args)
		if err != nil {
			return fmt.Errorf("encoding %s args: %w", action, err)
		}
		request.Args = encoded
	}
	if err := writeFrame(c.conn, request); err != nil {
		return err
	}

	response, err := readFrame[Response](c.conn)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", action, err)
	}
	if !response.OK {
		return errors.New(response.Error)
	}
	if result != nil && len(response.Result) > 0 {
		if err := codec.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", action, err)
		}
	}
	return nil
}

// Status fetches a stats snapshot.
func (c *Client) Status() (Snapshot, error) {
	var snapshot Snapshot
	err := c.Call("status", nil, &snapshot)
	return snapshot, err
}

// Config fetches the configuration publication.
func (c *Client) Config() (ConfigView, error) {
	var view ConfigView
	err := c.Call("config", nil, &view)
	return view, err
}

// SetFPS retargets the cadence and returns the updated config.
func (c *Client) SetFPS(fps int) (ConfigView, error) {
	var view ConfigView
	err := c.Call("set-fps", setFPSArgs{FPS: fps}, &view)
	return view, err
}

// SetActiveSource selects the buffered producer ("" for none).
func (c *Client) SetActiveSource(producerID string) error {
	return c.Call("set-active", setActiveArgs{ProducerID: producerID}, nil)
}

// SetBuffered switches the refresh mode.
func (c *Client) SetBuffered(buffered bool) error {
	return c.Call("set-mode", setModeArgs{Buffered: buffered}, nil)
}

// TestPattern queues a named test pattern.
func (c *Client) TestPattern(name string) error {
	return c.Call("test-pattern", testPatternArgs{Name: name}, nil)
}

// Cooldown opens a producer back-off window.
func (c *Client) Cooldown(window time.Duration) error {
	return c.Call("cooldown", cooldownArgs{WindowMS: int(window / time.Millisecond)}, nil)
}

// ResetTransport recovers the dispatcher after a permanent transport
// failure.
func (c *Client) ResetTransport() error {
	return c.Call("reset-transport", nil, nil)
}

// Watch streams snapshots to fn until ctx is canceled or the
// connection drops. The connection is dedicated to the stream
// afterward; use a separate client for other calls.
func (c *Client) Watch(ctx context.Context, fn func(Snapshot)) error {
	if err := writeFrame(c.conn, Request{Action: "watch"}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		response, err := readFrame[Response](c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading watch stream: %w", err)
		}
		if !response.OK {
			return errors.New(response.Error)
		}
		var snapshot Snapshot
		if err := codec.Unmarshal(response.Result, &snapshot); err != nil {
			return fmt.Errorf("decoding watch snapshot: %w", err)
		}
		fn(snapshot)
	}
}

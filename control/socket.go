// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Garrettjson/flip-disc/lib/codec"
	"github.com/Garrettjson/flip-disc/lib/rbm"
)

// The control socket speaks length-prefixed CBOR: a 4-byte big-endian
// payload length followed by the CBOR body. Requests name an action
// and carry action-specific arguments; responses carry ok/error and
// an action-specific result. The watch action streams one response
// frame per stats snapshot until the client disconnects.

// maxFrameSize bounds a control frame. Requests are tiny; this exists
// to fail fast on a client speaking the wrong protocol.
const maxFrameSize = 1 << 20

// Request is a control socket request envelope.
type Request struct {
	Action string           `cbor:"action"`
	Args   codec.RawMessage `cbor:"args,omitempty"`
}

// Response is a control socket response envelope.
type Response struct {
	OK     bool             `cbor:"ok"`
	Error  string           `cbor:"error,omitempty"`
	Result codec.RawMessage `cbor:"result,omitempty"`
}

// Action argument shapes.
type (
	setFPSArgs struct {
		FPS int `cbor:"fps"`
	}
	setActiveArgs struct {
		ProducerID string `cbor:"producer_id"`
	}
	setModeArgs struct {
		Buffered bool `cbor:"buffered"`
	}
	testPatternArgs struct {
		Name string `cbor:"name"`
	}
	cooldownArgs struct {
		WindowMS int `cbor:"window_ms"`
	}
)

// SocketServer serves the control protocol on a Unix socket.
type SocketServer struct {
	plane  *Plane
	logger *slog.Logger
}

// NewSocketServer returns a control socket server for the plane.
func NewSocketServer(plane *Plane, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		plane:  plane,
		logger: logger.With("component", "control.socket"),
	}
}

// Serve accepts connections until ctx is canceled. The listener is
// closed on return.
func (s *SocketServer) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *SocketServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		request, err := readFrame[Request](conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("control connection error", "error", err)
			}
			return
		}

		if request.Action == "watch" {
			s.watch(ctx, conn)
			return
		}

		response := s.dispatch(request)
		if err := writeFrame(conn, response); err != nil {
			s.logger.Warn("writing control response", "error", err)
			return
		}
	}
}

// watch streams snapshots to the connection until the client goes
// away or the server shuts down.
func (s *SocketServer) watch(ctx context.Context, conn net.Conn) {
	snapshots, cancel := s.plane.Subscribe()
	defer cancel()

	// Lead with the current state so the client renders immediately.
	if err := writeResult(conn, s.plane.Stats()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if err := writeResult(conn, snapshot); err != nil {
				return
			}
		}
	}
}

func (s *SocketServer) dispatch(request *Request) Response {
	switch request.Action {
	case "status":
		return resultResponse(s.plane.Stats())
	case "config":
		return resultResponse(s.plane.Config())
	case "set-fps":
		var args setFPSArgs
		if err := codec.Unmarshal(request.Args, &args); err != nil {
			return errorResponse(fmt.Errorf("decoding set-fps args: %w", err))
		}
		if err := s.plane.SetFPS(args.FPS); err != nil {
			return errorResponse(err)
		}
		return resultResponse(s.plane.Config())
	case "set-active":
		var args setActiveArgs
		if err := codec.Unmarshal(request.Args, &args); err != nil {
			return errorResponse(fmt.Errorf("decoding set-active args: %w", err))
		}
		s.plane.SetActiveSource(args.ProducerID)
		return Response{OK: true}
	case "set-mode":
		var args setModeArgs
		if err := codec.Unmarshal(request.Args, &args); err != nil {
			return errorResponse(fmt.Errorf("decoding set-mode args: %w", err))
		}
		if err := s.plane.SetBuffered(args.Buffered); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}
	case "test-pattern":
		var args testPatternArgs
		if err := codec.Unmarshal(request.Args, &args); err != nil {
			return errorResponse(fmt.Errorf("decoding test-pattern args: %w", err))
		}
		if err := s.plane.TestPattern(rbm.TestPattern(args.Name)); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}
	case "cooldown":
		var args cooldownArgs
		if err := codec.Unmarshal(request.Args, &args); err != nil {
			return errorResponse(fmt.Errorf("decoding cooldown args: %w", err))
		}
		s.plane.Cooldown(time.Duration(args.WindowMS) * time.Millisecond)
		return Response{OK: true}
	case "reset-transport":
		if err := s.plane.ResetTransport(); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}
	default:
		return errorResponse(fmt.Errorf("unknown action %q", request.Action))
	}
}

func resultResponse(result any) Response {
	encoded, err := codec.Marshal(result)
	if err != nil {
		return errorResponse(fmt.Errorf("encoding result: %w", err))
	}
	return Response{OK: true, Result: encoded}
}

func errorResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

func writeResult(conn net.Conn, result any) error {
	return writeFrame(conn, resultResponse(result))
}

// writeFrame encodes v and writes one length-prefixed frame.
func writeFrame(conn net.Conn, v any) error {
	body, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding control frame: %w", err)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := conn.Write(append(header, body...)); err != nil {
		return fmt.Errorf("writing control frame: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame and decodes it into T.
func readFrame[T any](conn net.Conn) (*T, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameSize {
		return nil, fmt.Errorf("control frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("reading control frame body: %w", err)
	}
	value := new(T)
	if err := codec.Unmarshal(body, value); err != nil {
		return nil, fmt.Errorf("decoding control frame: %w", err)
	}
	return value, nil
}

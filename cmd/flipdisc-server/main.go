// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Flipdisc-server drives a flip-dot panel wall: it accepts RBM frames
// from producers over HTTP, paces them onto the RS-485 bus, and
// exposes the control surface over HTTP and a Unix control socket.
//
// The display topology comes from a declarative config file; pacing
// parameters can be overridden on the command line. Without --serial
// the server writes to a mock transport, which is the development
// mode: everything behaves identically except no bytes reach a bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Garrettjson/flip-disc/control"
	"github.com/Garrettjson/flip-disc/engine"
	"github.com/Garrettjson/flip-disc/ingest"
	"github.com/Garrettjson/flip-disc/lib/clock"
	"github.com/Garrettjson/flip-disc/lib/topology"
	"github.com/Garrettjson/flip-disc/server"
	"github.com/Garrettjson/flip-disc/supervisor"
	"github.com/Garrettjson/flip-disc/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("flipdisc-server", pflag.ContinueOnError)
	configPath := flags.String("config", "config/display.yaml", "display config file (YAML or JSONC)")
	listenAddr := flags.String("listen", ":8080", "HTTP listen address")
	socketPath := flags.String("control-socket", "flipdisc.sock", "Unix control socket path")
	fpsOverride := flags.Int("fps", 0, "override target fps from the config")
	bufferOverride := flags.Int("buffer-ms", 0, "override buffer duration from the config")
	frameGapOverride := flags.Int("frame-gap-ms", -1, "override frame gap from the config")
	useSerial := flags.Bool("serial", false, "write to the RS-485 serial device instead of the mock sink")
	serialDevice := flags.String("serial-device", "", "override serial device from the config")
	serialBaud := flags.Int("serial-baud", 0, "override serial baud rate from the config")
	activeSource := flags.String("active-source", "", "initial active producer id")
	verbose := flags.Bool("verbose", false, "debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config, err := topology.Load(*configPath)
	if err != nil {
		return err
	}
	if *fpsOverride > 0 {
		config.FPS = *fpsOverride
	}
	if *bufferOverride > 0 {
		config.BufferMS = *bufferOverride
	}
	if *frameGapOverride >= 0 {
		config.FrameGapMS = *frameGapOverride
	}
	if *serialDevice != "" {
		config.Serial.Device = *serialDevice
	}
	if *serialBaud > 0 {
		config.Serial.Baud = *serialBaud
	}
	if config.FPS > topology.MaxFPS {
		return fmt.Errorf("fps %d exceeds the ceiling %d", config.FPS, topology.MaxFPS)
	}

	topo, err := config.Topology()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	settings := engine.NewSettingsStore(&engine.Settings{
		Topology:        topo,
		FPS:             config.FPS,
		BufferMS:        config.BufferMS,
		FrameGapMS:      config.FrameGapMS,
		InterPanelDelay: time.Duration(config.Serial.InterPanelDelayUS) * time.Microsecond,
		WriteTimeout:    engine.DefaultWriteTimeout,
	})
	buffer := engine.NewBuffer(settings.Load().BufferCapacity())

	var sink transport.Transport
	if *useSerial {
		if config.Serial.Device == "" {
			return fmt.Errorf("--serial requires a serial device in the config or --serial-device")
		}
		sink = transport.NewSerial(config.Serial)
		logger.Info("using serial transport",
			"device", config.Serial.Device, "baud", config.Serial.Baud)
	} else {
		sink = transport.NewMock(clk, logger)
		logger.Info("using mock transport")
	}

	dispatcher := engine.NewDispatcher(clk, logger, buffer, settings, sink)
	limiter := ingest.NewRateLimiter(clk, config.FPS)
	sup := supervisor.New(clk, logger)
	forwarder := ingest.NewForwarder(clk, logger, buffer, settings, limiter, dispatcher, sup)
	if *activeSource != "" {
		forwarder.SetActiveSource(*activeSource)
	}
	plane := control.New(clk, logger, settings, buffer, dispatcher, forwarder, limiter, sup, config.Serial)
	httpServer := server.New(logger, plane, forwarder)

	os.Remove(*socketPath)
	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		return fmt.Errorf("listening on control socket %s: %w", *socketPath, err)
	}
	defer os.Remove(*socketPath)
	socketServer := control.NewSocketServer(plane, logger)

	logger.Info("flipdisc server starting",
		"canvas", fmt.Sprintf("%dx%d", topo.Canvas.Width, topo.Canvas.Height),
		"panels", len(topo.Panels),
		"fps", config.FPS,
	)

	errs := make(chan error, 4)
	go func() { errs <- dispatcher.Run(ctx) }()
	go func() { errs <- sup.Run(ctx) }()
	go func() { errs <- plane.Run(ctx) }()
	go func() { errs <- socketServer.Serve(ctx, listener) }()
	go func() { errs <- httpServer.Run(ctx, *listenAddr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		// The process returns without waiting for the subsystems;
		// their errors after shutdown are dropped.
		return nil
	case err := <-errs:
		if err != nil {
			return err
		}
		return nil
	}
}

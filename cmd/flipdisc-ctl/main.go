// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Flipdisc-ctl is the operator CLI for a running flipdisc-server. It
// talks the Unix control socket:
//
//	flipdisc-ctl status
//	flipdisc-ctl config
//	flipdisc-ctl set-fps 15
//	flipdisc-ctl set-active worker-a
//	flipdisc-ctl set-mode buffered|instant
//	flipdisc-ctl pattern checkerboard
//	flipdisc-ctl reset-transport
//	flipdisc-ctl watch
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Garrettjson/flip-disc/control"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flipdisc-ctl:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("flipdisc-ctl", pflag.ContinueOnError)
	socketPath := flags.String("socket", "flipdisc.sock", "control socket path")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	args := flags.Args()
	if len(args) == 0 {
		return fmt.Errorf("no command; see the package comment for usage")
	}

	client, err := control.Dial(*socketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	switch command := args[0]; command {
	case "status":
		snapshot, err := client.Status()
		if err != nil {
			return err
		}
		return printJSON(snapshot)
	case "config":
		view, err := client.Config()
		if err != nil {
			return err
		}
		return printJSON(view)
	case "set-fps":
		if len(args) != 2 {
			return fmt.Errorf("usage: set-fps <fps>")
		}
		fps, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parsing fps: %w", err)
		}
		view, err := client.SetFPS(fps)
		if err != nil {
			return err
		}
		return printJSON(view)
	case "set-active":
		producerID := ""
		if len(args) == 2 {
			producerID = args[1]
		}
		return client.SetActiveSource(producerID)
	case "set-mode":
		if len(args) != 2 || (args[1] != "buffered" && args[1] != "instant") {
			return fmt.Errorf("usage: set-mode buffered|instant")
		}
		return client.SetBuffered(args[1] == "buffered")
	case "pattern":
		if len(args) != 2 {
			return fmt.Errorf("usage: pattern <name>")
		}
		return client.TestPattern(args[1])
	case "reset-transport":
		return client.ResetTransport()
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return client.Watch(ctx, func(snapshot control.Snapshot) {
			printJSON(snapshot)
		})
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

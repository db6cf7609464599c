// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package cancel implements "conveyor cancel": cancel an in-flight run
// over a control socket.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/service"
)

// Command returns the "cancel" command.
func Command() *cli.Command {
	var (
		socketPath string
		jsonOutput bool
	)

	return &cli.Command{
		Name:    "cancel",
		Summary: "Cancel an in-flight run",
		Description: `Ask the server behind a control socket to cancel a run. The executing
step's process group receives SIGTERM, then SIGKILL after the step's
grace period; remaining steps are recorded as skipped and the run
concludes as a cancelled failure.`,
		Usage: "conveyor cancel --socket PATH <run-id>",
		Examples: []cli.Example{
			{
				Description: "Cancel a run on the webhook service",
				Command:     "conveyor cancel --socket /run/conveyor/control.sock 7b0c5d2e-4a11-4a50-9d8f-3f4f2a6f9b1c",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "", "control socket path")
			flagSet.BoolVar(&jsonOutput, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one run ID is required")
			}
			if socketPath == "" {
				return errors.New("--socket is required")
			}

			client := service.NewClient(socketPath)
			var response service.CancelResponse
			err := client.Call(ctx, service.ActionCancel, map[string]any{"run_id": args[0]}, &response)
			if err != nil {
				return err
			}

			if jsonOutput {
				return cli.WriteJSON(response)
			}
			fmt.Printf("cancelled run %s\n", response.RunID)
			return nil
		},
	}
}

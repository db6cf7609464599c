// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package status implements "conveyor status": query a control socket
// for active and recently completed runs.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/service"
)

// Command returns the "status" command.
func Command() *cli.Command {
	var (
		socketPath string
		jsonOutput bool
	)

	return &cli.Command{
		Name:    "status",
		Summary: "Show active and recent runs on a control socket",
		Description: `Query the control socket served by the webhook service (or a long
"conveyor run --socket" invocation) for in-flight runs and, on the
service, the ring of recent completions.`,
		Usage: "conveyor status --socket PATH [flags]",
		Examples: []cli.Example{
			{
				Description: "What is the webhook service doing right now",
				Command:     "conveyor status --socket /run/conveyor/control.sock",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "", "control socket path")
			flagSet.BoolVar(&jsonOutput, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q (all inputs are flags)", args[0])
			}
			if socketPath == "" {
				return errors.New("--socket is required")
			}

			client := service.NewClient(socketPath)
			var response service.StatusResponse
			if err := client.Call(ctx, service.ActionStatus, nil, &response); err != nil {
				return err
			}

			if jsonOutput {
				return cli.WriteJSON(response)
			}

			if len(response.Active) == 0 {
				fmt.Println("no active runs")
			} else {
				tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
				fmt.Fprintf(tw, "RUN\tPIPELINE\tSTATE\tSTEP\n")
				for _, active := range response.Active {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						active.RunID, active.Pipeline, active.State, stepCell(&active))
				}
				tw.Flush()
			}

			if len(response.Recent) > 0 {
				fmt.Printf("\nrecent:\n")
				tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
				fmt.Fprintf(tw, "RUN\tPIPELINE\tCONCLUSION\tSTARTED\tDURATION\n")
				for _, recent := range response.Recent {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						recent.RunID,
						recent.Pipeline,
						conclusionCell(&recent),
						recent.StartedAt,
						(time.Duration(recent.DurationMS) * time.Millisecond).String(),
					)
				}
				tw.Flush()
			}
			return nil
		},
	}
}

// stepCell renders the active step, or "-" outside the step loop.
func stepCell(status *service.RunStatus) string {
	if status.StepIndex < 0 || status.StepName == "" {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", status.StepIndex, status.StepName)
}

func conclusionCell(recent *service.RecentRun) string {
	switch {
	case recent.Cancelled:
		return "failure (cancelled)"
	case recent.FailedStep != "":
		return fmt.Sprintf("failure (%s)", recent.FailedStep)
	}
	return recent.Conclusion
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/schema"
)

// showCommand returns the "show" subcommand.
func showCommand() *cli.Command {
	var (
		historyPath string
		logStoreDir string
		showLogs    bool
		jsonOutput  bool
	)

	return &cli.Command{
		Name:    "show",
		Summary: "Show one recorded run in detail",
		Description: `Print a recorded run: event, conclusion, timing, and the per-step
outcomes. With --logs, each step's captured output follows the tables;
output archived outside the database needs --log-store to be readable.`,
		Usage: "conveyor history show --history DB [flags] <run-id>",
		Examples: []cli.Example{
			{
				Description: "Inspect a failed run with its step output",
				Command:     "conveyor history show --history runs.db --log-store logs/ --logs 7b0c5d2e-4a11-4a50-9d8f-3f4f2a6f9b1c",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&historyPath, "history", "", "history database path")
			flagSet.StringVar(&logStoreDir, "log-store", "", "output archive directory")
			flagSet.BoolVar(&showLogs, "logs", false, "print each step's captured output")
			flagSet.BoolVar(&jsonOutput, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one run ID is required")
			}

			store, err := openStore(historyPath, logStoreDir, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return cli.WriteJSON(result)
			}

			printRun(os.Stdout, result)
			if showLogs {
				if err := printLogs(os.Stdout, store, result); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// printRun writes the run header and step tables.
func printRun(w io.Writer, result *schema.RunResultContent) {
	fmt.Fprintf(w, "run %s\n", result.RunID)
	fmt.Fprintf(w, "pipeline:   %s\n", result.Pipeline)
	fmt.Fprintf(w, "event:      %s on %s", result.Event, result.Branch)
	if result.Commit != "" {
		fmt.Fprintf(w, " @ %s", result.Commit)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "conclusion: %s", result.Conclusion)
	if result.Cancelled {
		fmt.Fprintf(w, " (cancelled)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "started:    %s\n", result.StartedAt)
	fmt.Fprintf(w, "duration:   %s\n", (time.Duration(result.DurationMS) * time.Millisecond).String())
	if result.ErrorMessage != "" {
		fmt.Fprintf(w, "error:      %s\n", result.ErrorMessage)
	}

	if len(result.Steps) > 0 {
		fmt.Fprintln(w)
		printStepTable(w, result.Steps)
	}
	if len(result.Hooks) > 0 {
		fmt.Fprintf(w, "\non_failure:\n")
		printStepTable(w, result.Hooks)
	}
}

func printStepTable(w io.Writer, steps []schema.StepResult) {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "STEP\tSTATUS\tEXIT\tDURATION\n")
	for _, step := range steps {
		exit := fmt.Sprintf("%d", step.ExitCode)
		duration := (time.Duration(step.DurationMS) * time.Millisecond).String()
		if step.Status == schema.StepStatusSkipped || step.Status == schema.StepStatusCancelled {
			exit = "-"
		}
		if step.Status == schema.StepStatusSkipped {
			duration = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", step.Name, step.Status, exit, duration)
	}
	tw.Flush()
}

// printLogs writes each recorded output, fetching archived entries
// from the log store.
func printLogs(w io.Writer, store *history.Store, result *schema.RunResultContent) error {
	writeOne := func(step *schema.StepResult) error {
		output, err := store.Output(step)
		if err != nil {
			return err
		}
		if len(output) == 0 {
			return nil
		}
		fmt.Fprintf(w, "\n--- output: %s ---\n", step.Name)
		w.Write(output)
		if output[len(output)-1] != '\n' {
			fmt.Fprintln(w)
		}
		return nil
	}

	for index := range result.Steps {
		if err := writeOne(&result.Steps[index]); err != nil {
			return err
		}
	}
	for index := range result.Hooks {
		if err := writeOne(&result.Hooks[index]); err != nil {
			return err
		}
	}
	return nil
}

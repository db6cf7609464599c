// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/schema"
)

// listCommand returns the "list" subcommand.
func listCommand() *cli.Command {
	var (
		historyPath  string
		pipelineName string
		branch       string
		conclusion   string
		limit        int
		jsonOutput   bool
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List recorded runs, newest first",
		Usage:   "conveyor history list --history DB [flags]",
		Examples: []cli.Example{
			{
				Description: "Recent failures of one pipeline",
				Command:     "conveyor history list --history runs.db --pipeline build-and-test --conclusion failure",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&historyPath, "history", "", "history database path")
			flagSet.StringVar(&pipelineName, "pipeline", "", "only runs of this pipeline")
			flagSet.StringVar(&branch, "branch", "", "only runs for this branch")
			flagSet.StringVar(&conclusion, "conclusion", "", `only runs with this conclusion ("success", "failure", "not_triggered")`)
			flagSet.IntVar(&limit, "limit", 50, "maximum number of runs")
			flagSet.BoolVar(&jsonOutput, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q (all inputs are flags)", args[0])
			}

			store, err := openStore(historyPath, "", logger)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.List(ctx, history.ListFilter{
				Pipeline:   pipelineName,
				Branch:     branch,
				Conclusion: conclusion,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return cli.WriteJSON(summaries)
			}

			if len(summaries) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "RUN\tPIPELINE\tEVENT\tBRANCH\tCONCLUSION\tSTARTED\tDURATION\n")
			for _, summary := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					summary.RunID,
					summary.Pipeline,
					summary.Event,
					summary.Branch,
					conclusionCell(&summary),
					summary.StartedAt,
					(time.Duration(summary.DurationMS) * time.Millisecond).String(),
				)
			}
			return tw.Flush()
		},
	}
}

// conclusionCell renders a summary's conclusion with its most useful
// detail: the failing step for failures, a cancellation marker for
// cancelled runs.
func conclusionCell(summary *history.Summary) string {
	if summary.Conclusion != schema.ConclusionFailure {
		return summary.Conclusion
	}
	if summary.Cancelled {
		return "failure (cancelled)"
	}
	if summary.FailedStep != "" {
		return fmt.Sprintf("failure (%s)", summary.FailedStep)
	}
	return summary.Conclusion
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
)

// pruneCommand returns the "prune" subcommand.
func pruneCommand() *cli.Command {
	var (
		historyPath string
		logStoreDir string
		olderThan   time.Duration
	)

	return &cli.Command{
		Name:    "prune",
		Summary: "Remove runs older than a cutoff",
		Description: `Delete recorded runs whose start time is older than --older-than,
along with their step rows. When --log-store is given, archived step
output that no surviving run references is removed too.`,
		Usage: "conveyor history prune --history DB --older-than DURATION [flags]",
		Examples: []cli.Example{
			{
				Description: "Keep the last 30 days",
				Command:     "conveyor history prune --history runs.db --log-store logs/ --older-than 720h",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("prune", pflag.ContinueOnError)
			flagSet.StringVar(&historyPath, "history", "", "history database path")
			flagSet.StringVar(&logStoreDir, "log-store", "", "output archive directory")
			flagSet.DurationVar(&olderThan, "older-than", 0, `age cutoff, as a Go duration (e.g. "720h")`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q (all inputs are flags)", args[0])
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be a positive duration")
			}

			store, err := openStore(historyPath, logStoreDir, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			fmt.Printf("removed %d runs\n", removed)
			return nil
		},
	}
}

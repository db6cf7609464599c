// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package history implements the "conveyor history" subcommands over
// the run history database.
package history

import (
	"errors"
	"log/slog"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/logstore"
)

// Command returns the top-level "history" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "history",
		Summary: "Inspect and prune recorded runs",
		Description: `Work with the run history database written by "conveyor run
--history" and the webhook service: list recorded runs, show one run
in detail (including archived step output), and prune old runs.`,
		Subcommands: []*cli.Command{
			listCommand(),
			showCommand(),
			pruneCommand(),
		},
	}
}

// openStore opens the history database named by --history. When
// --log-store is set the output archive is attached, making archived
// step output readable and letting prune drop orphaned entries.
func openStore(path, logStoreDir string, logger *slog.Logger) (*history.Store, error) {
	if path == "" {
		return nil, errors.New("--history is required")
	}

	var outputs *logstore.Store
	if logStoreDir != "" {
		var err error
		outputs, err = logstore.Open(logStoreDir, logger)
		if err != nil {
			return nil, err
		}
	}

	return history.Open(history.Config{
		Path:    path,
		Outputs: outputs,
		Logger:  logger,
	})
}

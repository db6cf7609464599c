// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete conveyor CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	cancelcmd "github.com/conveyor-ci/conveyor/cmd/conveyor/cancel"
	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	historycmd "github.com/conveyor-ci/conveyor/cmd/conveyor/history"
	runcmd "github.com/conveyor-ci/conveyor/cmd/conveyor/run"
	secretcmd "github.com/conveyor-ci/conveyor/cmd/conveyor/secret"
	showcmd "github.com/conveyor-ci/conveyor/cmd/conveyor/show"
	statuscmd "github.com/conveyor-ci/conveyor/cmd/conveyor/status"
	validatecmd "github.com/conveyor-ci/conveyor/cmd/conveyor/validate"
	"github.com/conveyor-ci/conveyor/lib/version"
)

// Root builds and returns the complete conveyor CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "conveyor",
		Description: `Conveyor: minimal CI pipeline engine.

Evaluate forge events against pipeline trigger rules, provision
execution environments, and run pipeline steps fail-fast, with sealed
secrets, run history, and a control socket for in-flight runs.`,
		Subcommands: []*cli.Command{
			runcmd.Command(),
			validatecmd.Command(),
			showcmd.Command(),
			historycmd.Command(),
			secretcmd.Command(),
			statuscmd.Command(),
			cancelcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("conveyor %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Run a pipeline for a push to main",
				Command:     "conveyor run --pipeline ci.yaml --event push --branch main",
			},
			{
				Description: "Validate definitions before committing them",
				Command:     "conveyor validate pipelines/*.yaml",
			},
			{
				Description: "List the last failures of one pipeline",
				Command:     "conveyor history list --history runs.db --pipeline build-and-test --conclusion failure",
			},
			{
				Description: "Generate a sealing identity and print its recipient",
				Command:     "conveyor secret keygen --identity ~/.config/conveyor/identity",
			},
			{
				Description: "Cancel an in-flight run on the webhook service",
				Command:     "conveyor cancel 7b0c5d2e-4a11-4a50-9d8f-3f4f2a6f9b1c --socket /run/conveyor/control.sock",
			},
		},
	}
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/cmd/conveyor/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like run and validate)
		// return an ExitError with the desired exit code. Don't print a
		// redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args, verbose := extractVerbose(os.Args[1:])
	logger := cli.NewCommandLogger(verbose)
	return commands.Root().Execute(ctx, args, logger)
}

// extractVerbose strips --verbose / -v from args. Verbosity applies to
// every command; handling it here keeps it out of each command's flag
// set.
func extractVerbose(args []string) ([]string, bool) {
	verbose := false
	rest := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			// Everything after -- is positional, even "--verbose".
			rest = append(rest, args[i:]...)
			break
		}
		if arg == "--verbose" || arg == "-v" {
			verbose = true
			continue
		}
		rest = append(rest, arg)
	}
	return rest, verbose
}

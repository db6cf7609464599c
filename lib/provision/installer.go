// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
)

// PackageInstaller installs system packages before a run's first step.
// The provisioner calls Install at most once per run, with the
// definition's full package list; an error aborts the run with no
// steps attempted.
type PackageInstaller interface {
	Install(ctx context.Context, packages []string) error
}

// CommandInstaller installs packages by running a configured command
// with the package names appended, e.g. Command
// {"apt-get", "install", "-y"} turns into
// "apt-get install -y libgtk-4-dev just".
type CommandInstaller struct {
	// Command is the installer invocation, argv style. Must be
	// non-empty.
	Command []string
}

// Install runs the configured command with packages appended. A
// non-zero exit is an error carrying the command's combined output.
func (i *CommandInstaller) Install(ctx context.Context, packages []string) error {
	if len(i.Command) == 0 {
		return errors.New("no install command configured")
	}

	argv := append(slices.Clone(i.Command), packages...)
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := command.CombinedOutput()
	if err != nil {
		message := strings.TrimSpace(string(output))
		if message != "" {
			return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, message)
		}
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	return nil
}

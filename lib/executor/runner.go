// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// RunOptions carries the execution context for one step command.
type RunOptions struct {
	// Workdir is the directory the command runs in. Empty means the
	// process working directory.
	Workdir string

	// Env is the command's full environment in "NAME=value" form.
	// Nil means the process environment.
	Env []string

	// GracePeriod is how long to wait between SIGTERM and SIGKILL
	// when the context ends while the command is running. Zero means
	// SIGKILL immediately.
	GracePeriod time.Duration
}

// Outcome reports one command execution.
type Outcome struct {
	// ExitCode is the command's exit status. -1 when the command
	// could not be started or was terminated by a signal.
	ExitCode int

	// Output is the captured combined stdout and stderr, including
	// whatever the command produced before being terminated.
	Output []byte

	// Err is set for failures other than a non-zero exit: the
	// command could not start, or its context ended. A plain
	// non-zero exit has ExitCode set and Err nil.
	Err error
}

// StepRunner executes one step command to completion. Implementations
// are synchronous: RunStep returns only after the command has exited
// and its output is fully captured. The executor never runs two steps
// of one pipeline concurrently.
type StepRunner interface {
	RunStep(ctx context.Context, command string, options RunOptions) Outcome
}

// ShellRunner runs step commands via `sh -c`, capturing combined
// stdout and stderr.
//
// The shell is resolved via PATH, not hardcoded to /bin/sh, so the
// runner works on hosts where /bin is a shim or absent. Each command
// runs in its own process group: when the context ends, the whole
// group is signalled, so children spawned by the command die with it
// instead of surviving to hold the output pipe open.
type ShellRunner struct{}

// RunStep implements StepRunner. When the context ends mid-command the
// process group receives SIGTERM, then SIGKILL after the grace period
// (or SIGKILL immediately when the grace period is zero).
func (r *ShellRunner) RunStep(ctx context.Context, command string, options RunOptions) Outcome {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = options.Workdir
	cmd.Env = options.Env

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	gracePeriod := options.GracePeriod
	if gracePeriod > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (process group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				// Best-effort: ESRCH from an already-dead process
				// group is harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	err := cmd.Run()
	if err == nil {
		return Outcome{ExitCode: 0, Output: output.Bytes()}
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		code := exitError.ExitCode()
		if code >= 0 && ctx.Err() == nil {
			// Ordinary non-zero exit.
			return Outcome{ExitCode: code, Output: output.Bytes()}
		}
		// Killed by a signal, or exited while the context was
		// ending. Surface the context error when there is one so
		// the caller can classify timeout against cancellation.
		failure := ctx.Err()
		if failure == nil {
			failure = err
		}
		return Outcome{ExitCode: -1, Output: output.Bytes(), Err: failure}
	}

	// The command never ran: start failure, bad working directory.
	return Outcome{ExitCode: -1, Output: output.Bytes(), Err: err}
}

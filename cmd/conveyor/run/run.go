// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package run implements "conveyor run": evaluate one event against
// one pipeline definition and execute it.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/codec"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/executor"
	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/logstore"
	"github.com/conveyor-ci/conveyor/lib/pipeline"
	"github.com/conveyor-ci/conveyor/lib/provision"
	"github.com/conveyor-ci/conveyor/lib/schema"
	"github.com/conveyor-ci/conveyor/lib/service"
)

// Command returns the "run" command.
func Command() *cli.Command {
	var (
		pipelinePath   string
		eventKind      string
		branch         string
		targetBranch   string
		commitSHA      string
		actor          string
		identityPath   string
		installCommand string
		resultLogPath  string
		socketPath     string
		historyPath    string
		logStoreDir    string
		jsonOutput     bool
	)

	return &cli.Command{
		Name:    "run",
		Summary: "Execute a pipeline for an event",
		Description: `Evaluate an event against a pipeline definition's trigger rules and,
when a rule matches, provision the execution environment and run the
steps fail-fast.

The exit code reports the outcome: 0 when the run succeeds or the
event does not trigger the pipeline, 2 when the run fails (including
cancellation), 1 for usage and infrastructure errors.`,
		Usage: "conveyor run --pipeline FILE --event KIND [flags]",
		Examples: []cli.Example{
			{
				Description: "Run for a push to main",
				Command:     "conveyor run --pipeline ci.yaml --event push --branch main --commit 4f6cb2a",
			},
			{
				Description: "Run for a pull request, recording history and progress",
				Command:     "conveyor run --pipeline ci.yaml --event pull_request --branch feature/cache --target-branch main --history runs.db --result-log run.jsonl",
			},
			{
				Description: "Serve a control socket so the run can be cancelled",
				Command:     "conveyor run --pipeline deploy.yaml --event push --branch main --socket /tmp/conveyor.sock",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&pipelinePath, "pipeline", "", "pipeline definition file (YAML or JSONC)")
			flagSet.StringVar(&eventKind, "event", "", `event kind: "push" or "pull_request"`)
			flagSet.StringVar(&branch, "branch", "", "pushed branch (push) or head branch (pull_request)")
			flagSet.StringVar(&targetBranch, "target-branch", "", "branch the pull request merges into")
			flagSet.StringVar(&commitSHA, "commit", "", "commit the event refers to")
			flagSet.StringVar(&actor, "actor", "", "forge username that caused the event")
			flagSet.StringVar(&identityPath, "identity", "", "age identity file for sealed env values")
			flagSet.StringVar(&installCommand, "install-command", "", `installer invocation for the definition's packages list (e.g. "apt-get install -y")`)
			flagSet.StringVar(&resultLogPath, "result-log", "", "append JSONL progress entries to this file")
			flagSet.StringVar(&socketPath, "socket", "", "serve the control socket at this path for the duration of the run")
			flagSet.StringVar(&historyPath, "history", "", "record the completed run in this SQLite database")
			flagSet.StringVar(&logStoreDir, "log-store", "", "archive large step output under this directory (with --history)")
			flagSet.BoolVar(&jsonOutput, "json", false, "print the full run result as JSON to stdout")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q (all inputs are flags)", args[0])
			}
			if pipelinePath == "" {
				return errors.New("--pipeline is required")
			}
			if eventKind == "" {
				return errors.New("--event is required")
			}
			if logStoreDir != "" && historyPath == "" {
				return errors.New("--log-store requires --history")
			}

			content, err := pipeline.ReadFile(pipelinePath)
			if err != nil {
				return err
			}
			if issues := content.Validate(); len(issues) > 0 {
				return fmt.Errorf("invalid pipeline %s:\n  %s", pipelinePath, strings.Join(issues, "\n  "))
			}

			evt := &event.Event{
				Kind:         eventKind,
				Branch:       branch,
				TargetBranch: targetBranch,
				Commit:       commitSHA,
				Actor:        actor,
			}
			if err := evt.Validate(); err != nil {
				return err
			}

			provisioner := &provision.Provisioner{
				IdentityPath: identityPath,
				Logger:       logger,
			}
			if installCommand != "" {
				provisioner.Installer = &provision.CommandInstaller{Command: strings.Fields(installCommand)}
			}

			exec := &executor.Executor{
				Provisioner: provisioner,
				Logger:      logger,
			}

			if resultLogPath != "" {
				resultLog, err := executor.NewResultLog(resultLogPath, logger)
				if err != nil {
					return err
				}
				defer resultLog.Close()
				exec.ResultLog = resultLog
			}

			runCtx := ctx
			if socketPath != "" {
				var cancelRun context.CancelFunc
				runCtx, cancelRun = context.WithCancel(ctx)
				defer cancelRun()

				stopSocket, err := startControlSocket(ctx, socketPath, exec, cancelRun, logger)
				if err != nil {
					return err
				}
				defer stopSocket()
			}

			result := exec.Run(runCtx, content, evt)

			if historyPath != "" {
				recordHistory(historyPath, logStoreDir, result, logger)
			}

			if jsonOutput {
				if err := cli.WriteJSON(result); err != nil {
					return err
				}
			} else {
				printRunResult(os.Stderr, result)
			}

			if result.Conclusion == schema.ConclusionFailure {
				return &cli.ExitError{Code: 2}
			}
			return nil
		},
	}
}

// startControlSocket serves status/cancel/ping on socketPath for the
// duration of the run. The returned stop function shuts the server
// down and waits for in-flight requests.
func startControlSocket(ctx context.Context, socketPath string, exec *executor.Executor, cancelRun context.CancelFunc, logger *slog.Logger) (func(), error) {
	server := service.NewSocketServer(socketPath, logger)

	server.Handle(service.ActionStatus, func(context.Context, []byte) (any, error) {
		response := service.StatusResponse{}
		if status := exec.Status(); status.RunID != "" {
			response.Active = append(response.Active, service.RunStatus{
				RunID:     status.RunID,
				Pipeline:  status.Pipeline,
				State:     status.State,
				StepIndex: status.StepIndex,
				StepName:  status.StepName,
			})
		}
		return response, nil
	})

	server.Handle(service.ActionCancel, func(_ context.Context, raw []byte) (any, error) {
		var request service.CancelRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid cancel request: %v", err)
		}
		status := exec.Status()
		if status.RunID == "" || terminalState(status.State) {
			return nil, errors.New("no active run")
		}
		if request.RunID != "" && request.RunID != status.RunID {
			return nil, fmt.Errorf("no run %q (active run is %s)", request.RunID, status.RunID)
		}
		cancelRun()
		return service.CancelResponse{RunID: status.RunID}, nil
	})

	server.Handle(service.ActionPing, func(context.Context, []byte) (any, error) {
		return nil, nil
	})

	socketCtx, stopServe := context.WithCancel(ctx)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(socketCtx)
	}()

	select {
	case <-server.Ready():
	case err := <-serveDone:
		stopServe()
		return nil, err
	}

	return func() {
		stopServe()
		if err := <-serveDone; err != nil {
			logger.Warn("control socket shutdown", "error", err)
		}
	}, nil
}

// terminalState reports whether a run state is final.
func terminalState(state string) bool {
	switch state {
	case executor.StateSucceeded, executor.StateFailed, executor.StateNotTriggered:
		return true
	}
	return false
}

// recordHistory stores the completed result. History failures are
// logged, never returned: the run's result and exit code stand
// regardless of bookkeeping problems. Recording uses its own context
// so a cancelled run is still recorded.
func recordHistory(dbPath, logStoreDir string, result *schema.RunResultContent, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var outputs *logstore.Store
	if logStoreDir != "" {
		var err error
		outputs, err = logstore.Open(logStoreDir, logger)
		if err != nil {
			logger.Warn("history not recorded", "run_id", result.RunID, "error", err)
			return
		}
	}

	store, err := history.Open(history.Config{Path: dbPath, Outputs: outputs, Logger: logger})
	if err != nil {
		logger.Warn("history not recorded", "run_id", result.RunID, "error", err)
		return
	}
	defer store.Close()

	if err := store.Record(ctx, result); err != nil {
		logger.Warn("history not recorded", "run_id", result.RunID, "error", err)
	}
}

// printRunResult writes the human-readable step table and conclusion
// line. Results go to stderr: stdout is reserved for --json output.
func printRunResult(w io.Writer, result *schema.RunResultContent) {
	if len(result.Steps) > 0 {
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "STEP\tSTATUS\tEXIT\tDURATION\n")
		for _, step := range result.Steps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", step.Name, step.Status, exitCell(&step), durationCell(&step))
		}
		tw.Flush()
	}
	if len(result.Hooks) > 0 {
		fmt.Fprintf(w, "\non_failure:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, hook := range result.Hooks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", hook.Name, hook.Status, exitCell(&hook), durationCell(&hook))
		}
		tw.Flush()
	}
	fmt.Fprintf(w, "\n%s\n", conclusionLine(result))
}

func exitCell(step *schema.StepResult) string {
	if step.Status == schema.StepStatusSkipped || step.Status == schema.StepStatusCancelled {
		return "-"
	}
	return fmt.Sprintf("%d", step.ExitCode)
}

func durationCell(step *schema.StepResult) string {
	if step.Status == schema.StepStatusSkipped {
		return "-"
	}
	return (time.Duration(step.DurationMS) * time.Millisecond).String()
}

func conclusionLine(result *schema.RunResultContent) string {
	duration := time.Duration(result.DurationMS) * time.Millisecond
	switch result.Conclusion {
	case schema.ConclusionSuccess:
		return fmt.Sprintf("run %s: success (%s)", result.RunID, duration)
	case schema.ConclusionNotTriggered:
		return fmt.Sprintf("run %s: not triggered (no rule matches %s on %s)", result.RunID, result.Event, result.Branch)
	default:
		if result.Cancelled {
			if result.FailedStepIndex >= 0 {
				return fmt.Sprintf("run %s: cancelled at step %d (%q)", result.RunID, result.FailedStepIndex, result.FailedStep)
			}
			return fmt.Sprintf("run %s: cancelled", result.RunID)
		}
		if result.FailedStepIndex >= 0 {
			return fmt.Sprintf("run %s: failed at step %d (%q): %s", result.RunID, result.FailedStepIndex, result.FailedStep, result.ErrorMessage)
		}
		return fmt.Sprintf("run %s: failed: %s", result.RunID, result.ErrorMessage)
	}
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

// RunResultContentVersion is the current schema version for run
// results. Increment when adding fields that existing readers must not
// silently drop.
const RunResultContentVersion = 1

// Run conclusions. Every run ends in exactly one of these.
const (
	// ConclusionSuccess: every step ran and succeeded (failures
	// under allow_failure count as success for the run).
	ConclusionSuccess = "success"

	// ConclusionFailure: the run stopped early, whether by a failing
	// step, a provisioning error, or cancellation.
	ConclusionFailure = "failure"

	// ConclusionNotTriggered: no trigger rule matched the event, so
	// nothing was provisioned and no step ran.
	ConclusionNotTriggered = "not_triggered"
)

// Step statuses recorded in StepResult.Status.
const (
	// StepStatusOK: the step ran and exited zero.
	StepStatusOK = "ok"

	// StepStatusFailed: the step ran and failed, failing the run.
	StepStatusFailed = "failed"

	// StepStatusFailedAllowed: the step failed but declared
	// allow_failure, so the run continued.
	StepStatusFailedAllowed = "failed (allowed)"

	// StepStatusSkipped: the step was never started because an
	// earlier step failed or provisioning aborted the run.
	StepStatusSkipped = "skipped"

	// StepStatusCancelled: the step was terminated by run
	// cancellation while executing.
	StepStatusCancelled = "cancelled"
)

// RunResultContent is the complete record of one pipeline run. The
// executor produces exactly one per run, whatever happens: trigger
// misses, provisioning errors, step failures, and cancellations are
// all captured here rather than surfaced as errors from the run
// itself.
type RunResultContent struct {
	// Version is the schema version (see RunResultContentVersion).
	Version int `json:"version"`

	// RunID uniquely identifies this run (a UUID).
	RunID string `json:"run_id"`

	// Pipeline is the name of the executed pipeline definition.
	Pipeline string `json:"pipeline"`

	// Event is the kind of the triggering event ("push" or
	// "pull_request").
	Event string `json:"event"`

	// Branch is the branch the trigger rules were evaluated against:
	// the pushed branch for push events, the target branch for
	// pull_request events.
	Branch string `json:"branch"`

	// Commit is the commit the event referred to, when known.
	Commit string `json:"commit,omitempty"`

	// Conclusion is the terminal outcome: ConclusionSuccess,
	// ConclusionFailure, or ConclusionNotTriggered.
	Conclusion string `json:"conclusion"`

	// Cancelled marks a failure caused by run cancellation rather
	// than by the pipeline itself. Only valid with
	// ConclusionFailure.
	Cancelled bool `json:"cancelled,omitempty"`

	// StartedAt is an ISO 8601 timestamp of when the run began.
	StartedAt string `json:"started_at"`

	// CompletedAt is an ISO 8601 timestamp of when the run finished.
	CompletedAt string `json:"completed_at"`

	// DurationMS is the run's wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// StepCount is the number of steps in the pipeline definition
	// (hooks not included).
	StepCount int `json:"step_count"`

	// Steps records one outcome per definition step, in order. For
	// triggered runs that reached execution this has exactly
	// StepCount entries, with StepStatusSkipped marking steps after
	// the failure point. Empty for runs that never started a step
	// (not triggered, setup or provisioning failure).
	Steps []StepResult `json:"steps,omitempty"`

	// Hooks records on_failure hook outcomes, in order. Hook
	// failures are recorded here but never change Conclusion.
	Hooks []StepResult `json:"hooks,omitempty"`

	// FailedStepIndex is the zero-based index of the step that
	// failed the run, or -1 when no step did (success, not
	// triggered, or a failure before the first step started).
	FailedStepIndex int `json:"failed_step_index"`

	// FailedStep is the name of the failing step. Empty when
	// FailedStepIndex is -1.
	FailedStep string `json:"failed_step,omitempty"`

	// ErrorMessage describes what failed: the step's failure, the
	// provisioning error, the event or definition problem, or the
	// cancellation. Empty on success.
	ErrorMessage string `json:"error_message,omitempty"`
}

// StepResult records the outcome of a single step or hook.
type StepResult struct {
	// Name is the step's name from the definition.
	Name string `json:"name"`

	// Status is one of the StepStatus constants.
	Status string `json:"status"`

	// ExitCode is the command's exit status. Zero for ok, -1 when
	// the command could not be started or was killed by a signal,
	// meaningless for skipped steps.
	ExitCode int `json:"exit_code"`

	// DurationMS is the step's wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Output is the step's captured combined stdout and stderr.
	// Empty when the output lives in the log store instead (see
	// OutputHash).
	Output string `json:"output,omitempty"`

	// OutputHash is the log store key of the step's captured output,
	// when it was stored there (see lib/logstore).
	OutputHash string `json:"output_hash,omitempty"`

	// Error is the failure description for failed and cancelled
	// steps. Empty otherwise.
	Error string `json:"error,omitempty"`
}

// Validate checks that all required fields are present and consistent.
// Returns an error describing the first invalid field found, or nil.
// Unlike definition validation this is first-fault: an invalid result
// is an executor bug, and one fault is enough to reject it.
func (r *RunResultContent) Validate() error {
	if r.Version < 1 {
		return fmt.Errorf("run result: version must be >= 1, got %d", r.Version)
	}
	if r.RunID == "" {
		return errors.New("run result: run_id is required")
	}
	if r.Pipeline == "" {
		return errors.New("run result: pipeline is required")
	}
	switch r.Conclusion {
	case ConclusionSuccess, ConclusionFailure, ConclusionNotTriggered:
	case "":
		return errors.New("run result: conclusion is required")
	default:
		return fmt.Errorf("run result: unknown conclusion %q", r.Conclusion)
	}
	if r.Cancelled && r.Conclusion != ConclusionFailure {
		return fmt.Errorf("run result: cancelled requires conclusion %q, got %q", ConclusionFailure, r.Conclusion)
	}
	if r.StartedAt == "" {
		return errors.New("run result: started_at is required")
	}
	if r.CompletedAt == "" {
		return errors.New("run result: completed_at is required")
	}
	if r.StepCount < 1 {
		return fmt.Errorf("run result: step_count must be >= 1, got %d", r.StepCount)
	}
	if r.FailedStepIndex < -1 || r.FailedStepIndex >= r.StepCount {
		return fmt.Errorf("run result: failed_step_index %d out of range for %d steps", r.FailedStepIndex, r.StepCount)
	}
	if r.Conclusion != ConclusionFailure && r.FailedStepIndex != -1 {
		return fmt.Errorf("run result: failed_step_index %d without conclusion %q", r.FailedStepIndex, ConclusionFailure)
	}
	if r.FailedStep != "" && r.FailedStepIndex == -1 {
		return fmt.Errorf("run result: failed_step %q without a failed step index", r.FailedStep)
	}
	for i := range r.Steps {
		if err := r.Steps[i].Validate(); err != nil {
			return fmt.Errorf("run result: steps[%d]: %w", i, err)
		}
	}
	for i := range r.Hooks {
		if err := r.Hooks[i].Validate(); err != nil {
			return fmt.Errorf("run result: hooks[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the step result has valid required fields.
func (s *StepResult) Validate() error {
	if s.Name == "" {
		return errors.New("step result: name is required")
	}
	switch s.Status {
	case StepStatusOK, StepStatusFailed, StepStatusFailedAllowed, StepStatusSkipped, StepStatusCancelled:
	case "":
		return errors.New("step result: status is required")
	default:
		return fmt.Errorf("step result: unknown status %q", s.Status)
	}
	return nil
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor drives pipeline runs: trigger evaluation, variable
// expansion, provisioning, the fail-fast step loop, on_failure hooks,
// and result assembly. Run is total: trigger misses, bad events,
// provisioning errors, step failures, and cancellation all come back
// as a RunResultContent, never as an error or a panic.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyor-ci/conveyor/lib/clock"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/pipeline"
	"github.com/conveyor-ci/conveyor/lib/provision"
	"github.com/conveyor-ci/conveyor/lib/schema"
	"github.com/conveyor-ci/conveyor/lib/sealed"
	"github.com/conveyor-ci/conveyor/lib/trigger"
)

// defaultGracePeriod applies to steps that do not declare their own
// grace_period.
const defaultGracePeriod = 5 * time.Second

// Run states, in lifecycle order. A run that never triggers goes
// straight from pending to not_triggered.
const (
	StatePending      = "pending"
	StateProvisioning = "provisioning"
	StateRunning      = "running"
	StateSucceeded    = "succeeded"
	StateFailed       = "failed"
	StateNotTriggered = "not_triggered"
)

// Status is a point-in-time snapshot of a run, served over the
// control socket. StepIndex and StepName are meaningful while running
// and after a failure; StepIndex is -1 otherwise.
type Status struct {
	RunID     string `json:"run_id"`
	Pipeline  string `json:"pipeline"`
	State     string `json:"state"`
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name,omitempty"`
}

// Executor runs pipelines. The zero value works: it provisions with a
// zero Provisioner, runs steps through a ShellRunner, and reads the
// real clock. One Executor drives one run at a time; concurrent runs
// each get their own Executor (they can share the Provisioner and
// Runner, which are stateless between runs).
type Executor struct {
	// Provisioner builds the execution context. Nil means a zero
	// provision.Provisioner.
	Provisioner *provision.Provisioner

	// Runner executes step commands. Nil means a ShellRunner.
	Runner StepRunner

	// Clock is the time source for timestamps and durations. Nil
	// means the real clock. Step timeouts always use real time.
	Clock clock.Clock

	// Logger receives run progress. Nil means slog.Default.
	Logger *slog.Logger

	// ResultLog receives JSONL progress entries. Nil disables it.
	ResultLog *ResultLog

	mutex  sync.Mutex
	status Status
}

// Status returns a snapshot of the executor's current run.
func (e *Executor) Status() Status {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.status
}

func (e *Executor) setStatus(status Status) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.status = status
}

func (e *Executor) provisioner() *provision.Provisioner {
	if e.Provisioner != nil {
		return e.Provisioner
	}
	return &provision.Provisioner{}
}

func (e *Executor) stepRunner() StepRunner {
	if e.Runner != nil {
		return e.Runner
	}
	return &ShellRunner{}
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return clock.Real().Now()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run executes one pipeline run for the given event and returns its
// complete result. Cancelling the context terminates the currently
// executing step's process group and concludes the run as a
// cancellation failure; on_failure hooks still run, and the
// provisioned context is always released.
func (e *Executor) Run(ctx context.Context, content *schema.PipelineContent, evt *event.Event) *schema.RunResultContent {
	start := e.now()
	r := &run{
		executor: e,
		content:  content,
		event:    evt,
		logger:   e.logger().With("pipeline", content.Name),
		start:    start,
		result: &schema.RunResultContent{
			Version:         schema.RunResultContentVersion,
			RunID:           uuid.NewString(),
			Pipeline:        content.Name,
			Event:           evt.Kind,
			Branch:          evt.MatchBranch(),
			Commit:          evt.Commit,
			StartedAt:       start.UTC().Format(time.RFC3339),
			StepCount:       len(content.Steps),
			FailedStepIndex: -1,
		},
	}
	return r.execute(ctx)
}

// run carries the state of a single execution through its phases.
type run struct {
	executor  *Executor
	content   *schema.PipelineContent
	event     *event.Event
	logger    *slog.Logger
	start     time.Time
	result    *schema.RunResultContent
	variables map[string]string
	steps     []schema.PipelineStep
	execution *provision.Context
}

func (r *run) execute(ctx context.Context) *schema.RunResultContent {
	e := r.executor
	e.setStatus(Status{RunID: r.result.RunID, Pipeline: r.content.Name, State: StatePending, StepIndex: -1})

	// Definition and event problems fail the run before anything is
	// provisioned. Hooks do not run for these: an invalid definition
	// cannot be trusted to supply them.
	if issues := r.content.Validate(); len(issues) > 0 {
		r.result.ErrorMessage = "invalid pipeline definition: " + strings.Join(issues, "; ")
		r.logger.Error("invalid pipeline definition", "issues", len(issues))
		return r.finish(schema.ConclusionFailure)
	}
	if err := r.event.Validate(); err != nil {
		r.result.ErrorMessage = err.Error()
		r.logger.Error("invalid event", "error", err)
		return r.finish(schema.ConclusionFailure)
	}

	if !trigger.Matches(r.content.On, r.event) {
		r.logger.Info("not triggered", "event", r.event.Kind, "branch", r.event.MatchBranch())
		return r.finish(schema.ConclusionNotTriggered)
	}

	r.logger.Info("run triggered",
		"run_id", r.result.RunID,
		"event", r.event.Kind,
		"branch", r.event.MatchBranch(),
		"steps", len(r.content.Steps))
	e.ResultLog.writeRunStarted(r.result.RunID, r.content.Name, len(r.content.Steps), r.result.StartedAt)

	// Resolve expansion variables and expand every step up front. A
	// reference that resolves to nothing fails the run here, before
	// provisioning, with no step outcomes.
	r.variables = pipeline.ResolveVariables(r.content.Variables, r.event.Variables(), r.expansionEnviron())
	r.steps = make([]schema.PipelineStep, len(r.content.Steps))
	for index, step := range r.content.Steps {
		expanded, err := pipeline.ExpandStep(step, r.variables)
		if err != nil {
			return r.failBeforeSteps(ctx, err.Error())
		}
		r.steps[index] = expanded
	}

	e.setStatus(Status{RunID: r.result.RunID, Pipeline: r.content.Name, State: StateProvisioning, StepIndex: -1})
	execution, err := e.provisioner().Provision(ctx, r.content)
	if err != nil {
		return r.failBeforeSteps(ctx, "provisioning: "+err.Error())
	}
	r.execution = execution
	defer execution.Release()

	return r.runSteps(ctx)
}

func (r *run) runSteps(ctx context.Context) *schema.RunResultContent {
	e := r.executor

	for index := range r.steps {
		step := r.steps[index]
		e.setStatus(Status{
			RunID:     r.result.RunID,
			Pipeline:  r.content.Name,
			State:     StateRunning,
			StepIndex: index,
			StepName:  step.Name,
		})

		// Cancellation between steps: nothing is executing, the
		// pending step is recorded as cancelled without starting.
		if ctx.Err() != nil {
			r.recordStep(index, step.Name, schema.StepStatusCancelled, -1, 0, nil, "run cancelled")
			return r.failCancelled(ctx, index, step.Name)
		}

		timeout, gracePeriod := stepTimings(step)
		stepCtx := ctx
		cancel := func() {}
		if timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		stepStart := e.now()
		outcome := e.stepRunner().RunStep(stepCtx, step.Run, RunOptions{
			Workdir:     r.execution.Workdir,
			Env:         mergeStepEnv(r.execution.Env, step.Env),
			GracePeriod: gracePeriod,
		})
		cancel()
		duration := e.now().Sub(stepStart)

		switch {
		case outcome.Err == nil && outcome.ExitCode == 0:
			r.recordStep(index, step.Name, schema.StepStatusOK, 0, duration, outcome.Output, "")
			r.logger.Info("step ok", "step", step.Name, "index", index, "duration", duration)

		case ctx.Err() != nil:
			// Run-level cancellation, not the step's own timeout.
			r.recordStep(index, step.Name, schema.StepStatusCancelled, outcome.ExitCode, duration, outcome.Output, "run cancelled")
			return r.failCancelled(ctx, index, step.Name)

		default:
			var message string
			switch {
			case stepCtx.Err() == context.DeadlineExceeded:
				message = fmt.Sprintf("timed out after %s", step.Timeout)
			case outcome.Err != nil:
				message = outcome.Err.Error()
			default:
				message = fmt.Sprintf("exit code %d", outcome.ExitCode)
			}

			if step.AllowFailure {
				r.recordStep(index, step.Name, schema.StepStatusFailedAllowed, outcome.ExitCode, duration, outcome.Output, message)
				r.logger.Warn("step failed (allowed)", "step", step.Name, "index", index, "error", message)
				continue
			}

			r.recordStep(index, step.Name, schema.StepStatusFailed, outcome.ExitCode, duration, outcome.Output, message)
			r.logger.Error("step failed", "step", step.Name, "index", index, "error", message)
			return r.failAtStep(ctx, index, step.Name, message)
		}
	}

	r.logger.Info("run succeeded", "run_id", r.result.RunID, "steps", len(r.steps))
	e.ResultLog.writeRunCompleted(r.elapsedMS())
	return r.finish(schema.ConclusionSuccess)
}

// failBeforeSteps concludes a run that failed during setup or
// provisioning: no step outcomes, no failing step index. Hooks still
// run; FAILED_STEP is empty for them.
func (r *run) failBeforeSteps(ctx context.Context, message string) *schema.RunResultContent {
	r.result.ErrorMessage = message
	r.logger.Error("run failed before steps", "error", message)
	r.runHooks(ctx, "", message)
	r.executor.ResultLog.writeRunFailed("", -1, message, r.elapsedMS())
	return r.finish(schema.ConclusionFailure)
}

// failAtStep concludes a run after step index failed: later steps are
// recorded as skipped, hooks run, the failure entry is the log's last
// line.
func (r *run) failAtStep(ctx context.Context, index int, name, message string) *schema.RunResultContent {
	r.markSkipped(index + 1)
	r.result.FailedStepIndex = index
	r.result.FailedStep = name
	r.result.ErrorMessage = fmt.Sprintf("step %q: %s", name, message)
	r.runHooks(ctx, name, message)
	r.executor.ResultLog.writeRunFailed(name, index, r.result.ErrorMessage, r.elapsedMS())
	return r.finish(schema.ConclusionFailure)
}

// failCancelled concludes a cancelled run. The result is a failure at
// the step that was executing (or about to execute), tagged as
// cancelled rather than as a pipeline fault.
func (r *run) failCancelled(ctx context.Context, index int, name string) *schema.RunResultContent {
	r.markSkipped(index + 1)
	r.result.Cancelled = true
	r.result.FailedStepIndex = index
	r.result.FailedStep = name
	r.result.ErrorMessage = fmt.Sprintf("step %q: run cancelled", name)
	r.logger.Warn("run cancelled", "step", name, "index", index)
	r.runHooks(ctx, name, "run cancelled")
	r.executor.ResultLog.writeRunCancelled(name, r.result.ErrorMessage, r.elapsedMS())
	return r.finish(schema.ConclusionFailure)
}

// runHooks executes the on_failure steps. Hooks see the run's
// variables plus FAILED_STEP and FAILED_ERROR, execute in the
// provisioned workdir when one exists, and are best-effort: their
// outcomes land in the result's Hooks list without changing the
// conclusion.
func (r *run) runHooks(ctx context.Context, failedStep, failureMessage string) {
	hooks := r.content.OnFailure
	if len(hooks) == 0 {
		return
	}
	e := r.executor

	// Hooks run even when the run context is already cancelled;
	// operators want the failure notification most when the run was
	// torn down around them.
	hookCtx := context.WithoutCancel(ctx)

	variables := make(map[string]string, len(r.variables)+2)
	for name, value := range r.variables {
		variables[name] = value
	}
	variables["FAILED_STEP"] = failedStep
	variables["FAILED_ERROR"] = failureMessage

	var workdir string
	var env []string
	if r.execution != nil {
		workdir = r.execution.Workdir
		env = r.execution.Env
	}

	r.logger.Info("running on_failure hooks", "count", len(hooks))
	for index, hook := range hooks {
		expanded, err := pipeline.ExpandStep(hook, variables)
		if err != nil {
			r.logger.Warn("on_failure hook expansion failed", "hook", hook.Name, "error", err)
			r.recordHook(index, hook.Name, schema.StepStatusFailed, -1, 0, nil, err.Error())
			continue
		}

		timeout, gracePeriod := stepTimings(expanded)
		stepCtx := hookCtx
		cancel := func() {}
		if timeout > 0 {
			stepCtx, cancel = context.WithTimeout(hookCtx, timeout)
		}

		start := e.now()
		outcome := e.stepRunner().RunStep(stepCtx, expanded.Run, RunOptions{
			Workdir:     workdir,
			Env:         mergeStepEnv(env, expanded.Env),
			GracePeriod: gracePeriod,
		})
		cancel()
		duration := e.now().Sub(start)

		status := schema.StepStatusOK
		var message string
		if outcome.Err != nil || outcome.ExitCode != 0 {
			status = schema.StepStatusFailed
			if outcome.Err != nil {
				message = outcome.Err.Error()
			} else {
				message = fmt.Sprintf("exit code %d", outcome.ExitCode)
			}
			r.logger.Warn("on_failure hook failed", "hook", expanded.Name, "error", message)
		}
		r.recordHook(index, expanded.Name, status, outcome.ExitCode, duration, outcome.Output, message)
	}
}

func (r *run) recordStep(index int, name, status string, exitCode int, duration time.Duration, output []byte, stepError string) {
	r.result.Steps = append(r.result.Steps, schema.StepResult{
		Name:       name,
		Status:     status,
		ExitCode:   exitCode,
		DurationMS: duration.Milliseconds(),
		Output:     string(output),
		Error:      stepError,
	})
	r.executor.ResultLog.writeStepCompleted(index, name, status, exitCode, duration.Milliseconds(), stepError)
}

func (r *run) recordHook(index int, name, status string, exitCode int, duration time.Duration, output []byte, hookError string) {
	r.result.Hooks = append(r.result.Hooks, schema.StepResult{
		Name:       name,
		Status:     status,
		ExitCode:   exitCode,
		DurationMS: duration.Milliseconds(),
		Output:     string(output),
		Error:      hookError,
	})
	r.executor.ResultLog.writeStepCompleted(index, "on_failure:"+name, status, exitCode, duration.Milliseconds(), hookError)
}

// markSkipped records skipped outcomes for every step from index on.
func (r *run) markSkipped(from int) {
	for index := from; index < len(r.steps); index++ {
		r.recordStep(index, r.steps[index].Name, schema.StepStatusSkipped, 0, 0, nil, "")
	}
}

func (r *run) finish(conclusion string) *schema.RunResultContent {
	end := r.executor.now()
	r.result.Conclusion = conclusion
	r.result.CompletedAt = end.UTC().Format(time.RFC3339)
	r.result.DurationMS = end.Sub(r.start).Milliseconds()

	state := StateFailed
	switch conclusion {
	case schema.ConclusionSuccess:
		state = StateSucceeded
	case schema.ConclusionNotTriggered:
		state = StateNotTriggered
	}
	r.executor.setStatus(Status{
		RunID:     r.result.RunID,
		Pipeline:  r.content.Name,
		State:     state,
		StepIndex: r.result.FailedStepIndex,
		StepName:  r.result.FailedStep,
	})
	return r.result
}

func (r *run) elapsedMS() int64 {
	return r.executor.now().Sub(r.start).Milliseconds()
}

// expansionEnviron is the environment ${NAME} references resolve
// against: the provisioner's base environment with the pipeline's env
// overlay applied. Sealed values are exempt from expansion and are
// left out; they are decrypted later, during provisioning.
func (r *run) expansionEnviron() []string {
	base := r.executor.provisioner().Environ
	if base == nil {
		base = os.Environ()
	}
	if len(r.content.Env) == 0 {
		return base
	}
	merged := make([]string, len(base), len(base)+len(r.content.Env))
	copy(merged, base)
	for _, name := range sortedNames(r.content.Env) {
		value := r.content.Env[name]
		if sealed.IsSealed(value) {
			continue
		}
		merged = append(merged, name+"="+value)
	}
	return merged
}

// stepTimings returns the step's timeout (zero means unbounded) and
// grace period. The definition was validated at run entry, so parse
// failures cannot occur here; malformed values fall back to no
// timeout and the default grace period.
func stepTimings(step schema.PipelineStep) (timeout, gracePeriod time.Duration) {
	if step.Timeout != "" {
		timeout, _ = time.ParseDuration(step.Timeout)
	}
	gracePeriod = defaultGracePeriod
	if step.GracePeriod != "" {
		if parsed, err := time.ParseDuration(step.GracePeriod); err == nil {
			gracePeriod = parsed
		}
	}
	return timeout, gracePeriod
}

// mergeStepEnv appends the step overlay to the base environment in
// sorted order. exec gives later entries precedence, so the overlay
// wins on collisions.
func mergeStepEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	merged := make([]string, len(base), len(base)+len(overlay))
	copy(merged, base)
	for _, name := range sortedNames(overlay) {
		merged = append(merged, name+"="+overlay[name])
	}
	return merged
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/conveyor-ci/conveyor/lib/event"
)

// PipelineContentVersion is the current schema version for pipeline
// definition files. Readers reject definitions written for any other
// version rather than guessing at field semantics.
const PipelineContentVersion = 1

// PipelineContent is a pipeline definition as authored on disk, in
// YAML or JSONC. It declares when the pipeline runs (trigger rules),
// what environment its steps need (working directory, packages, env),
// and the ordered list of steps to execute.
//
// Declaration order is execution order. There is no conditional or
// parallel execution; a pipeline is a straight line that stops at the
// first failing step.
//
// Variable substitution (${NAME}) is applied to step commands and to
// env values before execution. See lib/pipeline for resolution order.
type PipelineContent struct {
	// Version is the definition schema version (see
	// PipelineContentVersion).
	Version int `json:"version" yaml:"version"`

	// Name identifies the pipeline in results, history, and logs.
	// Lowercase letters, digits, and hyphens only.
	Name string `json:"name" yaml:"name"`

	// Description is a human-readable summary of what this pipeline
	// does (shown by conveyor show).
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// On lists the trigger rules. An incoming event starts the
	// pipeline when at least one rule matches it. At least one rule
	// is required; a pipeline that never triggers is a definition
	// mistake, not a feature.
	On []TriggerRule `json:"on" yaml:"on"`

	// Workdir is the working directory steps execute in. When empty
	// the provisioner creates a fresh temporary directory per run and
	// removes it on release.
	Workdir string `json:"workdir,omitempty" yaml:"workdir,omitempty"`

	// Packages lists system packages the provisioner installs before
	// the first step runs. Installation failure aborts the run before
	// any step executes.
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`

	// Env is the pipeline-level environment overlay. Values here win
	// over the inherited process environment and lose to step-level
	// Env. Values may be sealed (see lib/sealed); sealed values are
	// decrypted during provisioning and never logged.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Variables declares expansion variables with their default
	// values. These are the lowest-priority source for ${NAME}
	// references; event variables and the process environment
	// override them.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Steps is the ordered list of steps. At least one is required.
	Steps []PipelineStep `json:"steps" yaml:"steps"`

	// OnFailure lists hook steps that run after the pipeline fails,
	// before the provisioned environment is released. Hooks see
	// FAILED_STEP and FAILED_ERROR variables, their outcomes are
	// recorded separately from step outcomes, and a failing hook
	// never changes the run's conclusion.
	OnFailure []PipelineStep `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// TriggerRule matches incoming events against a pipeline. A rule
// matches when the event kind equals Event and the event's branch is
// listed in Branches. Branch comparison is exact and case-sensitive;
// there are no wildcards.
//
// For pull_request events the compared branch is the target branch
// (the branch the change would merge into), not the head.
type TriggerRule struct {
	// Event is the event kind this rule accepts ("push" or
	// "pull_request").
	Event string `json:"event" yaml:"event"`

	// Branches lists the branches this rule accepts. Must be
	// non-empty; an empty list would silently never match.
	Branches []string `json:"branches" yaml:"branches"`
}

// PipelineStep is one command in a pipeline. Steps run sequentially
// via `sh -c` in their own process group, each with the merged
// environment (process, then pipeline Env, then step Env).
type PipelineStep struct {
	// Name identifies the step in results and logs. Required, unique
	// within its list.
	Name string `json:"name" yaml:"name"`

	// Run is the shell command to execute. Required.
	Run string `json:"run" yaml:"run"`

	// Timeout bounds the step's wall-clock time, as a Go duration
	// string ("15m", "1h"). Empty means no limit. On expiry the
	// step's process group gets SIGTERM, then SIGKILL after
	// GracePeriod.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracePeriod is how long the runner waits between SIGTERM and
	// SIGKILL when stopping the step. Empty means the default (5s).
	GracePeriod string `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`

	// AllowFailure lets the pipeline continue past this step when it
	// fails. The failure is still recorded (status "failed
	// (allowed)") but does not fail the run.
	AllowFailure bool `json:"allow_failure,omitempty" yaml:"allow_failure,omitempty"`

	// Env is the step-level environment overlay, highest priority.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// namePattern constrains pipeline names. Names appear in file paths,
// history rows, and log lines, so the character set stays small.
var namePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// variableNamePattern constrains declared variable names to what a
// ${NAME} reference can express.
var variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the definition for structural issues. Returns a list
// of human-readable issue descriptions; an empty list means the
// definition is valid. All issues are reported, not just the first, so
// a definition author can fix everything in one pass.
func (p *PipelineContent) Validate() []string {
	var issues []string

	switch {
	case p.Version == 0:
		issues = append(issues, fmt.Sprintf("version is required (current version is %d)", PipelineContentVersion))
	case p.Version != PipelineContentVersion:
		issues = append(issues, fmt.Sprintf("unsupported version %d (current version is %d)", p.Version, PipelineContentVersion))
	}

	if p.Name == "" {
		issues = append(issues, "name is required")
	} else if !namePattern.MatchString(p.Name) {
		issues = append(issues, fmt.Sprintf("invalid name %q (lowercase letters, digits, and hyphens only)", p.Name))
	}

	if len(p.On) == 0 {
		issues = append(issues, "at least one trigger rule is required")
	}
	for index, rule := range p.On {
		prefix := fmt.Sprintf("on[%d]", index)

		if rule.Event == "" {
			issues = append(issues, fmt.Sprintf("%s: event is required", prefix))
		} else if !event.KnownKind(rule.Event) {
			issues = append(issues, fmt.Sprintf("%s: unknown event %q (known events: %s, %s)",
				prefix, rule.Event, event.KindPush, event.KindPullRequest))
		}

		if len(rule.Branches) == 0 {
			issues = append(issues, fmt.Sprintf("%s: at least one branch is required", prefix))
		}
		seen := make(map[string]bool, len(rule.Branches))
		for branchIndex, branch := range rule.Branches {
			if branch == "" {
				issues = append(issues, fmt.Sprintf("%s: branches[%d] is empty", prefix, branchIndex))
				continue
			}
			if seen[branch] {
				issues = append(issues, fmt.Sprintf("%s: duplicate branch %q", prefix, branch))
			}
			seen[branch] = true
		}
	}

	issues = append(issues, validateEnv("env", p.Env)...)

	for _, name := range sortedKeys(p.Variables) {
		if !variableNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("variables: invalid name %q (letters, digits, and underscores, not starting with a digit)", name))
		}
	}

	if len(p.Steps) == 0 {
		issues = append(issues, "at least one step is required")
	}
	issues = append(issues, validateStepList("steps", p.Steps)...)
	issues = append(issues, validateStepList("on_failure", p.OnFailure)...)

	return issues
}

// validateStepList checks one step list (steps or on_failure).
// Field is the list's name in the definition, used to prefix issues.
func validateStepList(field string, steps []PipelineStep) []string {
	var issues []string

	nameIndex := make(map[string]int, len(steps))
	for index, step := range steps {
		prefix := fmt.Sprintf("%s[%d]", field, index)

		if step.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
		} else {
			prefix = fmt.Sprintf("%s[%d] %q", field, index, step.Name)
			if firstIndex, exists := nameIndex[step.Name]; exists {
				issues = append(issues, fmt.Sprintf("%s: duplicate step name (already used by %s[%d])", prefix, field, firstIndex))
			} else {
				nameIndex[step.Name] = index
			}
		}

		if step.Run == "" {
			issues = append(issues, fmt.Sprintf("%s: run is required", prefix))
		}

		if step.Timeout != "" {
			if duration, err := time.ParseDuration(step.Timeout); err != nil {
				issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, step.Timeout, err))
			} else if duration <= 0 {
				issues = append(issues, fmt.Sprintf("%s: timeout must be positive, got %q", prefix, step.Timeout))
			}
		}
		if step.GracePeriod != "" {
			if duration, err := time.ParseDuration(step.GracePeriod); err != nil {
				issues = append(issues, fmt.Sprintf("%s: invalid grace_period %q: %v", prefix, step.GracePeriod, err))
			} else if duration <= 0 {
				issues = append(issues, fmt.Sprintf("%s: grace_period must be positive, got %q", prefix, step.GracePeriod))
			}
		}

		issues = append(issues, validateEnv(prefix+": env", step.Env)...)
	}

	return issues
}

// validateEnv checks an environment overlay for empty variable names.
func validateEnv(field string, env map[string]string) []string {
	var issues []string
	for _, name := range sortedKeys(env) {
		if name == "" {
			issues = append(issues, fmt.Sprintf("%s: empty variable name", field))
		}
	}
	return issues
}

// sortedKeys returns the map's keys in sorted order so that validation
// output is deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

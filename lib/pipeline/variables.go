// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conveyor-ci/conveyor/lib/schema"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized; bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables merges the expansion variable sources in resolution
// order (lowest to highest priority):
//
//  1. Declared values from the pipeline's variables section
//  2. Event variables (EVENT_KIND and friends, see event.Variables)
//  3. The execution environment, in "NAME=value" form
//
// The environ argument is the environment steps will actually run
// with, after pipeline-level env overlays are applied; passing it
// rather than os.Environ keeps expansion consistent with what the
// shell itself would substitute. Entries without '=' are ignored.
func ResolveVariables(declarations map[string]string, eventVariables map[string]string, environ []string) map[string]string {
	resolved := make(map[string]string, len(declarations)+len(eventVariables)+len(environ))

	for name, value := range declarations {
		resolved[name] = value
	}
	for name, value := range eventVariables {
		resolved[name] = value
	}
	for _, entry := range environ {
		name, value, found := strings.Cut(entry, "=")
		if !found || name == "" {
			continue
		}
		resolved[name] = value
	}

	return resolved
}

// Expand replaces ${NAME} references in input with values from the
// variables map. Only the ${NAME} form is recognized (braces
// required); bare $NAME is left for shell interpretation.
//
// Returns an error listing all referenced variables that have no
// value in the map, so a definition with several bad references
// reports them in one pass.
func Expand(input string, variables map[string]string) (string, error) {
	var unresolved []string

	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract the variable name from ${NAME}.
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}

	return result, nil
}

// ExpandStep returns a copy of step with its command and env values
// expanded using Expand. Step-level env values are expanded first
// (against the passed variables only, no cross-referencing between
// env entries), then merged into the variable map for expanding the
// command. A run command can therefore reference the step's own env
// with ${NAME} and see the final value.
//
// The original step and variables map are not modified.
func ExpandStep(step schema.PipelineStep, variables map[string]string) (schema.PipelineStep, error) {
	var expandedEnv map[string]string
	if len(step.Env) > 0 {
		expandedEnv = make(map[string]string, len(step.Env))
		for name, value := range step.Env {
			expandedValue, err := Expand(value, variables)
			if err != nil {
				return schema.PipelineStep{}, fmt.Errorf("step %q env[%s]: %w", step.Name, name, err)
			}
			expandedEnv[name] = expandedValue
		}
	}

	// Step env takes precedence over the passed variables, matching
	// its precedence in the execution environment.
	merged := make(map[string]string, len(variables)+len(expandedEnv))
	for name, value := range variables {
		merged[name] = value
	}
	for name, value := range expandedEnv {
		merged[name] = value
	}

	expandedRun, err := Expand(step.Run, merged)
	if err != nil {
		return schema.PipelineStep{}, fmt.Errorf("step %q run: %w", step.Name, err)
	}

	step.Run = expandedRun
	step.Env = expandedEnv
	return step, nil
}

// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package show implements "conveyor show": print the parsed, expanded
// view of a pipeline definition.
package show

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/pipeline"
	"github.com/conveyor-ci/conveyor/lib/schema"
)

// Command returns the "show" command.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "show",
		Summary: "Print the parsed, expanded view of a definition",
		Description: `Parse and validate a pipeline definition, expand ${NAME} references
from the definition's variables and the process environment, and print
the result as formatted JSON. YAML and JSONC inputs produce the same
view, which makes this the quickest way to check what the engine will
actually see.

Event variables (EVENT_KIND, EVENT_BRANCH, ...) are unknown until a
run, so references to them stay literal here.`,
		Usage: "conveyor show <file>",
		Examples: []cli.Example{
			{
				Description: "Show the engine's view of a definition",
				Command:     "conveyor show ci.yaml",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one definition file is required")
			}

			content, err := pipeline.ReadFile(args[0])
			if err != nil {
				return err
			}
			if issues := content.Validate(); len(issues) > 0 {
				return fmt.Errorf("invalid pipeline %s:\n  %s", args[0], strings.Join(issues, "\n  "))
			}

			variables := pipeline.ResolveVariables(content.Variables, nil, os.Environ())
			expanded := *content
			expanded.Steps = expandSteps(content.Steps, variables)
			expanded.OnFailure = expandSteps(content.OnFailure, variables)

			return cli.WriteJSON(&expanded)
		},
	}
}

// expandSteps expands each step where every reference resolves. A step
// referencing an event variable stays literal; the run path treats
// those as errors only when they are still unresolved at run setup,
// with the event in hand.
func expandSteps(steps []schema.PipelineStep, variables map[string]string) []schema.PipelineStep {
	if steps == nil {
		return nil
	}
	expanded := make([]schema.PipelineStep, len(steps))
	for index, step := range steps {
		result, err := pipeline.ExpandStep(step, variables)
		if err != nil {
			result = step
		}
		expanded[index] = result
	}
	return expanded
}

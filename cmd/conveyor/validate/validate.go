// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package validate implements "conveyor validate": parse pipeline
// definition files and report every problem found.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/pipeline"
)

// fileResult is one file's validation outcome. Issues is always
// non-nil so --json output shows [] rather than null for valid files.
type fileResult struct {
	File   string   `json:"file"`
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// Command returns the "validate" command.
func Command() *cli.Command {
	var jsonOutput bool

	return &cli.Command{
		Name:    "validate",
		Summary: "Check pipeline definitions for problems",
		Description: `Parse and validate pipeline definition files. Every issue in every
file is reported, not just the first, so one pass shows everything
that needs fixing. The exit code is 1 if any file is invalid.`,
		Usage: "conveyor validate [flags] <file>...",
		Examples: []cli.Example{
			{
				Description: "Validate a single definition",
				Command:     "conveyor validate ci.yaml",
			},
			{
				Description: "Validate a directory of definitions for scripting",
				Command:     "conveyor validate --json pipelines/*.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
			flagSet.BoolVar(&jsonOutput, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return errors.New("at least one definition file is required")
			}

			results := make([]fileResult, 0, len(args))
			invalid := 0
			for _, path := range args {
				issues := validateFile(path)
				if len(issues) > 0 {
					invalid++
				}
				results = append(results, fileResult{
					File:   path,
					Valid:  len(issues) == 0,
					Issues: issues,
				})
			}

			if jsonOutput {
				if err := cli.WriteJSON(results); err != nil {
					return err
				}
			} else {
				for _, result := range results {
					if result.Valid {
						fmt.Printf("%s: ok\n", result.File)
						continue
					}
					fmt.Printf("%s:\n", result.File)
					for _, issue := range result.Issues {
						fmt.Printf("  %s\n", issue)
					}
				}
			}

			if invalid > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// validateFile returns the issues for one file. A file that cannot be
// read or parsed is reported as a single issue.
func validateFile(path string) []string {
	content, err := pipeline.ReadFile(path)
	if err != nil {
		return []string{err.Error()}
	}
	issues := content.Validate()
	if issues == nil {
		issues = []string{}
	}
	return issues
}

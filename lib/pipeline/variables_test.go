// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"strings"
	"testing"

	"github.com/conveyor-ci/conveyor/lib/schema"
)

func TestResolveVariables(t *testing.T) {
	t.Parallel()

	t.Run("declarations only", func(t *testing.T) {
		t.Parallel()

		resolved := ResolveVariables(map[string]string{"profile": "release", "jobs": "4"}, nil, nil)
		if resolved["profile"] != "release" {
			t.Errorf("profile = %q, want %q", resolved["profile"], "release")
		}
		if resolved["jobs"] != "4" {
			t.Errorf("jobs = %q, want %q", resolved["jobs"], "4")
		}
	})

	t.Run("event variables override declarations", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]string{"EVENT_BRANCH": "unknown"}
		eventVariables := map[string]string{"EVENT_BRANCH": "main", "EVENT_KIND": "push"}

		resolved := ResolveVariables(declarations, eventVariables, nil)
		if resolved["EVENT_BRANCH"] != "main" {
			t.Errorf("EVENT_BRANCH = %q, want %q", resolved["EVENT_BRANCH"], "main")
		}
		if resolved["EVENT_KIND"] != "push" {
			t.Errorf("EVENT_KIND = %q, want %q", resolved["EVENT_KIND"], "push")
		}
	})

	t.Run("environment overrides event variables", func(t *testing.T) {
		t.Parallel()

		eventVariables := map[string]string{"EVENT_KIND": "push"}
		environ := []string{"EVENT_KIND=forced", "PATH=/usr/bin"}

		resolved := ResolveVariables(nil, eventVariables, environ)
		if resolved["EVENT_KIND"] != "forced" {
			t.Errorf("EVENT_KIND = %q, want %q", resolved["EVENT_KIND"], "forced")
		}
		if resolved["PATH"] != "/usr/bin" {
			t.Errorf("PATH = %q, want %q", resolved["PATH"], "/usr/bin")
		}
	})

	t.Run("malformed environ entries ignored", func(t *testing.T) {
		t.Parallel()

		resolved := ResolveVariables(nil, nil, []string{"NOEQUALS", "=anonymous", "GOOD=yes"})
		if len(resolved) != 1 || resolved["GOOD"] != "yes" {
			t.Errorf("resolved = %v, want only GOOD=yes", resolved)
		}
	})

	t.Run("empty environ value resolves to empty string", func(t *testing.T) {
		t.Parallel()

		resolved := ResolveVariables(map[string]string{"FLAGS": "-v"}, nil, []string{"FLAGS="})
		if value, exists := resolved["FLAGS"]; !exists || value != "" {
			t.Errorf("FLAGS = %q (present %v), want empty override", value, exists)
		}
	})
}

func TestExpand(t *testing.T) {
	t.Parallel()

	variables := map[string]string{
		"profile": "release",
		"BRANCH":  "main",
		"_under":  "score",
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{
			name:  "single reference",
			input: "cargo build --profile ${profile}",
			want:  "cargo build --profile release",
		},
		{
			name:  "multiple references",
			input: "${profile}-${BRANCH}",
			want:  "release-main",
		},
		{
			name:  "underscore name",
			input: "${_under}",
			want:  "score",
		},
		{
			name:  "bare dollar left alone",
			input: "echo $HOME and $1",
			want:  "echo $HOME and $1",
		},
		{
			name:  "invalid reference shape left alone",
			input: "echo ${1bad} ${}",
			want:  "echo ${1bad} ${}",
		},
		{
			name:  "no references",
			input: "make test",
			want:  "make test",
		},
		{
			name:    "unresolved reference",
			input:   "deploy ${TARGET}",
			wantErr: "unresolved variables: TARGET",
		},
		{
			name:    "all unresolved references reported",
			input:   "${TARGET} ${REGION} ${TARGET}",
			wantErr: "unresolved variables: TARGET, REGION, TARGET",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got, err := Expand(test.input, variables)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("Expand(%q) = %q, want error", test.input, got)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Errorf("Expand(%q) error = %q, want containing %q", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand(%q): %v", test.input, err)
			}
			if got != test.want {
				t.Errorf("Expand(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestExpandStep(t *testing.T) {
	t.Parallel()

	t.Run("expands run and env", func(t *testing.T) {
		t.Parallel()

		step := schema.PipelineStep{
			Name: "test",
			Run:  "cargo test --profile ${profile}",
			Env:  map[string]string{"TARGET_BRANCH": "${EVENT_BRANCH}"},
		}
		variables := map[string]string{"profile": "release", "EVENT_BRANCH": "main"}

		expanded, err := ExpandStep(step, variables)
		if err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if expanded.Run != "cargo test --profile release" {
			t.Errorf("Run = %q, want expanded profile", expanded.Run)
		}
		if expanded.Env["TARGET_BRANCH"] != "main" {
			t.Errorf("Env[TARGET_BRANCH] = %q, want %q", expanded.Env["TARGET_BRANCH"], "main")
		}
	})

	t.Run("step env visible to run command", func(t *testing.T) {
		t.Parallel()

		step := schema.PipelineStep{
			Name: "build",
			Run:  "make OUT=${OUTPUT_DIR}",
			Env:  map[string]string{"OUTPUT_DIR": "/tmp/out"},
		}

		expanded, err := ExpandStep(step, nil)
		if err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if expanded.Run != "make OUT=/tmp/out" {
			t.Errorf("Run = %q, want step env substituted", expanded.Run)
		}
	})

	t.Run("step env wins over variables", func(t *testing.T) {
		t.Parallel()

		step := schema.PipelineStep{
			Name: "build",
			Run:  "echo ${MODE}",
			Env:  map[string]string{"MODE": "debug"},
		}
		variables := map[string]string{"MODE": "release"}

		expanded, err := ExpandStep(step, variables)
		if err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if expanded.Run != "echo debug" {
			t.Errorf("Run = %q, want step env to win", expanded.Run)
		}
	})

	t.Run("unresolved run reference", func(t *testing.T) {
		t.Parallel()

		step := schema.PipelineStep{Name: "deploy", Run: "deploy ${TARGET}"}

		_, err := ExpandStep(step, nil)
		if err == nil {
			t.Fatal("ExpandStep succeeded, want unresolved error")
		}
		if !strings.Contains(err.Error(), `step "deploy" run`) {
			t.Errorf("error = %q, want step name context", err)
		}
	})

	t.Run("unresolved env reference", func(t *testing.T) {
		t.Parallel()

		step := schema.PipelineStep{
			Name: "deploy",
			Run:  "true",
			Env:  map[string]string{"KEY": "${MISSING}"},
		}

		_, err := ExpandStep(step, nil)
		if err == nil {
			t.Fatal("ExpandStep succeeded, want unresolved error")
		}
		if !strings.Contains(err.Error(), `step "deploy" env[KEY]`) {
			t.Errorf("error = %q, want env key context", err)
		}
	})

	t.Run("original step unmodified", func(t *testing.T) {
		t.Parallel()

		step := schema.PipelineStep{
			Name: "test",
			Run:  "echo ${MODE}",
			Env:  map[string]string{"KEY": "${MODE}"},
		}
		variables := map[string]string{"MODE": "release"}

		if _, err := ExpandStep(step, variables); err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if step.Run != "echo ${MODE}" {
			t.Errorf("original Run mutated to %q", step.Run)
		}
		if step.Env["KEY"] != "${MODE}" {
			t.Errorf("original Env mutated to %v", step.Env)
		}
	})
}

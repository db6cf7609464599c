// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/lib/logstore"
	"github.com/conveyor-ci/conveyor/lib/schema"
)

func openTestStore(t *testing.T, outputs *logstore.Store) *Store {
	t.Helper()

	store, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "history_test.db"),
		PoolSize: 2,
		Outputs:  outputs,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	return store
}

func openTestOutputs(t *testing.T) *logstore.Store {
	t.Helper()

	outputs, err := logstore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("logstore.Open: %v", err)
	}
	return outputs
}

// successResult builds a two-step passing run. startedAt orders runs
// in List and Prune, so tests vary it per run.
func successResult(runID, pipeline, startedAt string) *schema.RunResultContent {
	return &schema.RunResultContent{
		Version:     schema.RunResultContentVersion,
		RunID:       runID,
		Pipeline:    pipeline,
		Event:       "push",
		Branch:      "main",
		Commit:      "4f6cb2a",
		Conclusion:  schema.ConclusionSuccess,
		StartedAt:   startedAt,
		CompletedAt: startedAt,
		DurationMS:  2400,
		StepCount:   2,
		Steps: []schema.StepResult{
			{Name: "lint", Status: schema.StepStatusOK, DurationMS: 900, Output: "lint: clean\n"},
			{Name: "test", Status: schema.StepStatusOK, DurationMS: 1500, Output: "ok  \t42 tests\n"},
		},
		FailedStepIndex: -1,
	}
}

func failureResult(runID, pipeline, startedAt string) *schema.RunResultContent {
	result := successResult(runID, pipeline, startedAt)
	result.Conclusion = schema.ConclusionFailure
	result.Steps[1] = schema.StepResult{
		Name:       "test",
		Status:     schema.StepStatusFailed,
		ExitCode:   2,
		DurationMS: 1500,
		Output:     "--- FAIL: TestResolve\n",
		Error:      "exit code 2",
	}
	result.FailedStepIndex = 1
	result.FailedStep = "test"
	result.ErrorMessage = `step "test": exit code 2`
	result.Hooks = []schema.StepResult{
		{Name: "notify", Status: schema.StepStatusOK, DurationMS: 30, Output: "sent\n"},
	}
	return result
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	want := failureResult("run-1", "build-and-test", "2026-02-14T09:30:00Z")
	if err := store.Record(ctx, want); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round-trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestRecordDuplicateRunID(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	result := successResult("run-1", "build-and-test", "2026-02-14T09:30:00Z")
	if err := store.Record(ctx, result); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := store.Record(ctx, result); err == nil {
		t.Fatal("second Record with the same run ID succeeded, want error")
	}
}

func TestGetMissingRun(t *testing.T) {
	store := openTestStore(t, nil)

	_, err := store.Get(context.Background(), "no-such-run")
	if err == nil {
		t.Fatal("Get of missing run succeeded, want error")
	}
	if !strings.Contains(err.Error(), "no run") {
		t.Errorf("error = %q, want mention of missing run", err)
	}
}

func TestRecordSpillsLargeOutput(t *testing.T) {
	outputs := openTestOutputs(t)
	store := openTestStore(t, outputs)
	ctx := context.Background()

	longOutput := strings.Repeat("compile: writing object file for internal/provision\n", 200)
	if len(longOutput) <= InlineOutputLimit {
		t.Fatalf("fixture output is %d bytes, need > %d", len(longOutput), InlineOutputLimit)
	}

	result := successResult("run-1", "build-and-test", "2026-02-14T09:30:00Z")
	result.Steps[1].Output = longOutput
	if err := store.Record(ctx, result); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Record works on copies: the caller's result keeps the output so
	// it can still be displayed after recording.
	if result.Steps[1].Output != longOutput {
		t.Error("Record modified the caller's result")
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	spilled := got.Steps[1]
	if spilled.Output != "" {
		t.Errorf("spilled step kept %d bytes inline, want none", len(spilled.Output))
	}
	if spilled.OutputHash == "" {
		t.Fatal("spilled step has no output hash")
	}
	if !outputs.Has(spilled.OutputHash) {
		t.Errorf("log store has no entry for %s", spilled.OutputHash)
	}

	fetched, err := store.Output(&spilled)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if string(fetched) != longOutput {
		t.Errorf("fetched output differs: got %d bytes, want %d", len(fetched), len(longOutput))
	}

	// Small outputs stay inline and Output returns them directly.
	inline := got.Steps[0]
	if inline.OutputHash != "" {
		t.Errorf("small output was spilled to %s", inline.OutputHash)
	}
	fetched, err = store.Output(&inline)
	if err != nil {
		t.Fatalf("Output (inline): %v", err)
	}
	if string(fetched) != "lint: clean\n" {
		t.Errorf("inline output = %q, want %q", fetched, "lint: clean\n")
	}
}

func TestListFilters(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	runs := []*schema.RunResultContent{
		successResult("run-1", "build-and-test", "2026-02-14T09:30:00Z"),
		failureResult("run-2", "build-and-test", "2026-02-14T09:45:00Z"),
		successResult("run-3", "deploy", "2026-02-14T10:00:00Z"),
	}
	runs[2].Branch = "release"
	for _, run := range runs {
		if err := store.Record(ctx, run); err != nil {
			t.Fatalf("Record %s: %v", run.RunID, err)
		}
	}

	// Unfiltered, newest first.
	all, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List (all): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d summaries, want 3", len(all))
	}
	if all[0].RunID != "run-3" || all[2].RunID != "run-1" {
		t.Errorf("order = [%s %s %s], want newest first", all[0].RunID, all[1].RunID, all[2].RunID)
	}
	if all[1].FailedStep != "test" {
		t.Errorf("failure summary FailedStep = %q, want %q", all[1].FailedStep, "test")
	}

	// By pipeline.
	byPipeline, err := store.List(ctx, ListFilter{Pipeline: "build-and-test"})
	if err != nil {
		t.Fatalf("List (pipeline): %v", err)
	}
	if len(byPipeline) != 2 {
		t.Errorf("pipeline filter: got %d summaries, want 2", len(byPipeline))
	}

	// By conclusion.
	failures, err := store.List(ctx, ListFilter{Conclusion: schema.ConclusionFailure})
	if err != nil {
		t.Fatalf("List (conclusion): %v", err)
	}
	if len(failures) != 1 || failures[0].RunID != "run-2" {
		t.Errorf("conclusion filter = %+v, want only run-2", failures)
	}

	// By branch.
	release, err := store.List(ctx, ListFilter{Branch: "release"})
	if err != nil {
		t.Fatalf("List (branch): %v", err)
	}
	if len(release) != 1 || release[0].RunID != "run-3" {
		t.Errorf("branch filter = %+v, want only run-3", release)
	}

	// Limit applies after ordering.
	limited, err := store.List(ctx, ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List (limit): %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-3" {
		t.Errorf("limit 1 = %+v, want only run-3", limited)
	}
}

func TestPruneRemovesOldRuns(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	runs := []*schema.RunResultContent{
		successResult("run-1", "build-and-test", "2026-02-10T09:00:00Z"),
		successResult("run-2", "deploy", "2026-02-12T09:30:00Z"),
		successResult("run-3", "build-and-test", "2026-02-14T10:00:00Z"),
		successResult("run-4", "deploy", "2026-02-14T11:00:00Z"),
	}
	for _, run := range runs {
		if err := store.Record(ctx, run); err != nil {
			t.Fatalf("Record %s: %v", run.RunID, err)
		}
	}

	cutoff := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC)
	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	remaining, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, summary := range remaining {
		ids = append(ids, summary.RunID)
	}
	if !reflect.DeepEqual(ids, []string{"run-4", "run-3"}) {
		t.Errorf("surviving runs = %v, want [run-4 run-3]", ids)
	}

	// Steps of pruned runs cascade with their run row.
	if _, err := store.Get(ctx, "run-1"); err == nil {
		t.Error("pruned run is still readable")
	}

	// A second prune with the same cutoff is a no-op.
	removed, err = store.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("second Prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("second prune removed %d runs, want 0", removed)
	}
}

func TestPruneRemovesOrphanedOutputs(t *testing.T) {
	outputs := openTestOutputs(t)
	store := openTestStore(t, outputs)
	ctx := context.Background()

	sharedOutput := strings.Repeat("fetching module dependencies\n", 300)
	uniqueOutput := strings.Repeat("--- FAIL: TestProvision (0.03s)\n", 300)

	older := successResult("run-1", "build-and-test", "2026-02-14T09:00:00Z")
	older.Steps[0].Output = sharedOutput
	older.Steps[1].Output = uniqueOutput

	newer := successResult("run-2", "build-and-test", "2026-02-14T10:00:00Z")
	newer.Steps[0].Output = sharedOutput

	for _, run := range []*schema.RunResultContent{older, newer} {
		if err := store.Record(ctx, run); err != nil {
			t.Fatalf("Record %s: %v", run.RunID, err)
		}
	}

	sharedKey := logstore.FormatKey(logstore.HashOutput([]byte(sharedOutput)))
	uniqueKey := logstore.FormatKey(logstore.HashOutput([]byte(uniqueOutput)))
	if !outputs.Has(sharedKey) || !outputs.Has(uniqueKey) {
		t.Fatal("expected both outputs in the log store before pruning")
	}

	removed, err := store.Prune(ctx, time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// The unique output lost its last reference; the shared output is
	// still referenced by the surviving run.
	if outputs.Has(uniqueKey) {
		t.Error("orphaned output survived pruning")
	}
	if !outputs.Has(sharedKey) {
		t.Error("shared output was removed while still referenced")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty path succeeded, want error")
	}
}

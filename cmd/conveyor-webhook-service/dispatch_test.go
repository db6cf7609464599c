// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/pipeline"
	"github.com/conveyor-ci/conveyor/lib/schema"
	"github.com/conveyor-ci/conveyor/lib/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseTestPipeline(t *testing.T, source string) loadedPipeline {
	t.Helper()
	content, err := pipeline.ParseYAML([]byte(source))
	if err != nil {
		t.Fatalf("parsing pipeline: %v", err)
	}
	if issues := content.Validate(); len(issues) > 0 {
		t.Fatalf("invalid pipeline: %v", issues)
	}
	return loadedPipeline{path: content.Name + ".yaml", content: content}
}

func newTestDispatcher(t *testing.T, historyPath string, pipelines ...loadedPipeline) *Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dispatcher, err := NewDispatcher(ctx, DispatcherConfig{
		Pipelines:   pipelines,
		HistoryPath: historyPath,
		RecentRuns:  10,
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return dispatcher
}

// waitForRuns fails the test if started runs don't finish in time.
func waitForRuns(t *testing.T, dispatcher *Dispatcher) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("runs did not finish")
	}
}

func pushEvent(branch string) *event.Event {
	return &event.Event{
		Kind:   event.KindPush,
		Branch: branch,
		Commit: "4f6cb2a",
		Actor:  "tester",
	}
}

const mainPipeline = `
version: 1
name: main-ci
on:
  - event: push
    branches: [main]
steps:
  - name: check
    run: "true"
`

const productionPipeline = `
version: 1
name: deploy-ci
on:
  - event: push
    branches: [production]
steps:
  - name: deploy
    run: "true"
`

const sleepPipeline = `
version: 1
name: slow-ci
on:
  - event: push
    branches: [main]
steps:
  - name: wait
    run: sleep 30
`

func TestDispatcherRunsMatchingPipeline(t *testing.T) {
	dispatcher := newTestDispatcher(t, "",
		parseTestPipeline(t, mainPipeline),
		parseTestPipeline(t, productionPipeline),
	)
	defer dispatcher.Close()

	dispatcher.HandleEvent(pushEvent("main"))
	waitForRuns(t, dispatcher)

	recent := dispatcher.recent.snapshot()
	if len(recent) != 1 {
		t.Fatalf("recent runs = %d, want 1 (only main-ci matches)", len(recent))
	}
	if recent[0].Pipeline != "main-ci" {
		t.Errorf("pipeline = %q, want %q", recent[0].Pipeline, "main-ci")
	}
	if recent[0].Conclusion != schema.ConclusionSuccess {
		t.Errorf("conclusion = %q, want %q", recent[0].Conclusion, schema.ConclusionSuccess)
	}
	if recent[0].RunID == "" {
		t.Error("recent run has no run ID")
	}

	if active := dispatcher.statusResponse().Active; len(active) != 0 {
		t.Errorf("active runs after completion = %d, want 0", len(active))
	}
}

func TestDispatcherNoMatchStartsNothing(t *testing.T) {
	dispatcher := newTestDispatcher(t, "", parseTestPipeline(t, mainPipeline))
	defer dispatcher.Close()

	dispatcher.HandleEvent(pushEvent("docs"))
	waitForRuns(t, dispatcher)

	if recent := dispatcher.recent.snapshot(); len(recent) != 0 {
		t.Errorf("recent runs = %d, want 0", len(recent))
	}
}

func TestDispatcherRecordsHistory(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), "runs.db")
	dispatcher := newTestDispatcher(t, historyPath, parseTestPipeline(t, mainPipeline))

	dispatcher.HandleEvent(pushEvent("main"))
	waitForRuns(t, dispatcher)
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("closing dispatcher: %v", err)
	}

	store, err := history.Open(history.Config{Path: historyPath})
	if err != nil {
		t.Fatalf("opening history: %v", err)
	}
	defer store.Close()

	summaries, err := store.List(context.Background(), history.ListFilter{})
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("history has %d runs, want 1", len(summaries))
	}
	if summaries[0].Pipeline != "main-ci" {
		t.Errorf("recorded pipeline = %q, want %q", summaries[0].Pipeline, "main-ci")
	}
	if summaries[0].Conclusion != schema.ConclusionSuccess {
		t.Errorf("recorded conclusion = %q, want %q", summaries[0].Conclusion, schema.ConclusionSuccess)
	}
}

func TestDispatcherCancelByID(t *testing.T) {
	dispatcher := newTestDispatcher(t, "", parseTestPipeline(t, sleepPipeline))
	defer dispatcher.Close()

	dispatcher.HandleEvent(pushEvent("main"))

	// Wait for the run to reach its step.
	var runID string
	deadline := time.Now().Add(10 * time.Second)
	for {
		active := dispatcher.statusResponse().Active
		if len(active) == 1 && active[0].State == "running" {
			runID = active[0].RunID
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached the running state")
		}
		time.Sleep(10 * time.Millisecond)
	}

	response, err := dispatcher.cancelByID(runID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if response.RunID != runID {
		t.Errorf("cancelled run = %q, want %q", response.RunID, runID)
	}

	waitForRuns(t, dispatcher)

	recent := dispatcher.recent.snapshot()
	if len(recent) != 1 {
		t.Fatalf("recent runs = %d, want 1", len(recent))
	}
	if !recent[0].Cancelled {
		t.Error("recent run is not marked cancelled")
	}
	if recent[0].Conclusion != schema.ConclusionFailure {
		t.Errorf("conclusion = %q, want %q", recent[0].Conclusion, schema.ConclusionFailure)
	}
}

func TestDispatcherCancelErrors(t *testing.T) {
	dispatcher := newTestDispatcher(t, "", parseTestPipeline(t, mainPipeline))
	defer dispatcher.Close()

	if _, err := dispatcher.cancelByID(""); err == nil || !strings.Contains(err.Error(), "run_id is required") {
		t.Errorf("empty run ID returned %v, want required error", err)
	}
	if _, err := dispatcher.cancelByID("ghost"); err == nil || !strings.Contains(err.Error(), `no active run "ghost"`) {
		t.Errorf("unknown run ID returned %v, want no-active-run error", err)
	}
}

func TestRecentRing(t *testing.T) {
	ring := newRecentRing(2)

	if got := ring.snapshot(); len(got) != 0 {
		t.Errorf("empty ring snapshot has %d entries", len(got))
	}

	ring.add(service.RecentRun{RunID: "run-1"})
	ring.add(service.RecentRun{RunID: "run-2"})
	ring.add(service.RecentRun{RunID: "run-3"})

	got := ring.snapshot()
	if len(got) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(got))
	}
	if got[0].RunID != "run-3" || got[1].RunID != "run-2" {
		t.Errorf("snapshot order = [%s, %s], want newest first [run-3, run-2]", got[0].RunID, got[1].RunID)
	}
}

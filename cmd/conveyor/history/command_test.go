// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreRequiresHistoryFlag(t *testing.T) {
	_, err := openStore("", "", discardLogger())
	if err == nil || !strings.Contains(err.Error(), "--history is required") {
		t.Errorf("openStore with no path returned %v, want --history error", err)
	}
}

func TestOpenStoreWithLogStore(t *testing.T) {
	dir := t.TempDir()
	store, err := openStore(filepath.Join(dir, "runs.db"), filepath.Join(dir, "outputs"), discardLogger())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestConclusionCell(t *testing.T) {
	tests := []struct {
		name    string
		summary history.Summary
		want    string
	}{
		{
			name:    "success passes through",
			summary: history.Summary{Conclusion: schema.ConclusionSuccess},
			want:    "success",
		},
		{
			name:    "not triggered passes through",
			summary: history.Summary{Conclusion: schema.ConclusionNotTriggered},
			want:    "not_triggered",
		},
		{
			name:    "failure names the step",
			summary: history.Summary{Conclusion: schema.ConclusionFailure, FailedStep: "test"},
			want:    "failure (test)",
		},
		{
			name:    "cancelled failure",
			summary: history.Summary{Conclusion: schema.ConclusionFailure, Cancelled: true, FailedStep: "deploy"},
			want:    "failure (cancelled)",
		},
		{
			name:    "provisioning failure has no step",
			summary: history.Summary{Conclusion: schema.ConclusionFailure},
			want:    "failure",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := conclusionCell(&test.summary); got != test.want {
				t.Errorf("conclusionCell = %q, want %q", got, test.want)
			}
		})
	}
}

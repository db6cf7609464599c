// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// ResultLog writes structured JSONL to a file during a run. Each line
// is an independent JSON object, synced as it is written: a crash
// mid-run leaves a parseable prefix, and a supervisor can tail the
// file for step-by-step progress.
//
// A nil *ResultLog is valid and disables logging; all methods are
// nil-safe no-ops.
type ResultLog struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
}

// NewResultLog creates a JSONL result log at the given path,
// truncating any existing content. The logger receives write
// failures; nil means slog.Default.
func NewResultLog(path string, logger *slog.Logger) (*ResultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the result log file.
func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *ResultLog) writeRunStarted(runID, pipeline string, stepCount int, timestamp string) {
	if r == nil {
		return
	}
	r.write(runStartedEntry{
		Type:      "run_started",
		RunID:     runID,
		Pipeline:  pipeline,
		StepCount: stepCount,
		Timestamp: timestamp,
	})
}

func (r *ResultLog) writeStepCompleted(index int, name, status string, exitCode int, durationMS int64, stepError string) {
	if r == nil {
		return
	}
	r.write(stepCompletedEntry{
		Type:       "step_completed",
		Index:      index,
		Name:       name,
		Status:     status,
		ExitCode:   exitCode,
		DurationMS: durationMS,
		Error:      stepError,
	})
}

func (r *ResultLog) writeRunCompleted(durationMS int64) {
	if r == nil {
		return
	}
	r.write(runCompletedEntry{
		Type:       "run_completed",
		Conclusion: "success",
		DurationMS: durationMS,
	})
}

func (r *ResultLog) writeRunFailed(failedStep string, failedStepIndex int, errorMessage string, durationMS int64) {
	if r == nil {
		return
	}
	r.write(runFailedEntry{
		Type:            "run_failed",
		FailedStep:      failedStep,
		FailedStepIndex: failedStepIndex,
		Error:           errorMessage,
		DurationMS:      durationMS,
	})
}

func (r *ResultLog) writeRunCancelled(step, errorMessage string, durationMS int64) {
	if r == nil {
		return
	}
	r.write(runCancelledEntry{
		Type:       "run_cancelled",
		Step:       step,
		Error:      errorMessage,
		DurationMS: durationMS,
	})
}

func (r *ResultLog) write(entry any) {
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	// Sync after each line so that partial results survive a crash
	// and are visible to tailing readers immediately.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// JSONL entry types. Each struct documents exactly which fields appear
// in that line type.

// runStartedEntry is the first line, written once the run is
// triggered.
type runStartedEntry struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Pipeline  string `json:"pipeline"`
	StepCount int    `json:"step_count"`
	Timestamp string `json:"timestamp"`
}

// stepCompletedEntry is written after each step or hook finishes.
// Hook entries carry an "on_failure:" name prefix.
type stepCompletedEntry struct {
	Type       string `json:"type"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// runCompletedEntry is the last line of a successful run.
type runCompletedEntry struct {
	Type       string `json:"type"`
	Conclusion string `json:"conclusion"`
	DurationMS int64  `json:"duration_ms"`
}

// runFailedEntry is the last line when the run fails. FailedStep is
// empty and FailedStepIndex is -1 for failures before the first step
// (setup and provisioning errors).
type runFailedEntry struct {
	Type            string `json:"type"`
	FailedStep      string `json:"failed_step"`
	FailedStepIndex int    `json:"failed_step_index"`
	Error           string `json:"error"`
	DurationMS      int64  `json:"duration_ms"`
}

// runCancelledEntry is the last line when the run is cancelled. Step
// names the step that was executing or about to execute.
type runCancelledEntry struct {
	Type       string `json:"type"`
	Step       string `json:"step"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

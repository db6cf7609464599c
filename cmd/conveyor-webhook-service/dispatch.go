// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/lib/codec"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/executor"
	"github.com/conveyor-ci/conveyor/lib/history"
	"github.com/conveyor-ci/conveyor/lib/logstore"
	"github.com/conveyor-ci/conveyor/lib/provision"
	"github.com/conveyor-ci/conveyor/lib/schema"
	"github.com/conveyor-ci/conveyor/lib/service"
	"github.com/conveyor-ci/conveyor/lib/trigger"
)

// historyTimeout bounds each post-run history write. Recording uses
// its own context so runs cancelled during shutdown are still
// recorded.
const historyTimeout = 10 * time.Second

// loadedPipeline is one startup-validated pipeline definition.
type loadedPipeline struct {
	path    string
	content *schema.PipelineContent
}

// Dispatcher evaluates repository events against the loaded pipelines
// and runs each match on its own goroutine. Runs are fully
// independent: every run gets its own Executor and its own cancel
// function, and a failure in one never affects another.
type Dispatcher struct {
	pipelines      []loadedPipeline
	identityPath   string
	installCommand []string
	logger         *slog.Logger

	// store is the run history database, nil when recording is
	// disabled. Opened once for the service lifetime; the SQLite
	// pool handles concurrent writers.
	store *history.Store

	// recent is the bounded ring of completed runs served by the
	// status action.
	recent *recentRing

	// baseCtx is the parent of every run context. Runs must outlive
	// the webhook request that triggered them, so they derive from
	// the service lifetime instead: cancelling it (shutdown) cancels
	// all in-flight runs.
	baseCtx context.Context

	mu     sync.Mutex
	active map[*activeRun]struct{}
	wg     sync.WaitGroup
}

// activeRun tracks one in-flight run for status and cancellation.
type activeRun struct {
	exec   *executor.Executor
	cancel context.CancelFunc
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Pipelines are the startup-validated definitions to evaluate.
	Pipelines []loadedPipeline

	// IdentityPath is the age identity for unsealing pipeline
	// secrets. Optional.
	IdentityPath string

	// InstallCommand is the package installer invocation, argv
	// style. Optional.
	InstallCommand []string

	// HistoryPath is the run history database. Empty disables
	// recording.
	HistoryPath string

	// LogStoreDir is the step-output archive, attached to the
	// history store when set.
	LogStoreDir string

	// RecentRuns is the completed-run ring capacity.
	RecentRuns int

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewDispatcher creates a dispatcher. Runs started by HandleEvent
// derive their contexts from ctx; cancelling it cancels every
// in-flight run.
func NewDispatcher(ctx context.Context, config DispatcherConfig) (*Dispatcher, error) {
	if config.Logger == nil {
		panic("Dispatcher: Logger is required")
	}

	dispatcher := &Dispatcher{
		pipelines:      config.Pipelines,
		identityPath:   config.IdentityPath,
		installCommand: config.InstallCommand,
		logger:         config.Logger,
		recent:         newRecentRing(config.RecentRuns),
		baseCtx:        ctx,
		active:         make(map[*activeRun]struct{}),
	}

	if config.HistoryPath != "" {
		var outputs *logstore.Store
		if config.LogStoreDir != "" {
			var err error
			outputs, err = logstore.Open(config.LogStoreDir, config.Logger)
			if err != nil {
				return nil, err
			}
		}
		store, err := history.Open(history.Config{
			Path:    config.HistoryPath,
			Outputs: outputs,
			Logger:  config.Logger,
		})
		if err != nil {
			return nil, err
		}
		dispatcher.store = store
	}

	return dispatcher, nil
}

// Close waits for in-flight runs and releases the history store.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Wait blocks until every started run has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleEvent starts one run per pipeline whose trigger rules match
// the event. Non-matching pipelines are skipped entirely: the service
// never records not-triggered runs, it just doesn't start them.
func (d *Dispatcher) HandleEvent(evt *event.Event) {
	for _, loaded := range d.pipelines {
		if !trigger.Matches(loaded.content.On, evt) {
			d.logger.Debug("event does not trigger pipeline",
				"pipeline", loaded.content.Name,
				"event", evt.Kind,
				"branch", evt.MatchBranch(),
			)
			continue
		}
		d.startRun(loaded, evt)
	}
}

// startRun launches one pipeline run on its own goroutine.
func (d *Dispatcher) startRun(loaded loadedPipeline, evt *event.Event) {
	runCtx, cancel := context.WithCancel(d.baseCtx)

	provisioner := &provision.Provisioner{
		IdentityPath: d.identityPath,
		Logger:       d.logger,
	}
	if len(d.installCommand) > 0 {
		provisioner.Installer = &provision.CommandInstaller{Command: d.installCommand}
	}

	run := &activeRun{
		exec: &executor.Executor{
			Provisioner: provisioner,
			Logger:      d.logger,
		},
		cancel: cancel,
	}

	d.mu.Lock()
	d.active[run] = struct{}{}
	d.mu.Unlock()

	d.logger.Info("starting run",
		"pipeline", loaded.content.Name,
		"definition", loaded.path,
		"event", evt.Kind,
		"branch", evt.MatchBranch(),
		"delivery", evt.Delivery,
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		result := run.exec.Run(runCtx, loaded.content, evt)

		d.mu.Lock()
		delete(d.active, run)
		d.mu.Unlock()

		d.recent.add(service.RecentRun{
			RunID:      result.RunID,
			Pipeline:   result.Pipeline,
			Conclusion: result.Conclusion,
			Cancelled:  result.Cancelled,
			StartedAt:  result.StartedAt,
			DurationMS: result.DurationMS,
			FailedStep: result.FailedStep,
		})
		d.recordHistory(result)

		d.logger.Info("run completed",
			"pipeline", result.Pipeline,
			"run_id", result.RunID,
			"conclusion", result.Conclusion,
			"duration_ms", result.DurationMS,
		)
	}()
}

// recordHistory stores a completed result. Failures are logged, never
// propagated: bookkeeping problems don't change run outcomes.
func (d *Dispatcher) recordHistory(result *schema.RunResultContent) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := d.store.Record(ctx, result); err != nil {
		d.logger.Warn("history not recorded", "run_id", result.RunID, "error", err)
	}
}

// statusResponse snapshots the in-flight runs and the recent ring.
func (d *Dispatcher) statusResponse() service.StatusResponse {
	response := service.StatusResponse{}

	d.mu.Lock()
	for run := range d.active {
		status := run.exec.Status()
		if status.RunID == "" {
			// The run goroutine hasn't reached Run yet.
			continue
		}
		response.Active = append(response.Active, service.RunStatus{
			RunID:     status.RunID,
			Pipeline:  status.Pipeline,
			State:     status.State,
			StepIndex: status.StepIndex,
			StepName:  status.StepName,
		})
	}
	d.mu.Unlock()

	sort.Slice(response.Active, func(i, j int) bool {
		return response.Active[i].RunID < response.Active[j].RunID
	})
	response.Recent = d.recent.snapshot()
	return response
}

// cancelByID cancels the in-flight run with the given ID. Unlike a
// `conveyor run` server, the service can host several concurrent
// runs, so an empty run ID is rejected rather than guessed.
func (d *Dispatcher) cancelByID(runID string) (service.CancelResponse, error) {
	if runID == "" {
		return service.CancelResponse{}, fmt.Errorf("run_id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for run := range d.active {
		if run.exec.Status().RunID == runID {
			run.cancel()
			return service.CancelResponse{RunID: runID}, nil
		}
	}
	return service.CancelResponse{}, fmt.Errorf("no active run %q", runID)
}

// RegisterActions wires the dispatcher's control actions onto a
// socket server.
func (d *Dispatcher) RegisterActions(server *service.SocketServer) {
	server.Handle(service.ActionStatus, func(context.Context, []byte) (any, error) {
		return d.statusResponse(), nil
	})
	server.Handle(service.ActionCancel, func(_ context.Context, raw []byte) (any, error) {
		var request service.CancelRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid cancel request: %v", err)
		}
		return d.cancelByID(request.RunID)
	})
	server.Handle(service.ActionPing, func(context.Context, []byte) (any, error) {
		return nil, nil
	})
}

// recentRing is a fixed-capacity ring of completed runs, newest
// overwrites oldest.
type recentRing struct {
	mu      sync.Mutex
	entries []service.RecentRun
	next    int
	size    int
}

func newRecentRing(capacity int) *recentRing {
	if capacity <= 0 {
		capacity = 50
	}
	return &recentRing{entries: make([]service.RecentRun, capacity)}
}

func (r *recentRing) add(run service.RecentRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = run
	r.next = (r.next + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// snapshot returns the ring contents, newest first.
func (r *recentRing) snapshot() []service.RecentRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs := make([]service.RecentRun, 0, r.size)
	for i := 1; i <= r.size; i++ {
		index := (r.next - i + len(r.entries)) % len(r.entries)
		runs = append(runs, r.entries[index])
	}
	return runs
}

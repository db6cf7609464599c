// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package history stores run results in SQLite. Each recorded run is
// one row in `runs` plus one row per step and hook outcome in
// `run_steps`. Step outputs above the inline limit are moved to the
// log store and referenced by hash, so the database stays small while
// identical outputs across runs are stored once.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/conveyor-ci/conveyor/lib/logstore"
	"github.com/conveyor-ci/conveyor/lib/schema"
	"github.com/conveyor-ci/conveyor/lib/sqlitepool"
)

// InlineOutputLimit is the largest step output stored directly in the
// database. Larger outputs go to the log store and the row keeps only
// the hash.
const InlineOutputLimit = 4096

// storeSchema is created on every connection; all statements are
// idempotent. Step rows cascade with their run row (the pool opens
// connections with foreign keys ON).
const storeSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id            TEXT PRIMARY KEY,
		version           INTEGER NOT NULL,
		pipeline          TEXT NOT NULL,
		event             TEXT NOT NULL,
		branch            TEXT NOT NULL,
		commit_sha        TEXT NOT NULL DEFAULT '',
		conclusion        TEXT NOT NULL,
		cancelled         INTEGER NOT NULL DEFAULT 0,
		started_at        TEXT NOT NULL,
		completed_at      TEXT NOT NULL,
		duration_ms       INTEGER NOT NULL,
		step_count        INTEGER NOT NULL,
		failed_step_index INTEGER NOT NULL,
		failed_step       TEXT NOT NULL DEFAULT '',
		error_message     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS run_steps (
		run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		hook        INTEGER NOT NULL DEFAULT 0,
		position    INTEGER NOT NULL,
		name        TEXT NOT NULL,
		status      TEXT NOT NULL,
		exit_code   INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		output      TEXT NOT NULL DEFAULT '',
		output_hash TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, hook, position)
	);
	CREATE INDEX IF NOT EXISTS idx_run_steps_hash ON run_steps(output_hash) WHERE output_hash != '';
`

// Config holds the parameters for opening a history store.
type Config struct {
	// Path is the SQLite database file. Required; the parent
	// directory must exist.
	Path string

	// PoolSize is the connection pool size. Zero means the pool's
	// default.
	PoolSize int

	// Outputs is the log store for step outputs above
	// InlineOutputLimit. Nil keeps all outputs inline.
	Outputs *logstore.Store

	// Logger receives operational messages. Nil means no logging.
	Logger *slog.Logger
}

// Store is the SQLite-backed run history. Safe for concurrent use.
type Store struct {
	pool    *sqlitepool.Pool
	outputs *logstore.Store
	logger  *slog.Logger
}

// Open opens (creating if needed) the history database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history store: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}

	return &Store{pool: pool, outputs: cfg.Outputs, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Record persists one run result. The caller's result is not
// modified; outputs above the inline limit are stored in the log
// store and only their hash lands in the row. Results are write-once:
// recording the same run ID twice is an error.
func (s *Store) Record(ctx context.Context, result *schema.RunResultContent) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history store: record: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `INSERT INTO runs
		(run_id, version, pipeline, event, branch, commit_sha,
		 conclusion, cancelled, started_at, completed_at, duration_ms,
		 step_count, failed_step_index, failed_step, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				result.RunID,
				result.Version,
				result.Pipeline,
				result.Event,
				result.Branch,
				result.Commit,
				result.Conclusion,
				boolToInt(result.Cancelled),
				result.StartedAt,
				result.CompletedAt,
				result.DurationMS,
				result.StepCount,
				result.FailedStepIndex,
				result.FailedStep,
				result.ErrorMessage,
			},
		})
	if err != nil {
		return fmt.Errorf("history store: insert run %s: %w", result.RunID, err)
	}

	for position := range result.Steps {
		if err = s.insertStep(conn, result.RunID, 0, position, &result.Steps[position]); err != nil {
			return err
		}
	}
	for position := range result.Hooks {
		if err = s.insertStep(conn, result.RunID, 1, position, &result.Hooks[position]); err != nil {
			return err
		}
	}

	s.logger.Info("run recorded",
		"run_id", result.RunID,
		"pipeline", result.Pipeline,
		"conclusion", result.Conclusion,
	)
	return nil
}

// insertStep writes one step or hook row, spilling a large output to
// the log store first.
func (s *Store) insertStep(conn *sqlite.Conn, runID string, hook, position int, step *schema.StepResult) error {
	output := step.Output
	outputHash := step.OutputHash
	if s.outputs != nil && outputHash == "" && len(output) > InlineOutputLimit {
		key, err := s.outputs.Put([]byte(output))
		if err != nil {
			return fmt.Errorf("history store: storing output for %s step %q: %w", runID, step.Name, err)
		}
		outputHash = key
		output = ""
	}

	err := sqlitex.Execute(conn, `INSERT INTO run_steps
		(run_id, hook, position, name, status, exit_code, duration_ms,
		 output, output_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				runID,
				hook,
				position,
				step.Name,
				step.Status,
				step.ExitCode,
				step.DurationMS,
				output,
				outputHash,
				step.Error,
			},
		})
	if err != nil {
		return fmt.Errorf("history store: insert step %q of %s: %w", step.Name, runID, err)
	}
	return nil
}

// Get returns the stored result for a run ID. Outputs that were
// spilled to the log store come back with OutputHash set and Output
// empty; [Store.Output] fetches the bytes.
func (s *Store) Get(ctx context.Context, runID string) (*schema.RunResultContent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history store: get: %w", err)
	}
	defer s.pool.Put(conn)

	var result *schema.RunResultContent
	err = sqlitex.Execute(conn, `SELECT
		run_id, version, pipeline, event, branch, commit_sha,
		conclusion, cancelled, started_at, completed_at, duration_ms,
		step_count, failed_step_index, failed_step, error_message
		FROM runs WHERE run_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				result = scanRun(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history store: get run %s: %w", runID, err)
	}
	if result == nil {
		return nil, fmt.Errorf("history store: no run %s", runID)
	}

	err = sqlitex.Execute(conn, `SELECT
		hook, name, status, exit_code, duration_ms, output, output_hash, error
		FROM run_steps WHERE run_id = ? ORDER BY hook, position`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				step := scanStep(stmt)
				if stmt.ColumnInt(0) == 1 {
					result.Hooks = append(result.Hooks, step)
				} else {
					result.Steps = append(result.Steps, step)
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history store: get steps of %s: %w", runID, err)
	}
	return result, nil
}

// Output returns the full output of a recorded step, fetching from
// the log store when the row only carries a hash.
func (s *Store) Output(step *schema.StepResult) ([]byte, error) {
	if step.OutputHash == "" {
		return []byte(step.Output), nil
	}
	if s.outputs == nil {
		return nil, fmt.Errorf("history store: step %q output is in the log store but none is configured", step.Name)
	}
	return s.outputs.Get(step.OutputHash)
}

// Summary is one row of `conveyor history`: the run identity and
// outcome without per-step detail.
type Summary struct {
	RunID      string `json:"run_id"`
	Pipeline   string `json:"pipeline"`
	Event      string `json:"event"`
	Branch     string `json:"branch"`
	Conclusion string `json:"conclusion"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	FailedStep string `json:"failed_step,omitempty"`
}

// ListFilter selects runs for List. Zero-valued fields are not
// applied.
type ListFilter struct {
	Pipeline   string // exact pipeline name
	Branch     string // exact branch
	Conclusion string // success, failure, or not_triggered
	Limit      int    // default 50
}

// List returns run summaries matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Summary, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history store: list: %w", err)
	}
	defer s.pool.Put(conn)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var args []any
	if filter.Pipeline != "" {
		conditions = append(conditions, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Branch != "" {
		conditions = append(conditions, "branch = ?")
		args = append(args, filter.Branch)
	}
	if filter.Conclusion != "" {
		conditions = append(conditions, "conclusion = ?")
		args = append(args, filter.Conclusion)
	}

	query := `SELECT run_id, pipeline, event, branch, conclusion,
		cancelled, started_at, duration_ms, failed_step FROM runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id LIMIT ?"
	args = append(args, limit)

	var summaries []Summary
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			summaries = append(summaries, Summary{
				RunID:      stmt.ColumnText(0),
				Pipeline:   stmt.ColumnText(1),
				Event:      stmt.ColumnText(2),
				Branch:     stmt.ColumnText(3),
				Conclusion: stmt.ColumnText(4),
				Cancelled:  stmt.ColumnInt(5) != 0,
				StartedAt:  stmt.ColumnText(6),
				DurationMS: stmt.ColumnInt64(7),
				FailedStep: stmt.ColumnText(8),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history store: list runs: %w", err)
	}
	return summaries, nil
}

// Prune deletes all runs that started before olderThan and returns
// the number of runs removed. Log store entries whose hash is no
// longer referenced by any surviving step are removed afterwards,
// best-effort.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	removed, orphanedHashes, err := s.pruneRows(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	// The database transaction has committed; removal failures here
	// leave unreferenced entries behind for a later prune to retry.
	if s.outputs != nil {
		for hash := range orphanedHashes {
			if removeErr := s.outputs.Remove(hash); removeErr != nil {
				s.logger.Warn("pruning stored output failed",
					"hash", hash,
					"error", removeErr,
				)
			}
		}
	}
	return removed, nil
}

// pruneRows deletes the expired run rows in one transaction and
// returns the output hashes no surviving step references.
func (s *Store) pruneRows(ctx context.Context, olderThan time.Time) (removed int, orphanedHashes map[string]struct{}, err error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("history store: prune: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("history store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	// Hashes referenced by the runs about to be deleted. Whether they
	// can be removed from the log store depends on what survives.
	// started_at is RFC 3339 UTC, so string comparison orders by time.
	candidateHashes := make(map[string]struct{})
	err = sqlitex.Execute(conn,
		`SELECT DISTINCT output_hash FROM run_steps
		 WHERE output_hash != ''
		   AND run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				candidateHashes[stmt.ColumnText(0)] = struct{}{}
				return nil
			},
		})
	if err != nil {
		return 0, nil, fmt.Errorf("history store: prune: collecting output hashes: %w", err)
	}

	err = sqlitex.Execute(conn, "DELETE FROM runs WHERE started_at < ?",
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, nil, fmt.Errorf("history store: prune: deleting runs: %w", err)
	}
	removed = conn.Changes()

	// Drop candidates still referenced by surviving rows; identical
	// outputs are shared across runs by content addressing.
	for hash := range candidateHashes {
		var stillReferenced bool
		err = sqlitex.Execute(conn,
			"SELECT 1 FROM run_steps WHERE output_hash = ? LIMIT 1",
			&sqlitex.ExecOptions{
				Args: []any{hash},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stillReferenced = true
					return nil
				},
			})
		if err != nil {
			return 0, nil, fmt.Errorf("history store: prune: checking hash %s: %w", hash, err)
		}
		if stillReferenced {
			delete(candidateHashes, hash)
		}
	}

	if removed > 0 {
		s.logger.Info("history pruned",
			"removed", removed,
			"cutoff", cutoff,
			"orphaned_outputs", len(candidateHashes),
		)
	}
	return removed, candidateHashes, nil
}

func scanRun(stmt *sqlite.Stmt) *schema.RunResultContent {
	// Columns: run_id(0), version(1), pipeline(2), event(3),
	// branch(4), commit_sha(5), conclusion(6), cancelled(7),
	// started_at(8), completed_at(9), duration_ms(10),
	// step_count(11), failed_step_index(12), failed_step(13),
	// error_message(14)
	return &schema.RunResultContent{
		RunID:           stmt.ColumnText(0),
		Version:         stmt.ColumnInt(1),
		Pipeline:        stmt.ColumnText(2),
		Event:           stmt.ColumnText(3),
		Branch:          stmt.ColumnText(4),
		Commit:          stmt.ColumnText(5),
		Conclusion:      stmt.ColumnText(6),
		Cancelled:       stmt.ColumnInt(7) != 0,
		StartedAt:       stmt.ColumnText(8),
		CompletedAt:     stmt.ColumnText(9),
		DurationMS:      stmt.ColumnInt64(10),
		StepCount:       stmt.ColumnInt(11),
		FailedStepIndex: stmt.ColumnInt(12),
		FailedStep:      stmt.ColumnText(13),
		ErrorMessage:    stmt.ColumnText(14),
	}
}

func scanStep(stmt *sqlite.Stmt) schema.StepResult {
	// Columns: hook(0), name(1), status(2), exit_code(3),
	// duration_ms(4), output(5), output_hash(6), error(7)
	return schema.StepResult{
		Name:       stmt.ColumnText(1),
		Status:     stmt.ColumnText(2),
		ExitCode:   stmt.ColumnInt(3),
		DurationMS: stmt.ColumnInt64(4),
		Output:     stmt.ColumnText(5),
		OutputHash: stmt.ColumnText(6),
		Error:      stmt.ColumnText(7),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

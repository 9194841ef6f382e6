package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BeginRun inserts a running row and returns its generated id.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (string, error) {
	id := uuid.NewString()
	mode := strings.TrimSpace(info.Mode)
	if mode == "" {
		mode = ModePipeline
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, mode, input_dir, output_dir, topology, status, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, mode, info.InputDir, info.OutputDir, info.Topology, StatusRunning, formatTime(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counts. A non-nil summary.Err marks the run failed.
func (s *Store) FinishRun(ctx context.Context, id string, summary Summary) error {
	status := StatusCompleted
	if summary.Err != nil {
		status = StatusFailed
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET
            status = ?, finished_at = ?, items_read = ?, items_committed = ?,
            items_dropped = ?, items_discarded = ?, bytes_written = ?, elapsed_ms = ?,
            error_message = ?
         WHERE id = ?`,
		status,
		formatTime(time.Now()),
		summary.Read,
		summary.Committed,
		summary.Dropped,
		summary.Discarded,
		summary.BytesWritten,
		summary.Elapsed.Milliseconds(),
		nullableString(errorMessage(summary.Err)),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, mode, input_dir, output_dir, topology, status, started_at, finished_at,
    items_read, items_committed, items_dropped, items_discarded, bytes_written, elapsed_ms, error_message`

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes all but the newest keep runs along with their items.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM runs WHERE id NOT IN (
            SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
        )`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`DELETE FROM run_items WHERE run_id NOT IN (SELECT id FROM runs)`); err != nil {
		return 0, fmt.Errorf("prune run items: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run        Run
		status     string
		startedAt  string
		finishedAt sql.NullString
		elapsedMS  int64
		errMessage sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Mode,
		&run.InputDir,
		&run.OutputDir,
		&run.Topology,
		&status,
		&startedAt,
		&finishedAt,
		&run.Read,
		&run.Committed,
		&run.Dropped,
		&run.Discarded,
		&run.BytesWritten,
		&elapsedMS,
		&errMessage,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	run.ErrorMessage = errMessage.String

	var err error
	if run.StartedAt, err = parseTimeString(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseTimeString(finishedAt.String); err != nil {
		return nil, fmt.Errorf("parse finished_at for run %s: %w", run.ID, err)
	}
	return &run, nil
}

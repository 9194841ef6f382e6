package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RunItems returns the item records of a run in insertion order, optionally
// restricted to the given outcomes.
func (s *Store) RunItems(ctx context.Context, runID string, outcomes ...Outcome) ([]ItemRecord, error) {
	query := `SELECT run_id, item_id, item_name, stage, outcome, error_message, duration_us, recorded_at
        FROM run_items WHERE run_id = ?`
	args := []any{runID}
	if len(outcomes) > 0 {
		query += ` AND outcome IN (` + strings.TrimSuffix(strings.Repeat("?,", len(outcomes)), ",") + `)`
		for _, o := range outcomes {
			args = append(args, o)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var records []ItemRecord
	for rows.Next() {
		var (
			rec        ItemRecord
			name       sql.NullString
			outcome    string
			errMessage sql.NullString
			durationUS int64
			recordedAt string
		)
		if err := rows.Scan(&rec.RunID, &rec.ItemID, &name, &rec.Stage, &outcome, &errMessage, &durationUS, &recordedAt); err != nil {
			return nil, err
		}
		rec.ItemName = name.String
		rec.Outcome = Outcome(outcome)
		rec.ErrorMessage = errMessage.String
		rec.Duration = time.Duration(durationUS) * time.Microsecond
		if rec.RecordedAt, err = parseTimeString(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// OutcomeCounts tallies item records per outcome for a run.
func (s *Store) OutcomeCounts(ctx context.Context, runID string) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT outcome, COUNT(1) FROM run_items WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return nil, fmt.Errorf("count run items: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[Outcome(outcome)] = count
	}
	return counts, rows.Err()
}

package journal

import (
	"context"
	"fmt"
	"sync"

	"prism/internal/pipeline"
)

// Recorder collects item outcomes for one run. It implements
// pipeline.Observer; Observe only appends to an in-memory slice.
type Recorder struct {
	store *Store
	runID string

	mu      sync.Mutex
	pending []ItemRecord
}

// NewRecorder returns a Recorder bound to a run created with BeginRun.
func (s *Store) NewRecorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// Observe buffers terminal item events. Read and processed events are ignored.
func (r *Recorder) Observe(e pipeline.Event) {
	outcome, ok := outcomeFor(e.Kind)
	if !ok {
		return
	}
	rec := ItemRecord{
		RunID:        r.runID,
		ItemID:       e.ItemID,
		ItemName:     e.ItemName,
		Stage:        e.Stage,
		Outcome:      outcome,
		ErrorMessage: errorMessage(e.Err),
		Duration:     e.Duration,
		RecordedAt:   e.Time,
	}
	r.mu.Lock()
	r.pending = append(r.pending, rec)
	r.mu.Unlock()
}

// Pending returns the number of buffered records.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes every buffered record in one transaction and clears the buffer.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		return r.store.insertItems(ctx, batch)
	})
	if err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("flush %d journal records: %w", len(batch), err)
	}
	return nil
}

func (s *Store) insertItems(ctx context.Context, batch []ItemRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_items (run_id, item_id, item_name, stage, outcome, error_message, duration_us, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range batch {
		if _, err := stmt.ExecContext(ctx,
			rec.RunID,
			rec.ItemID,
			nullableString(rec.ItemName),
			rec.Stage,
			rec.Outcome,
			nullableString(rec.ErrorMessage),
			rec.Duration.Microseconds(),
			formatTime(rec.RecordedAt),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/qareview/internal/model"
)

const queueColumns = `id, question_id, status, queued_at, started_at, processed_at, error, claim_id`

// ErrClaimLost is returned when a claimed entry was requeued or claimed
// again before its holder finished with it.
var ErrClaimLost = errors.New("queue entry claim lost")

func scanQueueEntry(r rowScanner) (model.QueueEntry, error) {
	var e model.QueueEntry
	err := r.Scan(&e.ID, &e.QuestionID, &e.Status, &e.QueuedAt, &e.StartedAt, &e.ProcessedAt, &e.Error, &e.ClaimID)
	return e, err
}

// QueueStatus returns the number of queue entries per status.
func (s *Store) QueueStatus(ctx context.Context) (model.QueueCounts, error) {
	var c model.QueueCounts
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM evaluation_queue GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status model.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		c.Total += n
		switch status {
		case model.QueueQueued:
			c.Queued = n
		case model.QueueProcessing:
			c.Processing = n
		case model.QueueDone:
			c.Done = n
		case model.QueueFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// AdmitAll queues every question that has no verdict and no queue entry
// of any status. Calling it again without new questions admits nothing.
func (s *Store) AdmitAll(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT q.id FROM questions q
		 WHERE (q.verdict IS NULL OR q.verdict = '')
		   AND NOT EXISTS (SELECT 1 FROM evaluation_queue e WHERE e.question_id = q.id)
		 ORDER BY q.rowid`)
	if err != nil {
		return 0, fmt.Errorf("select eligible: %w", err)
	}
	var eligible []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		eligible = append(eligible, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	queuedAt := now()
	for _, qID := range eligible {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO evaluation_queue (id, question_id, status, queued_at) VALUES (?, ?, ?, ?)`,
			s.newID(), qID, model.QueueQueued, queuedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("enqueue %s: %w", qID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		count += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Info("admitted questions for evaluation", "count", count)
	}
	return count, nil
}

// NextQueued returns the earliest queued entry without claiming it, or nil.
// Callers that follow it with MarkProcessing race with each other; use
// ClaimNext when more than one consumer runs.
func (s *Store) NextQueued(ctx context.Context) (*model.QueueEntry, error) {
	e, err := scanQueueEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM evaluation_queue WHERE status = ? ORDER BY rowid LIMIT 1`,
		model.QueueQueued,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ClaimNext atomically moves the earliest queued entry to processing and
// returns it, or nil when nothing is queued.
func (s *Store) ClaimNext(ctx context.Context) (*model.QueueEntry, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE evaluation_queue SET status = ?, started_at = ?, claim_id = ?
		 WHERE id = (SELECT id FROM evaluation_queue WHERE status = ? ORDER BY rowid LIMIT 1)
		   AND status = ?
		 RETURNING id`,
		model.QueueProcessing, now(), s.newID(), model.QueueQueued, model.QueueQueued,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	e, err := s.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load claimed entry %s: %w", id, err)
	}
	return &e, nil
}

// GetQueueEntry returns a queue entry by ID.
func (s *Store) GetQueueEntry(ctx context.Context, id string) (model.QueueEntry, error) {
	return scanQueueEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM evaluation_queue WHERE id = ?`, id))
}

// ListQueue returns queue entries in insertion order, optionally filtered by status.
func (s *Store) ListQueue(ctx context.Context, status model.QueueStatus) ([]model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM evaluation_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkProcessing sets an entry to processing regardless of its current status.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`UPDATE evaluation_queue SET status = ?, started_at = ?, claim_id = ? WHERE id = ?`,
		model.QueueProcessing, now(), s.newID(), id)
}

// MarkDone sets an entry to done and stamps processed_at.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`UPDATE evaluation_queue SET status = ?, processed_at = ?, error = NULL WHERE id = ?`,
		model.QueueDone, now(), id)
}

// MarkFailed sets an entry to failed with the error text. It is not
// re-admitted by AdmitAll.
func (s *Store) MarkFailed(ctx context.Context, id string, errText string) error {
	return s.execOne(ctx,
		`UPDATE evaluation_queue SET status = ?, error = ?, processed_at = ? WHERE id = ?`,
		model.QueueFailed, errText, now(), id)
}

// Requeue puts a single entry back to queued.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`UPDATE evaluation_queue SET status = ?, started_at = NULL, processed_at = NULL, error = NULL, claim_id = NULL WHERE id = ?`,
		model.QueueQueued, id)
}

// RequeueStale moves processing entries claimed before cutoff back to queued.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evaluation_queue SET status = ?, started_at = NULL, claim_id = NULL
		 WHERE status = ? AND (started_at IS NULL OR started_at < ?)`,
		model.QueueQueued, model.QueueProcessing, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RetryFailed moves every failed entry back to queued.
func (s *Store) RetryFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evaluation_queue SET status = ?, started_at = NULL, processed_at = NULL, error = NULL, claim_id = NULL
		 WHERE status = ?`,
		model.QueueQueued, model.QueueFailed,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CompleteClaim writes the verdict and marks the entry done in one
// transaction, but only while e is still the current claim on the entry.
func (s *Store) CompleteClaim(ctx context.Context, e model.QueueEntry, verdict model.Verdict, confidence float64, explanation string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx,
		`UPDATE evaluation_queue SET status = ?, processed_at = ?, error = NULL
		 WHERE id = ? AND status = ? AND claim_id = ?`,
		model.QueueDone, ts, e.ID, model.QueueProcessing, claimOf(e))
	if err != nil {
		return err
	}
	if err := expectClaim(res); err != nil {
		return err
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE questions SET verdict = ?, confidence = ?, explanation = ?, evaluated_at = ? WHERE id = ?`,
		verdict, confidence, explanation, ts, e.QuestionID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("record verdict for %s: %w", e.QuestionID, err)
	}
	return tx.Commit()
}

// FailClaim marks a claimed entry failed if e is still its current claim.
func (s *Store) FailClaim(ctx context.Context, e model.QueueEntry, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evaluation_queue SET status = ?, error = ?, processed_at = ?
		 WHERE id = ? AND status = ? AND claim_id = ?`,
		model.QueueFailed, errText, now(), e.ID, model.QueueProcessing, claimOf(e))
	if err != nil {
		return err
	}
	return expectClaim(res)
}

// ReleaseClaim puts a claimed entry back to queued if e is still its
// current claim.
func (s *Store) ReleaseClaim(ctx context.Context, e model.QueueEntry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evaluation_queue SET status = ?, started_at = NULL, claim_id = NULL
		 WHERE id = ? AND status = ? AND claim_id = ?`,
		model.QueueQueued, e.ID, model.QueueProcessing, claimOf(e))
	if err != nil {
		return err
	}
	return expectClaim(res)
}

func claimOf(e model.QueueEntry) string {
	if e.ClaimID == nil {
		return ""
	}
	return *e.ClaimID
}

func expectClaim(res sql.Result) error {
	if err := expectOne(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClaimLost
		}
		return err
	}
	return nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res)
}

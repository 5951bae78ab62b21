package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/qareview/internal/model"
)

const questionColumns = `id, subject, question, correct_answer, options, source_id, row_index,
	verdict, confidence, explanation, evaluated_at,
	review_status, reviewed_by, reviewed_at, human_note, synced_to_sheet`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	var options sql.NullString
	err := r.Scan(&q.ID, &q.Subject, &q.Question, &q.CorrectAnswer, &options, &q.SourceID, &q.RowIndex,
		&q.Verdict, &q.Confidence, &q.Explanation, &q.EvaluatedAt,
		&q.ReviewStatus, &q.ReviewedBy, &q.ReviewedAt, &q.HumanNote, &q.SyncedToSheet)
	if err != nil {
		return q, err
	}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &q.Options); err != nil {
			return q, fmt.Errorf("decode options for %s: %w", q.ID, err)
		}
	}
	return q, nil
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateBatch inserts every question of the batch as pending and records
// an import session. If the subject already has questions nothing is
// written and Seeded is false.
func (s *Store) CreateBatch(ctx context.Context, batch model.BatchImport) (model.BatchResult, error) {
	if err := model.Validate(batch); err != nil {
		return model.BatchResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.BatchResult{}, err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE subject = ?`, batch.Subject,
	).Scan(&existing); err != nil {
		return model.BatchResult{}, fmt.Errorf("check subject: %w", err)
	}
	if existing > 0 {
		slog.Info("subject already seeded, skipping batch", "subject", batch.Subject, "existing", existing)
		return model.BatchResult{Seeded: false}, nil
	}

	for _, qi := range batch.Questions {
		var options any
		if len(qi.Options) > 0 {
			data, err := json.Marshal(qi.Options)
			if err != nil {
				return model.BatchResult{}, fmt.Errorf("encode options: %w", err)
			}
			options = string(data)
		}
		var sourceID any
		if qi.SourceID != "" {
			sourceID = qi.SourceID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, subject, question, correct_answer, options, source_id, row_index, review_status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.newID(), batch.Subject, qi.Question, qi.CorrectAnswer, options, sourceID, qi.RowIndex, model.ReviewPending,
		)
		if err != nil {
			return model.BatchResult{}, fmt.Errorf("insert question: %w", err)
		}
	}

	sourceID, sourceName, importedBy := batch.SourceID, batch.SourceName, batch.ImportedBy
	if importedBy == "" {
		importedBy = "system"
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO import_sessions (id, source_id, source_name, subject, status, questions_imported, imported_at, imported_by, is_mock_data)
		 VALUES (?, ?, ?, ?, 'done', ?, ?, ?, ?)`,
		s.newID(), sourceID, sourceName, batch.Subject, len(batch.Questions), now(), importedBy, batch.IsMockData,
	)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("record import session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.BatchResult{}, err
	}
	slog.Info("imported questions", "subject", batch.Subject, "count", len(batch.Questions), "source", sourceName)
	return model.BatchResult{Seeded: true, Count: len(batch.Questions)}, nil
}

// ListQuestions returns questions in insertion order.
// Empty strings mean no filtering on that field.
func (s *Store) ListQuestions(ctx context.Context, subject string, status model.ReviewStatus) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE 1=1`
	var args []any
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	if status != "" {
		query += ` AND review_status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY rowid`
	return s.queryQuestions(ctx, query, args...)
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id string) (model.Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	return scanQuestion(row)
}

// NextPending returns the earliest-inserted pending question, optionally
// restricted to a subject, or nil when none is left.
func (s *Store) NextPending(ctx context.Context, subject string) (*model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE review_status = ?`
	args := []any{model.ReviewPending}
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY rowid LIMIT 1`
	q, err := scanQuestion(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// RecordVerdict stores the evaluator's outcome. Verdict and confidence are
// stored as given.
func (s *Store) RecordVerdict(ctx context.Context, id string, verdict model.Verdict, confidence float64, explanation string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET verdict = ?, confidence = ?, explanation = ?, evaluated_at = ? WHERE id = ?`,
		verdict, confidence, explanation, now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Review applies a review disposition. An empty note clears human_note.
// Prior dispositions are overwritten.
func (s *Store) Review(ctx context.Context, id string, status model.ReviewStatus, note, reviewer string) error {
	var humanNote any
	if note != "" {
		humanNote = note
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET review_status = ?, reviewed_by = ?, reviewed_at = ?, human_note = ? WHERE id = ?`,
		status, reviewer, now(), humanNote, id,
	)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	slog.Debug("question reviewed", "id", id, "status", status, "reviewer", reviewer)
	return nil
}

// Progress counts review dispositions over the live question set.
func (s *Store) Progress(ctx context.Context) (model.Progress, error) {
	p := model.Progress{Subjects: make(map[string]model.SubjectProgress)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, review_status, COUNT(*) FROM questions GROUP BY subject, review_status`)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var subject string
		var status model.ReviewStatus
		var n int
		if err := rows.Scan(&subject, &status, &n); err != nil {
			return p, err
		}
		p.Total += n
		switch status {
		case model.ReviewApproved:
			p.Approved += n
		case model.ReviewOverridden:
			p.Overridden += n
		case model.ReviewSkipped:
			p.Skipped += n
		case model.ReviewPending:
			p.Pending += n
		}
		sp := p.Subjects[subject]
		sp.Total += n
		if status != model.ReviewPending {
			sp.Done += n
		}
		p.Subjects[subject] = sp
	}
	return p, rows.Err()
}

// ListSubjects returns the distinct subjects in alphabetical order.
func (s *Store) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT subject FROM questions ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

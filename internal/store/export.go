package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pavelanni/qareview/internal/model"
)

// ExportReviewed builds export-ready results from every finalized question,
// optionally restricted to a subject. Questions already synced are skipped
// unless includeSynced is set.
func (s *Store) ExportReviewed(ctx context.Context, subject string, includeSynced bool) ([]model.ReviewResult, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE review_status != ?`
	args := []any{model.ReviewPending}
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	if !includeSynced {
		query += ` AND synced_to_sheet = 0`
	}
	query += ` ORDER BY rowid`

	questions, err := s.queryQuestions(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviewed questions: %w", err)
	}

	results := make([]model.ReviewResult, 0, len(questions))
	for _, q := range questions {
		r := model.ReviewResult{
			ID:            q.ID,
			Subject:       q.Subject,
			Question:      q.Question,
			CorrectAnswer: q.CorrectAnswer,
			RowIndex:      q.RowIndex,
			Confidence:    q.Confidence,
			ReviewStatus:  q.ReviewStatus,
			ReviewedAt:    q.ReviewedAt,
		}
		if q.SourceID != nil {
			r.SourceID = *q.SourceID
		}
		if q.Verdict != nil {
			r.Verdict = *q.Verdict
		}
		if q.Explanation != nil {
			r.Explanation = *q.Explanation
		}
		if q.ReviewedBy != nil {
			r.ReviewedBy = *q.ReviewedBy
		}
		if q.HumanNote != nil {
			r.HumanNote = *q.HumanNote
		}
		results = append(results, r)
	}
	return results, nil
}

// MarkSynced flags the given questions as exported.
func (s *Store) MarkSynced(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET synced_to_sheet = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

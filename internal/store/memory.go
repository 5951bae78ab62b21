package store

import (
	"context"
	"log/slog"

	"github.com/pavelanni/qareview/internal/model"
)

const memoryColumns = `id, subject, mistake_pattern, example_question, resolution, created_at`

// RecordMistake appends a mistake record for a subject.
func (s *Store) RecordMistake(ctx context.Context, in model.MistakeInput) (model.SubjectMemory, error) {
	if err := model.Validate(in); err != nil {
		return model.SubjectMemory{}, err
	}
	m := model.SubjectMemory{
		ID:              s.newID(),
		Subject:         in.Subject,
		MistakePattern:  in.MistakePattern,
		ExampleQuestion: in.ExampleQuestion,
		Resolution:      in.Resolution,
		CreatedAt:       now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subject_memory (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Subject, m.MistakePattern, m.ExampleQuestion, m.Resolution, m.CreatedAt,
	)
	if err != nil {
		slog.Error("failed to record mistake", "subject", in.Subject, "error", err)
		return model.SubjectMemory{}, err
	}
	slog.Info("recorded mistake", "id", m.ID, "subject", m.Subject)
	return m, nil
}

// MemoryBySubject returns every mistake record for a subject, oldest first.
func (s *Store) MemoryBySubject(ctx context.Context, subject string) ([]model.SubjectMemory, error) {
	return s.queryMemory(ctx,
		`SELECT `+memoryColumns+` FROM subject_memory WHERE subject = ? ORDER BY rowid`, subject)
}

// ListMemory returns the full memory log, oldest first.
func (s *Store) ListMemory(ctx context.Context) ([]model.SubjectMemory, error) {
	return s.queryMemory(ctx, `SELECT `+memoryColumns+` FROM subject_memory ORDER BY rowid`)
}

func (s *Store) queryMemory(ctx context.Context, query string, args ...any) ([]model.SubjectMemory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SubjectMemory
	for rows.Next() {
		var m model.SubjectMemory
		if err := rows.Scan(&m.ID, &m.Subject, &m.MistakePattern, &m.ExampleQuestion, &m.Resolution, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

package store

import (
	"context"

	"github.com/pavelanni/qareview/internal/model"
)

// ListImportSessions returns the import audit log, newest first.
func (s *Store) ListImportSessions(ctx context.Context) ([]model.ImportSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, source_name, subject, status, questions_imported, imported_at, imported_by, is_mock_data
		 FROM import_sessions ORDER BY rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.ImportSession
	for rows.Next() {
		var is model.ImportSession
		if err := rows.Scan(&is.ID, &is.SourceID, &is.SourceName, &is.Subject, &is.Status,
			&is.QuestionsImported, &is.ImportedAt, &is.ImportedBy, &is.IsMockData); err != nil {
			return nil, err
		}
		sessions = append(sessions, is)
	}
	return sessions, rows.Err()
}

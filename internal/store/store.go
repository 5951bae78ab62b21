// Package store persists questions, the evaluation queue, subject memory
// and import sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func now() time.Time {
	return time.Now().UTC()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		question TEXT NOT NULL,
		correct_answer TEXT NOT NULL,
		options TEXT,
		source_id TEXT,
		row_index INTEGER,
		verdict TEXT,
		confidence REAL,
		explanation TEXT,
		evaluated_at DATETIME,
		review_status TEXT NOT NULL DEFAULT 'pending',
		reviewed_by TEXT,
		reviewed_at DATETIME,
		human_note TEXT,
		synced_to_sheet INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_questions_subject ON questions(subject);
	CREATE INDEX IF NOT EXISTS idx_questions_review_status ON questions(review_status);

	CREATE TABLE IF NOT EXISTS evaluation_queue (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		queued_at DATETIME NOT NULL,
		started_at DATETIME,
		processed_at DATETIME,
		error TEXT,
		claim_id TEXT,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_question ON evaluation_queue(question_id);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON evaluation_queue(status);

	CREATE TABLE IF NOT EXISTS subject_memory (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		mistake_pattern TEXT NOT NULL,
		example_question TEXT NOT NULL,
		resolution TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_subject ON subject_memory(subject);

	CREATE TABLE IF NOT EXISTS import_sessions (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		questions_imported INTEGER NOT NULL DEFAULT 0,
		imported_at DATETIME NOT NULL,
		imported_by TEXT NOT NULL,
		is_mock_data INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

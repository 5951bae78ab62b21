package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pavelanni/qareview/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSubject(t *testing.T, s *Store, subject string, n int) {
	t.Helper()
	batch := model.BatchImport{Subject: subject, SourceID: "test", SourceName: "Test Data"}
	for i := 0; i < n; i++ {
		batch.Questions = append(batch.Questions, model.QuestionInput{
			Question:      fmt.Sprintf("%s question %d", subject, i),
			CorrectAnswer: fmt.Sprintf("answer %d", i),
		})
	}
	res, err := s.CreateBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("seedSubject: %v", err)
	}
	if !res.Seeded || res.Count != n {
		t.Fatalf("seedSubject: got %+v, want seeded with %d", res, n)
	}
}

func TestCreateBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	row := 7
	res, err := s.CreateBatch(ctx, model.BatchImport{
		Subject:    "X",
		SourceID:   "sheet-1",
		SourceName: "Sheet One",
		ImportedBy: "admin",
		Questions: []model.QuestionInput{
			{Question: "What does LTV stand for?", CorrectAnswer: "Loan-to-Value", Options: []string{"Loan-to-Value", "Lender-to-Vendor"}, SourceID: "sheet-1", RowIndex: &row},
			{Question: "What does APR stand for?", CorrectAnswer: "Annual Percentage Rate"},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if !res.Seeded || res.Count != 2 {
		t.Fatalf("expected seeded with 2, got %+v", res)
	}

	qs, err := s.ListQuestions(ctx, "", "")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	for _, q := range qs {
		if q.ReviewStatus != model.ReviewPending {
			t.Errorf("expected pending, got %q", q.ReviewStatus)
		}
		if q.HasVerdict() || q.Confidence != nil || q.Explanation != nil || q.EvaluatedAt != nil {
			t.Errorf("expected no verdict fields on fresh question %s", q.ID)
		}
		if q.ReviewedBy != nil || q.ReviewedAt != nil || q.HumanNote != nil {
			t.Errorf("expected no review fields on fresh question %s", q.ID)
		}
	}
	if len(qs[0].Options) != 2 || qs[0].Options[0] != "Loan-to-Value" {
		t.Errorf("unexpected options: %v", qs[0].Options)
	}
	if qs[0].RowIndex == nil || *qs[0].RowIndex != 7 {
		t.Errorf("expected row index 7, got %v", qs[0].RowIndex)
	}
	if qs[1].Options != nil {
		t.Errorf("expected nil options, got %v", qs[1].Options)
	}

	sessions, err := s.ListImportSessions(ctx)
	if err != nil {
		t.Fatalf("ListImportSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 import session, got %d", len(sessions))
	}
	if sessions[0].QuestionsImported != 2 || sessions[0].Subject != "X" || sessions[0].ImportedBy != "admin" {
		t.Errorf("unexpected import session: %+v", sessions[0])
	}
}

func TestCreateBatchDuplicateSubject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 10)

	res, err := s.CreateBatch(ctx, model.BatchImport{
		Subject:   "X",
		Questions: []model.QuestionInput{{Question: "new", CorrectAnswer: "new"}},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if res.Seeded {
		t.Error("expected second batch for the same subject to report not seeded")
	}

	qs, _ := s.ListQuestions(ctx, "X", "")
	if len(qs) != 10 {
		t.Errorf("expected 10 questions for X, got %d", len(qs))
	}
	sessions, _ := s.ListImportSessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("expected 1 import session, got %d", len(sessions))
	}
}

func TestCreateBatchValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name  string
		batch model.BatchImport
		field string
	}{
		{"missing subject", model.BatchImport{Questions: []model.QuestionInput{{Question: "q", CorrectAnswer: "a"}}}, "subject"},
		{"no questions", model.BatchImport{Subject: "X"}, "questions"},
		{"empty question", model.BatchImport{Subject: "X", Questions: []model.QuestionInput{{CorrectAnswer: "a"}}}, "questions[0].question"},
		{"empty answer", model.BatchImport{Subject: "X", Questions: []model.QuestionInput{
			{Question: "q", CorrectAnswer: "a"},
			{Question: "q2"},
		}}, "questions[1].correct_answer"},
		{"blank question", model.BatchImport{Subject: "X", Questions: []model.QuestionInput{{Question: "   ", CorrectAnswer: "a"}}}, "questions[0].question"},
		{"blank answer", model.BatchImport{Subject: "X", Questions: []model.QuestionInput{{Question: "q", CorrectAnswer: " \t "}}}, "questions[0].correct_answer"},
		{"blank subject", model.BatchImport{Subject: "  ", Questions: []model.QuestionInput{{Question: "q", CorrectAnswer: "a"}}}, "subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateBatch(ctx, tt.batch)
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, ve.Fields)
			}
		})
	}

	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected nothing written, got %d questions", count)
	}
}

func TestListQuestionsFiltered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "A", 3)
	seedSubject(t, s, "B", 2)

	qs, _ := s.ListQuestions(ctx, "A", "")
	if err := s.Review(ctx, qs[0].ID, model.ReviewApproved, "", "gabriel"); err != nil {
		t.Fatalf("Review: %v", err)
	}

	tests := []struct {
		name      string
		subject   string
		status    model.ReviewStatus
		wantCount int
	}{
		{"no filter", "", "", 5},
		{"by subject A", "A", "", 3},
		{"by subject B", "B", "", 2},
		{"by status pending", "", model.ReviewPending, 4},
		{"by both", "A", model.ReviewApproved, 1},
		{"no match", "B", model.ReviewApproved, 0},
		{"unknown subject", "C", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListQuestions(ctx, tt.subject, tt.status)
			if err != nil {
				t.Fatalf("ListQuestions: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Errorf("expected %d questions, got %d", tt.wantCount, len(got))
			}
		})
	}

	// Insertion order is preserved.
	all, _ := s.ListQuestions(ctx, "", "")
	if all[0].Subject != "A" || all[4].Subject != "B" {
		t.Errorf("unexpected ordering: first %q, last %q", all[0].Subject, all[4].Subject)
	}
}

func TestGetQuestionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetQuestion(context.Background(), "missing")
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestNextPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "A", 2)
	seedSubject(t, s, "B", 1)

	q, err := s.NextPending(ctx, "")
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if q == nil || q.Question != "A question 0" {
		t.Fatalf("expected earliest question, got %+v", q)
	}

	q, _ = s.NextPending(ctx, "B")
	if q == nil || q.Subject != "B" {
		t.Fatalf("expected question for B, got %+v", q)
	}

	if err := s.Review(ctx, q.ID, model.ReviewSkipped, "", "r"); err != nil {
		t.Fatalf("Review: %v", err)
	}
	q, err = s.NextPending(ctx, "B")
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if q != nil {
		t.Errorf("expected none for exhausted subject, got %+v", q)
	}

	q, _ = s.NextPending(ctx, "nope")
	if q != nil {
		t.Errorf("expected none for unknown subject, got %+v", q)
	}
}

func TestReview(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 1)
	first, _ := s.NextPending(ctx, "")

	if err := s.Review(ctx, first.ID, model.ReviewOverridden, "confusing wording", "gabriel"); err != nil {
		t.Fatalf("Review: %v", err)
	}
	q, err := s.GetQuestion(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.ReviewStatus != model.ReviewOverridden {
		t.Errorf("expected overridden, got %q", q.ReviewStatus)
	}
	if q.HumanNote == nil || *q.HumanNote != "confusing wording" {
		t.Errorf("expected note, got %v", q.HumanNote)
	}
	if q.ReviewedBy == nil || *q.ReviewedBy != "gabriel" {
		t.Errorf("expected reviewed_by gabriel, got %v", q.ReviewedBy)
	}
	if q.ReviewedAt == nil {
		t.Error("expected reviewed_at to be set")
	}

	// Re-review overwrites and clears the note when none is given.
	if err := s.Review(ctx, first.ID, model.ReviewApproved, "", "lauren"); err != nil {
		t.Fatalf("Review again: %v", err)
	}
	q, _ = s.GetQuestion(ctx, first.ID)
	if q.ReviewStatus != model.ReviewApproved {
		t.Errorf("expected approved after re-review, got %q", q.ReviewStatus)
	}
	if q.HumanNote != nil {
		t.Errorf("expected note cleared, got %q", *q.HumanNote)
	}
	if *q.ReviewedBy != "lauren" {
		t.Errorf("expected reviewed_by lauren, got %q", *q.ReviewedBy)
	}

	if err := s.Review(ctx, "missing", model.ReviewApproved, "", "r"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows for missing question, got %v", err)
	}
}

func TestRecordVerdict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 1)
	first, _ := s.NextPending(ctx, "")

	// Out-of-range confidence and an unknown verdict are stored as given.
	if err := s.RecordVerdict(ctx, first.ID, model.Verdict("maybe"), 140, "odd"); err != nil {
		t.Fatalf("RecordVerdict: %v", err)
	}
	q, _ := s.GetQuestion(ctx, first.ID)
	if q.Verdict == nil || *q.Verdict != "maybe" {
		t.Errorf("expected verdict 'maybe', got %v", q.Verdict)
	}
	if q.Confidence == nil || *q.Confidence != 140 {
		t.Errorf("expected confidence 140, got %v", q.Confidence)
	}
	if q.EvaluatedAt == nil {
		t.Error("expected evaluated_at to be set")
	}
	if q.ReviewStatus != model.ReviewPending {
		t.Errorf("verdict must not change review status, got %q", q.ReviewStatus)
	}

	if err := s.RecordVerdict(ctx, "missing", model.VerdictCorrect, 90, ""); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.Total != 0 || len(p.Subjects) != 0 {
		t.Fatalf("expected empty progress, got %+v", p)
	}

	seedSubject(t, s, "A", 4)
	seedSubject(t, s, "B", 2)
	qs, _ := s.ListQuestions(ctx, "A", "")
	_ = s.Review(ctx, qs[0].ID, model.ReviewApproved, "", "r")
	_ = s.Review(ctx, qs[1].ID, model.ReviewOverridden, "", "r")
	_ = s.Review(ctx, qs[2].ID, model.ReviewSkipped, "", "r")

	p, err = s.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.Total != 6 || p.Approved != 1 || p.Overridden != 1 || p.Skipped != 1 || p.Pending != 3 {
		t.Errorf("unexpected totals: %+v", p)
	}
	if p.Total != p.Approved+p.Overridden+p.Skipped+p.Pending {
		t.Errorf("total %d does not equal sum of statuses", p.Total)
	}
	if got := p.Subjects["A"]; got.Total != 4 || got.Done != 3 {
		t.Errorf("unexpected subject A progress: %+v", got)
	}
	if got := p.Subjects["B"]; got.Total != 2 || got.Done != 0 {
		t.Errorf("unexpected subject B progress: %+v", got)
	}
}

func TestListSubjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	subjects, err := s.ListSubjects(ctx)
	if err != nil {
		t.Fatalf("ListSubjects: %v", err)
	}
	if len(subjects) != 0 {
		t.Errorf("expected 0 subjects, got %d", len(subjects))
	}

	seedSubject(t, s, "Underwriting", 2)
	seedSubject(t, s, "Compliance", 1)
	subjects, _ = s.ListSubjects(ctx)
	if len(subjects) != 2 || subjects[0] != "Compliance" || subjects[1] != "Underwriting" {
		t.Errorf("expected [Compliance Underwriting], got %v", subjects)
	}
}

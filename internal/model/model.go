package model

import (
	"time"
)

// Verdict is the evaluator's categorical judgment on a question.
type Verdict string

const (
	VerdictCorrect     Verdict = "correct"
	VerdictIncorrect   Verdict = "incorrect"
	VerdictNeedsReview Verdict = "needs_review"
)

// ReviewStatus is the human disposition of a question.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewApproved   ReviewStatus = "approved"
	ReviewOverridden ReviewStatus = "overridden"
	ReviewSkipped    ReviewStatus = "skipped"
)

// ReviewAction is what a reviewer asks for. Unknown values are allowed
// through to the controller, which decides how to treat them.
type ReviewAction string

const (
	ActionApprove  ReviewAction = "approve"
	ActionOverride ReviewAction = "override"
	ActionSkip     ReviewAction = "skip"
)

var actionStatus = map[ReviewAction]ReviewStatus{
	ActionApprove:  ReviewApproved,
	ActionOverride: ReviewOverridden,
	ActionSkip:     ReviewSkipped,
}

// StatusForAction maps a review action to the status it produces.
// The second return value is false for unrecognized actions, in which case
// the returned status is ReviewApproved.
func StatusForAction(action ReviewAction) (ReviewStatus, bool) {
	st, ok := actionStatus[action]
	if !ok {
		return ReviewApproved, false
	}
	return st, true
}

// QueueStatus is the state of an evaluation queue entry.
type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
	QueueFailed     QueueStatus = "failed"
)

// Question is a question/answer record with its evaluator and review outcome.
type Question struct {
	ID            string   `json:"id"`
	Subject       string   `json:"subject"`
	Question      string   `json:"question"`
	CorrectAnswer string   `json:"correct_answer"`
	Options       []string `json:"options,omitempty"`
	SourceID      *string  `json:"source_id,omitempty"`
	RowIndex      *int     `json:"row_index,omitempty"`

	Verdict     *Verdict   `json:"verdict,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Explanation *string    `json:"explanation,omitempty"`
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`

	ReviewStatus ReviewStatus `json:"review_status"`
	ReviewedBy   *string      `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`
	HumanNote    *string      `json:"human_note,omitempty"`

	SyncedToSheet bool `json:"synced_to_sheet"`
}

// HasVerdict reports whether the evaluator has written a verdict.
func (q Question) HasVerdict() bool {
	return q.Verdict != nil && *q.Verdict != ""
}

// QuestionInput is one record of a batch insert.
type QuestionInput struct {
	Question      string   `json:"question" yaml:"question" validate:"required,notblank"`
	CorrectAnswer string   `json:"correct_answer" yaml:"correct_answer" validate:"required,notblank"`
	Options       []string `json:"options,omitempty" yaml:"options,omitempty" validate:"omitempty,dive,required,notblank"`
	SourceID      string   `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	RowIndex      *int     `json:"row_index,omitempty" yaml:"row_index,omitempty"`
}

// BatchImport describes a batch insert and the audit record written with it.
type BatchImport struct {
	Subject    string          `json:"subject" validate:"required,notblank"`
	SourceID   string          `json:"source_id"`
	SourceName string          `json:"source_name"`
	ImportedBy string          `json:"imported_by"`
	IsMockData bool            `json:"is_mock_data"`
	Questions  []QuestionInput `json:"questions" validate:"required,min=1,dive"`
}

// BatchResult reports the outcome of a batch insert.
type BatchResult struct {
	Seeded bool `json:"seeded"`
	Count  int  `json:"count"`
}

// ImportSession is the immutable audit record of a batch insert.
type ImportSession struct {
	ID                string    `json:"id"`
	SourceID          string    `json:"source_id"`
	SourceName        string    `json:"source_name"`
	Subject           string    `json:"subject"`
	Status            string    `json:"status"`
	QuestionsImported int       `json:"questions_imported"`
	ImportedAt        time.Time `json:"imported_at"`
	ImportedBy        string    `json:"imported_by"`
	IsMockData        bool      `json:"is_mock_data"`
}

// QueueEntry is an evaluation work item. It references a question by ID.
type QueueEntry struct {
	ID          string      `json:"id"`
	QuestionID  string      `json:"question_id"`
	Status      QueueStatus `json:"status"`
	QueuedAt    time.Time   `json:"queued_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	Error       *string     `json:"error,omitempty"`
	ClaimID     *string     `json:"claim_id,omitempty"` // set on each claim, cleared on requeue
}

// QueueCounts holds the number of queue entries per status.
type QueueCounts struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// SubjectMemory is one recorded evaluator mistake for a subject.
type SubjectMemory struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	MistakePattern  string    `json:"mistake_pattern"`
	ExampleQuestion string    `json:"example_question"`
	Resolution      string    `json:"resolution"`
	CreatedAt       time.Time `json:"created_at"`
}

// MistakeInput holds the fields of a record-mistake action.
type MistakeInput struct {
	Subject         string `json:"subject" validate:"required,notblank"`
	MistakePattern  string `json:"mistake_pattern" validate:"required,notblank"`
	ExampleQuestion string `json:"example_question" validate:"required,notblank"`
	Resolution      string `json:"resolution" validate:"required,notblank"`
}

// SubjectProgress is the per-subject part of Progress.
type SubjectProgress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Progress summarizes review progress over all questions.
type Progress struct {
	Total      int                        `json:"total"`
	Approved   int                        `json:"approved"`
	Overridden int                        `json:"overridden"`
	Skipped    int                        `json:"skipped"`
	Pending    int                        `json:"pending"`
	Subjects   map[string]SubjectProgress `json:"subjects"`
}

// ReviewConfig holds runtime review/worker parameters set via CLI flags.
type ReviewConfig struct {
	StrictActions bool          // reject unknown review actions instead of approving
	Workers       int           // concurrent evaluation consumers
	PollInterval  time.Duration // idle wait between queue polls
	EvalTimeout   time.Duration // per-call evaluator timeout, 0 means none
	StaleAfter    time.Duration // processing entries older than this are requeued
	RetryFailed   bool          // sweeper requeues failed entries
	SweepInterval time.Duration
	Lang          string
}

// Package review applies human review decisions to questions.
package review

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pavelanni/qareview/internal/model"
)

// Store is the part of the question and memory store the controller needs.
type Store interface {
	Review(ctx context.Context, id string, status model.ReviewStatus, note, reviewer string) error
	NextPending(ctx context.Context, subject string) (*model.Question, error)
	Progress(ctx context.Context) (model.Progress, error)
	RecordMistake(ctx context.Context, in model.MistakeInput) (model.SubjectMemory, error)
}

// Controller maps reviewer actions onto question state.
type Controller struct {
	store  Store
	strict bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithStrictActions makes Review reject unknown actions instead of
// treating them as approve.
func WithStrictActions() Option {
	return func(c *Controller) { c.strict = true }
}

func New(store Store, opts ...Option) *Controller {
	c := &Controller{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Review finalizes a question and returns the status it was set to.
// Reviewing an already reviewed question overwrites the previous decision.
// An empty note clears any previous note.
func (c *Controller) Review(ctx context.Context, id string, action model.ReviewAction, note, reviewer string) (model.ReviewStatus, error) {
	if strings.TrimSpace(reviewer) == "" {
		return "", model.NewValidationError("reviewer", "required")
	}
	status, known := model.StatusForAction(action)
	if !known {
		if c.strict {
			return "", model.NewValidationError("action", "oneof=approve override skip")
		}
		slog.Warn("unknown review action, treating as approve", "id", id, "action", action)
	}
	if err := c.store.Review(ctx, id, status, strings.TrimSpace(note), reviewer); err != nil {
		return "", err
	}
	slog.Info("question reviewed", "id", id, "status", status, "reviewer", reviewer)
	return status, nil
}

// NextPending returns the earliest pending question, optionally limited to
// one subject, or nil when none are left.
func (c *Controller) NextPending(ctx context.Context, subject string) (*model.Question, error) {
	return c.store.NextPending(ctx, subject)
}

func (c *Controller) Progress(ctx context.Context) (model.Progress, error) {
	return c.store.Progress(ctx)
}

// RecordMistake stores an evaluator mistake for a subject. Overrides do not
// call this on their own; recording memory is a separate reviewer action.
func (c *Controller) RecordMistake(ctx context.Context, in model.MistakeInput) (model.SubjectMemory, error) {
	return c.store.RecordMistake(ctx, in)
}

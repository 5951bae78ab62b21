// Package worker drives queued questions through the evaluator and
// reconciles queue entries that never finished.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/qareview/internal/llm"
	"github.com/pavelanni/qareview/internal/model"
	"github.com/pavelanni/qareview/internal/store"
)

// Evaluator judges one question. *llm.Client implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, in llm.EvalInput) (*llm.Evaluation, error)
}

// Store is the queue and question surface the worker writes to.
type Store interface {
	ClaimNext(ctx context.Context) (*model.QueueEntry, error)
	GetQuestion(ctx context.Context, id string) (model.Question, error)
	MemoryBySubject(ctx context.Context, subject string) ([]model.SubjectMemory, error)
	CompleteClaim(ctx context.Context, e model.QueueEntry, verdict model.Verdict, confidence float64, explanation string) error
	FailClaim(ctx context.Context, e model.QueueEntry, errText string) error
	ReleaseClaim(ctx context.Context, e model.QueueEntry) error
}

// Outcome is what ProcessNext did with the queue.
type Outcome int

const (
	// Idle means nothing was queued.
	Idle Outcome = iota
	Done
	Failed
	// Superseded means the entry was requeued while being evaluated and
	// this result was discarded.
	Superseded
)

// Stats counts entries handled by Drain.
type Stats struct {
	Done   int `json:"done"`
	Failed int `json:"failed"`
}

type Worker struct {
	store        Store
	eval         Evaluator
	workers      int
	pollInterval time.Duration
	evalTimeout  time.Duration
}

func New(store Store, eval Evaluator, cfg model.ReviewConfig) *Worker {
	w := &Worker{
		store:        store,
		eval:         eval,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		evalTimeout:  cfg.EvalTimeout,
	}
	if w.workers < 1 {
		w.workers = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	return w
}

// ProcessNext claims one queued entry and evaluates its question. Evaluator
// failures mark the entry failed and are not returned. ErrNotConfigured puts
// the entry back in the queue and is returned, as are store errors.
func (w *Worker) ProcessNext(ctx context.Context) (Outcome, error) {
	entry, err := w.store.ClaimNext(ctx)
	if err != nil {
		return Idle, err
	}
	if entry == nil {
		return Idle, nil
	}
	log := slog.With("entry", entry.ID, "question", entry.QuestionID)

	q, err := w.store.GetQuestion(ctx, entry.QuestionID)
	if err != nil {
		return w.fail(ctx, *entry, fmt.Errorf("load question: %w", err))
	}
	memory, err := w.store.MemoryBySubject(ctx, q.Subject)
	if err != nil {
		w.release(ctx, *entry)
		return Idle, fmt.Errorf("load memory for %s: %w", q.Subject, err)
	}

	evalCtx := ctx
	if w.evalTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, w.evalTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := w.eval.Evaluate(evalCtx, llm.EvalInput{
		Question:      q.Question,
		CorrectAnswer: q.CorrectAnswer,
		Subject:       q.Subject,
		Options:       q.Options,
		Memory:        memory,
	})
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		w.release(ctx, *entry)
		return Idle, err
	case err != nil && ctx.Err() != nil:
		// Shutting down: the question is not at fault.
		w.release(ctx, *entry)
		return Idle, ctx.Err()
	case err != nil:
		return w.fail(ctx, *entry, err)
	}

	err = w.store.CompleteClaim(ctx, *entry, res.Verdict, res.Confidence, res.Explanation)
	if errors.Is(err, store.ErrClaimLost) {
		log.Warn("entry was requeued during evaluation, discarding verdict", "verdict", res.Verdict)
		return Superseded, nil
	}
	if err != nil {
		return w.fail(ctx, *entry, fmt.Errorf("record verdict: %w", err))
	}
	log.Info("question evaluated",
		"verdict", res.Verdict,
		"confidence", res.Confidence,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return Done, nil
}

func (w *Worker) fail(ctx context.Context, e model.QueueEntry, cause error) (Outcome, error) {
	err := w.store.FailClaim(context.WithoutCancel(ctx), e, cause.Error())
	if errors.Is(err, store.ErrClaimLost) {
		slog.Warn("entry was requeued during evaluation, discarding failure", "entry", e.ID, "error", cause)
		return Superseded, nil
	}
	if err != nil {
		return Idle, fmt.Errorf("mark failed %s: %w", e.ID, err)
	}
	slog.Warn("evaluation failed", "entry", e.ID, "error", cause)
	return Failed, nil
}

func (w *Worker) release(ctx context.Context, e model.QueueEntry) {
	err := w.store.ReleaseClaim(context.WithoutCancel(ctx), e)
	if err != nil && !errors.Is(err, store.ErrClaimLost) {
		slog.Error("failed to requeue entry", "entry", e.ID, "error", err)
	}
}

// Drain processes entries until the queue is empty.
func (w *Worker) Drain(ctx context.Context) (Stats, error) {
	var st Stats
	for {
		out, err := w.ProcessNext(ctx)
		if err != nil {
			return st, err
		}
		switch out {
		case Idle:
			return st, nil
		case Done:
			st.Done++
		case Failed:
			st.Failed++
		}
	}
}

// Run starts the configured number of consumers and blocks until ctx is
// cancelled or the evaluator turns out not to be configured.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("evaluation worker started", "workers", w.workers, "poll", w.pollInterval)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		i := i
		g.Go(func() error { return w.loop(ctx, i) })
	}
	err := g.Wait()
	slog.Info("evaluation worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		out, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, llm.ErrNotConfigured) {
			return err
		}
		if err != nil {
			slog.Error("worker error", "worker", id, "error", err)
		}
		if out != Idle && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

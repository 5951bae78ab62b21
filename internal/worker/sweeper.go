package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavelanni/qareview/internal/model"
)

// SweepStore is the queue surface the sweeper needs.
type SweepStore interface {
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)
	RetryFailed(ctx context.Context) (int, error)
}

// SweepResult counts entries moved back to queued.
type SweepResult struct {
	Stale   int `json:"stale"`
	Retried int `json:"retried"`
}

// Sweeper requeues processing entries that were claimed too long ago and,
// when enabled, failed entries. Admission never does either.
type Sweeper struct {
	store       SweepStore
	staleAfter  time.Duration
	retryFailed bool
	interval    time.Duration
	now         func() time.Time
}

func NewSweeper(store SweepStore, cfg model.ReviewConfig) *Sweeper {
	s := &Sweeper{
		store:       store,
		staleAfter:  cfg.StaleAfter,
		retryFailed: cfg.RetryFailed,
		interval:    cfg.SweepInterval,
		now:         time.Now,
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	return s
}

// Sweep runs one reconciliation pass. A zero StaleAfter disables the stale
// check.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s.staleAfter > 0 {
		n, err := s.store.RequeueStale(ctx, s.now().Add(-s.staleAfter))
		if err != nil {
			return res, err
		}
		res.Stale = n
	}
	if s.retryFailed {
		n, err := s.store.RetryFailed(ctx)
		if err != nil {
			return res, err
		}
		res.Retried = n
	}
	if res.Stale > 0 || res.Retried > 0 {
		slog.Info("queue sweep requeued entries", "stale", res.Stale, "retried", res.Retried)
	}
	return res, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("queue sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

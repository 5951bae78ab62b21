package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/qareview/internal/model"
)

func TestAdmitAllScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 10)

	n, err := s.AdmitAll(ctx)
	if err != nil {
		t.Fatalf("AdmitAll: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 admitted, got %d", n)
	}

	st, err := s.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if st.Queued != 10 || st.Total != 10 {
		t.Errorf("expected 10 queued, got %+v", st)
	}

	entries, _ := s.ListQueue(ctx, model.QueueQueued)
	for _, e := range entries {
		if err := s.MarkDone(ctx, e.ID); err != nil {
			t.Fatalf("MarkDone: %v", err)
		}
	}
	st, _ = s.QueueStatus(ctx)
	if st.Done != 10 || st.Queued != 0 {
		t.Errorf("expected 10 done and 0 queued, got %+v", st)
	}
}

func TestAdmitAllIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 3)

	if n, _ := s.AdmitAll(ctx); n != 3 {
		t.Fatalf("expected 3 admitted, got %d", n)
	}
	n, err := s.AdmitAll(ctx)
	if err != nil {
		t.Fatalf("AdmitAll: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 admitted on second call, got %d", n)
	}

	// New questions are admitted, old ones are not duplicated.
	seedSubject(t, s, "Y", 2)
	if n, _ := s.AdmitAll(ctx); n != 2 {
		t.Errorf("expected 2 admitted for new subject, got %d", n)
	}
	st, _ := s.QueueStatus(ctx)
	if st.Total != 5 {
		t.Errorf("expected 5 entries, got %d", st.Total)
	}
}

func TestAdmitAllSkipsVerdictAndExistingEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 4)
	qs, _ := s.ListQuestions(ctx, "X", "")

	// qs[0] already has a verdict.
	if err := s.RecordVerdict(ctx, qs[0].ID, model.VerdictCorrect, 90, "fine"); err != nil {
		t.Fatalf("RecordVerdict: %v", err)
	}
	if n, _ := s.AdmitAll(ctx); n != 3 {
		t.Fatalf("expected 3 admitted, got %d", n)
	}

	// Fail one and finish one: neither is re-admitted.
	first, _ := s.ClaimNext(ctx)
	if err := s.MarkFailed(ctx, first.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	second, _ := s.ClaimNext(ctx)
	if err := s.MarkDone(ctx, second.ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	if n, _ := s.AdmitAll(ctx); n != 0 {
		t.Errorf("expected 0 admitted, got %d", n)
	}
	entries, _ := s.ListQueue(ctx, "")
	seen := make(map[string]int)
	for _, e := range entries {
		seen[e.QuestionID]++
		if e.QuestionID == qs[0].ID {
			t.Errorf("question with verdict must not be queued")
		}
	}
	for qID, c := range seen {
		if c != 1 {
			t.Errorf("question %s has %d entries", qID, c)
		}
	}
}

func TestQueueTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 2)
	s.AdmitAll(ctx)

	e, err := s.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if e == nil || e.Status != model.QueueQueued {
		t.Fatalf("expected queued entry, got %+v", e)
	}

	// NextQueued does not claim.
	again, _ := s.NextQueued(ctx)
	if again.ID != e.ID {
		t.Errorf("expected same entry from a second NextQueued")
	}

	if err := s.MarkProcessing(ctx, e.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	got, _ := s.GetQueueEntry(ctx, e.ID)
	if got.Status != model.QueueProcessing || got.StartedAt == nil {
		t.Errorf("expected processing with started_at, got %+v", got)
	}

	if err := s.MarkFailed(ctx, e.ID, "parse LLM response: no JSON"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = s.GetQueueEntry(ctx, e.ID)
	if got.Status != model.QueueFailed {
		t.Errorf("expected failed, got %q", got.Status)
	}
	if got.Error == nil || *got.Error != "parse LLM response: no JSON" {
		t.Errorf("expected error text, got %v", got.Error)
	}
	if got.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}

	next, _ := s.NextQueued(ctx)
	if next == nil || next.ID == e.ID {
		t.Fatalf("expected the second entry, got %+v", next)
	}
	if err := s.MarkDone(ctx, next.ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	got, _ = s.GetQueueEntry(ctx, next.ID)
	if got.Status != model.QueueDone || got.ProcessedAt == nil || got.Error != nil {
		t.Errorf("unexpected done entry: %+v", got)
	}

	none, err := s.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if none != nil {
		t.Errorf("expected empty queue, got %+v", none)
	}

	if err := s.MarkDone(ctx, "missing"); err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestClaimNext(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext on empty queue: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil on empty queue, got %+v", e)
	}

	seedSubject(t, s, "X", 2)
	s.AdmitAll(ctx)

	first, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if first.Status != model.QueueProcessing || first.StartedAt == nil {
		t.Errorf("expected claimed entry in processing, got %+v", first)
	}
	second, _ := s.ClaimNext(ctx)
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected a different entry, got %+v", second)
	}
	third, _ := s.ClaimNext(ctx)
	if third != nil {
		t.Errorf("expected nothing left to claim, got %+v", third)
	}
}

func TestClaimNextConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 20)
	s.AdmitAll(ctx)

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, err := s.ClaimNext(ctx)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if e == nil {
					return
				}
				mu.Lock()
				claimed[e.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 20 {
		t.Errorf("expected 20 distinct claims, got %d", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("entry %s claimed %d times", id, n)
		}
	}
}

func TestRequeueStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 3)
	s.AdmitAll(ctx)

	stuck, _ := s.ClaimNext(ctx)
	finished, _ := s.ClaimNext(ctx)
	_ = s.MarkDone(ctx, finished.ID)

	// Nothing was claimed an hour ago.
	n, err := s.RequeueStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 requeued, got %d", n)
	}

	n, err = s.RequeueStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 requeued, got %d", n)
	}
	got, _ := s.GetQueueEntry(ctx, stuck.ID)
	if got.Status != model.QueueQueued || got.StartedAt != nil {
		t.Errorf("expected stale entry back in queue, got %+v", got)
	}
	done, _ := s.GetQueueEntry(ctx, finished.ID)
	if done.Status != model.QueueDone {
		t.Errorf("done entry must not be touched, got %q", done.Status)
	}
}

func TestRetryFailedAndRequeue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 2)
	s.AdmitAll(ctx)

	a, _ := s.ClaimNext(ctx)
	b, _ := s.ClaimNext(ctx)
	_ = s.MarkFailed(ctx, a.ID, "timeout")

	n, err := s.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 retried, got %d", n)
	}
	got, _ := s.GetQueueEntry(ctx, a.ID)
	if got.Status != model.QueueQueued || got.Error != nil || got.ProcessedAt != nil {
		t.Errorf("expected clean queued entry, got %+v", got)
	}

	if err := s.Requeue(ctx, b.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	st, _ := s.QueueStatus(ctx)
	if st.Queued != 2 || st.Processing != 0 {
		t.Errorf("expected 2 queued, got %+v", st)
	}
}

func TestClaimGuards(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 1)
	s.AdmitAll(ctx)

	stale, err := s.ClaimNext(ctx)
	if err != nil || stale == nil {
		t.Fatalf("ClaimNext: %v %v", stale, err)
	}
	if stale.ClaimID == nil {
		t.Fatal("expected claim id on claimed entry")
	}
	if _, err := s.RequeueStale(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}

	// Requeued but not claimed again.
	if err := s.ReleaseClaim(ctx, *stale); !errors.Is(err, ErrClaimLost) {
		t.Errorf("ReleaseClaim after requeue: expected ErrClaimLost, got %v", err)
	}

	current, err := s.ClaimNext(ctx)
	if err != nil || current == nil || current.ID != stale.ID {
		t.Fatalf("expected the same entry to be claimed again, got %v %v", current, err)
	}
	if *current.ClaimID == *stale.ClaimID {
		t.Fatal("expected a fresh claim id")
	}

	if err := s.CompleteClaim(ctx, *stale, model.VerdictCorrect, 90, "late"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("CompleteClaim with stale claim: expected ErrClaimLost, got %v", err)
	}
	if err := s.FailClaim(ctx, *stale, "late"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("FailClaim with stale claim: expected ErrClaimLost, got %v", err)
	}
	q, _ := s.GetQuestion(ctx, stale.QuestionID)
	if q.HasVerdict() {
		t.Errorf("stale claim must not write a verdict, got %v", *q.Verdict)
	}

	if err := s.FailClaim(ctx, *current, "parse LLM response: no JSON"); err != nil {
		t.Fatalf("FailClaim: %v", err)
	}
	// A finished entry cannot be completed by the same claim afterwards.
	if err := s.CompleteClaim(ctx, *current, model.VerdictCorrect, 90, ""); !errors.Is(err, ErrClaimLost) {
		t.Errorf("CompleteClaim after failure: expected ErrClaimLost, got %v", err)
	}
	got, _ := s.GetQueueEntry(ctx, current.ID)
	if got.Status != model.QueueFailed {
		t.Errorf("expected failed, got %q", got.Status)
	}
}

func TestCompleteClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubject(t, s, "X", 1)
	s.AdmitAll(ctx)

	e, _ := s.ClaimNext(ctx)
	if err := s.CompleteClaim(ctx, *e, model.VerdictIncorrect, 70, "wrong rate"); err != nil {
		t.Fatalf("CompleteClaim: %v", err)
	}
	got, _ := s.GetQueueEntry(ctx, e.ID)
	if got.Status != model.QueueDone || got.ProcessedAt == nil {
		t.Errorf("expected done entry, got %+v", got)
	}
	q, _ := s.GetQuestion(ctx, e.QuestionID)
	if !q.HasVerdict() || *q.Verdict != model.VerdictIncorrect {
		t.Errorf("expected incorrect verdict, got %+v", q)
	}
}

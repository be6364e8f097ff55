package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestProcessBatchPaysInBatchesOfFifty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t, "harvest-1", "grove-1", "15000", holders(150, "10"), "1500")
	f.ledger.failTransfersTo("holder-042", -1)

	var results []BatchResult
	for i := 0; i < 3; i++ {
		result, err := f.engine.ProcessBatch(ctx, d.ID, 50)
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		results = append(results, result)
	}
	if results[0].Failed != 1 || results[0].Succeeded != 49 || results[0].Remaining != 100 || results[0].Completed {
		t.Fatalf("unexpected first batch %+v", results[0])
	}
	if len(results[0].FailedHolders) != 1 || results[0].FailedHolders[0] != "holder-042" {
		t.Fatalf("expected holder-042 surfaced as failed, got %v", results[0].FailedHolders)
	}
	if results[1].Succeeded != 50 || results[1].Remaining != 50 || results[1].Completed {
		t.Fatalf("unexpected second batch %+v", results[1])
	}
	if results[2].Succeeded != 50 || results[2].Remaining != 0 || !results[2].Completed {
		t.Fatalf("unexpected third batch %+v", results[2])
	}
	if attempts := f.ledger.attemptsTo("holder-042"); attempts != 3 {
		t.Fatalf("expected 3 attempts for failing holder, got %d", attempts)
	}
	claim, _ := f.state.Claim(ctx, d.ID, "holder-042")
	if !claim.Failed || claim.Claimed || claim.Attempts != 3 || claim.LastError == "" {
		t.Fatalf("unexpected failed claim %+v", claim)
	}
	if got := f.balance(t, "holder-149"); !got.Equal(dec("70")) {
		t.Fatalf("holder-149 received %s", got)
	}

	stored, _ := f.engine.Distribution(ctx, d.ID)
	if stored.Status != StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("distribution should be completed, got %+v", stored)
	}
	again, err := f.engine.ProcessBatch(ctx, d.ID, 50)
	if err != nil || !again.Completed || again.Processed != 0 {
		t.Fatalf("completed distribution should be a no-op, got %+v (%v)", again, err)
	}
}

func TestProcessBatchRecoversFromTransientFailure(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(3, "1"), "3")
	f.ledger.failTransfersTo("holder-001", 2)

	result, err := f.engine.ProcessBatch(context.Background(), d.ID, 0)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if result.Succeeded != 3 || result.Failed != 0 || !result.Completed {
		t.Fatalf("unexpected result %+v", result)
	}
	claim, _ := f.state.Claim(context.Background(), d.ID, "holder-001")
	if !claim.Claimed || claim.Attempts != 3 {
		t.Fatalf("expected claim paid on third attempt, got %+v", claim)
	}
}

func TestProcessBatchSkipsClaimedHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(4, "1"), "4")
	if _, err := f.engine.Claim(ctx, d.ID, "holder-002"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	result, err := f.engine.ProcessBatch(ctx, d.ID, 10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if result.Skipped != 1 || result.Succeeded != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := f.balance(t, "holder-002"); !got.Equal(dec("175")) {
		t.Fatalf("claimed holder must not be paid twice, holds %s", got)
	}
}

func TestRunStopsBetweenHoldersAndResumes(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(10, "1"), "10")

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	f.engine.observer = observerFunc(func(Outcome, int) {
		once.Do(cancel)
	})
	partial, err := f.engine.Run(ctx, d.ID, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if partial.Succeeded != 1 || partial.Completed {
		t.Fatalf("expected exactly one holder settled before cancellation, got %+v", partial)
	}

	f.engine.observer = nil
	rest, err := f.engine.Run(context.Background(), d.ID, 3)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if rest.Succeeded != 9 || !rest.Completed || rest.Batches != 3 {
		t.Fatalf("unexpected resumed run %+v", rest)
	}
	summary, err := f.engine.Summary(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.ClaimedCount != 10 || !summary.TotalPending.IsZero() {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestCancellationDuringTransferKeepsPayout(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(5, "1"), "5")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ledger.paid = func(to string) {
		if to == "holder-002" {
			cancel()
		}
	}
	partial, err := f.engine.ProcessBatch(ctx, d.ID, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if partial.Succeeded != 3 || partial.Completed {
		t.Fatalf("expected three holders settled, got %+v", partial)
	}
	claim, _ := f.state.Claim(context.Background(), d.ID, "holder-002")
	if !claim.Claimed || claim.Attempts != 1 {
		t.Fatalf("payout in flight at cancellation must be recorded, got %+v", claim)
	}

	f.ledger.paid = nil
	rest, err := f.engine.Run(context.Background(), d.ID, 10)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if rest.Succeeded != 2 || !rest.Completed {
		t.Fatalf("unexpected resumed run %+v", rest)
	}
	for i := 0; i < 5; i++ {
		holder := fmt.Sprintf("holder-%03d", i)
		if got := f.balance(t, holder); !got.Equal(dec("140")) {
			t.Fatalf("%s received %s, want 140", holder, got)
		}
	}
	if attempts := f.ledger.attemptsTo("holder-002"); attempts != 1 {
		t.Fatalf("holder-002 paid %d times", attempts)
	}
}

func TestClaimCompletesWhenCancelledDuringTransfer(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(2, "1"), "2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ledger.paid = func(string) { cancel() }
	amount, err := f.engine.Claim(ctx, d.ID, "holder-001")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !amount.Equal(dec("350")) {
		t.Fatalf("unexpected amount %s", amount)
	}
	if _, err := f.engine.Claim(context.Background(), d.ID, "holder-001"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
	if got := f.balance(t, "holder-001"); !got.Equal(dec("350")) {
		t.Fatalf("holder-001 holds %s", got)
	}

	if _, err := f.engine.Claim(ctx, d.ID, "holder-000"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled claim must not pay, got %v", err)
	}
	if got := f.balance(t, "holder-000"); !got.IsZero() {
		t.Fatalf("holder-000 holds %s", got)
	}
}

func TestRetryFailedRedrivesExhaustedHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(5, "1"), "5")
	f.ledger.failTransfersTo("holder-003", 3)

	run, err := f.engine.Run(ctx, d.ID, 50)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Failed != 1 || !run.Completed {
		t.Fatalf("unexpected run %+v", run)
	}

	retry, err := f.engine.RetryFailed(ctx, d.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Succeeded != 1 || retry.Failed != 0 {
		t.Fatalf("unexpected retry %+v", retry)
	}
	claim, _ := f.state.Claim(ctx, d.ID, "holder-003")
	if !claim.Claimed || claim.Failed || claim.Attempts != 4 {
		t.Fatalf("unexpected claim after retry %+v", claim)
	}
	if got := f.balance(t, "holder-003"); !got.Equal(dec("140")) {
		t.Fatalf("holder-003 holds %s", got)
	}
	retry, err = f.engine.RetryFailed(ctx, d.ID)
	if err != nil || retry.Processed != 0 {
		t.Fatalf("nothing left to retry, got %+v (%v)", retry, err)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, WithParams(Params{FundOnCreate: false}))
	d := f.create(t, "harvest-1", "grove-1", "1000", holders(2, "1"), "2")
	result, err := f.engine.ProcessBatch(context.Background(), d.ID, 10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if result.Failed != 2 || !result.Completed {
		t.Fatalf("unfunded reserve should fail every holder, got %+v", result)
	}
	if attempts := f.ledger.attemptsTo("holder-000"); attempts != 1 {
		t.Fatalf("permanent failure retried %d times", attempts)
	}
}

func TestOutcomeClassification(t *testing.T) {
	if classify(nil) != OutcomeSuccess {
		t.Fatalf("nil should succeed")
	}
	if classify(context.DeadlineExceeded) != OutcomeRetryable {
		t.Fatalf("timeouts should be retryable")
	}
	if classify(errors.New("boom")) != OutcomePermanent {
		t.Fatalf("unknown errors should be permanent")
	}
	if OutcomeRetryable.String() != "retryable" {
		t.Fatalf("unexpected string %q", OutcomeRetryable.String())
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(100*time.Millisecond, time.Second); got != 200*time.Millisecond {
		t.Fatalf("expected doubling, got %s", got)
	}
	if got := nextBackoff(800*time.Millisecond, time.Second); got != time.Second {
		t.Fatalf("expected cap, got %s", got)
	}
}

type observerFunc func(Outcome, int)

func (f observerFunc) ObservePayout(outcome Outcome, attempts int) { f(outcome, attempts) }
func (f observerFunc) ObserveBatch(time.Duration, int)             {}

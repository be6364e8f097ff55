package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
)

// Outcome is the result of paying one holder.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ledger.IsRetryable(err):
		return OutcomeRetryable
	default:
		return OutcomePermanent
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}

// payment is the settled state of one holder payout.
type payment struct {
	outcome  Outcome
	attempts int
	err      error
	// interrupted is set when cancellation arrived during a backoff wait; the
	// holder stays unsettled and is revisited on the next pass.
	interrupted bool
}

// pay transfers claim.Share to the holder, retrying retryable failures with
// exponential backoff. Each transfer runs to completion; cancellation is only
// observed while waiting between attempts.
func (e *Engine) pay(ctx context.Context, d *Distribution, claim *Claim) payment {
	backoff := e.params.MinBackoff
	transferCtx := context.WithoutCancel(ctx)
	var result payment
	for {
		result.attempts++
		err := e.ledger.Transfer(transferCtx, d.Asset, e.params.ReserveAccount, claim.Holder, claim.Share)
		result.err = err
		result.outcome = classify(err)
		if result.outcome != OutcomeRetryable || result.attempts >= e.params.MaxAttempts {
			return result
		}
		e.logger.Warn("holder payout retry",
			slog.String("distribution_id", d.ID),
			slog.String("holder", claim.Holder),
			slog.Int("attempt", result.attempts),
			slog.Any("error", err))
		if err := e.sleep(ctx, backoff); err != nil {
			result.interrupted = true
			return result
		}
		backoff = nextBackoff(backoff, e.params.MaxBackoff)
	}
}

// settle pays one holder and persists the claim together with the new cursor.
// It returns the payout outcome, or an error when persistence failed.
func (e *Engine) settle(ctx context.Context, d *Distribution, holder string, cursor int) (Outcome, bool, error) {
	unlock := e.locks.Lock(claimKey(d.ID, holder))
	defer unlock()

	claim, err := e.state.Claim(ctx, d.ID, holder)
	if err != nil {
		return OutcomePermanent, false, fmt.Errorf("distribution: load claim: %w", err)
	}
	if claim == nil {
		return OutcomePermanent, false, fmt.Errorf("%w: %s", ErrHolderNotFound, holder)
	}
	claim = claim.Clone()
	now := e.now()
	var skipped bool
	var result payment
	switch {
	case claim.Claimed:
		skipped = true
	case !claim.Share.IsPositive():
		// Nothing to transfer; the holder is settled.
		skipped = true
		claim.Claimed = true
		claim.ClaimedAt = &now
	default:
		result = e.pay(ctx, d, claim)
		if result.interrupted {
			return OutcomeRetryable, false, ctx.Err()
		}
		claim.Attempts += result.attempts
		if result.outcome == OutcomeSuccess {
			claim.Claimed = true
			claim.ClaimedAt = &now
			claim.Failed = false
			claim.LastError = ""
		} else {
			claim.Failed = true
			claim.LastError = result.err.Error()
		}
		if e.observer != nil {
			e.observer.ObservePayout(result.outcome, result.attempts)
		}
	}
	claim.UpdatedAt = now

	batch := Batch{Claims: []*Claim{claim}}
	if cursor >= 0 {
		next := d.Clone()
		next.Cursor = cursor
		batch.Distribution = next
	}
	// Once money has moved the record must land, whatever happened to ctx.
	if err := e.state.Commit(context.WithoutCancel(ctx), batch); err != nil {
		if !skipped && result.outcome == OutcomeSuccess {
			e.compensate(ctx, "batch/refund", func(ctx context.Context) error {
				return e.ledger.Transfer(ctx, d.Asset, claim.Holder, e.params.ReserveAccount, claim.Share)
			})
		}
		return OutcomePermanent, false, fmt.Errorf("distribution: commit payout: %w", err)
	}
	if cursor >= 0 {
		d.Cursor = cursor
	}
	if !skipped && result.outcome != OutcomeSuccess {
		e.logger.Error("holder payout failed",
			slog.String("distribution_id", d.ID),
			slog.String("holder", holder),
			slog.Int("attempts", claim.Attempts),
			slog.String("outcome", result.outcome.String()),
			slog.Any("error", result.err))
		e.notify(ctx, Event{Type: EventHolderFailed, DistributionID: d.ID, HarvestID: d.HarvestID, GroveID: d.GroveID, Holder: holder, Amount: claim.Share, Reason: claim.LastError})
	}
	if skipped {
		return OutcomeSuccess, true, nil
	}
	return result.outcome, false, nil
}

// ProcessBatch pays the next batchSize holders from the distribution cursor.
// A failing holder never aborts the batch: it is retried, then marked failed
// and reported in FailedHolders. Progress is persisted per holder so an
// interrupted batch resumes where it stopped.
func (e *Engine) ProcessBatch(ctx context.Context, distributionID string, batchSize int) (BatchResult, error) {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return BatchResult{}, err
	}
	if batchSize <= 0 {
		batchSize = e.params.BatchSize
	}
	d, err := e.Distribution(ctx, distributionID)
	if err != nil {
		return BatchResult{}, err
	}

	unlock := e.locks.Lock("distribution/" + d.ID)
	defer unlock()

	// Reload under the lock; a concurrent batch may have advanced the cursor.
	if d, err = e.Distribution(ctx, d.ID); err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{DistributionID: d.ID}
	if d.Status == StatusCompleted {
		result.Completed = true
		return result, nil
	}

	ctx, span := e.tracer.Start(ctx, "distribution.ProcessBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("distribution.id", d.ID),
		attribute.Int("distribution.cursor", d.Cursor),
		attribute.Int("distribution.batch_size", batchSize))
	started := e.now()

	end := d.Cursor + batchSize
	if end > len(d.Holders) {
		end = len(d.Holders)
	}
	var batchErr error
	for i := d.Cursor; i < end; i++ {
		if err := ctx.Err(); err != nil {
			batchErr = err
			break
		}
		holder := d.Holders[i].Address
		outcome, skipped, err := e.settle(ctx, d, holder, i+1)
		if err != nil {
			batchErr = err
			break
		}
		result.Processed++
		switch {
		case skipped:
			result.Skipped++
		case outcome == OutcomeSuccess:
			result.Succeeded++
		default:
			result.Failed++
			result.FailedHolders = append(result.FailedHolders, holder)
		}
	}

	if batchErr == nil && d.Cursor >= len(d.Holders) {
		if err := e.complete(ctx, d); err != nil {
			batchErr = err
		}
	}
	result.Remaining = d.Remaining()
	result.Completed = d.Status == StatusCompleted
	if e.observer != nil {
		e.observer.ObserveBatch(e.now().Sub(started), result.Processed)
	}
	span.SetAttributes(
		attribute.Int("distribution.succeeded", result.Succeeded),
		attribute.Int("distribution.failed", result.Failed),
		attribute.Int("distribution.remaining", result.Remaining))
	if batchErr != nil {
		if !errors.Is(batchErr, context.Canceled) && !errors.Is(batchErr, context.DeadlineExceeded) {
			span.RecordError(batchErr)
			span.SetStatus(codes.Error, batchErr.Error())
		}
		return result, batchErr
	}
	e.logger.Info("distribution batch processed",
		slog.String("distribution_id", d.ID),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Int("remaining", result.Remaining))
	return result, nil
}

func (e *Engine) complete(ctx context.Context, d *Distribution) error {
	now := e.now()
	next := d.Clone()
	next.Status = StatusCompleted
	next.CompletedAt = &now
	if err := e.state.Commit(context.WithoutCancel(ctx), Batch{Distribution: next}); err != nil {
		return fmt.Errorf("distribution: commit completion: %w", err)
	}
	d.Status = next.Status
	d.CompletedAt = next.CompletedAt
	e.logger.Info("distribution completed", slog.String("distribution_id", d.ID))
	e.notify(ctx, Event{Type: EventCompleted, DistributionID: d.ID, HarvestID: d.HarvestID, GroveID: d.GroveID, Amount: d.InvestorShare})
	return nil
}

// Run processes batches until the distribution completes or ctx is cancelled.
// It is safe to call again after an interruption.
func (e *Engine) Run(ctx context.Context, distributionID string, batchSize int) (RunResult, error) {
	var total RunResult
	total.DistributionID = distributionID
	for {
		batch, err := e.ProcessBatch(ctx, distributionID, batchSize)
		if batch.DistributionID != "" {
			total.DistributionID = batch.DistributionID
		}
		total.merge(batch)
		if batch.Processed > 0 || err == nil {
			total.Batches++
		}
		if err != nil {
			return total, err
		}
		if batch.Completed {
			return total, nil
		}
	}
}

// RetryFailed re-drives every holder the batch processor marked as failed.
// Holders paid in the meantime are skipped.
func (e *Engine) RetryFailed(ctx context.Context, distributionID string) (BatchResult, error) {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return BatchResult{}, err
	}
	d, err := e.Distribution(ctx, distributionID)
	if err != nil {
		return BatchResult{}, err
	}
	unlock := e.locks.Lock("distribution/" + d.ID)
	defer unlock()

	claims, err := e.state.Claims(ctx, d.ID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("distribution: list claims: %w", err)
	}
	result := BatchResult{DistributionID: d.ID}
	for _, claim := range claims {
		if !claim.Failed || claim.Claimed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, skipped, err := e.settle(ctx, d, claim.Holder, -1)
		if err != nil {
			return result, err
		}
		result.Processed++
		switch {
		case skipped:
			result.Skipped++
		case outcome == OutcomeSuccess:
			result.Succeeded++
		default:
			result.Failed++
			result.FailedHolders = append(result.FailedHolders, claim.Holder)
		}
	}
	result.Remaining = d.Remaining()
	result.Completed = d.Status == StatusCompleted
	e.logger.Info("distribution failures retried",
		slog.String("distribution_id", d.ID),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed))
	return result, nil
}

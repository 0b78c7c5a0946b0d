// Package scheduler drives finalization and dispute resolution once their
// deadlines pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/infra"

	"golang.org/x/time/rate"
)

// Finalizer is the settlement side the scheduler drives.
type Finalizer interface {
	FinalizableMarkets(ctx context.Context, now time.Time) ([]string, error)
	Finalize(ctx context.Context, marketID string) (*domain.Settlement, error)
}

// DisputeResolver is the arbitration side the scheduler drives.
type DisputeResolver interface {
	ExpiredDisputes(ctx context.Context, now time.Time) ([]string, error)
	Resolve(ctx context.Context, disputeID string) (*domain.DisputeOutcome, error)
}

// TreasurySweeper moves accrued trading fees into the treasury balance.
type TreasurySweeper interface {
	SweepTreasury(ctx context.Context) (int, error)
}

// Options tunes the scheduler.
type Options struct {
	Interval        time.Duration
	MaxOpsPerSecond float64 // 0 disables pacing
	Burst           int
	MaxAttempts     int           // per item, for retriable errors
	RetryDelay      time.Duration // doubled per attempt
	Clock           func() time.Time
	Metrics         *infra.Metrics
	Sweeper         TreasurySweeper // optional; swept once per tick
}

// TickReport summarises one pass.
type TickReport struct {
	Finalized        int
	FinalizeFailed   int
	DisputesResolved int
	DisputesFailed   int
	FeesSwept        int
	Errors           []error
}

// Expiry periodically finalizes markets past their dispute deadline and
// resolves disputes past their voting window. Each item is isolated: a failure
// is logged and counted and never stops the rest of the tick.
type Expiry struct {
	markets  Finalizer
	disputes DisputeResolver
	opts     Options
	limiter  *rate.Limiter

	tickMu sync.Mutex // one Tick at a time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExpiry creates an Expiry scheduler.
func NewExpiry(markets Finalizer, disputes DisputeResolver, opts Options) *Expiry {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.GlobalMetrics
	}

	limit := rate.Inf
	if opts.MaxOpsPerSecond > 0 {
		limit = rate.Limit(opts.MaxOpsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Expiry{
		markets:  markets,
		disputes: disputes,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Start runs Tick immediately and then on every interval until Stop or ctx ends.
func (e *Expiry) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		slog.Info("Expiry scheduler started", slog.Duration("interval", e.opts.Interval))

		e.Tick(ctx)

		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("Expiry scheduler stopped")
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current tick to finish.
func (e *Expiry) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Tick runs one pass: finalize every due market, resolve every expired
// dispute, then sweep accrued fees. A dispute resolved here makes its market
// finalizable on a later tick.
func (e *Expiry) Tick(ctx context.Context) TickReport {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	var report TickReport
	now := e.opts.Clock().UTC()
	e.opts.Metrics.RecordTick()

	marketIDs, err := e.markets.FinalizableMarkets(ctx, now)
	if err != nil {
		e.fail(&report, "list finalizable markets", "", err)
	}
	for _, id := range marketIDs {
		err := e.run(ctx, "finalize", id, func() error {
			settlement, err := e.markets.Finalize(ctx, id)
			if err == nil && !settlement.AlreadyFinalized {
				slog.Info("Market finalized by scheduler",
					slog.String("market", id),
					slog.Int("winners", settlement.Winners))
			}
			return err
		})
		if err != nil {
			report.FinalizeFailed++
			e.fail(&report, "finalize", id, err)
			continue
		}
		report.Finalized++
	}

	disputeIDs, err := e.disputes.ExpiredDisputes(ctx, now)
	if err != nil {
		e.fail(&report, "list expired disputes", "", err)
	}
	for _, id := range disputeIDs {
		err := e.run(ctx, "resolve dispute", id, func() error {
			out, err := e.disputes.Resolve(ctx, id)
			if err == nil {
				slog.Info("Dispute resolved by scheduler",
					slog.String("dispute", id),
					slog.Bool("passed", out.Passed))
			}
			return err
		})
		if err != nil {
			report.DisputesFailed++
			e.fail(&report, "resolve dispute", id, err)
			continue
		}
		report.DisputesResolved++
	}

	if e.opts.Sweeper != nil {
		err := e.run(ctx, "sweep treasury", domain.TreasuryAccountID, func() error {
			n, err := e.opts.Sweeper.SweepTreasury(ctx)
			report.FeesSwept = n
			return err
		})
		if err != nil {
			e.fail(&report, "sweep treasury", domain.TreasuryAccountID, err)
		}
	}

	if len(marketIDs)+len(disputeIDs) > 0 {
		slog.Info("Expiry tick complete",
			slog.Int("finalized", report.Finalized),
			slog.Int("finalize_failed", report.FinalizeFailed),
			slog.Int("disputes_resolved", report.DisputesResolved),
			slog.Int("disputes_failed", report.DisputesFailed))
	}
	return report
}

// run paces and retries one item. Retriable errors get exponential backoff;
// business-rule errors and panics are returned at once.
func (e *Expiry) run(ctx context.Context, op, id string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.opts.RetryDelay << uint(attempt-1)
			slog.Info("Retrying scheduled operation",
				slog.String("op", op),
				slog.String("id", id),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = safeCall(fn)
		if lastErr == nil || !retriable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retriable(err error) bool {
	return domain.IsRetriable(err) || errors.Is(err, domain.ErrLockTimeout)
}

// safeCall turns a panic in one item into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (e *Expiry) fail(report *TickReport, op, id string, err error) {
	e.opts.Metrics.RecordError()
	report.Errors = append(report.Errors, fmt.Errorf("%s %s: %w", op, id, err))
	slog.Warn("Scheduled operation failed",
		slog.String("op", op),
		slog.String("id", id),
		slog.Any("error", err))
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarkets struct {
	mu        sync.Mutex
	ids       []string
	failures  map[string]error
	panics    map[string]bool
	attempts  map[string]int
	finalized []string
}

func (f *fakeMarkets) FinalizableMarkets(ctx context.Context, now time.Time) ([]string, error) {
	return f.ids, nil
}

func (f *fakeMarkets) Finalize(ctx context.Context, id string) (*domain.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[id]++
	if f.panics[id] {
		panic("boom")
	}
	if err, ok := f.failures[id]; ok {
		return nil, err
	}
	f.finalized = append(f.finalized, id)
	return &domain.Settlement{MarketID: id, Outcome: domain.OutcomeYes}, nil
}

type fakeDisputes struct {
	ids      []string
	listErr  error
	resolved []string
	failures map[string]error
}

func (f *fakeDisputes) ExpiredDisputes(ctx context.Context, now time.Time) ([]string, error) {
	return f.ids, f.listErr
}

func (f *fakeDisputes) Resolve(ctx context.Context, id string) (*domain.DisputeOutcome, error) {
	if err, ok := f.failures[id]; ok {
		return nil, err
	}
	f.resolved = append(f.resolved, id)
	return &domain.DisputeOutcome{DisputeID: id}, nil
}

func newTestExpiry(m Finalizer, d DisputeResolver, metrics *infra.Metrics) *Expiry {
	return NewExpiry(m, d, Options{
		Interval:   10 * time.Millisecond,
		RetryDelay: time.Millisecond,
		Metrics:    metrics,
	})
}

func TestTick_IsolatesFailures(t *testing.T) {
	markets := &fakeMarkets{
		ids:      []string{"m1", "m2", "m3", "m4"},
		failures: map[string]error{"m2": domain.ErrDisputeAlreadyActive},
		panics:   map[string]bool{"m3": true},
	}
	disputes := &fakeDisputes{
		ids:      []string{"d1", "d2"},
		failures: map[string]error{"d1": domain.ErrDisputeNotActive},
	}
	metrics := &infra.Metrics{}

	report := newTestExpiry(markets, disputes, metrics).Tick(context.Background())

	assert.Equal(t, []string{"m1", "m4"}, markets.finalized)
	assert.Equal(t, []string{"d2"}, disputes.resolved)
	assert.Equal(t, 2, report.Finalized)
	assert.Equal(t, 2, report.FinalizeFailed)
	assert.Equal(t, 1, report.DisputesResolved)
	assert.Equal(t, 1, report.DisputesFailed)
	assert.Len(t, report.Errors, 3)
	assert.Equal(t, 1, markets.attempts["m2"], "business-rule errors are not retried")

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.SchedulerTicks)
	assert.EqualValues(t, 3, snap.ErrorsTotal)
}

func TestTick_RetriesRetriableErrors(t *testing.T) {
	markets := &fakeMarkets{
		ids:      []string{"m1"},
		failures: map[string]error{"m1": domain.NewStoreError("lock market", errors.New("database is locked"))},
	}

	report := newTestExpiry(markets, &fakeDisputes{}, &infra.Metrics{}).Tick(context.Background())

	assert.Equal(t, 3, markets.attempts["m1"])
	assert.Equal(t, 1, report.FinalizeFailed)
}

func TestTick_ListFailureDoesNotStopOtherPhase(t *testing.T) {
	markets := &fakeMarkets{ids: []string{"m1"}}
	disputes := &fakeDisputes{listErr: errors.New("db down")}

	report := newTestExpiry(markets, disputes, &infra.Metrics{}).Tick(context.Background())

	assert.Equal(t, 1, report.Finalized)
	require.Len(t, report.Errors, 1)
	assert.ErrorContains(t, report.Errors[0], "db down")
}

type fakeSweeper struct {
	calls int
	n     int
	err   error
}

func (f *fakeSweeper) SweepTreasury(ctx context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

func TestTick_SweepsTreasury(t *testing.T) {
	sweeper := &fakeSweeper{n: 4}
	e := NewExpiry(&fakeMarkets{}, &fakeDisputes{}, Options{
		RetryDelay: time.Millisecond,
		Metrics:    &infra.Metrics{},
		Sweeper:    sweeper,
	})

	report := e.Tick(context.Background())

	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, 4, report.FeesSwept)
	assert.Empty(t, report.Errors)
}

func TestTick_SweepFailureIsReported(t *testing.T) {
	sweeper := &fakeSweeper{err: domain.NewStoreError("lock account", errors.New("database is locked"))}
	markets := &fakeMarkets{ids: []string{"m1"}}
	e := NewExpiry(markets, &fakeDisputes{}, Options{
		RetryDelay: time.Millisecond,
		Metrics:    &infra.Metrics{},
		Sweeper:    sweeper,
	})

	report := e.Tick(context.Background())

	assert.Equal(t, 1, report.Finalized)
	assert.Equal(t, 3, sweeper.calls, "store errors are retried")
	require.Len(t, report.Errors, 1)
	assert.ErrorContains(t, report.Errors[0], "sweep treasury")
}

func TestStartStop(t *testing.T) {
	markets := &fakeMarkets{}
	metrics := &infra.Metrics{}
	e := newTestExpiry(markets, &fakeDisputes{}, metrics)

	e.Start(context.Background())
	require.Eventually(t, func() bool {
		return metrics.Snapshot().SchedulerTicks >= 2
	}, time.Second, 5*time.Millisecond)
	e.Stop()

	ticks := metrics.Snapshot().SchedulerTicks
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, metrics.Snapshot().SchedulerTicks, "no ticks after Stop")
}

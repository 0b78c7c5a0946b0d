package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"predict_go/internal/dispute"
	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/infra"
	"predict_go/internal/infra/lock"
	"predict_go/internal/infra/storage"
	"predict_go/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTick_DisputeThenFinalize(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(storage.Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &movableClock{now: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
	metrics := &infra.Metrics{}
	locker := lock.NewKeyedLocker()
	l := ledger.New(store, locker, engine.New(engine.DefaultParams()), ledger.DefaultSettings(),
		ledger.WithClock(clk.Now), ledger.WithMetrics(metrics))
	disputes := dispute.NewService(store, locker, dispute.DefaultSettings(),
		dispute.WithClock(clk.Now), dispute.WithMetrics(metrics))
	exp := NewExpiry(l, disputes, Options{Clock: clk.Now, Metrics: metrics, RetryDelay: time.Millisecond})

	m, err := l.CreateMarket(ctx, ledger.CreateMarketRequest{CreatorID: "creator", Question: "Does the bridge open on time?"})
	require.NoError(t, err)
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, l.CreditExternalDeposit(ctx, u, domain.USDC, decimal.NewFromInt(100), "dep-"+u))
	}
	_, err = l.Buy(ctx, "alice", m.ID, domain.OutcomeYes, decimal.NewFromInt(10))
	require.NoError(t, err)
	bobBuy, err := l.Buy(ctx, "bob", m.ID, domain.OutcomeNo, decimal.NewFromInt(5))
	require.NoError(t, err)

	_, err = l.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.NoError(t, err)

	// Bob challenges after 12h; the dispute outlives the market's deadline.
	clk.Advance(12 * time.Hour)
	d, err := disputes.Open(ctx, dispute.OpenRequest{MarketID: m.ID, UserID: "bob", Proposed: domain.OutcomeNo})
	require.NoError(t, err)

	clk.Advance(13 * time.Hour) // market deadline passed, voting window not yet
	report := exp.Tick(ctx)
	assert.Zero(t, report.Finalized, "a DISPUTED market is not finalizable")
	assert.Zero(t, report.DisputesResolved)

	clk.Advance(12 * time.Hour) // voting window over
	report = exp.Tick(ctx)
	assert.Equal(t, 1, report.DisputesResolved)
	assert.Zero(t, report.Finalized, "finalization waits for the next tick")

	got, err := disputes.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputePassed, got.Status, "bob's stake and shares outweigh nobody voting against")

	report = exp.Tick(ctx)
	assert.Equal(t, 1, report.Finalized)

	acc, err := l.Balance(ctx, "bob")
	require.NoError(t, err)
	// 100 - 5 bet - stake + stake refund + payout per share.
	assert.True(t, acc.BalanceUSDC.Equal(decimal.NewFromInt(95).Add(bobBuy.Shares)), "bob balance %s", acc.BalanceUSDC)

	report = exp.Tick(ctx)
	assert.Zero(t, report.Finalized+report.FinalizeFailed, "nothing left to do")
}

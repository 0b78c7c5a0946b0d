package app

import (
	"context"
	"testing"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/infra"
	"predict_go/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBootstrap(t *testing.T) *Bootstrap {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.Feed.Enabled = false
	cfg.Scheduler.Interval = time.Hour

	b := NewBootstrap()
	b.Config = cfg
	b.Metrics = &infra.Metrics{}
	require.NoError(t, b.Wire(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestWireBuildsEveryComponent(t *testing.T) {
	b := testBootstrap(t)

	assert.NotNil(t, b.Storage)
	assert.NotNil(t, b.Locker)
	assert.NotNil(t, b.Ledger)
	assert.NotNil(t, b.Disputes)
	assert.NotNil(t, b.Quotes)
	assert.NotNil(t, b.Scheduler)
	assert.Nil(t, b.Hub, "feed disabled")
	assert.Equal(t, domain.USDC, b.Ledger.Currency())
}

func TestWireRequiresConfig(t *testing.T) {
	assert.Error(t, NewBootstrap().Wire(context.Background()))
}

func TestTradesReachQuoteService(t *testing.T) {
	b := testBootstrap(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	m, err := b.Ledger.CreateMarket(ctx, ledger.CreateMarketRequest{
		CreatorID: "creator",
		Question:  "Will the launch happen on time?",
	})
	require.NoError(t, err)
	require.NoError(t, b.Ledger.CreditExternalDeposit(ctx, "alice", domain.USDC, decimal.NewFromInt(50), "dep-1"))

	_, err = b.Ledger.Buy(ctx, "alice", m.ID, domain.OutcomeYes, decimal.NewFromInt(5))
	require.NoError(t, err)

	half := decimal.RequireFromString("0.5")
	require.Eventually(t, func() bool {
		q, ok := b.Quotes.Get(m.ID)
		return ok && q.Prices.Yes.GreaterThan(half)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, b.Sequencer.LastSeq(), uint64(3))
}

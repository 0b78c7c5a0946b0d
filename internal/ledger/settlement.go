package ledger

import (
	"context"
	"log/slog"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// Resolve records the creator's outcome and opens the dispute window.
// Checking that the caller is the creator is left to the caller; see ResolveAs.
func (l *Ledger) Resolve(ctx context.Context, marketID string, outcome domain.Outcome) (*domain.Market, error) {
	return l.resolve(ctx, "", marketID, outcome)
}

// ResolveAs is Resolve restricted to the market's creator.
func (l *Ledger) ResolveAs(ctx context.Context, creatorID, marketID string, outcome domain.Outcome) (*domain.Market, error) {
	if creatorID == "" {
		return nil, domain.ErrNotCreator
	}
	return l.resolve(ctx, creatorID, marketID, outcome)
}

func (l *Ledger) resolve(ctx context.Context, creatorID, marketID string, outcome domain.Outcome) (*domain.Market, error) {
	if !outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}

	unlock, err := l.lock(ctx, domain.MarketLockKey(marketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var market *domain.Market
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		m, err := q.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if creatorID != "" && m.CreatorID != creatorID {
			return domain.ErrNotCreator
		}
		if m.Status == domain.MarketFinalized {
			return domain.ErrAlreadyFinalized
		}
		if m.Status != domain.MarketActive {
			return domain.ErrMarketNotActive
		}

		now := l.now()
		deadline := now.Add(l.settings.DisputeWindow)
		m.Status = domain.MarketResolved
		m.ResolvedOutcome = outcome
		m.ResolvedAt = &now
		m.DisputeDeadline = &deadline
		m.UpdatedAt = now
		if err := q.SaveMarket(ctx, m); err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return nil, wrapOp("resolve", err)
	}

	slog.Info("Market resolved",
		slog.String("market", market.ShortID()),
		slog.String("outcome", string(outcome)),
		slog.Time("dispute_deadline", *market.DisputeDeadline))
	l.publishMarket(market)
	return market, nil
}

// Finalize pays 1 unit of the settlement currency per winning share and
// closes the market. Calling it on a FINALIZED market is a no-op that
// reports AlreadyFinalized; it never pays twice.
//
// A market with an ACTIVE dispute is refused even when its status reads
// RESOLVED, so a dispute resolution and a scheduler tick cannot race.
func (l *Ledger) Finalize(ctx context.Context, marketID string) (*domain.Settlement, error) {
	unlock, err := l.lock(ctx, domain.MarketLockKey(marketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	settlement := &domain.Settlement{MarketID: marketID, TotalPayout: decimal.Zero}
	var market *domain.Market
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		m, err := q.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status == domain.MarketFinalized {
			settlement.Outcome = m.ResolvedOutcome
			settlement.AlreadyFinalized = true
			return nil
		}
		if m.Status != domain.MarketResolved || !m.ResolvedOutcome.Valid() {
			return domain.ErrMarketNotResolved
		}

		now := l.now()
		if m.DisputeDeadline != nil && now.Before(*m.DisputeDeadline) {
			return domain.ErrDisputeWindowOpen
		}
		active, err := q.ActiveDispute(ctx, m.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return domain.ErrDisputeAlreadyActive
		}

		positions, err := q.ListMarketPositions(ctx, m.ID)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if pos.Outcome != m.ResolvedOutcome || !pos.Shares.IsPositive() {
				continue
			}
			if _, err := l.post(ctx, q, &domain.LedgerEntry{
				UserID:    pos.UserID,
				MarketID:  m.ID,
				Type:      domain.EntryPayout,
				Currency:  l.currency,
				Amount:    pos.Shares,
				Outcome:   pos.Outcome,
				Shares:    decimal.NewNullDecimal(pos.Shares),
				CreatedAt: now,
			}); err != nil {
				return err
			}
			settlement.Winners++
			settlement.TotalPayout = settlement.TotalPayout.Add(pos.Shares)
		}

		m.Status = domain.MarketFinalized
		m.FinalizedAt = &now
		m.UpdatedAt = now
		if err := q.SaveMarket(ctx, m); err != nil {
			return err
		}
		settlement.Outcome = m.ResolvedOutcome
		market = m
		return nil
	})
	if err != nil {
		return nil, wrapOp("finalize", err)
	}
	if settlement.AlreadyFinalized {
		return settlement, nil
	}

	l.metrics.RecordFinalize(settlement.Winners)
	slog.Info("Market finalized",
		slog.String("market", market.ShortID()),
		slog.String("outcome", string(settlement.Outcome)),
		slog.Int("winners", settlement.Winners),
		slog.String("payout", settlement.TotalPayout.String()))
	l.publishMarket(market)
	return settlement, nil
}

// FinalizableMarkets lists RESOLVED markets whose dispute deadline has passed.
func (l *Ledger) FinalizableMarkets(ctx context.Context, now time.Time) ([]string, error) {
	return l.store.ListFinalizable(ctx, now.UTC())
}

// SweepTreasury credits accrued trading fees to the treasury account and
// returns how many accruals it applied.
func (l *Ledger) SweepTreasury(ctx context.Context) (int, error) {
	unlock, err := l.lock(ctx, domain.AccountLockKey(domain.TreasuryAccountID))
	if err != nil {
		return 0, err
	}
	defer unlock()

	var swept int
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		n, err := q.SweepFees(ctx, 0)
		swept = n
		return err
	})
	if err != nil {
		return 0, wrapOp("sweep treasury", err)
	}
	if swept > 0 {
		slog.Info("Treasury fees swept", slog.Int("accruals", swept))
	}
	return swept, nil
}

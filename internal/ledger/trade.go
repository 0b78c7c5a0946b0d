package ledger

import (
	"context"
	"fmt"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// Buy spends amount of the settlement currency on shares of outcome.
//
// The whole operation is one transaction under the market and account
// locks: debit the buyer, price the trade, move the market's share counter
// and volume, upsert the position, credit the fee to the treasury and append
// the BUY and FEE entries.
func (l *Ledger) Buy(ctx context.Context, userID, marketID string, outcome domain.Outcome, amount decimal.Decimal) (*domain.BuyResult, error) {
	if !outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	unlock, err := l.lock(ctx, domain.MarketLockKey(marketID), domain.AccountLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	var (
		res    domain.BuyResult
		market *domain.Market
	)
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		m, err := q.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketActive {
			return domain.ErrMarketNotActive
		}
		buyer, err := q.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if have := buyer.Balance(l.currency); have.LessThan(amount) {
			return domain.NewRuleError(domain.ErrInsufficientBalance,
				fmt.Sprintf("Insufficient balance. You have %s %s", have.StringFixed(2), l.currency))
		}
		if err := l.pricing.ValidateBet(m.B, amount); err != nil {
			return err
		}

		now := l.now()
		state := engine.StateOf(m)
		trade := l.pricing.ExecuteBuy(state, outcome, amount)

		acc, err := l.post(ctx, q, &domain.LedgerEntry{
			UserID:    userID,
			MarketID:  m.ID,
			Type:      domain.EntryBuy,
			Currency:  l.currency,
			Amount:    amount.Neg(),
			Outcome:   outcome,
			Shares:    decimal.NewNullDecimal(trade.Shares),
			Price:     decimal.NewNullDecimal(trade.NewPrice),
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		m.AddShares(outcome, trade.Shares)
		m.TotalVolume = m.TotalVolume.Add(amount)
		m.UpdatedAt = now
		if err := q.SaveMarket(ctx, m); err != nil {
			return err
		}

		pos, err := q.LockPosition(ctx, userID, m.ID, outcome)
		if err != nil {
			return err
		}
		if pos == nil {
			pos = &domain.Position{
				UserID:    userID,
				MarketID:  m.ID,
				Outcome:   outcome,
				Shares:    decimal.Zero,
				CostBasis: decimal.Zero,
				CreatedAt: now,
			}
		}
		pos.Shares = pos.Shares.Add(trade.Shares)
		pos.CostBasis = pos.CostBasis.Add(trade.TotalCost)
		pos.UpdatedAt = now
		if err := q.SavePosition(ctx, pos); err != nil {
			return err
		}

		if err := l.collectFee(ctx, q, m.ID, trade.Fee, now); err != nil {
			return err
		}

		res = domain.BuyResult{
			TradeResult: trade,
			MarketID:    m.ID,
			Outcome:     outcome,
			NewBalance:  acc.Balance(l.currency),
		}
		market = m
		return nil
	})
	if err != nil {
		return nil, wrapOp("buy", err)
	}

	l.metrics.RecordTrade(time.Since(start))
	l.publishTrade(market, userID, domain.EntryBuy, outcome, res.Shares, amount)
	return &res, nil
}

// Sell returns shares of outcome to the market maker and credits the proceeds
// net of the fee. A position that reaches exactly zero shares is deleted.
func (l *Ledger) Sell(ctx context.Context, userID, marketID string, outcome domain.Outcome, shares decimal.Decimal) (*domain.SellResult, error) {
	if !outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}
	if !shares.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	unlock, err := l.lock(ctx, domain.MarketLockKey(marketID), domain.AccountLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	var (
		res    domain.SellResult
		market *domain.Market
	)
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		m, err := q.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketActive {
			return domain.ErrMarketNotActive
		}

		pos, err := q.LockPosition(ctx, userID, m.ID, outcome)
		if err != nil {
			return err
		}
		if pos == nil || pos.Shares.LessThan(shares) {
			held := decimal.Zero
			if pos != nil {
				held = pos.Shares
			}
			return domain.NewRuleError(domain.ErrInsufficientShares,
				fmt.Sprintf("Insufficient shares: have %s, want to sell %s", held.StringFixed(4), shares.StringFixed(4)))
		}

		now := l.now()
		trade := l.pricing.ExecuteSell(engine.StateOf(m), outcome, shares)

		acc, err := l.post(ctx, q, &domain.LedgerEntry{
			UserID:    userID,
			MarketID:  m.ID,
			Type:      domain.EntrySell,
			Currency:  l.currency,
			Amount:    trade.Cost,
			Outcome:   outcome,
			Shares:    decimal.NewNullDecimal(shares),
			Price:     decimal.NewNullDecimal(trade.NewPrice),
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		m.AddShares(outcome, shares.Neg())
		m.UpdatedAt = now
		if err := q.SaveMarket(ctx, m); err != nil {
			return err
		}

		pos.Shares = pos.Shares.Sub(shares)
		pos.UpdatedAt = now
		if pos.Shares.IsZero() {
			err = q.DeletePosition(ctx, pos.ID)
		} else {
			err = q.SavePosition(ctx, pos)
		}
		if err != nil {
			return err
		}

		if err := l.collectFee(ctx, q, m.ID, trade.Fee, now); err != nil {
			return err
		}

		res = domain.SellResult{
			TradeResult: trade,
			MarketID:    m.ID,
			Outcome:     outcome,
			NewBalance:  acc.Balance(l.currency),
		}
		market = m
		return nil
	})
	if err != nil {
		return nil, wrapOp("sell", err)
	}

	l.metrics.RecordTrade(time.Since(start))
	l.publishTrade(market, userID, domain.EntrySell, outcome, shares, res.Cost)
	return &res, nil
}

// collectFee records a trading fee for the treasury. The balance itself is
// credited by SweepTreasury so trades on different markets do not queue on
// the treasury row.
func (l *Ledger) collectFee(ctx context.Context, q *storage.Queries, marketID string, fee decimal.Decimal, at time.Time) error {
	if !fee.IsPositive() {
		return nil
	}
	return q.AccrueFee(ctx, &domain.LedgerEntry{
		UserID:    domain.TreasuryAccountID,
		MarketID:  marketID,
		Type:      domain.EntryFee,
		Currency:  l.currency,
		Amount:    fee,
		CreatedAt: at,
	})
}

func (l *Ledger) publishTrade(m *domain.Market, userID string, side domain.EntryType, outcome domain.Outcome, shares, amount decimal.Decimal) {
	ev := event.AcquireTradeEvent()
	ev.BaseEvent = event.Stamp(l.now())
	ev.MarketID = m.ID
	ev.UserID = userID
	ev.Side = side
	ev.Outcome = outcome
	ev.Shares = shares
	ev.Amount = amount
	ev.Prices = l.pricing.Prices(engine.StateOf(m))
	ev.TotalVolume = m.TotalVolume
	l.publisher.Publish(ev)
}

// wrapOp adds operation context to infrastructure errors. Business-rule
// errors are returned as-is so callers can show their reason verbatim.
func wrapOp(op string, err error) error {
	if err == nil || domain.IsBusinessRule(err) {
		return err
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}

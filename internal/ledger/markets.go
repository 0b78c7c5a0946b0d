package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"predict_go/internal/domain"
	"predict_go/internal/engine"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateMarketRequest describes a new market. Empty labels default to Yes/No
// and a zero Liquidity uses the configured default b.
type CreateMarketRequest struct {
	CreatorID string          `validate:"required,max=64"`
	GroupID   string          `validate:"max=64"`
	Question  string          `validate:"required,min=5,max=500"`
	YesLabel  string          `validate:"max=64"`
	NoLabel   string          `validate:"max=64"`
	Liquidity decimal.Decimal `validate:"-"`
}

// CreateMarket opens an ACTIVE market with zero shares on both sides.
func (l *Ledger) CreateMarket(ctx context.Context, req CreateMarketRequest) (*domain.Market, error) {
	req.Question = strings.TrimSpace(req.Question)
	if err := l.validate.Struct(req); err != nil {
		return nil, domain.NewRuleError(domain.ErrInvalidMarket, describeValidation(err))
	}

	b := req.Liquidity
	if b.IsZero() {
		b = l.settings.DefaultLiquidity
	}
	if b.LessThan(l.settings.MinLiquidity) {
		return nil, domain.NewRuleError(domain.ErrInvalidMarket,
			fmt.Sprintf("Liquidity must be at least %s", l.settings.MinLiquidity.String()))
	}

	now := l.now()
	m := &domain.Market{
		ID:          uuid.NewString(),
		CreatorID:   req.CreatorID,
		GroupID:     req.GroupID,
		Question:    req.Question,
		YesLabel:    labelOr(req.YesLabel, "Yes"),
		NoLabel:     labelOr(req.NoLabel, "No"),
		B:           b,
		SharesYes:   decimal.Zero,
		SharesNo:    decimal.Zero,
		TotalVolume: decimal.Zero,
		Status:      domain.MarketActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("ledger: create market: %w", err)
	}

	slog.Info("Market created",
		slog.String("market", m.ShortID()),
		slog.String("creator", m.CreatorID),
		slog.String("b", m.B.String()))
	l.publishMarket(m)
	return m, nil
}

func labelOr(label, fallback string) string {
	if label = strings.TrimSpace(label); label == "" {
		return fallback
	}
	return label
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// GetMarket returns a market by full id.
func (l *Ledger) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	return l.store.GetMarket(ctx, id)
}

// FindByPrefix resolves a short id (usually the first 8 characters).
func (l *Ledger) FindByPrefix(ctx context.Context, shortID string) (*domain.Market, error) {
	return l.store.FindMarketByPrefix(ctx, shortID)
}

// ListActive returns ACTIVE markets, newest first.
func (l *Ledger) ListActive(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	return l.store.ListMarkets(ctx, domain.MarketActive, f)
}

// Quote returns current prices and volume for a market.
func (l *Ledger) Quote(ctx context.Context, id string) (domain.Quote, error) {
	m, err := l.store.GetMarket(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	return QuoteOf(l.pricing, m), nil
}

// QuoteOf builds a quote from a loaded market.
func QuoteOf(pricing *engine.Engine, m *domain.Market) domain.Quote {
	return domain.Quote{
		MarketID:    m.ID,
		Question:    m.Question,
		Status:      m.Status,
		Prices:      pricing.Prices(engine.StateOf(m)),
		TotalVolume: m.TotalVolume,
		UpdatedAt:   m.UpdatedAt,
	}
}

// Balance returns a user's account; unknown users have zero balances.
func (l *Ledger) Balance(ctx context.Context, userID string) (*domain.Account, error) {
	return l.store.GetAccount(ctx, userID)
}

// Portfolio returns every open position of a user.
func (l *Ledger) Portfolio(ctx context.Context, userID string) ([]domain.Position, error) {
	return l.store.ListUserPositions(ctx, userID, "")
}

// History returns a user's most recent ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	return l.store.ListEntries(ctx, userID, limit)
}

package storage

import (
	"context"
	"errors"
	"time"

	"predict_go/internal/domain"

	"gorm.io/gorm"
)

// ======================================================================================
// Market Operations
// ======================================================================================

// CreateMarket inserts a new market.
func (q *Queries) CreateMarket(ctx context.Context, m *domain.Market) error {
	return wrap("create market", q.conn(ctx).Create(m).Error)
}

// GetMarket retrieves a market by full id.
func (q *Queries) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	var m domain.Market
	err := q.conn(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, wrap("get market", err)
	}
	return &m, nil
}

// LockMarket reads a market row for update inside a transaction.
func (q *Queries) LockMarket(ctx context.Context, id string) (*domain.Market, error) {
	var m domain.Market
	err := q.forUpdate(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, wrap("lock market", err)
	}
	return &m, nil
}

// SaveMarket writes every column of m.
func (q *Queries) SaveMarket(ctx context.Context, m *domain.Market) error {
	return wrap("save market", q.conn(ctx).Save(m).Error)
}

// FindMarketByPrefix returns the oldest market whose id starts with prefix.
func (q *Queries) FindMarketByPrefix(ctx context.Context, prefix string) (*domain.Market, error) {
	pattern, ok := likePrefix(prefix)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	var m domain.Market
	err := q.conn(ctx).Where("id LIKE ?", pattern).Order("created_at asc").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, wrap("find market", err)
	}
	return &m, nil
}

// ListMarkets returns markets in a status, newest first.
func (q *Queries) ListMarkets(ctx context.Context, status domain.MarketStatus, f domain.MarketFilter) ([]domain.Market, error) {
	tx := q.conn(ctx).Where("status = ?", status)
	if f.GroupID != "" {
		tx = tx.Where("group_id = ?", f.GroupID)
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}

	var markets []domain.Market
	if err := tx.Order("created_at desc").Find(&markets).Error; err != nil {
		return nil, wrap("list markets", err)
	}
	return markets, nil
}

// ListFinalizable returns ids of RESOLVED markets whose dispute deadline is at or before now.
func (q *Queries) ListFinalizable(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := q.conn(ctx).Model(&domain.Market{}).
		Where("status = ? AND dispute_deadline IS NOT NULL AND dispute_deadline <= ?", domain.MarketResolved, now).
		Order("dispute_deadline asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, wrap("list finalizable", err)
	}
	return ids, nil
}

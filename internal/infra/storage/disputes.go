package storage

import (
	"context"
	"errors"
	"time"

	"predict_go/internal/domain"

	"gorm.io/gorm"
)

// ======================================================================================
// Dispute Operations
// ======================================================================================

// CreateDispute inserts a dispute.
func (q *Queries) CreateDispute(ctx context.Context, d *domain.Dispute) error {
	return wrap("create dispute", q.conn(ctx).Create(d).Error)
}

// SaveDispute writes every column of d.
func (q *Queries) SaveDispute(ctx context.Context, d *domain.Dispute) error {
	return wrap("save dispute", q.conn(ctx).Save(d).Error)
}

// GetDispute retrieves a dispute by full id.
func (q *Queries) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	var d domain.Dispute
	err := q.conn(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, wrap("get dispute", err)
	}
	return &d, nil
}

// LockDispute reads a dispute for update inside a transaction.
func (q *Queries) LockDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	var d domain.Dispute
	err := q.forUpdate(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, wrap("lock dispute", err)
	}
	return &d, nil
}

// FindDisputeByPrefix returns the oldest dispute whose id starts with prefix.
func (q *Queries) FindDisputeByPrefix(ctx context.Context, prefix string) (*domain.Dispute, error) {
	pattern, ok := likePrefix(prefix)
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}
	var d domain.Dispute
	err := q.conn(ctx).Where("id LIKE ?", pattern).Order("created_at asc").Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, wrap("find dispute", err)
	}
	return &d, nil
}

// ActiveDispute returns the ACTIVE dispute on a market, or nil.
func (q *Queries) ActiveDispute(ctx context.Context, marketID string) (*domain.Dispute, error) {
	var d domain.Dispute
	err := q.conn(ctx).Where("market_id = ? AND status = ?", marketID, domain.DisputeActive).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("active dispute", err)
	}
	return &d, nil
}

// ListExpiredDisputes returns ids of ACTIVE disputes created at or before cutoff.
func (q *Queries) ListExpiredDisputes(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := q.conn(ctx).Model(&domain.Dispute{}).
		Where("status = ? AND created_at <= ?", domain.DisputeActive, cutoff).
		Order("created_at asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, wrap("list expired disputes", err)
	}
	return ids, nil
}

// ======================================================================================
// Vote Operations
// ======================================================================================

// HasVoted reports whether a user already voted on a dispute.
func (q *Queries) HasVoted(ctx context.Context, disputeID, userID string) (bool, error) {
	var count int64
	err := q.conn(ctx).Model(&domain.DisputeVote{}).
		Where("dispute_id = ? AND user_id = ?", disputeID, userID).
		Count(&count).Error
	if err != nil {
		return false, wrap("has voted", err)
	}
	return count > 0, nil
}

// CreateVote records a vote. A second vote by the same user is ErrAlreadyVoted.
func (q *Queries) CreateVote(ctx context.Context, v *domain.DisputeVote) error {
	err := q.conn(ctx).Create(v).Error
	if isUniqueViolation(err) {
		return domain.ErrAlreadyVoted
	}
	return wrap("create vote", err)
}

// ListVotes returns the votes on a dispute in cast order.
func (q *Queries) ListVotes(ctx context.Context, disputeID string) ([]domain.DisputeVote, error) {
	var votes []domain.DisputeVote
	if err := q.conn(ctx).Where("dispute_id = ?", disputeID).Order("id asc").Find(&votes).Error; err != nil {
		return nil, wrap("list votes", err)
	}
	return votes, nil
}

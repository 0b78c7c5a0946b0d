package storage

import (
	"context"
	"errors"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Account Operations
// ======================================================================================

// GetAccount returns a user's account, or an unsaved zero account when none exists.
func (q *Queries) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var acc domain.Account
	err := q.conn(ctx).First(&acc, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.Account{UserID: userID, BalanceUSDC: decimal.Zero, BalanceSOL: decimal.Zero}, nil
	}
	if err != nil {
		return nil, wrap("get account", err)
	}
	return &acc, nil
}

// LockAccount creates the account row if needed and reads it for update.
func (q *Queries) LockAccount(ctx context.Context, userID string) (*domain.Account, error) {
	seed := domain.Account{UserID: userID, BalanceUSDC: decimal.Zero, BalanceSOL: decimal.Zero}
	if err := q.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, wrap("ensure account", err)
	}

	var acc domain.Account
	if err := q.forUpdate(ctx).First(&acc, "user_id = ?", userID).Error; err != nil {
		return nil, wrap("lock account", err)
	}
	return &acc, nil
}

// SaveAccount persists balances after checking the non-negative invariant.
func (q *Queries) SaveAccount(ctx context.Context, acc *domain.Account) error {
	if err := acc.VerifyInvariant(); err != nil {
		return domain.NewFatalStoreError("save account", err)
	}
	return wrap("save account", q.conn(ctx).Save(acc).Error)
}

// PostEntry applies a signed balance movement to the entry's user and appends
// the entry. A negative amount larger than the balance fails with
// ErrInsufficientBalance before anything is written.
func (q *Queries) PostEntry(ctx context.Context, e *domain.LedgerEntry) (*domain.Account, error) {
	acc, err := q.LockAccount(ctx, e.UserID)
	if err != nil {
		return nil, err
	}
	if e.Amount.IsNegative() {
		if err := acc.Debit(e.Currency, e.Amount.Neg()); err != nil {
			return nil, err
		}
	} else {
		acc.Credit(e.Currency, e.Amount)
	}
	if err := q.SaveAccount(ctx, acc); err != nil {
		return nil, err
	}
	if err := q.AppendEntry(ctx, e); err != nil {
		return nil, err
	}
	return acc, nil
}

// ======================================================================================
// Position Operations
// ======================================================================================

// LockPosition reads a position for update; nil when the user holds none.
func (q *Queries) LockPosition(ctx context.Context, userID, marketID string, outcome domain.Outcome) (*domain.Position, error) {
	var pos domain.Position
	err := q.forUpdate(ctx).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		Take(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("lock position", err)
	}
	return &pos, nil
}

// SavePosition inserts or updates a position.
func (q *Queries) SavePosition(ctx context.Context, pos *domain.Position) error {
	return wrap("save position", q.conn(ctx).Save(pos).Error)
}

// DeletePosition removes a position row.
func (q *Queries) DeletePosition(ctx context.Context, id uint) error {
	return wrap("delete position", q.conn(ctx).Delete(&domain.Position{}, id).Error)
}

// ListMarketPositions returns every position on a market ordered by user id,
// the order in which payouts lock account rows.
func (q *Queries) ListMarketPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	var positions []domain.Position
	if err := q.conn(ctx).Where("market_id = ?", marketID).Order("user_id asc, id asc").Find(&positions).Error; err != nil {
		return nil, wrap("list market positions", err)
	}
	return positions, nil
}

// ListUserPositions returns a user's positions, optionally restricted to one market.
func (q *Queries) ListUserPositions(ctx context.Context, userID, marketID string) ([]domain.Position, error) {
	tx := q.conn(ctx).Where("user_id = ?", userID)
	if marketID != "" {
		tx = tx.Where("market_id = ?", marketID)
	}
	var positions []domain.Position
	if err := tx.Order("id asc").Find(&positions).Error; err != nil {
		return nil, wrap("list user positions", err)
	}
	return positions, nil
}

// ======================================================================================
// Ledger Entry Operations
// ======================================================================================

// AppendEntry writes an immutable ledger entry.
// A reused external reference yields ErrDuplicateRef.
func (q *Queries) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := q.conn(ctx).Create(e).Error
	if isUniqueViolation(err) && e.ExtRef != nil {
		return ErrDuplicateRef
	}
	return wrap("append entry", err)
}

// EntryByExtRef returns the entry recorded for an external reference, or nil.
func (q *Queries) EntryByExtRef(ctx context.Context, ref string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := q.conn(ctx).Where("ext_ref = ?", ref).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("entry by ref", err)
	}
	return &e, nil
}

// ListEntries returns a user's most recent ledger entries, newest first.
func (q *Queries) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	tx := q.conn(ctx).Where("user_id = ?", userID).Order("id desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var entries []domain.LedgerEntry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, wrap("list entries", err)
	}
	return entries, nil
}

// ListMarketEntries returns every entry on a market in write order.
func (q *Queries) ListMarketEntries(ctx context.Context, marketID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	if err := q.conn(ctx).Where("market_id = ?", marketID).Order("id asc").Find(&entries).Error; err != nil {
		return nil, wrap("list market entries", err)
	}
	return entries, nil
}

// ======================================================================================
// Treasury Operations
// ======================================================================================

// AccrueFee appends a treasury FEE entry and queues its amount for SweepFees.
// The treasury account row is not read or locked.
func (q *Queries) AccrueFee(ctx context.Context, e *domain.LedgerEntry) error {
	if err := q.AppendEntry(ctx, e); err != nil {
		return err
	}
	accrual := &domain.FeeAccrual{
		EntryID:   e.ID,
		MarketID:  e.MarketID,
		Currency:  e.Currency,
		Amount:    e.Amount,
		CreatedAt: e.CreatedAt,
	}
	return wrap("accrue fee", q.conn(ctx).Create(accrual).Error)
}

// SweepFees credits queued accruals to the treasury and deletes them.
// Run it inside a transaction. A limit of zero sweeps everything.
func (q *Queries) SweepFees(ctx context.Context, limit int) (int, error) {
	tx := q.forUpdate(ctx).Order("id asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var pending []domain.FeeAccrual
	if err := tx.Find(&pending).Error; err != nil {
		return 0, wrap("list fee accruals", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	treasury, err := q.LockAccount(ctx, domain.TreasuryAccountID)
	if err != nil {
		return 0, err
	}
	ids := make([]uint, 0, len(pending))
	for _, a := range pending {
		treasury.Credit(a.Currency, a.Amount)
		ids = append(ids, a.ID)
	}
	if err := q.SaveAccount(ctx, treasury); err != nil {
		return 0, err
	}
	if err := q.conn(ctx).Delete(&domain.FeeAccrual{}, ids).Error; err != nil {
		return 0, wrap("delete fee accruals", err)
	}
	return len(pending), nil
}

// PendingFees returns the unswept fee total for a currency.
func (q *Queries) PendingFees(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	var pending []domain.FeeAccrual
	if err := q.conn(ctx).Where("currency = ?", currency).Find(&pending).Error; err != nil {
		return decimal.Zero, wrap("pending fees", err)
	}
	total := decimal.Zero
	for _, a := range pending {
		total = total.Add(a.Amount)
	}
	return total, nil
}

// ======================================================================================
// Withdrawal Operations
// ======================================================================================

// CreateWithdrawal inserts a pending withdrawal.
func (q *Queries) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	return wrap("create withdrawal", q.conn(ctx).Create(w).Error)
}

// GetWithdrawal retrieves a withdrawal by id.
func (q *Queries) GetWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := q.conn(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, wrap("get withdrawal", err)
	}
	return &w, nil
}

// LockWithdrawal reads a withdrawal for update.
func (q *Queries) LockWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := q.forUpdate(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, wrap("lock withdrawal", err)
	}
	return &w, nil
}

// SaveWithdrawal persists a withdrawal status change.
func (q *Queries) SaveWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	err := q.conn(ctx).Save(w).Error
	if isUniqueViolation(err) && w.TxHash != nil {
		return ErrDuplicateRef
	}
	return wrap("save withdrawal", err)
}

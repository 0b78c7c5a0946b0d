package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"predict_go/internal/domain"
	"predict_go/internal/event"
	"predict_go/internal/infra/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditExternalDeposit credits a detected on-chain deposit. externalRef is
// the transaction hash; replaying it is a successful no-op, guarded both by a
// lookup under the account lock and by the unique ext_ref column.
func (l *Ledger) CreditExternalDeposit(ctx context.Context, userID string, currency domain.Currency, amount decimal.Decimal, externalRef string) error {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return fmt.Errorf("ledger: deposit for %s: empty external reference", userID)
	}
	if !currency.Valid() {
		return fmt.Errorf("ledger: deposit: unsupported currency %q", currency)
	}
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}

	unlock, err := l.lock(ctx, domain.AccountLockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	credited := false
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		existing, err := q.EntryByExtRef(ctx, externalRef)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		ref := externalRef
		if _, err := l.post(ctx, q, &domain.LedgerEntry{
			UserID:   userID,
			Type:     domain.EntryDeposit,
			Currency: currency,
			Amount:   amount,
			ExtRef:   &ref,
		}); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if errors.Is(err, storage.ErrDuplicateRef) {
		// Another process recorded the same reference first.
		return nil
	}
	if err != nil {
		return wrapOp("deposit", err)
	}
	if !credited {
		slog.Debug("Deposit already processed", slog.String("ref", externalRef))
		return nil
	}

	slog.Info("Deposit credited",
		slog.String("user", userID),
		slog.String("currency", string(currency)),
		slog.String("amount", amount.String()))
	l.publishBalance(userID, domain.EntryDeposit, currency, amount)
	return nil
}

// DebitForWithdrawal reserves funds for an on-chain withdrawal. The returned
// PENDING withdrawal is later completed with CompleteWithdrawal or rolled back
// with RevertDebit.
func (l *Ledger) DebitForWithdrawal(ctx context.Context, userID string, currency domain.Currency, amount decimal.Decimal) (*domain.Withdrawal, error) {
	if !currency.Valid() {
		return nil, fmt.Errorf("ledger: withdraw: unsupported currency %q", currency)
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	unlock, err := l.lock(ctx, domain.AccountLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var w *domain.Withdrawal
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		now := l.now()
		if _, err := l.post(ctx, q, &domain.LedgerEntry{
			UserID:    userID,
			Type:      domain.EntryWithdraw,
			Currency:  currency,
			Amount:    amount.Neg(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		w = &domain.Withdrawal{
			ID:        uuid.NewString(),
			UserID:    userID,
			Currency:  currency,
			Amount:    amount,
			Status:    domain.WithdrawalPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return q.CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, wrapOp("withdraw", err)
	}

	l.publishBalance(userID, domain.EntryWithdraw, currency, amount.Neg())
	return w, nil
}

// CompleteWithdrawal marks a PENDING withdrawal as sent on chain.
// Completing it again with the same hash is a no-op.
func (l *Ledger) CompleteWithdrawal(ctx context.Context, withdrawalID, txHash string) error {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return fmt.Errorf("ledger: complete withdrawal %s: empty tx hash", withdrawalID)
	}

	err := l.store.WithTx(ctx, func(q *storage.Queries) error {
		w, err := q.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		switch w.Status {
		case domain.WithdrawalSent:
			if w.TxHash != nil && *w.TxHash == txHash {
				return nil
			}
			return domain.ErrWithdrawalSettled
		case domain.WithdrawalReverted:
			return domain.ErrWithdrawalSettled
		}
		w.Status = domain.WithdrawalSent
		w.TxHash = &txHash
		w.UpdatedAt = l.now()
		return q.SaveWithdrawal(ctx, w)
	})
	return wrapOp("complete withdrawal", err)
}

// RevertDebit refunds a PENDING withdrawal after the on-chain transfer failed.
// Reverting an already reverted withdrawal is a no-op; a SENT one is refused.
func (l *Ledger) RevertDebit(ctx context.Context, withdrawalID string) error {
	w, err := l.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return wrapOp("revert withdrawal", err)
	}

	unlock, err := l.lock(ctx, domain.AccountLockKey(w.UserID))
	if err != nil {
		return err
	}
	defer unlock()

	reverted := false
	err = l.store.WithTx(ctx, func(q *storage.Queries) error {
		w, err := q.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		switch w.Status {
		case domain.WithdrawalReverted:
			return nil
		case domain.WithdrawalSent:
			return domain.ErrWithdrawalSettled
		}

		now := l.now()
		if _, err := l.post(ctx, q, &domain.LedgerEntry{
			UserID:    w.UserID,
			Type:      domain.EntryWithdrawRevert,
			Currency:  w.Currency,
			Amount:    w.Amount,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		w.Status = domain.WithdrawalReverted
		w.UpdatedAt = now
		if err := q.SaveWithdrawal(ctx, w); err != nil {
			return err
		}
		reverted = true
		return nil
	})
	if err != nil {
		return wrapOp("revert withdrawal", err)
	}
	if reverted {
		slog.Warn("Withdrawal reverted",
			slog.String("withdrawal", withdrawalID),
			slog.String("user", w.UserID),
			slog.String("amount", w.Amount.String()))
		l.publishBalance(w.UserID, domain.EntryWithdrawRevert, w.Currency, w.Amount)
	}
	return nil
}

func (l *Ledger) publishBalance(userID string, kind domain.EntryType, currency domain.Currency, amount decimal.Decimal) {
	l.publisher.Publish(&event.BalanceEvent{
		BaseEvent: event.Stamp(l.now()),
		UserID:    userID,
		Kind:      kind,
		Currency:  currency,
		Amount:    amount,
	})
}

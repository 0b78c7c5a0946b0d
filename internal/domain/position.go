package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's holding on one side of a market.
// At most one row exists per (user, market, outcome).
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"not null;size:64;uniqueIndex:idx_position_owner" json:"user_id"`
	MarketID  string          `gorm:"not null;size:36;index;uniqueIndex:idx_position_owner" json:"market_id"`
	Outcome   Outcome         `gorm:"not null;size:3;uniqueIndex:idx_position_owner" json:"outcome"`
	Shares    decimal.Decimal `gorm:"type:text;not null" json:"shares"`
	CostBasis decimal.Decimal `gorm:"type:text;not null" json:"cost_basis"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryBuy            EntryType = "BUY"
	EntrySell           EntryType = "SELL"
	EntryDeposit        EntryType = "DEPOSIT"
	EntryWithdraw       EntryType = "WITHDRAW"
	EntryWithdrawRevert EntryType = "WITHDRAW_REVERT"
	EntryDisputeStake   EntryType = "DISPUTE_STAKE"
	EntryDisputeRefund  EntryType = "DISPUTE_REFUND"
	EntryDisputeForfeit EntryType = "DISPUTE_FORFEIT"
	EntryPayout         EntryType = "PAYOUT"
	EntryFee            EntryType = "FEE"
)

// LedgerEntry is an append-only record of a balance movement.
// Amount is signed from the user's point of view.
type LedgerEntry struct {
	ID       uint                `gorm:"primaryKey" json:"id"`
	UserID   string              `gorm:"not null;size:64;index" json:"user_id"`
	MarketID string              `gorm:"size:36;index" json:"market_id,omitempty"`
	Type     EntryType           `gorm:"not null;size:16" json:"type"`
	Currency Currency            `gorm:"not null;size:8" json:"currency"`
	Amount   decimal.Decimal     `gorm:"type:text;not null" json:"amount"`
	Outcome  Outcome             `gorm:"size:3" json:"outcome,omitempty"`
	Shares   decimal.NullDecimal `gorm:"type:text" json:"shares,omitempty"`
	Price    decimal.NullDecimal `gorm:"type:text" json:"price,omitempty"`
	// ExtRef is the external transaction reference; unique so replays are rejected by the store.
	ExtRef    *string   `gorm:"uniqueIndex;size:128" json:"ext_ref,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// WithdrawalStatus is the custody state of a withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "PENDING"
	WithdrawalSent     WithdrawalStatus = "SENT"
	WithdrawalReverted WithdrawalStatus = "REVERTED"
)

// Withdrawal tracks a debit handed to the custody layer until it is sent or reverted.
type Withdrawal struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	UserID    string           `gorm:"not null;size:64;index" json:"user_id"`
	Currency  Currency         `gorm:"not null;size:8" json:"currency"`
	Amount    decimal.Decimal  `gorm:"type:text;not null" json:"amount"`
	Status    WithdrawalStatus `gorm:"not null;size:16;index" json:"status"`
	TxHash    *string          `gorm:"uniqueIndex;size:128" json:"tx_hash,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FeeAccrual is a trading fee waiting to be swept into the treasury balance.
// Trades insert accruals so they never contend on the treasury account row.
type FeeAccrual struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	EntryID   uint            `gorm:"not null;uniqueIndex" json:"entry_id"` // The FEE ledger entry
	MarketID  string          `gorm:"size:36;index" json:"market_id"`
	Currency  Currency        `gorm:"not null;size:8" json:"currency"`
	Amount    decimal.Decimal `gorm:"type:text;not null" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

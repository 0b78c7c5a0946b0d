package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a balance denomination held by an Account.
type Currency string

const (
	USDC Currency = "USDC" // Settlement currency for trades, stakes and payouts
	SOL  Currency = "SOL"
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == USDC || c == SOL
}

// TreasuryAccountID receives trading fees and forfeited dispute stakes.
const TreasuryAccountID = "treasury"

// Account holds a user's balances.
// Balances are mutated only by ledger operations inside a transaction.
type Account struct {
	UserID      string          `gorm:"primaryKey;size:64" json:"user_id"`
	BalanceUSDC decimal.Decimal `gorm:"type:text;not null" json:"balance_usdc"`
	BalanceSOL  decimal.Decimal `gorm:"type:text;not null" json:"balance_sol"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Balance returns the balance for a currency.
func (a *Account) Balance(c Currency) decimal.Decimal {
	if c == SOL {
		return a.BalanceSOL
	}
	return a.BalanceUSDC
}

func (a *Account) set(c Currency, v decimal.Decimal) {
	if c == SOL {
		a.BalanceSOL = v
		return
	}
	a.BalanceUSDC = v
}

// Credit adds funds to the balance.
func (a *Account) Credit(c Currency, amount decimal.Decimal) {
	a.set(c, a.Balance(c).Add(amount))
}

// Debit removes funds; the balance is left untouched when it would go negative.
func (a *Account) Debit(c Currency, amount decimal.Decimal) error {
	if amount.GreaterThan(a.Balance(c)) {
		return NewRuleError(ErrInsufficientBalance,
			fmt.Sprintf("Insufficient %s balance: need %s, have %s", c, amount.String(), a.Balance(c).String()))
	}
	a.set(c, a.Balance(c).Sub(amount))
	return nil
}

// VerifyInvariant checks that no balance is negative.
// Call this after any state change before the transaction commits.
func (a *Account) VerifyInvariant() error {
	if a.BalanceUSDC.IsNegative() {
		return fmt.Errorf("ACCOUNT_INVARIANT_NEGATIVE_BALANCE: %s USDC = %s", a.UserID, a.BalanceUSDC)
	}
	if a.BalanceSOL.IsNegative() {
		return fmt.Errorf("ACCOUNT_INVARIANT_NEGATIVE_BALANCE: %s SOL = %s", a.UserID, a.BalanceSOL)
	}
	return nil
}

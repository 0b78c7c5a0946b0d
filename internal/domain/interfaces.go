package domain

import (
	"context"
	"time"
)

// Locker serialises work on a key (a market or an account) across callers.
// unlock is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// MarketLockKey is the lock key guarding a market, its positions and disputes.
func MarketLockKey(marketID string) string {
	return "market:" + marketID
}

// AccountLockKey is the lock key guarding wallet operations on an account.
func AccountLockKey(userID string) string {
	return "account:" + userID
}

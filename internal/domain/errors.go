package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// StoreError represents a persistence failure that may be retriable
// (lock timeouts, serialization failures, dropped connections).
type StoreError struct {
	Op        string // Operation that failed (e.g., "begin", "lock market", "commit")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) IsRetriable() bool {
	return e.Retriable
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new retriable storage error
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Retriable: true}
}

// NewFatalStoreError creates a non-retriable storage error
func NewFatalStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// RuleError carries a business-rule sentinel together with the message shown
// to the user. errors.Is matches the sentinel.
type RuleError struct {
	Err    error
	Reason string
}

func (e *RuleError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewRuleError wraps a sentinel with a human-readable reason.
func NewRuleError(err error, reason string) *RuleError {
	return &RuleError{Err: err, Reason: reason}
}

// Business-rule violations. All are recoverable by the caller and leave state unchanged.
var (
	ErrMarketNotActive      = errors.New("market is not active")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrBetBelowMinimum      = errors.New("bet below minimum")
	ErrBetAboveMaximum      = errors.New("bet above maximum")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrMarketNotResolved    = errors.New("market not resolved")
	ErrDisputeWindowClosed  = errors.New("dispute window closed")
	ErrDisputeAlreadyActive = errors.New("dispute already active")
	ErrAlreadyVoted         = errors.New("already voted")
	ErrNoVotingStake        = errors.New("no voting stake")
	ErrDisputeNotActive     = errors.New("dispute not active")
	ErrAlreadyFinalized     = errors.New("market already finalized") // Resolve only; Finalize reports Settlement.AlreadyFinalized

	ErrMarketNotFound     = errors.New("market not found")
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidMarket      = errors.New("invalid market parameters")
	ErrSameOutcome        = errors.New("proposed outcome equals resolved outcome")
	ErrDisputeWindowOpen  = errors.New("dispute window not yet passed")
	ErrNotCreator         = errors.New("only the market creator can resolve")
	ErrWithdrawalSettled  = errors.New("withdrawal already settled")

	// ErrLockTimeout is returned when a keyed lock cannot be acquired before the context ends. Retriable.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

var businessRules = []error{
	ErrMarketNotActive, ErrInsufficientBalance, ErrBetBelowMinimum, ErrBetAboveMaximum,
	ErrInsufficientShares, ErrMarketNotResolved, ErrDisputeWindowClosed, ErrDisputeAlreadyActive,
	ErrAlreadyVoted, ErrNoVotingStake, ErrDisputeNotActive, ErrAlreadyFinalized,
	ErrMarketNotFound, ErrDisputeNotFound, ErrWithdrawalNotFound, ErrInvalidOutcome,
	ErrInvalidAmount, ErrInvalidMarket, ErrSameOutcome, ErrDisputeWindowOpen, ErrNotCreator,
	ErrWithdrawalSettled,
}

// IsBusinessRule reports whether err is a caller-facing rule violation
// rather than an infrastructure failure.
func IsBusinessRule(err error) bool {
	for _, rule := range businessRules {
		if errors.Is(err, rule) {
			return true
		}
	}
	return false
}

package domain

import "github.com/shopspring/decimal"

// TradeResult is the pricing outcome of a buy or sell before it is applied.
//
// For a buy, Cost is the AMM cost of the shares received and TotalCost the
// gross amount paid including the fee. For a sell, TotalCost is the gross
// proceeds and Cost the net amount credited after the fee.
type TradeResult struct {
	Shares    decimal.Decimal `json:"shares"`
	Cost      decimal.Decimal `json:"cost"`
	Fee       decimal.Decimal `json:"fee"`
	TotalCost decimal.Decimal `json:"total_cost"`
	NewPrice  decimal.Decimal `json:"new_price"`
}

// BuyResult is returned by a committed buy.
type BuyResult struct {
	TradeResult
	MarketID   string          `json:"market_id"`
	Outcome    Outcome         `json:"outcome"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// SellResult is returned by a committed sell.
type SellResult struct {
	TradeResult
	MarketID   string          `json:"market_id"`
	Outcome    Outcome         `json:"outcome"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Settlement summarises a finalize call.
type Settlement struct {
	MarketID         string          `json:"market_id"`
	Outcome          Outcome         `json:"outcome"`
	Winners          int             `json:"winners"`
	TotalPayout      decimal.Decimal `json:"total_payout"`
	AlreadyFinalized bool            `json:"already_finalized"`
}

// VoteResult is returned after a vote is recorded.
type VoteResult struct {
	DisputeID    string          `json:"dispute_id"`
	Choice       VoteChoice      `json:"choice"`
	Weight       decimal.Decimal `json:"weight"`
	VotesFor     decimal.Decimal `json:"votes_for"`
	VotesAgainst decimal.Decimal `json:"votes_against"`
}

// DisputeOutcome is returned after a dispute is resolved.
type DisputeOutcome struct {
	DisputeID    string          `json:"dispute_id"`
	MarketID     string          `json:"market_id"`
	Passed       bool            `json:"passed"`
	Outcome      Outcome         `json:"outcome"` // Market outcome after resolution
	VotesFor     decimal.Decimal `json:"votes_for"`
	VotesAgainst decimal.Decimal `json:"votes_against"`
	Stake        decimal.Decimal `json:"stake"`
}

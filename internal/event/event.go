package event

import (
	"time"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind on the feed.
type Type string

const (
	TypeTrade   Type = "trade"
	TypeMarket  Type = "market"
	TypeDispute Type = "dispute"
	TypeBalance Type = "balance"
)

// Event is published by the ledger after a transaction commits.
// Seq is assigned by the sequencer, not by the publisher.
type Event interface {
	GetSeq() uint64
	SetSeq(seq uint64)
	GetType() Type
	GetTs() int64
}

// BaseEvent carries the sequence number and the unix-millisecond timestamp.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (b *BaseEvent) GetSeq() uint64    { return b.Seq }
func (b *BaseEvent) SetSeq(seq uint64) { b.Seq = seq }
func (b *BaseEvent) GetTs() int64      { return b.Ts }

// Stamp returns a BaseEvent for the given instant.
func Stamp(t time.Time) BaseEvent {
	return BaseEvent{Ts: t.UnixMilli()}
}

// TradeEvent is emitted for every committed buy or sell.
type TradeEvent struct {
	BaseEvent
	MarketID    string           `json:"market_id"`
	UserID      string           `json:"user_id"`
	Side        domain.EntryType `json:"side"` // BUY or SELL
	Outcome     domain.Outcome   `json:"outcome"`
	Shares      decimal.Decimal  `json:"shares"`
	Amount      decimal.Decimal  `json:"amount"`
	Prices      domain.Prices    `json:"prices"`
	TotalVolume decimal.Decimal  `json:"total_volume"`
}

func (e *TradeEvent) GetType() Type { return TypeTrade }

// MarketEvent is emitted on market lifecycle transitions.
type MarketEvent struct {
	BaseEvent
	MarketID string              `json:"market_id"`
	Question string              `json:"question,omitempty"`
	Status   domain.MarketStatus `json:"status"`
	Outcome  domain.Outcome      `json:"outcome,omitempty"`
	Prices   domain.Prices       `json:"prices"`
	Volume   decimal.Decimal     `json:"total_volume"`
}

func (e *MarketEvent) GetType() Type { return TypeMarket }

// DisputeEvent is emitted when a dispute is opened, voted on or resolved.
type DisputeEvent struct {
	BaseEvent
	DisputeID    string               `json:"dispute_id"`
	MarketID     string               `json:"market_id"`
	Status       domain.DisputeStatus `json:"status"`
	VotesFor     decimal.Decimal      `json:"votes_for"`
	VotesAgainst decimal.Decimal      `json:"votes_against"`
}

func (e *DisputeEvent) GetType() Type { return TypeDispute }

// BalanceEvent is emitted for custody-driven balance movements.
type BalanceEvent struct {
	BaseEvent
	UserID   string           `json:"user_id"`
	Kind     domain.EntryType `json:"kind"`
	Currency domain.Currency  `json:"currency"`
	Amount   decimal.Decimal  `json:"amount"`
}

func (e *BalanceEvent) GetType() Type { return TypeBalance }

// Publisher accepts events for fan-out. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// ParseOutcome accepts yes/no in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "Y":
		return OutcomeYes, nil
	case "NO", "N":
		return OutcomeNo, nil
	}
	return "", ErrInvalidOutcome
}

// MarketStatus is forward-only except DISPUTED -> RESOLVED.
type MarketStatus string

const (
	MarketActive    MarketStatus = "ACTIVE"
	MarketResolved  MarketStatus = "RESOLVED"
	MarketDisputed  MarketStatus = "DISPUTED"
	MarketFinalized MarketStatus = "FINALIZED"
)

// ShortIDLen is the prefix length users type to reference markets and disputes.
const ShortIDLen = 8

// Market is a binary prediction market priced by LMSR.
type Market struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	CreatorID string `gorm:"not null;index;size:64" json:"creator_id"`
	GroupID   string `gorm:"index;size:64" json:"group_id,omitempty"` // Chat scope, empty for global markets
	Question  string `gorm:"not null" json:"question"`
	YesLabel  string `gorm:"not null;size:64" json:"yes_label"`
	NoLabel   string `gorm:"not null;size:64" json:"no_label"`

	// Decimal columns are text so SQLite keeps every digit.
	B           decimal.Decimal `gorm:"type:text;not null" json:"b"`
	SharesYes   decimal.Decimal `gorm:"type:text;not null" json:"shares_yes"`
	SharesNo    decimal.Decimal `gorm:"type:text;not null" json:"shares_no"`
	TotalVolume decimal.Decimal `gorm:"type:text;not null" json:"total_volume"`

	Status          MarketStatus `gorm:"not null;index;size:16" json:"status"`
	ResolvedOutcome Outcome      `gorm:"size:3" json:"resolved_outcome,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	DisputeDeadline *time.Time   `gorm:"index" json:"dispute_deadline,omitempty"`
	FinalizedAt     *time.Time   `json:"finalized_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShortID returns the user-facing id prefix.
func (m *Market) ShortID() string {
	if len(m.ID) <= ShortIDLen {
		return m.ID
	}
	return m.ID[:ShortIDLen]
}

// Shares returns the outstanding share count for one side.
func (m *Market) Shares(o Outcome) decimal.Decimal {
	if o == OutcomeYes {
		return m.SharesYes
	}
	return m.SharesNo
}

// AddShares adjusts one side's share counter; delta may be negative.
func (m *Market) AddShares(o Outcome, delta decimal.Decimal) {
	if o == OutcomeYes {
		m.SharesYes = m.SharesYes.Add(delta)
		return
	}
	m.SharesNo = m.SharesNo.Add(delta)
}

// Label returns the display label for an outcome.
func (m *Market) Label(o Outcome) string {
	if o == OutcomeYes {
		return m.YesLabel
	}
	return m.NoLabel
}

// Prices are instantaneous outcome prices; Yes + No == 1.
type Prices struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// Of returns the price of one side.
func (p Prices) Of(o Outcome) decimal.Decimal {
	if o == OutcomeYes {
		return p.Yes
	}
	return p.No
}

// Quote is a read-only snapshot of a market's pricing state.
type Quote struct {
	MarketID    string          `json:"market_id"`
	Question    string          `json:"question,omitempty"`
	Status      MarketStatus    `json:"status"`
	Prices      Prices          `json:"prices"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MarketFilter narrows ListActive.
type MarketFilter struct {
	GroupID string // empty matches every group
	Limit   int
}

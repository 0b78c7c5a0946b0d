package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStatus is terminal at PASSED or REJECTED.
type DisputeStatus string

const (
	DisputeActive   DisputeStatus = "ACTIVE"
	DisputePassed   DisputeStatus = "PASSED"
	DisputeRejected DisputeStatus = "REJECTED"
)

// VoteChoice is a voter's stance on a dispute.
type VoteChoice string

const (
	VoteFor     VoteChoice = "FOR"
	VoteAgainst VoteChoice = "AGAINST"
)

// Valid reports whether v is FOR or AGAINST.
func (v VoteChoice) Valid() bool {
	return v == VoteFor || v == VoteAgainst
}

// Dispute challenges a market's resolved outcome.
type Dispute struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	MarketID        string          `gorm:"not null;size:36;index" json:"market_id"`
	InitiatorID     string          `gorm:"not null;size:64" json:"initiator_id"`
	ProposedOutcome Outcome         `gorm:"not null;size:3" json:"proposed_outcome"`
	Evidence        string          `json:"evidence"`
	Stake           decimal.Decimal `gorm:"type:text;not null" json:"stake"`
	Status          DisputeStatus   `gorm:"not null;size:16;index" json:"status"`
	VotesFor        decimal.Decimal `gorm:"type:text;not null" json:"votes_for"`
	VotesAgainst    decimal.Decimal `gorm:"type:text;not null" json:"votes_against"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// ShortID returns the user-facing id prefix.
func (d *Dispute) ShortID() string {
	if len(d.ID) <= ShortIDLen {
		return d.ID
	}
	return d.ID[:ShortIDLen]
}

// DisputeVote is immutable once cast; one per (dispute, user).
type DisputeVote struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	DisputeID string          `gorm:"not null;size:36;uniqueIndex:idx_dispute_voter" json:"dispute_id"`
	UserID    string          `gorm:"not null;size:64;uniqueIndex:idx_dispute_voter" json:"user_id"`
	Choice    VoteChoice      `gorm:"not null;size:8" json:"choice"`
	Weight    decimal.Decimal `gorm:"type:text;not null" json:"weight"` // Snapshot of shares held when the vote was cast
	CreatedAt time.Time       `json:"created_at"`
}

// Package dispute implements stake-weighted challenges to a market's
// resolved outcome.
package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
	"predict_go/internal/infra"
	"predict_go/internal/infra/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settings configures stake size and the voting window.
type Settings struct {
	StakePercent decimal.Decimal // of market volume
	VotingWindow time.Duration
	LockTTL      time.Duration
	Currency     domain.Currency
}

// DefaultSettings returns a 5% stake, a 24h voting window and USDC stakes.
func DefaultSettings() Settings {
	return Settings{
		StakePercent: decimal.NewFromInt(5),
		VotingWindow: 24 * time.Hour,
		LockTTL:      30 * time.Second,
		Currency:     domain.USDC,
	}
}

// Service runs dispute creation, voting and resolution.
type Service struct {
	store     *storage.Storage
	locker    domain.Locker
	publisher event.Publisher
	metrics   *infra.Metrics
	settings  Settings
	clock     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithPublisher sets the sink for post-commit events.
func WithPublisher(p event.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics overrides the process-wide metrics.
func WithMetrics(m *infra.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a dispute Service.
func NewService(store *storage.Storage, locker domain.Locker, settings Settings, opts ...Option) *Service {
	def := DefaultSettings()
	if settings.StakePercent.IsNegative() {
		settings.StakePercent = def.StakePercent
	}
	if settings.VotingWindow <= 0 {
		settings.VotingWindow = def.VotingWindow
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = def.LockTTL
	}
	if settings.Currency == "" {
		settings.Currency = def.Currency
	}
	s := &Service{
		store:     store,
		locker:    locker,
		publisher: event.Discard,
		metrics:   infra.GlobalMetrics,
		settings:  settings,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// OpenRequest challenges a resolved market.
type OpenRequest struct {
	MarketID string
	UserID   string
	Proposed domain.Outcome
	Evidence string
}

// RequiredStake returns the stake for challenging a market with the given volume.
func (s *Service) RequiredStake(volume decimal.Decimal) decimal.Decimal {
	return volume.Mul(s.settings.StakePercent).Div(decimal.NewFromInt(100))
}

// Open debits the initiator's stake, records their FOR vote at weight=stake
// and moves the market to DISPUTED.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*domain.Dispute, error) {
	if !req.Proposed.Valid() {
		return nil, domain.ErrInvalidOutcome
	}

	unlock, err := s.lock(ctx, domain.MarketLockKey(req.MarketID), domain.AccountLockKey(req.UserID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		d      *domain.Dispute
		market *domain.Market
	)
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		m, err := q.LockMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketResolved {
			return domain.ErrMarketNotResolved
		}
		if req.Proposed == m.ResolvedOutcome {
			return domain.ErrSameOutcome
		}
		now := s.now()
		if m.DisputeDeadline != nil && !now.Before(*m.DisputeDeadline) {
			return domain.ErrDisputeWindowClosed
		}
		active, err := q.ActiveDispute(ctx, m.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return domain.ErrDisputeAlreadyActive
		}

		stake := s.RequiredStake(m.TotalVolume)
		acc, err := q.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		if have := acc.Balance(s.settings.Currency); have.LessThan(stake) {
			return domain.NewRuleError(domain.ErrInsufficientBalance,
				fmt.Sprintf("Insufficient balance. Need %s %s to dispute", stake.StringFixed(2), s.settings.Currency))
		}
		if stake.IsPositive() {
			if _, err := q.PostEntry(ctx, &domain.LedgerEntry{
				UserID:    req.UserID,
				MarketID:  m.ID,
				Type:      domain.EntryDisputeStake,
				Currency:  s.settings.Currency,
				Amount:    stake.Neg(),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		d = &domain.Dispute{
			ID:              uuid.NewString(),
			MarketID:        m.ID,
			InitiatorID:     req.UserID,
			ProposedOutcome: req.Proposed,
			Evidence:        strings.TrimSpace(req.Evidence),
			Stake:           stake,
			Status:          domain.DisputeActive,
			VotesFor:        stake,
			VotesAgainst:    decimal.Zero,
			CreatedAt:       now,
		}
		if err := q.CreateDispute(ctx, d); err != nil {
			return err
		}
		if err := q.CreateVote(ctx, &domain.DisputeVote{
			DisputeID: d.ID,
			UserID:    req.UserID,
			Choice:    domain.VoteFor,
			Weight:    stake,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		m.Status = domain.MarketDisputed
		m.UpdatedAt = now
		if err := q.SaveMarket(ctx, m); err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return nil, wrapOp("open", err)
	}

	s.metrics.RecordDisputeOpened()
	slog.Info("Dispute opened",
		slog.String("dispute", d.ShortID()),
		slog.String("market", market.ShortID()),
		slog.String("proposed", string(d.ProposedOutcome)),
		slog.String("stake", d.Stake.String()))
	s.publishDispute(d)
	s.publisher.Publish(&event.MarketEvent{
		BaseEvent: event.Stamp(s.now()),
		MarketID:  market.ID,
		Question:  market.Question,
		Status:    market.Status,
		Outcome:   market.ResolvedOutcome,
		Volume:    market.TotalVolume,
	})
	return d, nil
}

// Vote records a stake-weighted vote. The weight is the voter's total shares
// in the market at the time of the vote and does not change afterwards.
func (s *Service) Vote(ctx context.Context, disputeID, userID string, choice domain.VoteChoice) (*domain.VoteResult, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("dispute: vote: invalid choice %q", choice)
	}

	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, wrapOp("vote", err)
	}
	unlock, err := s.lock(ctx, domain.MarketLockKey(d.MarketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res domain.VoteResult
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		d, err := q.LockDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.Status != domain.DisputeActive {
			return domain.ErrDisputeNotActive
		}
		voted, err := q.HasVoted(ctx, d.ID, userID)
		if err != nil {
			return err
		}
		if voted {
			return domain.ErrAlreadyVoted
		}

		positions, err := q.ListUserPositions(ctx, userID, d.MarketID)
		if err != nil {
			return err
		}
		weight := decimal.Zero
		for _, p := range positions {
			weight = weight.Add(p.Shares)
		}
		if !weight.IsPositive() {
			return domain.NewRuleError(domain.ErrNoVotingStake, "Must have position in market to vote")
		}

		if err := q.CreateVote(ctx, &domain.DisputeVote{
			DisputeID: d.ID,
			UserID:    userID,
			Choice:    choice,
			Weight:    weight,
			CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		if choice == domain.VoteFor {
			d.VotesFor = d.VotesFor.Add(weight)
		} else {
			d.VotesAgainst = d.VotesAgainst.Add(weight)
		}
		if err := q.SaveDispute(ctx, d); err != nil {
			return err
		}

		res = domain.VoteResult{
			DisputeID:    d.ID,
			Choice:       choice,
			Weight:       weight,
			VotesFor:     d.VotesFor,
			VotesAgainst: d.VotesAgainst,
		}
		return nil
	})
	if err != nil {
		return nil, wrapOp("vote", err)
	}

	s.publisher.Publish(&event.DisputeEvent{
		BaseEvent:    event.Stamp(s.now()),
		DisputeID:    res.DisputeID,
		MarketID:     d.MarketID,
		Status:       domain.DisputeActive,
		VotesFor:     res.VotesFor,
		VotesAgainst: res.VotesAgainst,
	})
	return &res, nil
}

// Resolve closes an ACTIVE dispute. It passes only when votesFor is strictly
// greater than votesAgainst; a tie keeps the original outcome.
//
// Passed: the market takes the proposed outcome and the stake is refunded.
// Rejected: the stake is forfeited to the treasury. Either way the market
// returns to RESOLVED with its original dispute deadline.
func (s *Service) Resolve(ctx context.Context, disputeID string) (*domain.DisputeOutcome, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, wrapOp("resolve", err)
	}
	unlock, err := s.lock(ctx, domain.MarketLockKey(d.MarketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		out      domain.DisputeOutcome
		resolved *domain.Dispute
	)
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		m, err := q.LockMarket(ctx, d.MarketID)
		if err != nil {
			return err
		}
		d, err := q.LockDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.Status != domain.DisputeActive {
			return domain.ErrDisputeNotActive
		}

		now := s.now()
		passed := d.VotesFor.GreaterThan(d.VotesAgainst)
		if passed {
			m.ResolvedOutcome = d.ProposedOutcome
			d.Status = domain.DisputePassed
		} else {
			d.Status = domain.DisputeRejected
		}
		if m.Status == domain.MarketDisputed {
			m.Status = domain.MarketResolved
		}
		m.UpdatedAt = now
		if err := q.SaveMarket(ctx, m); err != nil {
			return err
		}

		if d.Stake.IsPositive() {
			entry := &domain.LedgerEntry{
				UserID:    d.InitiatorID,
				MarketID:  m.ID,
				Type:      domain.EntryDisputeRefund,
				Currency:  s.settings.Currency,
				Amount:    d.Stake,
				CreatedAt: now,
			}
			if !passed {
				entry.UserID = domain.TreasuryAccountID
				entry.Type = domain.EntryDisputeForfeit
			}
			if _, err := q.PostEntry(ctx, entry); err != nil {
				return err
			}
		}

		d.ResolvedAt = &now
		if err := q.SaveDispute(ctx, d); err != nil {
			return err
		}

		out = domain.DisputeOutcome{
			DisputeID:    d.ID,
			MarketID:     m.ID,
			Passed:       passed,
			Outcome:      m.ResolvedOutcome,
			VotesFor:     d.VotesFor,
			VotesAgainst: d.VotesAgainst,
			Stake:        d.Stake,
		}
		resolved = d
		return nil
	})
	if err != nil {
		return nil, wrapOp("resolve", err)
	}

	s.metrics.RecordDisputeResolved()
	slog.Info("Dispute resolved",
		slog.String("dispute", resolved.ShortID()),
		slog.String("status", string(resolved.Status)),
		slog.String("votes_for", out.VotesFor.String()),
		slog.String("votes_against", out.VotesAgainst.String()))
	s.publishDispute(resolved)
	return &out, nil
}

// Get returns a dispute by full id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// FindByPrefix resolves a short dispute id.
func (s *Service) FindByPrefix(ctx context.Context, shortID string) (*domain.Dispute, error) {
	return s.store.FindDisputeByPrefix(ctx, shortID)
}

// ActiveForMarket returns the market's ACTIVE dispute, or nil.
func (s *Service) ActiveForMarket(ctx context.Context, marketID string) (*domain.Dispute, error) {
	return s.store.ActiveDispute(ctx, marketID)
}

// Votes returns every vote cast on a dispute.
func (s *Service) Votes(ctx context.Context, disputeID string) ([]domain.DisputeVote, error) {
	return s.store.ListVotes(ctx, disputeID)
}

// ExpiredDisputes lists ACTIVE disputes whose voting window has elapsed at now.
func (s *Service) ExpiredDisputes(ctx context.Context, now time.Time) ([]string, error) {
	return s.store.ListExpiredDisputes(ctx, now.UTC().Add(-s.settings.VotingWindow))
}

func (s *Service) lock(ctx context.Context, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := s.locker.Acquire(ctx, key, s.settings.LockTTL)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func (s *Service) publishDispute(d *domain.Dispute) {
	s.publisher.Publish(&event.DisputeEvent{
		BaseEvent:    event.Stamp(s.now()),
		DisputeID:    d.ID,
		MarketID:     d.MarketID,
		Status:       d.Status,
		VotesFor:     d.VotesFor,
		VotesAgainst: d.VotesAgainst,
	})
}

func wrapOp(op string, err error) error {
	if err == nil || domain.IsBusinessRule(err) {
		return err
	}
	return fmt.Errorf("dispute: %s: %w", op, err)
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
)

// MarketLister loads the markets a QuoteService starts from.
type MarketLister interface {
	ListActive(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	Quote(ctx context.Context, id string) (domain.Quote, error)
}

// QuoteService keeps the latest quote of every market in memory.
// It is fed by the event sequencer and read by the feed and reports.
type QuoteService struct {
	mu     sync.RWMutex
	quotes map[string]*domain.Quote
}

// NewQuoteService creates an empty QuoteService.
func NewQuoteService() *QuoteService {
	return &QuoteService{
		quotes: make(map[string]*domain.Quote),
	}
}

// Seed loads quotes for every ACTIVE market.
func (s *QuoteService) Seed(ctx context.Context, markets MarketLister) error {
	active, err := markets.ListActive(ctx, domain.MarketFilter{})
	if err != nil {
		return err
	}
	for _, m := range active {
		q, err := markets.Quote(ctx, m.ID)
		if err != nil {
			return err
		}
		s.Set(q)
	}
	return nil
}

// Set stores a quote, replacing any previous one for the market.
func (s *QuoteService) Set(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.MarketID] = &q
}

// GetAll returns every quote sorted by market id.
func (s *QuoteService) GetAll() []domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		result = append(result, *q)
	}

	// Sort by market id for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].MarketID < result[j].MarketID
	})

	return result
}

// Get returns the quote for one market.
func (s *QuoteService) Get(marketID string) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[marketID]
	if !ok {
		return domain.Quote{}, false
	}
	return *q, true
}

// OnEvent applies a sequenced event. It copies what it needs and never
// retains ev, which may be pooled.
func (s *QuoteService) OnEvent(ev event.Event) {
	switch e := ev.(type) {
	case *event.TradeEvent:
		s.mu.Lock()
		q := s.entry(e.MarketID)
		q.Prices = e.Prices
		q.TotalVolume = e.TotalVolume
		q.UpdatedAt = time.UnixMilli(e.Ts).UTC()
		s.mu.Unlock()
	case *event.MarketEvent:
		s.mu.Lock()
		q := s.entry(e.MarketID)
		if e.Question != "" {
			q.Question = e.Question
		}
		q.Status = e.Status
		if !e.Prices.Yes.IsZero() || !e.Prices.No.IsZero() {
			q.Prices = e.Prices
		}
		q.TotalVolume = e.Volume
		q.UpdatedAt = time.UnixMilli(e.Ts).UTC()
		s.mu.Unlock()
	}
}

// entry must be called with the lock held.
func (s *QuoteService) entry(marketID string) *domain.Quote {
	q, ok := s.quotes[marketID]
	if !ok {
		q = &domain.Quote{MarketID: marketID, Status: domain.MarketActive}
		s.quotes[marketID] = q
	}
	return q
}

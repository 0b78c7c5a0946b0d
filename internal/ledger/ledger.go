// Package ledger is the settlement ledger: it owns market, position and
// balance state and applies every trade, resolution and payout atomically.
package ledger

import (
	"context"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/infra"
	"predict_go/internal/infra/storage"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Settings are the market rules that are not pricing parameters.
type Settings struct {
	DisputeWindow    time.Duration
	DefaultLiquidity decimal.Decimal
	MinLiquidity     decimal.Decimal
	LockTTL          time.Duration
}

// DefaultSettings returns a 24h dispute window, b=100 and a 1 USDC liquidity floor.
func DefaultSettings() Settings {
	return Settings{
		DisputeWindow:    24 * time.Hour,
		DefaultLiquidity: decimal.NewFromInt(100),
		MinLiquidity:     decimal.NewFromInt(1),
		LockTTL:          30 * time.Second,
	}
}

// Ledger executes settlement operations against the store.
// It is safe for concurrent use.
type Ledger struct {
	store     *storage.Storage
	locker    domain.Locker
	pricing   *engine.Engine
	publisher event.Publisher
	metrics   *infra.Metrics
	settings  Settings
	currency  domain.Currency
	clock     func() time.Time
	validate  *validator.Validate
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now; tests use it to move past deadlines.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithPublisher sets the sink for post-commit events.
func WithPublisher(p event.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithMetrics overrides the process-wide metrics.
func WithMetrics(m *infra.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a Ledger.
func New(store *storage.Storage, locker domain.Locker, pricing *engine.Engine, settings Settings, opts ...Option) *Ledger {
	def := DefaultSettings()
	if settings.DisputeWindow <= 0 {
		settings.DisputeWindow = def.DisputeWindow
	}
	if !settings.DefaultLiquidity.IsPositive() {
		settings.DefaultLiquidity = def.DefaultLiquidity
	}
	if !settings.MinLiquidity.IsPositive() {
		settings.MinLiquidity = def.MinLiquidity
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = def.LockTTL
	}

	l := &Ledger{
		store:     store,
		locker:    locker,
		pricing:   pricing,
		publisher: event.Discard,
		metrics:   infra.GlobalMetrics,
		settings:  settings,
		currency:  pricing.Params().Currency,
		clock:     time.Now,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pricing returns the engine used for trade math.
func (l *Ledger) Pricing() *engine.Engine {
	return l.pricing
}

// Currency is the settlement currency of every market.
func (l *Ledger) Currency() domain.Currency {
	return l.currency
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC()
}

// lock acquires keys in the given order and returns a release for all of them.
// Callers pass market keys before account keys.
func (l *Ledger) lock(ctx context.Context, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := l.locker.Acquire(ctx, key, l.settings.LockTTL)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// post stamps and applies a ledger entry inside the caller's transaction.
// Credits carry a positive amount, debits a negative one.
func (l *Ledger) post(ctx context.Context, q *storage.Queries, entry *domain.LedgerEntry) (*domain.Account, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	return q.PostEntry(ctx, entry)
}

func (l *Ledger) publishMarket(m *domain.Market) {
	l.publisher.Publish(&event.MarketEvent{
		BaseEvent: event.Stamp(l.now()),
		MarketID:  m.ID,
		Question:  m.Question,
		Status:    m.Status,
		Outcome:   m.ResolvedOutcome,
		Prices:    l.pricing.Prices(engine.StateOf(m)),
		Volume:    m.TotalVolume,
	})
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"predict_go/internal/dispute"
	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/infra"
	"predict_go/internal/infra/feed"
	"predict_go/internal/infra/lock"
	"predict_go/internal/infra/storage"
	"predict_go/internal/ledger"
	"predict_go/internal/scheduler"
	"predict_go/internal/service"

	"golang.org/x/sync/errgroup"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Storage   *storage.Storage
	Locker    domain.Locker
	Sequencer *engine.Sequencer
	Ledger    *ledger.Ledger
	Disputes  *dispute.Service
	Quotes    *service.QuoteService
	Hub       *feed.Hub
	Scheduler *scheduler.Expiry

	closers []func() error
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config file, installs the logger and wires every component.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping Predict Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	return b.Wire(ctx)
}

// Wire builds the components from b.Config. Tests call it directly with an
// in-memory configuration.
func (b *Bootstrap) Wire(ctx context.Context) error {
	cfg := b.Config
	if cfg == nil {
		return errors.New("bootstrap: config not loaded")
	}
	if b.Metrics == nil {
		b.Metrics = infra.GlobalMetrics
	}

	// 3. Initialize Storage (DB)
	store, err := storage.Open(storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	b.closers = append(b.closers, store.Close)
	slog.Info("✅ Database initialized", slog.String("driver", store.Driver()))

	// 4. Locks
	switch cfg.Lock.Backend {
	case "redis":
		rl, err := lock.NewRedisLocker(ctx, lock.RedisOptions{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
		})
		if err != nil {
			b.Close()
			return err
		}
		b.Locker = rl
		b.closers = append(b.closers, rl.Close)
	default:
		b.Locker = lock.NewKeyedLocker()
	}
	slog.Info("✅ Locker ready", slog.String("backend", cfg.Lock.Backend))

	// 5. Sequencer and pricing
	event.Warmup(cfg.Feed.InboxSize)
	b.Sequencer = engine.NewSequencer(cfg.Feed.InboxSize, b.Metrics)

	pricing := engine.New(engine.Params{
		FeeRate:       cfg.FeeRate(),
		MinBet:        cfg.Market.MinBet,
		MaxBetPercent: cfg.Market.MaxBetPercent,
		Tolerance:     cfg.Market.Tolerance,
		MaxIterations: cfg.Market.MaxIterations,
		Currency:      cfg.Market.SettlementCurrency,
	})

	// 6. Ledger and disputes
	b.Ledger = ledger.New(store, b.Locker, pricing, ledger.Settings{
		DisputeWindow:    cfg.Market.DisputeWindow,
		DefaultLiquidity: cfg.Market.DefaultLiquidity,
		MinLiquidity:     cfg.Market.MinLiquidity,
		LockTTL:          cfg.Lock.TTL,
	}, ledger.WithPublisher(b.Sequencer), ledger.WithMetrics(b.Metrics))

	b.Disputes = dispute.NewService(store, b.Locker, dispute.Settings{
		StakePercent: cfg.Dispute.StakePercent,
		VotingWindow: cfg.Dispute.VotingWindow,
		LockTTL:      cfg.Lock.TTL,
		Currency:     cfg.Market.SettlementCurrency,
	}, dispute.WithPublisher(b.Sequencer), dispute.WithMetrics(b.Metrics))

	// 7. Read side: quotes and the websocket feed
	b.Quotes = service.NewQuoteService()
	if err := b.Quotes.Seed(ctx, b.Ledger); err != nil {
		b.Close()
		return fmt.Errorf("seed quotes: %w", err)
	}
	b.Sequencer.Subscribe(b.Quotes.OnEvent)

	if cfg.Feed.Enabled {
		b.Hub = feed.NewHub(b.Quotes, b.Metrics, cfg.Feed.AllowedOrigins)
		b.Sequencer.Subscribe(b.Hub.OnEvent)
	}

	// 8. Expiry scheduler
	b.Scheduler = scheduler.NewExpiry(b.Ledger, b.Disputes, scheduler.Options{
		Interval:        cfg.Scheduler.Interval,
		MaxOpsPerSecond: cfg.Scheduler.MaxOpsPerSecond,
		Burst:           cfg.Scheduler.Burst,
		Metrics:         b.Metrics,
		Sweeper:         b.Ledger,
	})

	slog.Info("✅ Components wired",
		slog.Int("quotes", len(b.Quotes.GetAll())),
		slog.Bool("feed", cfg.Feed.Enabled))
	return nil
}

// Run starts the sequencer, the scheduler and the feed server and blocks
// until ctx is cancelled or one of them fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Sequencer.Run(ctx)
		return nil
	})
	slog.InfoContext(ctx, "✅ Sequencer started")

	g.Go(func() error {
		b.Scheduler.Start(ctx)
		<-ctx.Done()
		b.Scheduler.Stop()
		return nil
	})

	if b.Hub != nil {
		g.Go(func() error {
			if err := b.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})

		srv := &http.Server{
			Addr:              b.Config.Feed.ListenAddr,
			Handler:           b.Hub.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.InfoContext(ctx, "📡 Feed server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("feed server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close releases the database and lock backend.
func (b *Bootstrap) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

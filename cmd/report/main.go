package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/infra"
	"predict_go/internal/infra/lock"
	"predict_go/internal/infra/storage"
	"predict_go/internal/ledger"
	"predict_go/internal/report"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to a YAML or TOML config file")
	user := flag.String("user", "", "print balances, positions and history for this user")
	group := flag.String("group", "", "only markets of this group")
	limit := flag.Int("limit", 20, "maximum markets and history rows")
	flag.Parse()

	if err := run(*configPath, *user, *group, *limit); err != nil {
		slog.Error("❌ Report failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, user, group string, limit int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	pricing := engine.New(engine.Params{
		FeeRate:       cfg.FeeRate(),
		MinBet:        cfg.Market.MinBet,
		MaxBetPercent: cfg.Market.MaxBetPercent,
		Tolerance:     cfg.Market.Tolerance,
		MaxIterations: cfg.Market.MaxIterations,
		Currency:      cfg.Market.SettlementCurrency,
	})
	// Reads only; no locks are taken.
	l := ledger.New(store, lock.NewKeyedLocker(), pricing, ledger.DefaultSettings())
	console := report.NewConsole(os.Stdout)

	markets, err := l.ListActive(ctx, domain.MarketFilter{GroupID: group, Limit: limit})
	if err != nil {
		return err
	}
	quotes := make([]domain.Quote, 0, len(markets))
	for i := range markets {
		quotes = append(quotes, ledger.QuoteOf(pricing, &markets[i]))
	}
	console.Markets(quotes)

	due, err := l.FinalizableMarkets(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("\n%d markets awaiting finalization\n", len(due))

	if user == "" {
		return nil
	}
	acc, err := l.Balance(ctx, user)
	if err != nil {
		return err
	}
	positions, err := l.Portfolio(ctx, user)
	if err != nil {
		return err
	}
	console.Portfolio(acc, positions)

	entries, err := l.History(ctx, user, limit)
	if err != nil {
		return err
	}
	console.History(entries)
	return nil
}

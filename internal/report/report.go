// Package report renders ledger state as console tables.
package report

import (
	"fmt"
	"io"

	"predict_go/internal/domain"
	"predict_go/internal/infra"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Console writes reports to out.
type Console struct {
	out io.Writer
}

// NewConsole creates a Console.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Markets prints one row per quote with both outcome prices as percentages.
func (c *Console) Markets(quotes []domain.Quote) {
	fmt.Fprintf(c.out, "\n%d active markets\n", len(quotes))
	if len(quotes) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Question", "Yes", "No", "Volume", "Status")
	for _, q := range quotes {
		table.Append(
			shortID(q.MarketID),
			truncate(q.Question, 48),
			percent(q.Prices.Yes),
			percent(q.Prices.No),
			q.TotalVolume.StringFixed(2),
			string(q.Status),
		)
	}
	table.Render()
}

// Portfolio prints a user's balances and open positions.
func (c *Console) Portfolio(acc *domain.Account, positions []domain.Position) {
	fmt.Fprintf(c.out, "\n%s: %s USDC | %s SOL\n",
		acc.UserID, acc.BalanceUSDC.StringFixed(2), acc.BalanceSOL.StringFixed(4))
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  no open positions")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Shares", "Cost basis", "Avg price")
	for _, p := range positions {
		avg := "-"
		if p.Shares.IsPositive() {
			avg = p.CostBasis.Div(p.Shares).StringFixed(4)
		}
		table.Append(
			shortID(p.MarketID),
			string(p.Outcome),
			p.Shares.StringFixed(4),
			p.CostBasis.StringFixed(2),
			avg,
		)
	}
	table.Render()
}

// History prints ledger entries newest first.
func (c *Console) History(entries []domain.LedgerEntry) {
	if len(entries) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("When", "Type", "Market", "Amount", "Shares")
	for _, e := range entries {
		shares := ""
		if e.Shares.Valid {
			shares = e.Shares.Decimal.StringFixed(4)
		}
		table.Append(
			e.CreatedAt.UTC().Format("2006-01-02 15:04"),
			string(e.Type),
			shortID(e.MarketID),
			e.Amount.StringFixed(2)+" "+string(e.Currency),
			shares,
		)
	}
	table.Render()
}

// Metrics prints a metrics snapshot.
func (c *Console) Metrics(s infra.MetricsSnapshot) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("trades", fmt.Sprint(s.TradesExecuted))
	table.Append("markets finalized", fmt.Sprint(s.MarketsFinalized))
	table.Append("payouts", fmt.Sprint(s.PayoutsMade))
	table.Append("disputes opened", fmt.Sprint(s.DisputesOpened))
	table.Append("disputes resolved", fmt.Sprint(s.DisputesResolved))
	table.Append("events dropped", fmt.Sprint(s.EventsDropped))
	table.Append("errors", fmt.Sprint(s.ErrorsTotal))
	table.Render()
}

func percent(p decimal.Decimal) string {
	return p.Mul(hundred).StringFixed(1) + "%"
}

func shortID(id string) string {
	if len(id) > domain.ShortIDLen {
		return id[:domain.ShortIDLen]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

package engine

import (
	"fmt"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places carried by every pricing result.
// Rounding is half-up (half away from zero, identical for the positive values
// the engine returns).
const Precision int32 = 28

// workPrecision is used for intermediate exp/ln terms so that the final
// rounding to Precision is not polluted by series truncation.
const workPrecision int32 = 40

// maxBoundDoublings caps upper-bound expansion in SharesToBuy.
const maxBoundDoublings = 64

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
	ten = decimal.NewFromInt(10)

	// Beyond this exponent e^-x rounds to zero at workPrecision.
	expCutoff = decimal.NewFromInt(100)

	ln2 = ln(two)
)

// State is the LMSR input for one market.
type State struct {
	B         decimal.Decimal
	SharesYes decimal.Decimal
	SharesNo  decimal.Decimal
}

// StateOf extracts the pricing state of a market.
func StateOf(m *domain.Market) State {
	return State{B: m.B, SharesYes: m.SharesYes, SharesNo: m.SharesNo}
}

// with returns the state after adding delta shares to one side.
func (s State) with(o domain.Outcome, delta decimal.Decimal) State {
	if o == domain.OutcomeYes {
		s.SharesYes = s.SharesYes.Add(delta)
	} else {
		s.SharesNo = s.SharesNo.Add(delta)
	}
	return s
}

// Params configures fees, bet limits and the share search.
type Params struct {
	FeeRate       decimal.Decimal // fraction, 0.02 = 2%
	MinBet        decimal.Decimal
	MaxBetPercent decimal.Decimal // of b
	Tolerance     decimal.Decimal // search convergence, settlement units
	MaxIterations int
	Currency      domain.Currency
}

// DefaultParams returns 2% fee, 1 USDC minimum, 10% of b maximum and a
// 100-step search converging to 1e-4.
func DefaultParams() Params {
	return Params{
		FeeRate:       decimal.NewFromFloat(0.02),
		MinBet:        decimal.NewFromInt(1),
		MaxBetPercent: decimal.NewFromInt(10),
		Tolerance:     decimal.New(1, -4),
		MaxIterations: 100,
		Currency:      domain.USDC,
	}
}

// Engine is the LMSR pricing library. It holds only configuration; every
// method is pure and safe for concurrent use.
type Engine struct {
	params Params
}

// New creates an Engine, filling unset search parameters with defaults.
func New(p Params) *Engine {
	def := DefaultParams()
	if p.MaxIterations <= 0 {
		p.MaxIterations = def.MaxIterations
	}
	if !p.Tolerance.IsPositive() {
		p.Tolerance = def.Tolerance
	}
	if p.Currency == "" {
		p.Currency = def.Currency
	}
	return &Engine{params: p}
}

// Params returns the engine configuration.
func (e *Engine) Params() Params {
	return e.params
}

// Cost evaluates C = b·ln(e^(qY/b) + e^(qN/b)).
func (e *Engine) Cost(s State) decimal.Decimal {
	return cost(s).Round(Precision)
}

// Prices returns the instantaneous outcome prices. Yes + No == 1 exactly.
func (e *Engine) Prices(s State) domain.Prices {
	lead := one.DivRound(one.Add(expNeg(spread(s))), Precision)

	yes := lead
	if s.SharesNo.GreaterThan(s.SharesYes) {
		yes = one.Sub(lead)
	}
	return domain.Prices{Yes: yes, No: one.Sub(yes)}
}

// CostToBuy returns C(after) - C(before) for delta shares of one side.
// delta may be negative.
func (e *Engine) CostToBuy(s State, o domain.Outcome, delta decimal.Decimal) decimal.Decimal {
	return cost(s.with(o, delta)).Sub(cost(s)).Round(Precision)
}

// SharesToBuy inverts CostToBuy by binary search over [0, 10×amount].
// When the outcome is priced below 0.1 the upper bound is doubled until it
// brackets amount. The best midpoint is returned if the tolerance is not
// reached within MaxIterations.
func (e *Engine) SharesToBuy(s State, o domain.Outcome, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	before := cost(s)
	costOf := func(shares decimal.Decimal) decimal.Decimal {
		return cost(s.with(o, shares)).Sub(before)
	}

	low := decimal.Zero
	high := amount.Mul(ten)
	for i := 0; i < maxBoundDoublings && costOf(high).LessThan(amount); i++ {
		low = high
		high = high.Mul(two)
	}

	for i := 0; i < e.params.MaxIterations; i++ {
		mid := low.Add(high).DivRound(two, Precision)
		diff := costOf(mid).Sub(amount)
		if diff.Abs().LessThan(e.params.Tolerance) {
			return mid
		}
		if diff.IsNegative() {
			low = mid
		} else {
			high = mid
		}
	}
	return low.Add(high).DivRound(two, Precision)
}

// AmountToSell returns the gross proceeds of selling shares of one side.
func (e *Engine) AmountToSell(s State, o domain.Outcome, shares decimal.Decimal) decimal.Decimal {
	return e.CostToBuy(s, o, shares.Neg()).Neg()
}

// ExecuteBuy prices a buy of grossAmount including the fee. s is not mutated.
func (e *Engine) ExecuteBuy(s State, o domain.Outcome, grossAmount decimal.Decimal) domain.TradeResult {
	fee := grossAmount.Mul(e.params.FeeRate).Round(Precision)
	net := grossAmount.Mul(one.Sub(e.params.FeeRate)).Round(Precision)

	shares := e.SharesToBuy(s, o, net)
	actual := e.CostToBuy(s, o, shares)

	return domain.TradeResult{
		Shares:    shares,
		Cost:      actual,
		Fee:       fee,
		TotalCost: grossAmount,
		NewPrice:  e.Prices(s.with(o, shares)).Of(o),
	}
}

// ExecuteSell prices a sell of shares; Cost is the net amount after the fee.
// s is not mutated.
func (e *Engine) ExecuteSell(s State, o domain.Outcome, shares decimal.Decimal) domain.TradeResult {
	gross := e.AmountToSell(s, o, shares)
	fee := gross.Mul(e.params.FeeRate).Round(Precision)

	return domain.TradeResult{
		Shares:    shares,
		Cost:      gross.Sub(fee),
		Fee:       fee,
		TotalCost: gross,
		NewPrice:  e.Prices(s.with(o, shares.Neg())).Of(o),
	}
}

// MaxLoss is the market maker's worst-case subsidy for a binary market, b·ln2.
func MaxLoss(b decimal.Decimal) decimal.Decimal {
	return b.Mul(ln2).Round(Precision)
}

// MaxBet returns the largest accepted bet for liquidity b.
func (e *Engine) MaxBet(b decimal.Decimal) decimal.Decimal {
	return b.Mul(e.params.MaxBetPercent).Div(decimal.NewFromInt(100))
}

// ValidateBet rejects amounts outside [MinBet, b×MaxBetPercent/100].
// The returned error is a *domain.RuleError with a user-facing reason.
func (e *Engine) ValidateBet(b, amount decimal.Decimal) error {
	if amount.LessThan(e.params.MinBet) {
		return domain.NewRuleError(domain.ErrBetBelowMinimum,
			fmt.Sprintf("Minimum bet is %s %s", e.params.MinBet.String(), e.params.Currency))
	}
	if max := e.MaxBet(b); amount.GreaterThan(max) {
		return domain.NewRuleError(domain.ErrBetAboveMaximum,
			fmt.Sprintf("Maximum bet is %s %s", max.StringFixed(2), e.params.Currency))
	}
	return nil
}

// cost uses the log-sum-exp form hi + b·ln(1 + e^-(hi-lo)/b), which never
// exponentiates a large positive number.
func cost(s State) decimal.Decimal {
	hi := decimal.Max(s.SharesYes, s.SharesNo)
	t := expNeg(spread(s))
	if t.IsZero() {
		return hi
	}
	return hi.Add(s.B.Mul(ln(one.Add(t))))
}

// spread is |qY - qN| / b.
func spread(s State) decimal.Decimal {
	return s.SharesYes.Sub(s.SharesNo).Abs().DivRound(s.B, workPrecision)
}

// expNeg returns e^-x for x >= 0.
func expNeg(x decimal.Decimal) decimal.Decimal {
	if x.IsZero() {
		return one
	}
	if x.GreaterThan(expCutoff) {
		return decimal.Zero
	}
	return one.DivRound(exp(x), workPrecision)
}

// exp returns e^x at workPrecision.
func exp(x decimal.Decimal) decimal.Decimal {
	v, err := x.ExpTaylor(workPrecision)
	if err != nil {
		panic(fmt.Sprintf("LMSR_EXP: %s: %v", x.String(), err))
	}
	return v
}

func ln(x decimal.Decimal) decimal.Decimal {
	v, err := x.Ln(workPrecision)
	if err != nil {
		panic(fmt.Sprintf("LMSR_LN_DOMAIN: %s: %v", x.String(), err))
	}
	return v
}

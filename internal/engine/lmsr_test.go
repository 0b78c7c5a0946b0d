package engine

import (
	"errors"
	"strings"
	"testing"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fresh(b string) State {
	return State{B: d(b), SharesYes: decimal.Zero, SharesNo: decimal.Zero}
}

func closeTo(t *testing.T, name string, got, want, tol decimal.Decimal) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(tol) {
		t.Errorf("%s = %s, want %s ± %s", name, got, want, tol)
	}
}

func TestPrices_FreshMarket(t *testing.T) {
	e := New(DefaultParams())

	for _, b := range []string{"1", "10", "100", "5000"} {
		p := e.Prices(fresh(b))
		if !p.Yes.Equal(d("0.5")) || !p.No.Equal(d("0.5")) {
			t.Errorf("b=%s: expected 0.5/0.5, got %s/%s", b, p.Yes, p.No)
		}
	}
}

func TestPrices_SumToOne(t *testing.T) {
	e := New(DefaultParams())

	tests := []State{
		{B: d("100"), SharesYes: d("50"), SharesNo: d("10")},
		{B: d("100"), SharesYes: d("0"), SharesNo: d("333.333")},
		{B: d("1"), SharesYes: d("1000"), SharesNo: d("0")},
		{B: d("1"), SharesYes: d("0"), SharesNo: d("1000")},
		{B: d("10"), SharesYes: d("12345.6789"), SharesNo: d("12340")},
		{B: d("0.5"), SharesYes: d("3"), SharesNo: d("2.9")},
	}
	for _, s := range tests {
		p := e.Prices(s)
		if !p.Yes.Add(p.No).Equal(decimal.NewFromInt(1)) {
			t.Errorf("state %+v: prices %s + %s != 1", s, p.Yes, p.No)
		}
		if p.Yes.IsNegative() || p.No.IsNegative() {
			t.Errorf("state %+v: negative price %s/%s", s, p.Yes, p.No)
		}
	}
}

func TestPrices_LargeImbalance(t *testing.T) {
	e := New(DefaultParams())

	p := e.Prices(State{B: d("100"), SharesYes: d("1000"), SharesNo: decimal.Zero})
	if !p.Yes.GreaterThan(d("0.99")) {
		t.Errorf("expected YES > 0.99, got %s", p.Yes)
	}
	if !p.Yes.Add(p.No).Equal(decimal.NewFromInt(1)) {
		t.Errorf("prices must sum to 1, got %s", p.Yes.Add(p.No))
	}
}

func TestPrices_MonotoneInShares(t *testing.T) {
	e := New(DefaultParams())

	prev := e.Prices(fresh("100"))
	for _, yes := range []string{"1", "5", "25", "100", "250"} {
		p := e.Prices(State{B: d("100"), SharesYes: d(yes), SharesNo: decimal.Zero})
		if !p.Yes.GreaterThan(prev.Yes) {
			t.Errorf("sharesYes=%s: YES price %s should exceed %s", yes, p.Yes, prev.Yes)
		}
		if !p.No.LessThan(prev.No) {
			t.Errorf("sharesYes=%s: NO price %s should be below %s", yes, p.No, prev.No)
		}
		prev = p
	}
}

func TestCost_FreshMarket(t *testing.T) {
	e := New(DefaultParams())

	// C(0,0) = b·ln2
	closeTo(t, "cost", e.Cost(fresh("100")), d("69.3147180559945309417232121458"), d("1e-20"))
}

func TestCostToBuy_Monotone(t *testing.T) {
	e := New(DefaultParams())
	s := State{B: d("100"), SharesYes: d("20"), SharesNo: d("5")}

	prev := e.CostToBuy(s, domain.OutcomeYes, d("-10"))
	for _, delta := range []string{"-5", "0", "1", "10", "50", "200"} {
		c := e.CostToBuy(s, domain.OutcomeYes, d(delta))
		if !c.GreaterThan(prev) {
			t.Errorf("costToBuy(%s) = %s, not greater than %s", delta, c, prev)
		}
		prev = c
	}

	if !e.CostToBuy(s, domain.OutcomeNo, decimal.Zero).IsZero() {
		t.Error("zero delta must cost nothing")
	}
}

func TestCostToBuy_HigherPriceCostsMore(t *testing.T) {
	e := New(DefaultParams())

	cheap := e.CostToBuy(fresh("100"), domain.OutcomeYes, d("10"))
	dear := e.CostToBuy(State{B: d("100"), SharesYes: d("50"), SharesNo: decimal.Zero}, domain.OutcomeYes, d("10"))
	if !dear.GreaterThan(cheap) {
		t.Errorf("expected %s > %s", dear, cheap)
	}
}

func TestSharesToBuy_InvertsCost(t *testing.T) {
	e := New(DefaultParams())
	tol := DefaultParams().Tolerance

	tests := []struct {
		name    string
		state   State
		outcome domain.Outcome
		amount  string
	}{
		{"fresh yes", fresh("100"), domain.OutcomeYes, "10"},
		{"fresh no", fresh("100"), domain.OutcomeNo, "7.5"},
		{"skewed towards", State{B: d("100"), SharesYes: d("80"), SharesNo: d("0")}, domain.OutcomeYes, "5"},
		{"skewed against", State{B: d("50"), SharesYes: d("200"), SharesNo: d("0")}, domain.OutcomeNo, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares := e.SharesToBuy(tt.state, tt.outcome, d(tt.amount))
			if !shares.IsPositive() {
				t.Fatalf("expected positive shares, got %s", shares)
			}
			closeTo(t, "cost", e.CostToBuy(tt.state, tt.outcome, shares), d(tt.amount), tol)
		})
	}
}

func TestSharesToBuy_CheapOutcomeBeyondInitialBound(t *testing.T) {
	e := New(DefaultParams())
	// NO trades around 0.05, so 1 USDC buys ~20 shares, more than 10×amount.
	s := State{B: d("100"), SharesYes: d("300"), SharesNo: decimal.Zero}

	shares := e.SharesToBuy(s, domain.OutcomeNo, d("1"))
	if !shares.GreaterThan(d("10")) {
		t.Fatalf("expected more than 10 shares, got %s", shares)
	}
	closeTo(t, "cost", e.CostToBuy(s, domain.OutcomeNo, shares), d("1"), DefaultParams().Tolerance)
}

func TestSharesToBuy_NonPositiveAmount(t *testing.T) {
	e := New(DefaultParams())
	if !e.SharesToBuy(fresh("100"), domain.OutcomeYes, decimal.Zero).IsZero() {
		t.Error("zero amount should buy zero shares")
	}
}

func TestSharesToBuy_IterationCap(t *testing.T) {
	p := DefaultParams()
	p.MaxIterations = 3
	p.Tolerance = d("1e-27")
	e := New(p)

	// Must still terminate with a midpoint inside the initial bracket.
	shares := e.SharesToBuy(fresh("100"), domain.OutcomeYes, d("10"))
	if !shares.IsPositive() || shares.GreaterThan(d("100")) {
		t.Errorf("unexpected midpoint %s", shares)
	}
}

func TestExecuteBuy_FreshMarket(t *testing.T) {
	e := New(DefaultParams())
	s := fresh("100")

	res := e.ExecuteBuy(s, domain.OutcomeYes, d("100"))

	if !res.Fee.Equal(d("2")) {
		t.Errorf("fee = %s, want 2", res.Fee)
	}
	if !res.TotalCost.Equal(d("100")) {
		t.Errorf("totalCost = %s, want 100", res.TotalCost)
	}
	closeTo(t, "cost", res.Cost, d("98"), d("0.001"))
	if !res.NewPrice.GreaterThan(d("0.5")) {
		t.Errorf("YES price should rise above 0.5, got %s", res.NewPrice)
	}
	if !s.SharesYes.IsZero() {
		t.Error("ExecuteBuy must not mutate the state")
	}
}

func TestExecuteSell_DeductsFee(t *testing.T) {
	e := New(DefaultParams())
	s := State{B: d("100"), SharesYes: d("50"), SharesNo: decimal.Zero}

	res := e.ExecuteSell(s, domain.OutcomeYes, d("10"))

	if !res.Shares.Equal(d("10")) {
		t.Errorf("shares = %s, want 10", res.Shares)
	}
	if !res.Fee.IsPositive() {
		t.Errorf("fee should be positive, got %s", res.Fee)
	}
	if !res.Cost.LessThan(res.TotalCost) {
		t.Errorf("net %s should be below gross %s", res.Cost, res.TotalCost)
	}
	closeTo(t, "fee", res.Fee, res.TotalCost.Mul(d("0.02")), d("1e-20"))
	before := e.Prices(s).Yes
	if !res.NewPrice.LessThan(before) {
		t.Errorf("selling YES should lower its price: %s -> %s", before, res.NewPrice)
	}
}

func TestBuyThenSell_Slippage(t *testing.T) {
	e := New(DefaultParams())
	s := fresh("100")

	buy := e.ExecuteBuy(s, domain.OutcomeYes, d("10"))
	after := s.with(domain.OutcomeYes, buy.Shares)
	sell := e.ExecuteSell(after, domain.OutcomeYes, buy.Shares)

	if !sell.Cost.LessThan(buy.TotalCost) {
		t.Errorf("round trip returned %s, paid %s", sell.Cost, buy.TotalCost)
	}

	// Without fees the curve gives back exactly what the shares cost.
	closeTo(t, "amountToSell", e.AmountToSell(after, domain.OutcomeYes, buy.Shares), buy.Cost, d("1e-20"))
}

func TestMaxLoss(t *testing.T) {
	closeTo(t, "maxLoss(100)", MaxLoss(d("100")), d("69.31"), d("0.01"))
	if !MaxLoss(decimal.Zero).IsZero() {
		t.Error("maxLoss(0) should be zero")
	}
}

func TestValidateBet(t *testing.T) {
	e := New(DefaultParams())
	b := d("100")

	tests := []struct {
		amount  string
		wantErr error
		reason  string
	}{
		{"0.5", domain.ErrBetBelowMinimum, "Minimum bet is 1 USDC"},
		{"1", nil, ""},
		{"5", nil, ""},
		{"10", nil, ""},
		{"10.01", domain.ErrBetAboveMaximum, "Maximum bet is 10.00 USDC"},
	}
	for _, tt := range tests {
		err := e.ValidateBet(b, d(tt.amount))
		if tt.wantErr == nil {
			if err != nil {
				t.Errorf("amount %s: unexpected error %v", tt.amount, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("amount %s: expected %v, got %v", tt.amount, tt.wantErr, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.reason) {
			t.Errorf("amount %s: reason %q does not contain %q", tt.amount, err.Error(), tt.reason)
		}
	}
}

func TestExpMatchesKnownValues(t *testing.T) {
	tests := []struct {
		x    string
		want string // rounded to 30 places
	}{
		{"0", "1"},
		{"1", "2.718281828459045235360287471353"},
		{"0.37", "1.447734614663324461584752335519"},
	}
	for _, tt := range tests {
		got := exp(d(tt.x)).Round(30)
		if !got.Equal(d(tt.want)) {
			t.Errorf("exp(%s): expected %s, got %s", tt.x, tt.want, got)
		}
	}
}

func TestExpInvertsLn(t *testing.T) {
	for _, x := range []string{"0.5", "2", "37.25"} {
		got := exp(ln(d(x))).Round(20)
		if !got.Equal(d(x)) {
			t.Errorf("exp(ln(%s)) = %s", x, got)
		}
	}
}

package arbitrage

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"triarb/internal/config"
	"triarb/internal/model"
	"triarb/internal/risk"
)

// QuoteSource looks up top-of-book quotes by symbol.
type QuoteSource interface {
	Quote(symbol string) (model.Quote, bool)
}

// FeeSchedule holds taker fee rates in percent.
type FeeSchedule struct {
	StandardPct   float64
	DiscountPct   float64
	DiscountAsset string
}

// NewFeeSchedule reads the fee schedule from the exchange configuration.
func NewFeeSchedule(cfg config.ExchangeConfig) FeeSchedule {
	return FeeSchedule{
		StandardPct:   cfg.TakerFeePercent,
		DiscountPct:   cfg.DiscountFeePercent,
		DiscountAsset: strings.ToUpper(cfg.FeeDiscountAsset),
	}
}

// Rate is the per-leg fee fraction for a path. The discounted rate applies
// when any leg involves the discount asset.
func (f FeeSchedule) Rate(path []string) float64 {
	if f.DiscountAsset != "" {
		for _, symbol := range path {
			if strings.Contains(strings.ToUpper(symbol), f.DiscountAsset) {
				return f.DiscountPct / 100
			}
		}
	}
	return f.StandardPct / 100
}

// Thresholds are the minimum profits a candidate must reach to be reported.
type Thresholds struct {
	MinProfit    float64
	MinProfitPct float64
}

// Scanner evaluates every catalog triangle at every candidate notional.
type Scanner struct {
	logger    *slog.Logger
	triangles []model.Triangle
	assessor  *risk.Assessor
	fees      FeeSchedule
	now       func() time.Time
}

// NewScanner creates a new instance of the Scanner.
func NewScanner(logger *slog.Logger, triangles []model.Triangle, assessor *risk.Assessor, fees FeeSchedule) *Scanner {
	return &Scanner{
		logger:    logger,
		triangles: slices.Clone(triangles),
		assessor:  assessor,
		fees:      fees,
		now:       time.Now,
	}
}

// Triangles returns the catalog being scanned.
func (s *Scanner) Triangles() []model.Triangle {
	return slices.Clone(s.triangles)
}

// Symbols returns every distinct instrument the catalog needs quotes for.
func (s *Scanner) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range s.triangles {
		for _, symbol := range t.Symbols() {
			if _, ok := seen[symbol]; !ok {
				seen[symbol] = struct{}{}
				out = append(out, symbol)
			}
		}
	}
	return out
}

// Amounts returns the candidate notionals for a balance.
func Amounts(balance float64, fractions []float64) []float64 {
	out := make([]float64, 0, len(fractions))
	for _, f := range fractions {
		out = append(out, balance*f)
	}
	return out
}

// Scan returns every candidate meeting the thresholds, ranked by net profit
// times confidence, descending. Equal scores keep scan order.
func (s *Scanner) Scan(quotes QuoteSource, amounts []float64, th Thresholds) []model.Opportunity {
	var found []model.Opportunity
	for _, tri := range s.triangles {
		for _, amount := range amounts {
			opp, ok := s.Evaluate(quotes, tri, amount)
			if !ok {
				continue
			}
			if opp.NetProfit >= th.MinProfit && opp.ProfitPct >= th.MinProfitPct {
				found = append(found, opp)
			}
		}
	}

	slices.SortStableFunc(found, func(a, b model.Opportunity) int {
		return cmp.Compare(b.Score(), a.Score())
	})

	s.logger.Debug("Scan complete", "triangles", len(s.triangles), "amounts", len(amounts), "candidates", len(found))
	return found
}

// Evaluate computes both directions of one triangle at one notional and
// returns the better one. It reports false when any leg has no usable quote.
func (s *Scanner) Evaluate(quotes QuoteSource, tri model.Triangle, amount float64) (model.Opportunity, bool) {
	if amount <= 0 {
		return model.Opportunity{}, false
	}
	q1, ok1 := usable(quotes, tri.First)
	q2, ok2 := usable(quotes, tri.Second)
	q3, ok3 := usable(quotes, tri.Third)
	if !ok1 || !ok2 || !ok3 {
		return model.Opportunity{}, false
	}

	fwd := s.forward(tri, q1, q2, q3, amount)
	rev := s.reverse(tri, q1, q2, q3, amount)
	if fwd.NetProfit > rev.NetProfit {
		return fwd, true
	}
	return rev, true
}

// forward spends the quote asset on the first leg at its ask, converts on
// the second leg at its ask and sells on the third leg at its bid.
func (s *Scanner) forward(tri model.Triangle, q1, q2, q3 model.Quote, amount float64) model.Opportunity {
	first := amount / q1.Ask
	second := first / q2.Ask
	final := second * q3.Bid

	steps := []model.Step{
		{Symbol: tri.First, Side: model.Buy, Quantity: amount, ExpectedPrice: q1.Ask},
		{Symbol: tri.Second, Side: model.Buy, Quantity: first, ExpectedPrice: q2.Ask},
		{Symbol: tri.Third, Side: model.Sell, Quantity: second, ExpectedPrice: q3.Bid},
	}
	return s.build(tri, model.Forward, []string{tri.First, tri.Second, tri.Third}, steps, amount, final)
}

// reverse buys on the third leg at its ask, sells on the second leg at its
// bid and sells on the first leg at its bid.
func (s *Scanner) reverse(tri model.Triangle, q1, q2, q3 model.Quote, amount float64) model.Opportunity {
	third := amount / q3.Ask
	second := third * q2.Bid
	final := second * q1.Bid

	steps := []model.Step{
		{Symbol: tri.Third, Side: model.Buy, Quantity: amount, ExpectedPrice: q3.Ask},
		{Symbol: tri.Second, Side: model.Sell, Quantity: third, ExpectedPrice: q2.Bid},
		{Symbol: tri.First, Side: model.Sell, Quantity: second, ExpectedPrice: q1.Bid},
	}
	return s.build(tri, model.Reverse, []string{tri.Third, tri.Second, tri.First}, steps, amount, final)
}

func (s *Scanner) build(tri model.Triangle, dir model.Direction, path []string, steps []model.Step, amount, final float64) model.Opportunity {
	gross := final - amount
	fee := amount * s.fees.Rate(path) * 3
	confidence, tier := s.assessor.Assess(path, amount)

	return model.Opportunity{
		ID:           fmt.Sprintf("%s-%d-%s-%d", strings.Join(path, "-"), int64(amount), dir, s.now().Unix()),
		Triangle:     tri,
		Direction:    dir,
		Path:         path,
		Amount:       amount,
		Steps:        steps,
		GrossProfit:  gross,
		ProfitPct:    gross / amount * 100,
		EstimatedFee: fee,
		NetProfit:    gross - fee,
		Confidence:   confidence,
		Tier:         tier,
		FoundAt:      s.now(),
	}
}

func usable(quotes QuoteSource, symbol string) (model.Quote, bool) {
	q, ok := quotes.Quote(symbol)
	if !ok || q.Bid <= 0 || q.Ask <= 0 {
		return model.Quote{}, false
	}
	return q, true
}

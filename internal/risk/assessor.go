// Package risk scores opportunities and decides whether they, and the
// session as a whole, may proceed.
package risk

import (
	"strings"

	"triarb/internal/config"
	"triarb/internal/model"
)

// Liquidity is the liquidity class of an instrument.
type Liquidity int

const (
	LiquidityFull Liquidity = iota
	LiquidityMedium
	LiquidityLow
)

func (l Liquidity) String() string {
	switch l {
	case LiquidityFull:
		return "full"
	case LiquidityMedium:
		return "medium"
	default:
		return "low"
	}
}

type discount struct {
	factor  float64
	minTier model.RiskTier
}

var liquidityDiscounts = map[Liquidity]discount{
	LiquidityFull:   {factor: 1.0, minTier: model.RiskLow},
	LiquidityMedium: {factor: 0.9, minTier: model.RiskLow},
	LiquidityLow:    {factor: 0.7, minTier: model.RiskMedium},
}

// SizeBand discounts notionals strictly above Above.
type SizeBand struct {
	Above   float64
	Factor  float64
	MinTier model.RiskTier
}

// Assessor assigns a confidence multiplier and a risk tier to a conversion
// path. It is a pure function of its inputs.
type Assessor struct {
	high   []string
	medium []string
	bands  []SizeBand
}

// NewAssessor builds an assessor from the risk configuration. Bands are
// checked largest threshold first and only the first match applies.
func NewAssessor(cfg config.RiskConfig) *Assessor {
	return &Assessor{
		high:   upper(cfg.HighLiquidityAssets),
		medium: upper(cfg.MediumLiquidityAssets),
		bands: []SizeBand{
			{Above: cfg.HighNotional, Factor: 0.8, MinTier: model.RiskHigh},
			{Above: cfg.MediumNotional, Factor: 0.9, MinTier: model.RiskMedium},
		},
	}
}

// Classify returns the liquidity class of an instrument symbol. A symbol
// involving any high-liquidity asset is fully liquid.
func (a *Assessor) Classify(symbol string) Liquidity {
	symbol = strings.ToUpper(symbol)
	if containsAny(symbol, a.high) {
		return LiquidityFull
	}
	if containsAny(symbol, a.medium) {
		return LiquidityMedium
	}
	return LiquidityLow
}

// Assess scores a path at the given notional. Confidence stays in (0,1] and
// the tier only ever escalates.
func (a *Assessor) Assess(path []string, amount float64) (float64, model.RiskTier) {
	confidence := 1.0
	tier := model.RiskLow

	for _, symbol := range path {
		d := liquidityDiscounts[a.Classify(symbol)]
		confidence *= d.factor
		tier = tier.Escalate(d.minTier)
	}

	for _, band := range a.bands {
		if amount > band.Above {
			confidence *= band.Factor
			tier = tier.Escalate(band.MinTier)
			break
		}
	}

	return confidence, tier
}

func containsAny(symbol string, assets []string) bool {
	for _, asset := range assets {
		if asset != "" && strings.Contains(symbol, asset) {
			return true
		}
	}
	return false
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	return out
}

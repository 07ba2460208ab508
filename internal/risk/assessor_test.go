package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"triarb/internal/config"
	"triarb/internal/model"
)

func newAssessor() *Assessor {
	return NewAssessor(config.RiskConfig{
		HighLiquidityAssets:   []string{"BTC", "ETH", "BNB"},
		MediumLiquidityAssets: []string{"ADA", "DOT", "LINK"},
		MediumNotional:        50,
		HighNotional:          100,
	})
}

func TestClassify(t *testing.T) {
	a := newAssessor()
	assert.Equal(t, LiquidityFull, a.Classify("BTCUSDT"))
	assert.Equal(t, LiquidityFull, a.Classify("ADABTC"))
	assert.Equal(t, LiquidityMedium, a.Classify("ADAUSDT"))
	assert.Equal(t, LiquidityMedium, a.Classify("linkusdt"))
	assert.Equal(t, LiquidityLow, a.Classify("DOGEUSDT"))
	assert.Equal(t, LiquidityLow, a.Classify("BUSDUSDT"))
}

func TestAssess(t *testing.T) {
	a := newAssessor()
	tests := []struct {
		name       string
		path       []string
		amount     float64
		confidence float64
		tier       model.RiskTier
	}{
		{"liquid small", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, 20, 1.0, model.RiskLow},
		{"medium leg", []string{"BTCUSDT", "ADABTC", "ADAUSDT"}, 20, 0.9, model.RiskLow},
		{"two medium legs", []string{"ETHUSDT", "ADAUSDT", "DOTUSDT"}, 20, 0.81, model.RiskLow},
		{"illiquid leg", []string{"BTCUSDT", "BTCBUSD", "BUSDUSDT"}, 20, 0.7, model.RiskMedium},
		{"medium size", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, 60, 0.9, model.RiskMedium},
		{"boundary is exclusive", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, 50, 1.0, model.RiskLow},
		{"high size", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, 120, 0.8, model.RiskHigh},
		{"illiquid and large", []string{"DOGEUSDT", "XRPUSDT", "BTCUSDT"}, 150, 0.7 * 0.7 * 0.8, model.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confidence, tier := a.Assess(tt.path, tt.amount)
			assert.InDelta(t, tt.confidence, confidence, 1e-12)
			assert.Equal(t, tt.tier, tier)
		})
	}
}

func TestAssess_ConfidenceBoundsAndMonotoneTier(t *testing.T) {
	a := newAssessor()
	symbols := []string{"BTCUSDT", "ADAUSDT", "DOGEUSDT", "XRPUSDT", "ETHBTC", "LINKETH"}
	amounts := []float64{1, 49.9, 50, 50.1, 99, 100, 100.1, 10000}

	for _, s1 := range symbols {
		for _, s2 := range symbols {
			for _, s3 := range symbols {
				path := []string{s1, s2, s3}
				prevTier := model.RiskLow
				for _, amount := range amounts {
					confidence, tier := a.Assess(path, amount)
					assert.Greater(t, confidence, 0.0)
					assert.LessOrEqual(t, confidence, 1.0)
					assert.GreaterOrEqual(t, tier, prevTier, "tier must not drop as size grows")
					prevTier = tier

					if a.Classify(s1) == LiquidityLow || a.Classify(s2) == LiquidityLow || a.Classify(s3) == LiquidityLow {
						assert.GreaterOrEqual(t, tier, model.RiskMedium)
					}
				}
			}
		}
	}
}

func TestRiskTierEscalate(t *testing.T) {
	assert.Equal(t, model.RiskHigh, model.RiskHigh.Escalate(model.RiskLow))
	assert.Equal(t, model.RiskMedium, model.RiskLow.Escalate(model.RiskMedium))
	assert.Equal(t, "medium", model.RiskMedium.String())
}

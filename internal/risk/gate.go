package risk

import (
	"triarb/internal/model"
	"triarb/internal/session"
)

// Rejection reasons reported by Allow and Continue.
const (
	ReasonDailyCap        = "daily_trade_cap"
	ReasonEmergencyStop   = "emergency_stop"
	ReasonPositionSize    = "position_size"
	ReasonProfitThreshold = "profit_threshold"
	ReasonStopLoss        = "stop_loss"
	ReasonLowBalance      = "low_balance"
)

// profitMultiplier scales the base minimum profit per risk tier.
var profitMultiplier = map[model.RiskTier]float64{
	model.RiskLow:    1.0,
	model.RiskMedium: 1.5,
	model.RiskHigh:   2.0,
}

// RequiredProfit is the net profit a candidate of the given tier must reach.
func RequiredProfit(tier model.RiskTier, minProfit float64) float64 {
	m, ok := profitMultiplier[tier]
	if !ok {
		m = profitMultiplier[model.RiskHigh]
	}
	return minProfit * m
}

// Allow decides whether opp may be executed under the session view. It has
// no side effects. The reason is empty when allowed.
func Allow(opp model.Opportunity, v session.View) (bool, string) {
	if ok, reason := safetyChecks(v); !ok {
		return false, reason
	}
	if opp.Amount > v.Limits.MaxPosition() {
		return false, ReasonPositionSize
	}
	if opp.NetProfit < RequiredProfit(opp.Tier, v.Limits.MinProfit) {
		return false, ReasonProfitThreshold
	}
	return true, ""
}

// Continue reports whether the cycle loop may run another cycle. It applies
// the gate's safety checks plus the stop-loss and balance floor.
func Continue(v session.View) (bool, string) {
	if ok, reason := safetyChecks(v); !ok {
		return false, reason
	}
	if v.Drawdown() >= v.Limits.StopLossPct {
		return false, ReasonStopLoss
	}
	if v.Stats.CurrentBalance <= v.Limits.MinBalance {
		return false, ReasonLowBalance
	}
	return true, ""
}

func safetyChecks(v session.View) (bool, string) {
	if v.Stats.DailyTrades >= v.Limits.MaxDailyTrades {
		return false, ReasonDailyCap
	}
	if v.Limits.EmergencyStop {
		return false, ReasonEmergencyStop
	}
	return true, ""
}

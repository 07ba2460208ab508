package model

import (
	"fmt"
	"strings"
	"time"
)

// Quote is the best bid/ask of one instrument at capture time.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Triangle is a closed three-instrument conversion cycle, e.g.
// BTCUSDT -> ETHBTC -> ETHUSDT.
type Triangle struct {
	First  string `mapstructure:"first"`
	Second string `mapstructure:"second"`
	Third  string `mapstructure:"third"`
}

// Symbols returns the legs in catalog order.
func (t Triangle) Symbols() []string {
	return []string{t.First, t.Second, t.Third}
}

func (t Triangle) String() string {
	return strings.Join(t.Symbols(), "/")
}

// Side is an order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Direction tells which end of the triangle the conversion starts from.
type Direction string

const (
	Forward Direction = "FWD"
	Reverse Direction = "REV"
)

// RiskTier classifies the execution risk of an opportunity.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
)

func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(r))
	}
}

// Escalate returns the higher of the two tiers. Tiers never step down.
func (r RiskTier) Escalate(to RiskTier) RiskTier {
	if to > r {
		return to
	}
	return r
}

// Step is one planned market order of a conversion sequence. For buy legs
// Quantity is denominated in the quote asset being spent, for sell legs in
// the base asset being sold.
type Step struct {
	Symbol        string
	Side          Side
	Quantity      float64
	ExpectedPrice float64
}

// Opportunity is a scored triangular conversion candidate.
type Opportunity struct {
	ID           string
	Triangle     Triangle
	Direction    Direction
	Path         []string
	Amount       float64
	Steps        []Step
	GrossProfit  float64
	ProfitPct    float64
	EstimatedFee float64
	NetProfit    float64
	Confidence   float64
	Tier         RiskTier
	FoundAt      time.Time
}

// Score is the risk-adjusted ranking key.
func (o Opportunity) Score() float64 {
	return o.NetProfit * o.Confidence
}

// Fill is a single execution report of a market order.
type Fill struct {
	Price           float64
	Quantity        float64
	Commission      float64
	CommissionAsset string
}

// OrderResult is the exchange acknowledgement of a market order.
type OrderResult struct {
	OrderID            int64
	Symbol             string
	Status             string
	ExecutedQty        float64
	CumulativeProceeds float64
	Fills              []Fill
}

// FilledQty is the sum of fill quantities, which may be less than requested.
func (o OrderResult) FilledQty() float64 {
	var total float64
	for _, f := range o.Fills {
		total += f.Quantity
	}
	return total
}

// Balance is the account holding of one asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// ExecutionState is a state of the per-trade execution machine.
type ExecutionState string

const (
	StatePending          ExecutionState = "pending"
	StateVerifyingBalance ExecutionState = "verifying_balance"
	StateStep             ExecutionState = "step"
	StateCompleted        ExecutionState = "completed"
	StatePartiallyFailed  ExecutionState = "partially_failed"
	StateRejected         ExecutionState = "rejected"
)

// Terminal reports whether no further transitions can follow.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed || s == StateRejected
}

// Transition is one logged move of the execution machine.
type Transition struct {
	State  ExecutionState `json:"state"`
	Step   int            `json:"step,omitempty"`
	At     time.Time      `json:"at"`
	Detail string         `json:"detail,omitempty"`
}

// Outcome is the immutable record of one trade attempt.
type Outcome struct {
	ID                string         `json:"id"`
	OpportunityID     string         `json:"opportunity_id"`
	Status            ExecutionState `json:"status"`
	Success           bool           `json:"success"`
	Amount            float64        `json:"amount"`
	Profit            float64        `json:"profit"`
	Fees              float64        `json:"fees"`
	Duration          time.Duration  `json:"duration_ns"`
	OrderIDs          []int64        `json:"order_ids"`
	Error             string         `json:"error,omitempty"`
	NeedsIntervention bool           `json:"needs_intervention"`
	StartedAt         time.Time      `json:"started_at"`
	Transitions       []Transition   `json:"transitions"`
}

// Status is a point-in-time summary of the running session.
type Status struct {
	Running            bool      `json:"running"`
	EmergencyStop      bool      `json:"emergency_stop"`
	Balance            float64   `json:"balance"`
	Baseline           float64   `json:"baseline"`
	Drawdown           float64   `json:"drawdown_pct"`
	MaxDrawdown        float64   `json:"max_drawdown_pct"`
	DailyTrades        int       `json:"daily_trades"`
	MaxDailyTrades     int       `json:"max_daily_trades"`
	TradesExecuted     uint64    `json:"trades_executed"`
	SuccessfulTrades   uint64    `json:"successful_trades"`
	WinRate            float64   `json:"win_rate"`
	TotalProfit        float64   `json:"total_profit"`
	TotalFees          float64   `json:"total_fees"`
	TotalScans         uint64    `json:"total_scans"`
	OpportunitiesFound uint64    `json:"opportunities_found"`
	At                 time.Time `json:"at"`
}

// String renders the one-line status summary.
func (s Status) String() string {
	state := "stopped"
	if s.Running {
		state = "running"
	}
	if s.EmergencyStop {
		state = "emergency-stopped"
	}
	return fmt.Sprintf("%s | balance %.2f | trades %d/%d | win rate %.1f%% | profit %.4f",
		state, s.Balance, s.DailyTrades, s.MaxDailyTrades, s.WinRate*100, s.TotalProfit)
}

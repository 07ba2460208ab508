// Package session holds the mutable performance and risk state shared by
// the cycle controller, the execution engine and the periodic monitors.
package session

import (
	"math"
	"slices"
	"sync"
	"time"

	"triarb/internal/config"
	"triarb/internal/model"
)

// DailyWindow is how long the daily trade counter accumulates before reset.
const DailyWindow = 24 * time.Hour

// balanceTolerance is the smallest reconciliation delta worth applying.
const balanceTolerance = 0.01

// Limits are the operating limits consulted by the gate. Only the emergency
// flag and the account balance change during a session.
type Limits struct {
	AccountBalance      float64
	Baseline            float64
	MaxPositionFraction float64
	MinProfit           float64
	MinProfitPct        float64
	MaxDailyTrades      int
	StopLossPct         float64
	MinBalance          float64
	EmergencyStop       bool
}

// MaxPosition is the largest notional a single trade may use.
func (l Limits) MaxPosition() float64 {
	return l.AccountBalance * l.MaxPositionFraction
}

// Stats are the session counters.
type Stats struct {
	TotalScans            uint64
	OpportunitiesFound    uint64
	ScansSinceOpportunity uint64
	TradesExecuted        uint64
	SuccessfulTrades      uint64
	TotalProfit           float64
	TotalFees             float64
	DailyTrades           int
	LastReset             time.Time
	CurrentBalance        float64
	MaxDrawdown           float64
	WinRate               float64
}

// View is a consistent copy of limits and stats taken under one read lease.
type View struct {
	Limits   Limits
	Stats    Stats
	InFlight bool
}

// Drawdown is the percentage decline of the current balance from the baseline.
func (v View) Drawdown() float64 {
	return drawdown(v.Limits.Baseline, v.Stats.CurrentBalance)
}

func drawdown(baseline, current float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (baseline - current) / baseline * 100
}

// State is the lock-guarded session container. Every method holds its lease
// only for the duration of the call.
type State struct {
	mu       sync.RWMutex
	limits   Limits
	stats    Stats
	history  []model.Outcome
	capacity int
	inFlight bool
	now      func() time.Time
}

// New creates session state. A zero baseline defaults to the account balance.
func New(limits Limits, capacity int, now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	if capacity <= 0 {
		capacity = 1000
	}
	if limits.Baseline == 0 {
		limits.Baseline = limits.AccountBalance
	}
	return &State{
		limits:   limits,
		capacity: capacity,
		now:      now,
		stats: Stats{
			LastReset:      now(),
			CurrentBalance: limits.AccountBalance,
		},
	}
}

// NewFromConfig creates session state from the trading configuration.
func NewFromConfig(cfg config.TradingConfig, now func() time.Time) *State {
	return New(Limits{
		AccountBalance:      cfg.AccountBalance,
		MaxPositionFraction: cfg.MaxPositionFraction,
		MinProfit:           cfg.MinProfit,
		MinProfitPct:        cfg.MinProfitPercent,
		MaxDailyTrades:      cfg.MaxDailyTrades,
		StopLossPct:         cfg.StopLossPercent,
		MinBalance:          cfg.MinBalance,
		EmergencyStop:       cfg.EmergencyStop,
	}, cfg.HistoryCapacity, now)
}

// View returns a copy of the current limits and stats.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{Limits: s.limits, Stats: s.stats, InFlight: s.inFlight}
}

// IncScans counts a new scan cycle.
func (s *State) IncScans() {
	s.mu.Lock()
	s.stats.TotalScans++
	s.stats.ScansSinceOpportunity++
	s.mu.Unlock()
}

// AddOpportunities counts the candidates a scan produced.
func (s *State) AddOpportunities(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.stats.OpportunitiesFound += uint64(n)
	s.stats.ScansSinceOpportunity = 0
	s.mu.Unlock()
}

// BeginTrade marks a trade attempt as in flight. It returns false if one
// already is.
func (s *State) BeginTrade() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

// EndTrade clears the in-flight mark.
func (s *State) EndTrade() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Record applies a finished trade attempt to the counters and appends it to
// the bounded history.
func (s *State) Record(o model.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TradesExecuted++
	s.stats.DailyTrades++
	if o.Success {
		s.stats.SuccessfulTrades++
		s.stats.TotalProfit += o.Profit - o.Fees
		s.stats.CurrentBalance += o.Profit - o.Fees
	}
	s.stats.TotalFees += o.Fees
	s.stats.WinRate = float64(s.stats.SuccessfulTrades) / float64(s.stats.TradesExecuted)
	s.trackDrawdown()

	s.history = append(s.history, o)
	if len(s.history) > s.capacity {
		trim := max(1, s.capacity/10)
		s.history = slices.Delete(s.history, 0, trim)
	}
}

// ResetDaily zeroes the daily trade counter once the daily window elapsed.
func (s *State) ResetDaily() bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.stats.LastReset) < DailyWindow {
		return false
	}
	s.stats.DailyTrades = 0
	s.stats.LastReset = now
	return true
}

// InitBalance installs the verified exchange balance at startup. It becomes
// the sizing balance, the current balance and the drawdown baseline.
func (s *State) InitBalance(balance float64) {
	s.mu.Lock()
	s.limits.AccountBalance = balance
	s.limits.Baseline = balance
	s.stats.CurrentBalance = balance
	s.mu.Unlock()
}

// Reconcile overwrites the tracked balance with the exchange balance. It is
// skipped while a trade is in flight so it never races the engine's own
// bookkeeping. The drawdown baseline is left untouched.
func (s *State) Reconcile(balance float64) (changed, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false, true
	}
	s.limits.AccountBalance = balance
	if math.Abs(s.stats.CurrentBalance-balance) > balanceTolerance {
		s.stats.CurrentBalance = balance
		changed = true
	}
	s.trackDrawdown()
	return changed, false
}

// SetEmergencyStop flips the emergency flag.
func (s *State) SetEmergencyStop(on bool) {
	s.mu.Lock()
	s.limits.EmergencyStop = on
	s.mu.Unlock()
}

// EmergencyStopped reports the emergency flag.
func (s *State) EmergencyStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits.EmergencyStop
}

// History returns up to limit most recent outcomes, newest first. A
// non-positive limit returns all of them.
func (s *State) History(limit int) []model.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Outcome, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *State) trackDrawdown() {
	if dd := drawdown(s.limits.Baseline, s.stats.CurrentBalance); dd > s.stats.MaxDrawdown {
		s.stats.MaxDrawdown = dd
	}
}

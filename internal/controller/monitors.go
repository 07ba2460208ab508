package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"triarb/internal/exchange"
)

// Alert thresholds of the performance report.
const (
	lowWinRate       = 0.6
	lowWinRateTrades = 10
	highDrawdownPct  = 5.0
)

// ErrNoBalance means the startup balance check found nothing to trade with.
var ErrNoBalance = errors.New("no quote asset balance")

// Verify checks exchange connectivity before trading starts and installs the
// free quote balance as the account balance and drawdown baseline.
func (c *Controller) Verify(ctx context.Context) error {
	vctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balances, err := c.client.Balances(vctx)
	if err != nil {
		return fmt.Errorf("verify connection to %s: %w", c.client.GetName(), err)
	}
	free := exchange.AssetFree(balances, c.trading.QuoteAsset)
	if free <= 0 {
		return fmt.Errorf("%w: %s", ErrNoBalance, c.trading.QuoteAsset)
	}
	c.state.InitBalance(free)
	c.logger.Info("Controller: exchange connection verified",
		"exchange", c.client.GetName(), "asset", c.trading.QuoteAsset, "balance", free)
	return nil
}

// every runs fn on each tick until ctx is cancelled or halted is closed.
func (c *Controller) every(ctx context.Context, halted <-chan struct{}, d time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-halted:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Report logs the performance summary, raises alerts and publishes the status.
func (c *Controller) Report(ctx context.Context) {
	s := c.Status()
	opportunityRate := 0.0
	if s.TotalScans > 0 {
		opportunityRate = float64(s.OpportunitiesFound) / float64(s.TotalScans) * 100
	}

	c.logger.Info("Controller: performance update",
		"total_scans", s.TotalScans,
		"opportunities_found", s.OpportunitiesFound,
		"opportunity_rate_pct", opportunityRate,
		"daily_trades", s.DailyTrades,
		"max_daily_trades", s.MaxDailyTrades,
		"win_rate", s.WinRate,
		"total_profit", s.TotalProfit,
		"total_fees", s.TotalFees,
		"balance", s.Balance,
		"max_drawdown_pct", s.MaxDrawdown)

	if s.WinRate < lowWinRate && s.TradesExecuted > lowWinRateTrades {
		c.logger.Warn("Controller: low win rate alert", "win_rate", s.WinRate, "trades_executed", s.TradesExecuted)
	}
	if s.MaxDrawdown > highDrawdownPct {
		c.logger.Warn("Controller: high drawdown alert", "max_drawdown_pct", s.MaxDrawdown)
	}

	c.metrics.SetStatus(s)
	for _, p := range c.publishers {
		pctx, cancel := context.WithTimeout(ctx, journalTimeout)
		if err := p.PublishStatus(pctx, s); err != nil {
			c.logger.Warn("Controller: failed to publish status", "error", err)
		}
		cancel()
	}
}

func (c *Controller) resetDaily(context.Context) {
	if c.state.ResetDaily() {
		c.logger.Info("Controller: daily limits reset")
	}
}

// ReconcileBalance replaces the tracked balance with the exchange's free
// quote balance. It is the only periodic writer of the balance.
func (c *Controller) ReconcileBalance(ctx context.Context) {
	bctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balances, err := c.client.Balances(bctx)
	if err != nil {
		c.logger.Warn("Controller: balance refresh failed", "error", err)
		return
	}
	free := exchange.AssetFree(balances, c.trading.QuoteAsset)
	changed, skipped := c.state.Reconcile(free)
	switch {
	case skipped:
		c.logger.Debug("Controller: balance refresh skipped, trade in flight")
	case changed:
		c.logger.Info("Controller: balance updated", "asset", c.trading.QuoteAsset, "balance", free)
		c.metrics.Balance.Set(free)
	}
}

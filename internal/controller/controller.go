// Package controller drives the scan, gate and execute cycle and the periodic
// monitors that run beside it.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"triarb/internal/arbitrage"
	"triarb/internal/config"
	"triarb/internal/exchange"
	"triarb/internal/market"
	"triarb/internal/metrics"
	"triarb/internal/model"
	"triarb/internal/risk"
	"triarb/internal/session"
)

// quietScans is how many scans without any candidate make the loop speed up.
const quietScans = 100

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// Executor runs one opportunity to a terminal state.
type Executor interface {
	Execute(ctx context.Context, opp model.Opportunity) (model.Outcome, error)
}

// Journal persists trade attempts. Failures are logged, never fatal.
type Journal interface {
	LogOutcome(ctx context.Context, opp model.Opportunity, out model.Outcome) error
}

// StatusPublisher receives the periodic status summary.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, s model.Status) error
}

// Controller owns the trading loop.
type Controller struct {
	logger   *slog.Logger
	trading  config.TradingConfig
	monitors config.MonitorsConfig
	timeout  time.Duration

	client  exchange.ExchangeClient
	store   *market.Store
	state   *session.State
	scanner *arbitrage.Scanner
	engine  Executor
	metrics *metrics.Metrics

	journals   []Journal
	publishers []StatusPublisher

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	// consecutiveErrors is only touched by the loop goroutine.
	consecutiveErrors int

	now func() time.Time
}

// New creates a controller. Journals and status publishers are optional and
// must be added before Start.
func New(logger *slog.Logger, cfg *config.Config, client exchange.ExchangeClient, state *session.State,
	scanner *arbitrage.Scanner, engine Executor, m *metrics.Metrics) *Controller {
	return &Controller{
		logger:   logger,
		trading:  cfg.Trading,
		monitors: cfg.Monitors,
		timeout:  cfg.Exchange.RequestTimeout(),
		client:   client,
		store:    market.NewStore(),
		state:    state,
		scanner:  scanner,
		engine:   engine,
		metrics:  m,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// AddJournal registers an outcome journal.
func (c *Controller) AddJournal(j Journal) {
	c.journals = append(c.journals, j)
}

// AddStatusPublisher registers a receiver of the periodic status.
func (c *Controller) AddStatusPublisher(p StatusPublisher) {
	c.publishers = append(c.publishers, p)
}

// Start runs the trading loop and the monitors until ctx is cancelled or the
// loop halts.
func (c *Controller) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	halted := make(chan struct{})

	g.Go(func() error {
		defer close(halted)
		return c.Run(gctx)
	})
	g.Go(func() error {
		c.every(gctx, halted, c.monitors.ReportInterval(), c.Report)
		return nil
	})
	g.Go(func() error {
		c.every(gctx, halted, c.monitors.ResetCheckInterval(), c.resetDaily)
		return nil
	})
	g.Go(func() error {
		c.every(gctx, halted, c.monitors.BalanceInterval(), c.ReconcileBalance)
		return nil
	})
	return g.Wait()
}

// Run is the trading loop. It returns nil on stop, cancellation or emergency
// stop; the process stays up for inspection after an emergency stop.
func (c *Controller) Run(ctx context.Context) error {
	select {
	case <-c.stop:
		return nil
	default:
	}
	c.running.Store(true)
	defer c.running.Store(false)

	c.logger.Info("Controller: trading loop started",
		"exchange", c.client.GetName(),
		"triangles", len(c.scanner.Triangles()),
		"scan_interval", c.trading.ScanInterval(),
		"max_daily_trades", c.trading.MaxDailyTrades)

	for c.running.Load() {
		started := c.now()

		if !c.canContinue(c.state.View()) {
			if !c.wait(ctx, c.trading.Pause()) {
				break
			}
			continue
		}

		if err := c.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.consecutiveErrors++
			c.metrics.CycleErrors.Inc()
			c.logger.Error("Controller: trading cycle failed", "error", err, "consecutive_errors", c.consecutiveErrors)

			if c.consecutiveErrors >= c.trading.MaxConsecutiveErrors {
				c.logger.Error("Controller: too many consecutive errors", "threshold", c.trading.MaxConsecutiveErrors)
				c.EmergencyStop(ctx, fmt.Sprintf("%d consecutive cycle errors", c.consecutiveErrors))
				break
			}
			if !c.wait(ctx, Backoff(c.trading.BackoffBase(), c.trading.BackoffMax(), c.consecutiveErrors)) {
				break
			}
			continue
		}

		c.consecutiveErrors = 0
		if !c.wait(ctx, c.NextInterval(c.state.View())-c.now().Sub(started)) {
			break
		}
	}

	c.logger.Info("Controller: trading loop stopped", "status", c.Status().String())
	return nil
}

// RunCycle fetches quotes, scans every triangle and executes the best
// candidate if the gate allows it. Only transport failures are returned.
func (c *Controller) RunCycle(ctx context.Context) error {
	started := c.now()
	c.state.IncScans()

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	quotes, err := c.client.TopOfBook(qctx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}
	c.store.Replace(quotes, started)
	snap := c.store.Snapshot()
	c.logger.Debug("Controller: quotes refreshed", "instruments", snap.Len(), "at", snap.At())

	view := c.state.View()
	amounts := arbitrage.Amounts(view.Limits.AccountBalance, c.trading.SizeFractions)
	opps := c.scanner.Scan(snap, amounts, arbitrage.Thresholds{
		MinProfit:    view.Limits.MinProfit,
		MinProfitPct: view.Limits.MinProfitPct,
	})
	c.metrics.ObserveScan(c.now().Sub(started), len(opps))
	if len(opps) == 0 {
		return nil
	}
	c.state.AddOpportunities(len(opps))

	best := opps[0]
	c.logger.Info("Controller: found opportunities", "count", len(opps),
		"best_id", best.ID, "best_net", best.NetProfit, "best_confidence", best.Confidence, "best_tier", best.Tier.String())

	if ok, reason := risk.Allow(best, c.state.View()); !ok {
		c.metrics.Rejections.WithLabelValues(reason).Inc()
		c.logRejection(best, reason)
		return nil
	}

	out, err := c.engine.Execute(ctx, best)
	if out.Status.Terminal() {
		c.metrics.ObserveOutcome(out)
		c.journal(ctx, best, out)
	}
	if err != nil {
		if exchange.IsTransport(err) {
			return fmt.Errorf("execute %s: %w", best.ID, err)
		}
		c.logger.Warn("Controller: trade attempt did not complete", "opportunity_id", best.ID, "status", out.Status, "error", err)
	}
	return nil
}

// canContinue applies the continuation check and logs why it fails.
func (c *Controller) canContinue(v session.View) bool {
	ok, reason := risk.Continue(v)
	if ok {
		return true
	}
	switch reason {
	case risk.ReasonStopLoss:
		c.logger.Error("Controller: stop-loss triggered, pausing trading",
			"drawdown_pct", v.Drawdown(), "stop_loss_pct", v.Limits.StopLossPct, "balance", v.Stats.CurrentBalance)
	case risk.ReasonLowBalance:
		c.logger.Error("Controller: balance too low to continue, pausing trading",
			"balance", v.Stats.CurrentBalance, "min_balance", v.Limits.MinBalance)
	case risk.ReasonEmergencyStop:
		c.logger.Warn("Controller: emergency stop engaged, pausing trading")
	default:
		c.logger.Info("Controller: daily trade limit reached, pausing trading",
			"daily_trades", v.Stats.DailyTrades, "max_daily_trades", v.Limits.MaxDailyTrades)
	}
	return false
}

func (c *Controller) logRejection(opp model.Opportunity, reason string) {
	attrs := []any{"opportunity_id", opp.ID, "reason", reason, "net", opp.NetProfit, "amount", opp.Amount}
	switch reason {
	case risk.ReasonEmergencyStop, risk.ReasonStopLoss:
		c.logger.Warn("Controller: opportunity rejected", attrs...)
	default:
		c.logger.Info("Controller: opportunity rejected", attrs...)
	}
}

func (c *Controller) journal(ctx context.Context, opp model.Opportunity, out model.Outcome) {
	for _, j := range c.journals {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		if err := j.LogOutcome(jctx, opp, out); err != nil {
			c.logger.Warn("Controller: failed to journal outcome", "outcome_id", out.ID, "error", err)
		}
		cancel()
	}
}

// NextInterval is the delay before the next cycle. The base interval is
// doubled when more than half the daily cap is used and halved after a long
// run of empty scans; both adjustments multiply.
func (c *Controller) NextInterval(v session.View) time.Duration {
	multiplier := 1.0
	if v.Stats.DailyTrades > v.Limits.MaxDailyTrades/2 {
		multiplier *= 2
	}
	if v.Stats.ScansSinceOpportunity > quietScans {
		multiplier *= 0.5
	}
	return time.Duration(float64(c.trading.ScanInterval()) * multiplier)
}

// Backoff is base doubled per consecutive error, capped at maxDelay.
func Backoff(base, maxDelay time.Duration, errs int) time.Duration {
	d := base
	for i := 0; i < errs; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

// EmergencyStop engages the emergency flag, halts the loop and tries to
// cancel open orders. A failed cancel is logged only.
func (c *Controller) EmergencyStop(ctx context.Context, reason string) {
	c.state.SetEmergencyStop(true)
	c.metrics.EmergencyStop.Set(1)
	c.Stop()
	c.logger.Error("Controller: EMERGENCY STOP ACTIVATED", "reason", reason)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.client.CancelAllOpenOrders(cctx); err != nil {
		c.logger.Warn("Controller: failed to cancel open orders", "error", err)
	}
}

// Stop asks the loop to finish after the current iteration. A trade already
// in flight completes.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		close(c.stop)
		c.logger.Info("Controller: stop requested")
	})
}

// Running reports whether the loop is active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Status summarises the session.
func (c *Controller) Status() model.Status {
	v := c.state.View()
	return model.Status{
		Running:            c.Running(),
		EmergencyStop:      v.Limits.EmergencyStop,
		Balance:            v.Stats.CurrentBalance,
		Baseline:           v.Limits.Baseline,
		Drawdown:           v.Drawdown(),
		MaxDrawdown:        v.Stats.MaxDrawdown,
		DailyTrades:        v.Stats.DailyTrades,
		MaxDailyTrades:     v.Limits.MaxDailyTrades,
		TradesExecuted:     v.Stats.TradesExecuted,
		SuccessfulTrades:   v.Stats.SuccessfulTrades,
		WinRate:            v.Stats.WinRate,
		TotalProfit:        v.Stats.TotalProfit,
		TotalFees:          v.Stats.TotalFees,
		TotalScans:         v.Stats.TotalScans,
		OpportunitiesFound: v.Stats.OpportunitiesFound,
		At:                 c.now(),
	}
}

// Quotes is the store refreshed at the start of every cycle.
func (c *Controller) Quotes() *market.Store {
	return c.store
}

// History returns the most recent outcomes, newest first.
func (c *Controller) History(limit int) []model.Outcome {
	return c.state.History(limit)
}

// wait sleeps for d unless ctx is cancelled or a stop is requested first.
func (c *Controller) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && c.running.Load()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	case <-t.C:
		return c.running.Load()
	}
}

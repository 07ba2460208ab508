package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"triarb/internal/exchange"
	"triarb/internal/model"
)

var (
	// ErrInsufficientBalance means the free quote balance cannot cover the
	// planned notional. No order is placed.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrEmptyFill means an order was acknowledged without any usable fill.
	ErrEmptyFill = errors.New("order filled nothing")
	// ErrTradeInFlight means another attempt has not finished yet.
	ErrTradeInFlight = errors.New("trade already in flight")
)

// Trader is the part of the exchange collaborator the engine needs.
type Trader interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, quantity float64) (model.OrderResult, error)
	Balances(ctx context.Context) (map[string]model.Balance, error)
}

// Ledger receives the in-flight lease and the final outcome of each attempt.
type Ledger interface {
	BeginTrade() bool
	EndTrade()
	Record(o model.Outcome)
}

// Engine runs one opportunity through the three-leg order sequence.
type Engine struct {
	logger     *slog.Logger
	trader     Trader
	ledger     Ledger
	quoteAsset string
	stepDelay  time.Duration
	prices     Pricer

	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine creates an execution engine. stepDelay separates consecutive legs.
func NewEngine(logger *slog.Logger, trader Trader, ledger Ledger, quoteAsset string, stepDelay time.Duration) *Engine {
	return &Engine{
		logger:     logger,
		trader:     trader,
		ledger:     ledger,
		quoteAsset: quoteAsset,
		stepDelay:  stepDelay,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// UsePrices sets the quote lookup used to value commissions charged in
// assets outside the triangle.
func (e *Engine) UsePrices(p Pricer) {
	e.prices = p
}

// Execute runs opp to a terminal state and records the outcome. The returned
// error is the cause of any non-completed outcome; transport failures are
// recognisable with exchange.IsTransport. A failed balance lookup returns a
// zero Outcome and records nothing, since no order was tried.
//
// Once started, an attempt is not interrupted by cancellation of ctx: legs
// already committed must be followed through or flagged, not abandoned.
func (e *Engine) Execute(ctx context.Context, opp model.Opportunity) (model.Outcome, error) {
	if !e.ledger.BeginTrade() {
		return model.Outcome{}, ErrTradeInFlight
	}
	defer e.ledger.EndTrade()
	ctx = context.WithoutCancel(ctx)

	a := &attempt{
		now: e.now,
		outcome: model.Outcome{
			ID:            uuid.NewString(),
			OpportunityID: opp.ID,
			Amount:        opp.Amount,
			StartedAt:     e.now(),
		},
	}
	a.move(model.StatePending, 0, opp.ID)
	log := e.logger.With("attempt_id", a.outcome.ID, "opportunity_id", opp.ID)
	log.Info("Engine: starting trade", "path", opp.Path, "amount", opp.Amount, "expected_net", opp.NetProfit, "tier", opp.Tier.String())

	a.move(model.StateVerifyingBalance, 0, e.quoteAsset)
	balances, err := e.trader.Balances(ctx)
	if err != nil {
		log.Error("Engine: balance check failed", "error", err)
		return model.Outcome{}, fmt.Errorf("verify balance: %w", err)
	}
	if free := exchange.AssetFree(balances, e.quoteAsset); free < opp.Amount {
		err := fmt.Errorf("%w: %s free %.8f, required %.8f", ErrInsufficientBalance, e.quoteAsset, free, opp.Amount)
		log.Warn("Engine: trade rejected", "error", err)
		return e.finish(a, model.StateRejected, 0, err), err
	}

	fees := newFeeBook(e.quoteAsset, e.prices)
	qty := opp.Amount
	for i, step := range opp.Steps {
		n := i + 1
		if i > 0 && e.stepDelay > 0 {
			e.sleep(e.stepDelay)
		}
		a.move(model.StateStep, n, fmt.Sprintf("%s %s %.8f", step.Side, step.Symbol, qty))

		res, err := e.trader.SubmitMarketOrder(ctx, step.Symbol, step.Side, qty)
		if err == nil {
			qty = chained(step.Side, res)
			if qty <= 0 {
				err = fmt.Errorf("%w: order %d on %s", ErrEmptyFill, res.OrderID, step.Symbol)
			}
		}
		if err != nil {
			err = fmt.Errorf("step %d %s %s: %w", n, step.Side, step.Symbol, err)
			if i == 0 {
				log.Warn("Engine: first leg failed, trade rejected", "error", err)
				return e.finish(a, model.StateRejected, n, err), err
			}
			log.Error("Engine: trade partially failed, manual intervention required",
				"error", err, "step", n, "needs_intervention", true, "order_ids", a.outcome.OrderIDs)
			return e.finish(a, model.StatePartiallyFailed, n, err), err
		}

		a.outcome.OrderIDs = append(a.outcome.OrderIDs, res.OrderID)
		fees.learn(step.Symbol, res)
		fee, unvalued := fees.total(res)
		if len(unvalued) > 0 {
			log.Warn("Engine: commission left out of fees, no price", "step", n, "assets", unvalued)
		}
		a.outcome.Fees += fee
		log.Info("Engine: step filled", "step", n, "symbol", step.Symbol, "side", step.Side, "order_id", res.OrderID, "next_qty", qty)
	}

	a.outcome.Success = true
	a.outcome.Profit = qty - opp.Amount
	out := e.finish(a, model.StateCompleted, len(opp.Steps), nil)
	log.Info("Engine: trade completed", "profit", out.Profit, "fees", out.Fees, "duration", out.Duration)
	return out, nil
}

func (e *Engine) finish(a *attempt, state model.ExecutionState, step int, cause error) model.Outcome {
	detail := ""
	if cause != nil {
		detail = cause.Error()
		a.outcome.Error = detail
	}
	a.move(state, step, detail)
	a.outcome.NeedsIntervention = state == model.StatePartiallyFailed
	a.outcome.Duration = e.now().Sub(a.outcome.StartedAt)
	e.ledger.Record(a.outcome)
	return a.outcome
}

// chained is the amount carried into the next leg: the base quantity
// actually bought, or the quote proceeds actually received.
func chained(side model.Side, res model.OrderResult) float64 {
	if side == model.Buy {
		return res.FilledQty()
	}
	return res.CumulativeProceeds
}

type attempt struct {
	now     func() time.Time
	outcome model.Outcome
}

func (a *attempt) move(state model.ExecutionState, step int, detail string) {
	a.outcome.Status = state
	a.outcome.Transitions = append(a.outcome.Transitions, model.Transition{
		State:  state,
		Step:   step,
		At:     a.now(),
		Detail: detail,
	})
}

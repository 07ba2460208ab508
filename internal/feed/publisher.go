// Package feed publishes trade outcomes and the session status to Redis so
// dashboards and other processes can follow the bot without touching it.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"triarb/internal/config"
	"triarb/internal/model"
)

type Publisher struct {
	rdb       *redis.Client
	stream    string
	statusKey string
	maxLen    int64
}

func NewPublisher(cfg config.RedisConfig) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	return &Publisher{
		rdb:       rdb,
		stream:    cfg.Stream,
		statusKey: cfg.StatusKey,
		maxLen:    cfg.MaxLen,
	}
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// LogOutcome appends the outcome to the stream, trimming it to roughly
// maxLen entries.
func (p *Publisher) LogOutcome(ctx context.Context, opp model.Opportunity, out model.Outcome) error {
	orderIDs, err := json.Marshal(out.OrderIDs)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"id":                 out.ID,
			"opportunity_id":     out.OpportunityID,
			"path":               strings.Join(opp.Path, ","),
			"direction":          string(opp.Direction),
			"status":             string(out.Status),
			"success":            out.Success,
			"amount":             out.Amount,
			"profit":             out.Profit,
			"fees":               out.Fees,
			"duration_ms":        out.Duration.Milliseconds(),
			"order_ids":          string(orderIDs),
			"error":              out.Error,
			"needs_intervention": out.NeedsIntervention,
			"ts_ms":              out.StartedAt.UnixMilli(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// PublishStatus overwrites the status hash.
func (p *Publisher) PublishStatus(ctx context.Context, s model.Status) error {
	if err := p.rdb.HSet(ctx, p.statusKey, map[string]interface{}{
		"running":           s.Running,
		"emergency_stop":    s.EmergencyStop,
		"balance":           s.Balance,
		"drawdown_pct":      s.Drawdown,
		"daily_trades":      s.DailyTrades,
		"max_daily_trades":  s.MaxDailyTrades,
		"trades_executed":   s.TradesExecuted,
		"successful_trades": s.SuccessfulTrades,
		"win_rate":          s.WinRate,
		"total_profit":      s.TotalProfit,
		"total_fees":        s.TotalFees,
		"ts_ms":             s.At.UnixMilli(),
	}).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", p.statusKey, err)
	}
	return nil
}

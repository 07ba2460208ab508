package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"triarb/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	LogOutcome(ctx context.Context, opp model.Opportunity, out model.Outcome) error
	RecentOutcomes(ctx context.Context, limit int) ([]model.Outcome, error)
	Migrate(ctx context.Context) error
}

// PostgresRepository journals trade attempts to PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects a pool to dsn and verifies it.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trade_outcomes (
	id                 TEXT PRIMARY KEY,
	opportunity_id     TEXT NOT NULL,
	path               TEXT NOT NULL,
	direction          VARCHAR(3) NOT NULL,
	risk_tier          VARCHAR(10) NOT NULL,
	status             VARCHAR(20) NOT NULL,
	success            BOOLEAN NOT NULL,
	amount             NUMERIC(20, 8) NOT NULL,
	expected_net       NUMERIC(20, 8) NOT NULL,
	profit             NUMERIC(20, 8) NOT NULL,
	fees               NUMERIC(20, 8) NOT NULL,
	duration_ms        BIGINT NOT NULL,
	order_ids          BIGINT[] NOT NULL,
	error              TEXT NOT NULL DEFAULT '',
	needs_intervention BOOLEAN NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	transitions        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_outcomes_started_at_idx ON trade_outcomes (started_at DESC);`

// Migrate creates the journal table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("migrate trade_outcomes: %w", err)
	}
	return nil
}

// LogOutcome inserts one trade attempt together with the opportunity that
// triggered it.
func (r *PostgresRepository) LogOutcome(ctx context.Context, opp model.Opportunity, out model.Outcome) error {
	transitions, err := json.Marshal(out.Transitions)
	if err != nil {
		return fmt.Errorf("encode transitions: %w", err)
	}
	orderIDs := out.OrderIDs
	if orderIDs == nil {
		orderIDs = []int64{}
	}

	_, err = r.Pool.Exec(ctx, `
		INSERT INTO trade_outcomes (
			id, opportunity_id, path, direction, risk_tier, status, success,
			amount, expected_net, profit, fees, duration_ms, order_ids,
			error, needs_intervention, started_at, transitions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		out.ID, out.OpportunityID, strings.Join(opp.Path, ","), string(opp.Direction), opp.Tier.String(),
		string(out.Status), out.Success, out.Amount, opp.NetProfit, out.Profit, out.Fees,
		out.Duration.Milliseconds(), orderIDs, out.Error, out.NeedsIntervention, out.StartedAt, transitions,
	)
	if err != nil {
		return fmt.Errorf("insert outcome %s: %w", out.ID, err)
	}
	return nil
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (r *PostgresRepository) RecentOutcomes(ctx context.Context, limit int) ([]model.Outcome, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, opportunity_id, status, success, amount, profit, fees,
		       duration_ms, order_ids, error, needs_intervention, started_at, transitions
		FROM trade_outcomes
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var (
			o           model.Outcome
			status      string
			durationMS  int64
			transitions []byte
		)
		if err := rows.Scan(&o.ID, &o.OpportunityID, &status, &o.Success, &o.Amount, &o.Profit, &o.Fees,
			&durationMS, &o.OrderIDs, &o.Error, &o.NeedsIntervention, &o.StartedAt, &transitions); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = model.ExecutionState(status)
		o.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal(transitions, &o.Transitions); err != nil {
			return nil, fmt.Errorf("decode transitions of %s: %w", o.ID, err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/verdict/pkg/policy"
)

// PolicyStore persists per-user policy configs.
type PolicyStore struct {
	db     *sql.DB
	driver DriverName
}

// NewPolicyStore creates the store and its schema.
func NewPolicyStore(db *sql.DB, driver DriverName) (*PolicyStore, error) {
	s := &PolicyStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate policy_configs: %w", err)
	}
	return s, nil
}

func (s *PolicyStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS policy_configs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		max_transaction_amount TEXT NOT NULL,
		daily_spending_cap TEXT NOT NULL,
		current_daily_spend TEXT NOT NULL,
		last_spend_reset_date TEXT,
		cooldown_period_seconds INTEGER NOT NULL,
		last_trade_timestamp TEXT,
		max_price_deviation_percent TEXT NOT NULL,
		allowed_addresses TEXT NOT NULL,
		risk_tolerance TEXT NOT NULL,
		guard_expression TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const policyColumns = `id, user_id, max_transaction_amount, daily_spending_cap, current_daily_spend,
	last_spend_reset_date, cooldown_period_seconds, last_trade_timestamp,
	max_price_deviation_percent, allowed_addresses, risk_tolerance, guard_expression,
	is_active, created_at, updated_at`

// GetConfig returns the config for a user, or policy.ErrNotFound.
func (s *PolicyStore) GetConfig(ctx context.Context, userID string) (*policy.Config, error) {
	query := rebind(s.driver, `SELECT `+policyColumns+` FROM policy_configs WHERE user_id = ?`)
	row := s.db.QueryRowContext(ctx, query, userID)

	var (
		cfg                  policy.Config
		maxTx, limit, spend  string
		deviation, risk      string
		resetDate, lastTrade sql.NullString
		addresses            string
		createdAt, updatedAt string
	)
	err := row.Scan(&cfg.ID, &cfg.UserID, &maxTx, &limit, &spend, &resetDate,
		&cfg.CooldownPeriodSeconds, &lastTrade, &deviation, &addresses,
		&risk, &cfg.GuardExpression, &cfg.IsActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select policy config: %w", err)
	}

	if cfg.MaxTransactionAmount, err = decimal.NewFromString(maxTx); err != nil {
		return nil, fmt.Errorf("parse max_transaction_amount: %w", err)
	}
	if cfg.DailySpendingCap, err = decimal.NewFromString(limit); err != nil {
		return nil, fmt.Errorf("parse daily_spending_cap: %w", err)
	}
	if cfg.CurrentDailySpend, err = decimal.NewFromString(spend); err != nil {
		return nil, fmt.Errorf("parse current_daily_spend: %w", err)
	}
	if cfg.MaxPriceDeviationPercent, err = decimal.NewFromString(deviation); err != nil {
		return nil, fmt.Errorf("parse max_price_deviation_percent: %w", err)
	}
	if cfg.RiskTolerance, err = decimal.NewFromString(risk); err != nil {
		return nil, fmt.Errorf("parse risk_tolerance: %w", err)
	}
	if err := json.Unmarshal([]byte(addresses), &cfg.AllowedAddresses); err != nil {
		return nil, fmt.Errorf("unmarshal allowed_addresses: %w", err)
	}
	if cfg.LastSpendResetDate, err = parseNullableTime(resetDate); err != nil {
		return nil, fmt.Errorf("parse last_spend_reset_date: %w", err)
	}
	if cfg.LastTradeTimestamp, err = parseNullableTime(lastTrade); err != nil {
		return nil, fmt.Errorf("parse last_trade_timestamp: %w", err)
	}
	if cfg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &cfg, nil
}

// PutConfig inserts or replaces the config for cfg.UserID.
func (s *PolicyStore) PutConfig(ctx context.Context, cfg *policy.Config) error {
	addresses, err := json.Marshal(cfg.AllowedAddresses)
	if err != nil {
		return fmt.Errorf("marshal allowed_addresses: %w", err)
	}

	var query string
	switch s.driver {
	case DriverPostgres:
		query = rebind(s.driver, `INSERT INTO policy_configs (`+policyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				max_transaction_amount = EXCLUDED.max_transaction_amount,
				daily_spending_cap = EXCLUDED.daily_spending_cap,
				current_daily_spend = EXCLUDED.current_daily_spend,
				last_spend_reset_date = EXCLUDED.last_spend_reset_date,
				cooldown_period_seconds = EXCLUDED.cooldown_period_seconds,
				last_trade_timestamp = EXCLUDED.last_trade_timestamp,
				max_price_deviation_percent = EXCLUDED.max_price_deviation_percent,
				allowed_addresses = EXCLUDED.allowed_addresses,
				risk_tolerance = EXCLUDED.risk_tolerance,
				guard_expression = EXCLUDED.guard_expression,
				is_active = EXCLUDED.is_active,
				updated_at = EXCLUDED.updated_at`)
	default:
		query = `INSERT INTO policy_configs (` + policyColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				max_transaction_amount = excluded.max_transaction_amount,
				daily_spending_cap = excluded.daily_spending_cap,
				current_daily_spend = excluded.current_daily_spend,
				last_spend_reset_date = excluded.last_spend_reset_date,
				cooldown_period_seconds = excluded.cooldown_period_seconds,
				last_trade_timestamp = excluded.last_trade_timestamp,
				max_price_deviation_percent = excluded.max_price_deviation_percent,
				allowed_addresses = excluded.allowed_addresses,
				risk_tolerance = excluded.risk_tolerance,
				guard_expression = excluded.guard_expression,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`
	}

	_, err = s.db.ExecContext(ctx, query,
		cfg.ID, cfg.UserID,
		cfg.MaxTransactionAmount.String(), cfg.DailySpendingCap.String(), cfg.CurrentDailySpend.String(),
		formatNullableTime(cfg.LastSpendResetDate), cfg.CooldownPeriodSeconds,
		formatNullableTime(cfg.LastTradeTimestamp),
		cfg.MaxPriceDeviationPercent.String(), string(addresses), cfg.RiskTolerance.String(),
		cfg.GuardExpression, cfg.IsActive,
		formatTime(cfg.CreatedAt), formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert policy config: %w", err)
	}
	return nil
}

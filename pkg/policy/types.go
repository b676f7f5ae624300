// Package policy evaluates proposed actions against per-user spending and
// risk rules. A policy violation is a business outcome, never an error: the
// engine always returns the full check list so callers can render exactly
// which rules failed.
package policy

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Store implementations when no config exists for
// a user. The engine treats it as "create defaults lazily".
var ErrNotFound = errors.New("policy: config not found")

// Store persists per-user policy configs.
type Store interface {
	GetConfig(ctx context.Context, userID string) (*Config, error)
	PutConfig(ctx context.Context, cfg *Config) error
}

// Clock provides the engine's notion of now. Injected so cooldown and daily
// reset behavior are testable without sleeping.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// PriceSource supplies the reference price for the deviation guard.
type PriceSource interface {
	ReferencePrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// StaticPriceSource returns a fixed reference price. The default treats
// everything as a 1:1 stablecoin; a real deployment plugs in an oracle.
type StaticPriceSource struct {
	Price decimal.Decimal
}

func (s StaticPriceSource) ReferencePrice(context.Context, string) (decimal.Decimal, error) {
	return s.Price, nil
}

// Config is one user's policy record.
type Config struct {
	ID                       string           `json:"id"`
	UserID                   string           `json:"user_id"`
	MaxTransactionAmount     decimal.Decimal  `json:"max_transaction_amount"`
	DailySpendingCap         decimal.Decimal  `json:"daily_spending_cap"`
	CurrentDailySpend        decimal.Decimal  `json:"current_daily_spend"`
	LastSpendResetDate       *time.Time       `json:"last_spend_reset_date,omitempty"`
	CooldownPeriodSeconds    int              `json:"cooldown_period_seconds"`
	LastTradeTimestamp       *time.Time       `json:"last_trade_timestamp,omitempty"`
	MaxPriceDeviationPercent decimal.Decimal  `json:"max_price_deviation_percent"`
	AllowedAddresses         []string         `json:"allowed_addresses"`
	RiskTolerance            decimal.Decimal  `json:"risk_tolerance"`
	GuardExpression          string           `json:"guard_expression,omitempty"`
	IsActive                 bool             `json:"is_active"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// Update carries a partial config change; nil fields are left untouched.
type Update struct {
	MaxTransactionAmount     *decimal.Decimal `json:"max_transaction_amount,omitempty"`
	DailySpendingCap         *decimal.Decimal `json:"daily_spending_cap,omitempty"`
	CooldownPeriodSeconds    *int             `json:"cooldown_period_seconds,omitempty"`
	MaxPriceDeviationPercent *decimal.Decimal `json:"max_price_deviation_percent,omitempty"`
	AllowedAddresses         *[]string        `json:"allowed_addresses,omitempty"`
	RiskTolerance            *decimal.Decimal `json:"risk_tolerance,omitempty"`
	GuardExpression          *string          `json:"guard_expression,omitempty"`
	IsActive                 *bool            `json:"is_active,omitempty"`
}

// Check is the outcome of one rule evaluation. Message is only set on
// failure.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// ValidationResult reports the overall outcome plus every evaluated check,
// for audit and explainability rather than just the failures.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
	Checks []Check `json:"checks"`
}

// Check names, in evaluation order.
const (
	CheckPerTransactionLimit = "per_transaction_limit"
	CheckDailySpendingCap    = "daily_spending_cap"
	CheckCooldownPeriod      = "cooldown_period"
	CheckAllowlist           = "allowlist"
	CheckPriceDeviation      = "price_deviation"
	CheckGuardExpression     = "guard_expression"
)

package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
)

// Default config values applied on first access per user.
var (
	defaultMaxTransactionAmount = decimal.NewFromInt(50)
	defaultDailySpendingCap     = decimal.NewFromInt(500)
	defaultMaxPriceDeviation    = decimal.NewFromInt(5)
	defaultRiskTolerance        = decimal.NewFromFloat(0.5)
)

const defaultCooldownSeconds = 60

// Engine evaluates proposed actions against per-user configs.
type Engine struct {
	store  Store
	clock  Clock
	prices PriceSource
	guards *guardCache
	logger *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the engine's clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPriceSource overrides the reference price source.
func WithPriceSource(p PriceSource) Option {
	return func(e *Engine) { e.prices = p }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a policy engine backed by store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  wallClock{},
		prices: StaticPriceSource{Price: decimal.NewFromInt(1)},
		guards: newGuardCache(),
		logger: slog.Default().With("component", "policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultConfig(userID string, now time.Time) *Config {
	reset := midnightUTC(now)
	return &Config{
		ID:                       uuid.NewString(),
		UserID:                   userID,
		MaxTransactionAmount:     defaultMaxTransactionAmount,
		DailySpendingCap:         defaultDailySpendingCap,
		CurrentDailySpend:        decimal.Zero,
		LastSpendResetDate:       &reset,
		CooldownPeriodSeconds:    defaultCooldownSeconds,
		MaxPriceDeviationPercent: defaultMaxPriceDeviation,
		AllowedAddresses:         []string{},
		RiskTolerance:            defaultRiskTolerance,
		IsActive:                 true,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GetOrCreateConfig returns the stored config for userID, creating it with
// defaults on first access. The lazy daily-reset runs before the config is
// returned, so no caller ever evaluates a check against yesterday's spend.
func (e *Engine) GetOrCreateConfig(ctx context.Context, userID string) (*Config, error) {
	cfg, err := e.store.GetConfig(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		cfg = defaultConfig(userID, e.clock.Now())
		if err := e.store.PutConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("create policy config: %w", err)
		}
		e.logger.Info("created default policy config", "user_id", userID)
	case err != nil:
		return nil, fmt.Errorf("load policy config: %w", err)
	}

	if err := e.resetDailySpendIfNeeded(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resetDailySpendIfNeeded zeroes the daily spend when the last reset date is
// strictly before the current UTC day.
func (e *Engine) resetDailySpendIfNeeded(ctx context.Context, cfg *Config) error {
	today := midnightUTC(e.clock.Now())
	if cfg.LastSpendResetDate != nil && !cfg.LastSpendResetDate.Before(today) {
		return nil
	}
	cfg.CurrentDailySpend = decimal.Zero
	cfg.LastSpendResetDate = &today
	cfg.UpdatedAt = e.clock.Now()
	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return fmt.Errorf("reset daily spend: %w", err)
	}
	e.logger.Info("reset daily spend", "user_id", cfg.UserID)
	return nil
}

// UpdateConfig merges the supplied fields onto the existing config.
func (e *Engine) UpdateConfig(ctx context.Context, userID string, update Update) (*Config, error) {
	cfg, err := e.GetOrCreateConfig(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.MaxTransactionAmount != nil {
		cfg.MaxTransactionAmount = *update.MaxTransactionAmount
	}
	if update.DailySpendingCap != nil {
		cfg.DailySpendingCap = *update.DailySpendingCap
	}
	if update.CooldownPeriodSeconds != nil {
		cfg.CooldownPeriodSeconds = *update.CooldownPeriodSeconds
	}
	if update.MaxPriceDeviationPercent != nil {
		cfg.MaxPriceDeviationPercent = *update.MaxPriceDeviationPercent
	}
	if update.AllowedAddresses != nil {
		cfg.AllowedAddresses = *update.AllowedAddresses
	}
	if update.RiskTolerance != nil {
		cfg.RiskTolerance = *update.RiskTolerance
	}
	if update.GuardExpression != nil {
		cfg.GuardExpression = *update.GuardExpression
	}
	if update.IsActive != nil {
		cfg.IsActive = *update.IsActive
	}
	cfg.UpdatedAt = e.clock.Now()

	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("update policy config: %w", err)
	}
	e.logger.Info("updated policy config", "user_id", userID)
	return cfg, nil
}

// ValidateDecision runs the rule checks against a proposed action, in fixed
// order. The result is valid iff every evaluated check passed; the allowlist
// and price deviation checks only run when the action carries an address or
// a price respectively.
func (e *Engine) ValidateDecision(ctx context.Context, userID string, action contracts.ProposedAction) (*ValidationResult, error) {
	cfg, err := e.GetOrCreateConfig(ctx, userID)
	if err != nil {
		return nil, err
	}

	amount := action.Amount
	checks := []Check{
		e.checkTransactionLimit(cfg, amount),
		e.checkDailyCap(cfg, amount),
		e.checkCooldown(cfg),
	}

	if action.TargetAddress != "" {
		checks = append(checks, e.checkAllowlist(cfg, action.TargetAddress))
	}
	if action.Price != nil {
		checks = append(checks, e.checkPriceDeviation(ctx, cfg, action))
	}
	if cfg.GuardExpression != "" {
		checks = append(checks, e.checkGuard(cfg, action))
	}

	valid := true
	var failures []string
	for _, c := range checks {
		if !c.Passed {
			valid = false
			failures = append(failures, c.Message)
		}
	}

	result := &ValidationResult{
		Valid:  valid,
		Checks: checks,
	}
	if !valid {
		result.Reason = strings.Join(failures, "; ")
	}
	return result, nil
}

// RecordTransaction accumulates a completed spend and stamps the trade
// timestamp. Called only after successful execution downstream.
func (e *Engine) RecordTransaction(ctx context.Context, userID string, amount decimal.Decimal) error {
	cfg, err := e.GetOrCreateConfig(ctx, userID)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	cfg.CurrentDailySpend = cfg.CurrentDailySpend.Add(amount)
	cfg.LastTradeTimestamp = &now
	cfg.UpdatedAt = now
	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (e *Engine) checkTransactionLimit(cfg *Config, amount decimal.Decimal) Check {
	if amount.LessThanOrEqual(cfg.MaxTransactionAmount) {
		return Check{Name: CheckPerTransactionLimit, Passed: true}
	}
	return Check{
		Name:    CheckPerTransactionLimit,
		Message: fmt.Sprintf("Amount %s exceeds limit %s USDC", amount, cfg.MaxTransactionAmount),
	}
}

func (e *Engine) checkDailyCap(cfg *Config, amount decimal.Decimal) Check {
	newTotal := cfg.CurrentDailySpend.Add(amount)
	if newTotal.LessThanOrEqual(cfg.DailySpendingCap) {
		return Check{Name: CheckDailySpendingCap, Passed: true}
	}
	return Check{
		Name:    CheckDailySpendingCap,
		Message: fmt.Sprintf("Daily spend %s would exceed cap %s USDC", newTotal, cfg.DailySpendingCap),
	}
}

func (e *Engine) checkCooldown(cfg *Config) Check {
	if cfg.LastTradeTimestamp == nil {
		return Check{Name: CheckCooldownPeriod, Passed: true}
	}
	elapsed := e.clock.Now().Sub(*cfg.LastTradeTimestamp).Seconds()
	if elapsed >= float64(cfg.CooldownPeriodSeconds) {
		return Check{Name: CheckCooldownPeriod, Passed: true}
	}
	remaining := int(math.Ceil(float64(cfg.CooldownPeriodSeconds) - elapsed))
	return Check{
		Name:    CheckCooldownPeriod,
		Message: fmt.Sprintf("Cooldown active: %ds remaining", remaining),
	}
}

// checkAllowlist matches case-insensitively. An empty allowlist means
// unrestricted: tightening that to default-deny would silently change
// authorization semantics for every user created before the change.
func (e *Engine) checkAllowlist(cfg *Config, address string) Check {
	if len(cfg.AllowedAddresses) == 0 {
		return Check{Name: CheckAllowlist, Passed: true}
	}
	for _, a := range cfg.AllowedAddresses {
		if strings.EqualFold(a, address) {
			return Check{Name: CheckAllowlist, Passed: true}
		}
	}
	return Check{
		Name:    CheckAllowlist,
		Message: fmt.Sprintf("Address %s not in allowlist", address),
	}
}

func (e *Engine) checkPriceDeviation(ctx context.Context, cfg *Config, action contracts.ProposedAction) Check {
	ref, err := e.prices.ReferencePrice(ctx, action.Asset)
	if err != nil || ref.IsZero() {
		// No usable reference price: fail closed rather than wave the
		// trade through at an unverifiable price.
		return Check{
			Name:    CheckPriceDeviation,
			Message: "reference price unavailable",
		}
	}
	deviation := action.Price.Sub(ref).Abs().Div(ref)
	maxDeviation := cfg.MaxPriceDeviationPercent.Div(decimal.NewFromInt(100))
	if deviation.LessThanOrEqual(maxDeviation) {
		return Check{Name: CheckPriceDeviation, Passed: true}
	}
	return Check{
		Name: CheckPriceDeviation,
		Message: fmt.Sprintf("Price deviation %s%% exceeds max %s%%",
			deviation.Mul(decimal.NewFromInt(100)).StringFixed(2),
			cfg.MaxPriceDeviationPercent),
	}
}

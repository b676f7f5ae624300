// Package decision sequences a proposed action through the verification
// pipeline: persist PENDING, policy gate, quorum gate, terminal status.
// Policy violations and quorum shortfalls are successful pipeline
// completions that end in REJECTED; only usage and infrastructure problems
// surface as errors.
package decision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
	"github.com/Mindburn-Labs/verdict/pkg/observability"
	"github.com/Mindburn-Labs/verdict/pkg/policy"
)

// ErrNotFound is returned when a referenced decision does not exist.
var ErrNotFound = errors.New("decision: not found")

// ErrInvalidState is returned when an operation is requested against a
// decision whose status does not permit it. This is a usage error, distinct
// from policy or consensus outcomes.
var ErrInvalidState = errors.New("decision: invalid state for operation")

// Store persists decision records.
type Store interface {
	Create(ctx context.Context, d *contracts.Decision) error
	Update(ctx context.Context, d *contracts.Decision) error
	// Get returns a decision or an error satisfying errors.Is(err, ErrNotFound).
	Get(ctx context.Context, id string) (*contracts.Decision, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*contracts.Decision, error)
}

// PolicyGate is the policy engine surface the orchestrator depends on.
type PolicyGate interface {
	ValidateDecision(ctx context.Context, userID string, action contracts.ProposedAction) (*policy.ValidationResult, error)
	RecordTransaction(ctx context.Context, userID string, amount decimal.Decimal) error
}

// QuorumGate runs one consensus round.
type QuorumGate interface {
	VerifyRequest(ctx context.Context, req contracts.VerificationRequest) (*contracts.VerificationResult, error)
}

// Optimizer is the external portfolio optimizer. Its snapshot is attached to
// the decision for audit only and never evaluated by any gate.
type Optimizer interface {
	Snapshot(ctx context.Context, userID string) (*contracts.AnalyticsSnapshot, error)
}

// Orchestrator owns the decision record lifecycle.
type Orchestrator struct {
	decisions Store
	policies  PolicyGate
	quorum    QuorumGate
	optimizer Optimizer
	clock     func() time.Time
	logger    *slog.Logger
	metrics   *observability.Provider
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithOptimizer attaches the external analytics collaborator.
func WithOptimizer(o Optimizer) Option {
	return func(orc *Orchestrator) { orc.optimizer = o }
}

// WithClock overrides the orchestrator's clock.
func WithClock(clock func() time.Time) Option {
	return func(orc *Orchestrator) { orc.clock = clock }
}

// WithLogger overrides the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(orc *Orchestrator) { orc.logger = l.With("component", "decision") }
}

// WithMetrics attaches a metrics provider.
func WithMetrics(m *observability.Provider) Option {
	return func(orc *Orchestrator) { orc.metrics = m }
}

// New creates an orchestrator.
func New(decisions Store, policies PolicyGate, quorum QuorumGate, opts ...Option) *Orchestrator {
	orc := &Orchestrator{
		decisions: decisions,
		policies:  policies,
		quorum:    quorum,
		clock:     time.Now,
		logger:    slog.Default().With("component", "decision"),
	}
	for _, opt := range opts {
		opt(orc)
	}
	return orc
}

// Submit runs a proposed action through the full pipeline and returns the
// decision record in its terminal pre-execution status (VERIFIED or
// REJECTED). The record is persisted PENDING before any gate runs, so
// partial progress stays observable if a later stage crashes.
func (o *Orchestrator) Submit(ctx context.Context, action contracts.ProposedAction) (*contracts.Decision, error) {
	now := o.clock()
	d := &contracts.Decision{
		ID:     uuid.NewString(),
		UserID: action.UserID,
		Type:   contracts.DecisionTypeFromAction(action.Type),
		Status: contracts.StatusPending,
		Parameters: contracts.ActionParameters{
			Asset:         action.Asset,
			Amount:        action.Amount,
			Quantity:      action.Amount,
			Price:         action.Price,
			TargetAddress: action.TargetAddress,
		},
		Reasoning: action.Reasoning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if o.optimizer != nil {
		snapshot, err := o.optimizer.Snapshot(ctx, action.UserID)
		if err != nil {
			// Analytics are audit-only; a missing snapshot never blocks
			// the pipeline.
			o.logger.Warn("optimizer snapshot unavailable", "user_id", action.UserID, "error", err)
		} else {
			d.Analytics = snapshot
		}
	}

	if err := o.decisions.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	o.logger.Info("decision created", "decision_id", d.ID, "user_id", d.UserID, "type", d.Type)

	// Policy gate. A rejection here consumes no quorum round.
	check, err := o.policies.ValidateDecision(ctx, action.UserID, action)
	if err != nil {
		return nil, fmt.Errorf("policy validation: %w", err)
	}
	if !check.Valid {
		d.Reasoning += fmt.Sprintf("\n\nPolicy violation: %s", check.Reason)
		if err := o.transition(ctx, d, contracts.StatusRejected); err != nil {
			return nil, err
		}
		o.logger.Info("decision rejected by policy", "decision_id", d.ID, "reason", check.Reason)
		o.metrics.RecordDecision(ctx, string(d.Status))
		return d, nil
	}

	// Quorum gate.
	if err := o.transition(ctx, d, contracts.StatusVerifying); err != nil {
		return nil, err
	}

	result, err := o.quorum.VerifyRequest(ctx, contracts.VerificationRequest{
		Type:       string(d.Type),
		UserID:     d.UserID,
		Amount:     d.Parameters.EffectiveAmount(),
		Recipient:  d.Parameters.TargetAddress,
		Parameters: action.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("consensus round: %w", err)
	}

	addresses := make([]string, 0, len(result.Signatures))
	for _, s := range result.Signatures {
		addresses = append(addresses, s.Address)
	}
	d.Verification = &contracts.VerificationSummary{
		VerificationID:     result.VerificationID,
		TotalSignatures:    result.SignatureCount,
		RequiredSignatures: result.RequiredSignatures,
		VerifierAddresses:  addresses,
		ConsensusReached:   result.Approved,
		Timestamp:          result.Timestamp,
	}

	target := contracts.StatusVerified
	if !result.Approved {
		target = contracts.StatusRejected
		d.Reasoning += fmt.Sprintf("\n\nConsensus not reached: %d of %d required signatures",
			result.SignatureCount, result.RequiredSignatures)
	}
	if err := o.transition(ctx, d, target); err != nil {
		return nil, err
	}

	o.logger.Info("decision pipeline complete",
		"decision_id", d.ID,
		"status", d.Status,
		"verification_id", result.VerificationID,
	)
	o.metrics.RecordDecision(ctx, string(d.Status))
	return d, nil
}

// Execute settles a VERIFIED decision. Calling it in any other status is a
// usage error; callers must not treat it as a policy or consensus failure.
func (o *Orchestrator) Execute(ctx context.Context, id string) (*contracts.Decision, error) {
	d, err := o.decisions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != contracts.StatusVerified {
		return nil, fmt.Errorf("%w: cannot execute decision in status %s", ErrInvalidState, d.Status)
	}

	d.SettlementRef = newSettlementRef()
	if err := o.transition(ctx, d, contracts.StatusExecuted); err != nil {
		return nil, err
	}

	if err := o.policies.RecordTransaction(ctx, d.UserID, d.Parameters.EffectiveAmount()); err != nil {
		// The decision is already settled; spend accounting must not undo it.
		o.logger.Error("failed to record transaction spend", "decision_id", d.ID, "error", err)
	}

	o.logger.Info("decision executed", "decision_id", d.ID, "settlement_ref", d.SettlementRef)
	o.metrics.RecordDecision(ctx, string(d.Status))
	return d, nil
}

// Get returns a single decision record.
func (o *Orchestrator) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	return o.decisions.Get(ctx, id)
}

// History returns a user's most recent decisions.
func (o *Orchestrator) History(ctx context.Context, userID string, limit int) ([]*contracts.Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	return o.decisions.ListByUser(ctx, userID, limit)
}

// transition advances the record's status and persists it.
func (o *Orchestrator) transition(ctx context.Context, d *contracts.Decision, to contracts.DecisionStatus) error {
	if err := d.TransitionTo(to); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	d.UpdatedAt = o.clock()
	if err := o.decisions.Update(ctx, d); err != nil {
		return fmt.Errorf("persist decision %s: %w", to, err)
	}
	return nil
}

func newSettlementRef() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf)
}

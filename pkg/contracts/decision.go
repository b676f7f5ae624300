// Package contracts defines the shared record types that flow between the
// policy engine, the quorum coordinator, and the lifecycle orchestrator.
// Records are persisted as-is; fields map one-to-one onto store columns.
package contracts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionType categorizes the proposed financial action.
type DecisionType string

const (
	DecisionBuy         DecisionType = "buy"
	DecisionSell        DecisionType = "sell"
	DecisionHold        DecisionType = "hold"
	DecisionRebalance   DecisionType = "rebalance"
	DecisionPurchaseAPI DecisionType = "purchase_api"
)

// DecisionTypeFromAction maps a free-form action string from the external
// recommender onto a DecisionType. Unknown actions degrade to HOLD, which is
// the only action with no side effects.
func DecisionTypeFromAction(action string) DecisionType {
	switch action {
	case "buy", "BUY", "purchase", "transfer", "TRANSFER":
		return DecisionBuy
	case "sell", "SELL":
		return DecisionSell
	case "rebalance", "REBALANCE", "optimize", "OPTIMIZE":
		return DecisionRebalance
	case "purchase_api", "PURCHASE_API":
		return DecisionPurchaseAPI
	default:
		return DecisionHold
	}
}

// DecisionStatus is the lifecycle state of a decision record.
type DecisionStatus string

const (
	StatusPending   DecisionStatus = "pending"
	StatusVerifying DecisionStatus = "verifying"
	StatusVerified  DecisionStatus = "verified"
	StatusRejected  DecisionStatus = "rejected"
	StatusExecuted  DecisionStatus = "executed"
	StatusFailed    DecisionStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s DecisionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// transitions is the forward-only lifecycle graph.
var transitions = map[DecisionStatus][]DecisionStatus{
	StatusPending:   {StatusVerifying, StatusRejected},
	StatusVerifying: {StatusVerified, StatusRejected},
	StatusVerified:  {StatusExecuted, StatusFailed},
}

// CanTransition reports whether s -> to is a permitted forward transition.
func (s DecisionStatus) CanTransition(to DecisionStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ActionParameters are the concrete parameters of the proposed action.
// Price and TargetAddress are optional; absence is meaningful (it controls
// which policy checks run).
type ActionParameters struct {
	Asset         string           `json:"asset,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Amount        decimal.Decimal  `json:"amount"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	TargetAddress string           `json:"target_address,omitempty"`
	APIEndpoint   string           `json:"api_endpoint,omitempty"`
}

// EffectiveAmount returns the spend the policy engine evaluates: the explicit
// amount when set, otherwise the quantity.
func (p ActionParameters) EffectiveAmount() decimal.Decimal {
	if !p.Amount.IsZero() {
		return p.Amount
	}
	return p.Quantity
}

// AnalyticsSnapshot is an immutable copy of the external optimizer's output,
// attached to a decision purely for audit. It is never evaluated by the
// policy engine or the quorum coordinator.
type AnalyticsSnapshot struct {
	OptimizedWeights map[string]float64 `json:"optimized_weights"`
	ExpectedReturn   float64            `json:"expected_return"`
	Variance         float64            `json:"variance"`
	SharpeRatio      float64            `json:"sharpe_ratio"`
}

// VerificationSummary is the denormalized, read-optimized copy of a quorum
// round's outcome stored inline on the decision record. The verification log
// row is authoritative; this copy exists so reads never join against the
// append-only ledger.
type VerificationSummary struct {
	VerificationID     string    `json:"verification_id"`
	TotalSignatures    int       `json:"total_signatures"`
	RequiredSignatures int       `json:"required_signatures"`
	VerifierAddresses  []string  `json:"verifier_addresses"`
	ConsensusReached   bool      `json:"consensus_reached"`
	Timestamp          time.Time `json:"timestamp"`
}

// Decision is the record a proposed action moves through on its way from
// recommendation to settlement.
type Decision struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	Type          DecisionType         `json:"type"`
	Status        DecisionStatus       `json:"status"`
	Parameters    ActionParameters     `json:"parameters"`
	Reasoning     string               `json:"reasoning"`
	Analytics     *AnalyticsSnapshot   `json:"analytics,omitempty"`
	Verification  *VerificationSummary `json:"verification,omitempty"`
	SettlementRef string               `json:"settlement_ref,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// TransitionTo advances the decision's status, enforcing the forward-only
// lifecycle graph. Terminal statuses never change again.
func (d *Decision) TransitionTo(to DecisionStatus) error {
	if !d.Status.CanTransition(to) {
		return fmt.Errorf("illegal decision transition %s -> %s", d.Status, to)
	}
	d.Status = to
	return nil
}

// ProposedAction is the inbound payload from the external recommendation
// collaborator.
type ProposedAction struct {
	Type          string           `json:"type"`
	UserID        string           `json:"user_id"`
	Asset         string           `json:"asset,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	TargetAddress string           `json:"target_address,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Reasoning     string           `json:"reasoning,omitempty"`
	Parameters    map[string]any   `json:"parameters,omitempty"`
}

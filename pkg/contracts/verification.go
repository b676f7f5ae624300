package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationRequest is the payload submitted to the quorum coordinator for
// one consensus round.
type VerificationRequest struct {
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Recipient  string          `json:"recipient,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

// VerifierSignature is one verifier's sign-off within a single round. It is
// ephemeral: individual signatures are never persisted on their own, only
// inside the round's serialized signature set.
type VerifierSignature struct {
	VerifierID string    `json:"verifier_id"`
	Address    string    `json:"address"`
	Signature  string    `json:"signature"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// VerificationResult is the synchronous outcome of one consensus round.
type VerificationResult struct {
	VerificationID     string              `json:"verification_id"`
	RequestHash        string              `json:"request_hash"`
	Approved           bool                `json:"approved"`
	SignatureCount     int                 `json:"signature_count"`
	RequiredSignatures int                 `json:"required_signatures"`
	Signatures         []VerifierSignature `json:"signatures"`
	Timestamp          time.Time           `json:"timestamp"`
	ConsensusLatencyMs int64               `json:"consensus_latency_ms"`
}

// VerificationLog is one append-only ledger row per consensus round.
// Rows are created once and never mutated.
type VerificationLog struct {
	ID                 string    `json:"id"`
	VerificationID     string    `json:"verification_id"`
	RequestHash        string    `json:"request_hash"`
	RequestType        string    `json:"request_type"`
	UserID             string    `json:"user_id"`
	SignatureCount     int       `json:"signature_count"`
	RequiredSignatures int       `json:"required_signatures"`
	ConsensusReached   bool      `json:"consensus_reached"`
	ConsensusLatencyMs int64     `json:"consensus_latency_ms"`
	Signatures         string    `json:"signatures"`
	OnChainTxHash      string    `json:"onchain_tx_hash,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

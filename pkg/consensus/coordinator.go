// Package consensus runs quorum rounds against the verifier pool. One round
// solicits a signature from every pool member concurrently, waits for the
// full set to settle, and approves iff at least the 2f+1 threshold signed.
// Every round leaves exactly one immutable row in the verification ledger.
package consensus

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/verdict/pkg/canonicalize"
	"github.com/Mindburn-Labs/verdict/pkg/contracts"
	"github.com/Mindburn-Labs/verdict/pkg/observability"
	"github.com/Mindburn-Labs/verdict/pkg/verifier"
)

// ErrNotFound is returned when a verification id was never issued. It is
// deliberately distinct from a found round whose ConsensusReached is false.
var ErrNotFound = errors.New("consensus: verification log not found")

// LogStore persists verification log rows. Append-only: nothing in this
// package ever updates a row after Append.
type LogStore interface {
	Append(ctx context.Context, log *contracts.VerificationLog) error
	// GetByVerificationID returns the row for a verification id, or an error
	// satisfying errors.Is(err, ErrNotFound) for ids that were never issued.
	GetByVerificationID(ctx context.Context, verificationID string) (*contracts.VerificationLog, error)
	Recent(ctx context.Context, limit int) ([]*contracts.VerificationLog, error)
}

// Sleeper suspends for the simulated per-node latency. Injected so tests run
// rounds without real delays.
type Sleeper func(ctx context.Context, d time.Duration)

func defaultSleeper(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Coordinator fans signature solicitations out to the pool and collects the
// round outcome.
type Coordinator struct {
	pool    *verifier.Pool
	logs    LogStore
	rng     verifier.Rand
	sleep   Sleeper
	clock   func() time.Time
	logger  *slog.Logger
	metrics *observability.Provider
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithRand overrides the random source used for latency jitter and
// reliability draws.
func WithRand(rng verifier.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

// WithSleeper overrides the latency simulation.
func WithSleeper(s Sleeper) Option {
	return func(c *Coordinator) { c.sleep = s }
}

// WithClock overrides the coordinator's clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLogger overrides the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l.With("component", "consensus") }
}

// WithMetrics attaches a metrics provider.
func WithMetrics(m *observability.Provider) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a coordinator over pool, persisting round outcomes to logs.
func New(pool *verifier.Pool, logs LogStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		pool:   pool,
		logs:   logs,
		rng:    verifier.NewSource(time.Now().UnixNano()),
		sleep:  defaultSleeper,
		clock:  time.Now,
		logger: slog.Default().With("component", "consensus"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// hashEnvelope is what gets canonically hashed for a round. The timestamp
// makes each call produce a distinct hash: a round is "at most once per
// call", never deduplicated against an identical earlier payload.
type hashEnvelope struct {
	Type        string          `json:"type"`
	UserID      string          `json:"user_id"`
	Amount      string          `json:"amount"`
	Recipient   string          `json:"recipient,omitempty"`
	Parameters  map[string]any  `json:"parameters,omitempty"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// VerifyRequest runs one full consensus round and returns the structured
// result synchronously. A round always waits for all solicitations to
// settle; there is no early exit at threshold and no per-node deadline
// beyond each node's own simulated latency.
func (c *Coordinator) VerifyRequest(ctx context.Context, req contracts.VerificationRequest) (*contracts.VerificationResult, error) {
	start := c.clock()
	verificationID := newVerificationID()

	requestHash, err := canonicalize.CanonicalHash(hashEnvelope{
		Type:        req.Type,
		UserID:      req.UserID,
		Amount:      req.Amount.String(),
		Recipient:   req.Recipient,
		Parameters:  req.Parameters,
		TimestampMs: start.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("hash verification request: %w", err)
	}

	c.logger.Info("starting consensus round",
		"verification_id", verificationID,
		"request_type", req.Type,
		"user_id", req.UserID,
	)

	nodes := c.pool.Nodes()
	collected := make([]*contracts.VerifierSignature, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node *verifier.Identity) {
			defer wg.Done()
			collected[i] = c.solicit(ctx, node, requestHash)
		}(i, node)
	}
	wg.Wait()

	signatures := make([]contracts.VerifierSignature, 0, len(nodes))
	for _, s := range collected {
		if s != nil {
			signatures = append(signatures, *s)
		}
	}

	consensusReached := len(signatures) >= verifier.RequiredSignatures
	latency := c.clock().Sub(start)

	sigJSON, err := json.Marshal(signatures)
	if err != nil {
		return nil, fmt.Errorf("serialize signature set: %w", err)
	}

	row := &contracts.VerificationLog{
		ID:                 uuid.NewString(),
		VerificationID:     verificationID,
		RequestHash:        requestHash,
		RequestType:        req.Type,
		UserID:             req.UserID,
		SignatureCount:     len(signatures),
		RequiredSignatures: verifier.RequiredSignatures,
		ConsensusReached:   consensusReached,
		ConsensusLatencyMs: latency.Milliseconds(),
		Signatures:         string(sigJSON),
		CreatedAt:          c.clock(),
	}
	if err := c.logs.Append(ctx, row); err != nil {
		return nil, fmt.Errorf("persist verification log: %w", err)
	}

	c.logger.Info("consensus round complete",
		"verification_id", verificationID,
		"signature_count", len(signatures),
		"required_signatures", verifier.RequiredSignatures,
		"consensus_reached", consensusReached,
		"latency_ms", latency.Milliseconds(),
	)
	c.metrics.RecordRound(ctx, consensusReached, len(signatures), latency)

	return &contracts.VerificationResult{
		VerificationID:     verificationID,
		RequestHash:        requestHash,
		Approved:           consensusReached,
		SignatureCount:     len(signatures),
		RequiredSignatures: verifier.RequiredSignatures,
		Signatures:         signatures,
		Timestamp:          c.clock(),
		ConsensusLatencyMs: latency.Milliseconds(),
	}, nil
}

// solicit asks one verifier to sign the request hash. A failure here is
// routine Byzantine behavior, logged at warning level; it reduces the count
// and never aborts the round.
func (c *Coordinator) solicit(ctx context.Context, node *verifier.Identity, requestHash string) *contracts.VerifierSignature {
	start := c.clock()

	// Simulated network latency: average scaled by a jitter in [0.5, 1.5).
	c.sleep(ctx, time.Duration(float64(node.AvgLatency)*(0.5+c.rng.Float64())))

	if c.rng.Float64() > node.Reliability {
		c.logger.Warn("verifier failed to respond", "verifier_id", node.ID)
		c.metrics.RecordNodeFailure(ctx, node.ID)
		return nil
	}

	signature, err := node.Signer.Sign([]byte(requestHash))
	if err != nil {
		c.logger.Warn("verifier signing error", "verifier_id", node.ID, "error", err)
		c.metrics.RecordNodeFailure(ctx, node.ID)
		return nil
	}

	return &contracts.VerifierSignature{
		VerifierID: node.ID,
		Address:    node.Signer.Address(),
		Signature:  signature,
		LatencyMs:  c.clock().Sub(start).Milliseconds(),
		Timestamp:  c.clock(),
	}
}

// RecentLogs returns the most recent verification log rows.
func (c *Coordinator) RecentLogs(ctx context.Context, limit int) ([]*contracts.VerificationLog, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.logs.Recent(ctx, limit)
}

// CheckLog looks up a past round by verification id. An id that was never
// issued surfaces as the store's not-found error; a round that failed to
// reach quorum is found normally with ConsensusReached false.
func (c *Coordinator) CheckLog(ctx context.Context, verificationID string) (*contracts.VerificationLog, error) {
	return c.logs.GetByVerificationID(ctx, verificationID)
}

func newVerificationID() string {
	id := uuid.New()
	return "vrf_" + hex.EncodeToString(id[:])
}

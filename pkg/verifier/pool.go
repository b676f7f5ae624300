// Package verifier manages the fixed-size pool of simulated verifier nodes
// that back quorum rounds. In production each identity would be a separate
// verifier service reached over authenticated RPC; here the pool holds the
// identities in-process and only their functional contract is modeled:
// independent signing keys, probabilistic availability, and a latency profile.
//
// The pool is process-lifetime state. It is regenerated on restart, which
// also discards the node addresses recorded in earlier verification logs;
// a deployment that needs stable identities must persist the keys.
package verifier

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Mindburn-Labs/verdict/pkg/crypto"
)

// BFT parameters: n = 3f + 2, quorum = 2f + 1. Any two quorums of 7 out of
// 11 overlap in at least 3 members, which bounds disagreement with up to
// f = 3 silent or adversarial nodes.
const (
	TotalVerifiers     = 11
	FaultTolerance     = 3
	RequiredSignatures = 2*FaultTolerance + 1
)

// Identity is one pool member. Reliability and AvgLatency are drawn once at
// construction and fixed for the identity's lifetime.
type Identity struct {
	ID          string
	Signer      crypto.Signer
	Reliability float64
	AvgLatency  time.Duration
}

// NewIdentity generates an identity with a fresh keypair, a reliability
// drawn from [0.9, 1.0) and an average latency drawn from [30ms, 80ms).
func NewIdentity(id string, rng Rand) (*Identity, error) {
	signer, err := crypto.NewEd25519Signer()
	if err != nil {
		return nil, fmt.Errorf("verifier %s: %w", id, err)
	}
	return &Identity{
		ID:          id,
		Signer:      signer,
		Reliability: 0.9 + rng.Float64()*0.1,
		AvgLatency:  30*time.Millisecond + time.Duration(rng.Float64()*float64(50*time.Millisecond)),
	}, nil
}

// Pool owns the verifier identities. Construction draws every identity once;
// afterwards the set only changes through explicit Replace calls.
type Pool struct {
	mu    sync.RWMutex
	nodes []*Identity
}

// NewPool builds the full pool of TotalVerifiers identities.
func NewPool(rng Rand, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nodes := make([]*Identity, 0, TotalVerifiers)
	for i := 0; i < TotalVerifiers; i++ {
		id, err := NewIdentity(fmt.Sprintf("verifier-%d", i+1), rng)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, id)
	}
	logger.Info("verifier pool initialized",
		"total_nodes", TotalVerifiers,
		"fault_tolerance", FaultTolerance,
		"required_signatures", RequiredSignatures,
	)
	return &Pool{nodes: nodes}, nil
}

// NewPoolFromIdentities builds a pool from pre-constructed identities.
// Intended for key import and tests.
func NewPoolFromIdentities(nodes []*Identity) (*Pool, error) {
	if len(nodes) != TotalVerifiers {
		return nil, fmt.Errorf("pool requires exactly %d identities, got %d", TotalVerifiers, len(nodes))
	}
	copied := make([]*Identity, len(nodes))
	copy(copied, nodes)
	return &Pool{nodes: copied}, nil
}

// Nodes returns a snapshot of the current membership. The returned slice is
// a copy, so an in-flight round is unaffected by a concurrent Replace.
func (p *Pool) Nodes() []*Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Identity, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Replace rotates a single identity without restarting the process.
func (p *Pool) Replace(index int, identity *Identity) error {
	if identity == nil {
		return fmt.Errorf("replacement identity is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.nodes) {
		return fmt.Errorf("verifier index %d out of range [0,%d)", index, len(p.nodes))
	}
	p.nodes[index] = identity
	return nil
}

// NodeStatus is the observability snapshot of one pool member. Values are
// rounded for display; consensus logic never reads them.
type NodeStatus struct {
	ID           string  `json:"id"`
	Address      string  `json:"address"`
	Reliability  float64 `json:"reliability"`
	AvgLatencyMs int64   `json:"avg_latency_ms"`
}

// Status describes the pool's consensus parameters and membership.
type Status struct {
	TotalNodes         int          `json:"total_nodes"`
	ActiveNodes        int          `json:"active_nodes"`
	FaultTolerance     int          `json:"fault_tolerance"`
	RequiredSignatures int          `json:"required_signatures"`
	Nodes              []NodeStatus `json:"nodes"`
}

// Status returns the pool snapshot used for observability.
func (p *Pool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nodes := make([]NodeStatus, 0, len(p.nodes))
	for _, n := range p.nodes {
		nodes = append(nodes, NodeStatus{
			ID:           n.ID,
			Address:      n.Signer.Address(),
			Reliability:  math.Round(n.Reliability*100) / 100,
			AvgLatencyMs: int64(math.Round(float64(n.AvgLatency) / float64(time.Millisecond))),
		})
	}
	return Status{
		TotalNodes:         TotalVerifiers,
		ActiveNodes:        len(nodes),
		FaultTolerance:     FaultTolerance,
		RequiredSignatures: RequiredSignatures,
		Nodes:              nodes,
	}
}

package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
	"github.com/Mindburn-Labs/verdict/pkg/crypto"
	"github.com/Mindburn-Labs/verdict/pkg/verifier"
)

// memLogStore is an in-memory LogStore double.
type memLogStore struct {
	mu   sync.Mutex
	rows []*contracts.VerificationLog
}

func (m *memLogStore) Append(_ context.Context, log *contracts.VerificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *log
	m.rows = append(m.rows, &copied)
	return nil
}

func (m *memLogStore) GetByVerificationID(_ context.Context, id string) (*contracts.VerificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.VerificationID == id {
			copied := *r
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memLogStore) Recent(_ context.Context, limit int) ([]*contracts.VerificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*contracts.VerificationLog, 0, limit)
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *m.rows[i]
		out = append(out, &copied)
	}
	return out, nil
}

// steppingClock advances by a fixed step on every read, so consecutive
// rounds never share a timestamp.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(5 * time.Millisecond)
	return c.now
}

// testPool builds a pool where the first `reliable` nodes always sign and
// the rest always fail the reliability draw.
func testPool(t *testing.T, reliable int) *verifier.Pool {
	t.Helper()
	nodes := make([]*verifier.Identity, 0, verifier.TotalVerifiers)
	for i := 0; i < verifier.TotalVerifiers; i++ {
		signer, err := crypto.NewEd25519Signer()
		require.NoError(t, err)
		reliability := 1.0 // any draw in [0,1) succeeds
		if i >= reliable {
			reliability = -1.0 // any draw fails
		}
		nodes = append(nodes, &verifier.Identity{
			ID:          fmt.Sprintf("verifier-%d", i+1),
			Signer:      signer,
			Reliability: reliability,
			AvgLatency:  time.Microsecond,
		})
	}
	pool, err := verifier.NewPoolFromIdentities(nodes)
	require.NoError(t, err)
	return pool
}

func testCoordinator(t *testing.T, reliable int) (*Coordinator, *memLogStore) {
	t.Helper()
	logs := &memLogStore{}
	clock := &steppingClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	c := New(testPool(t, reliable), logs,
		WithRand(verifier.NewSource(1)),
		WithSleeper(func(context.Context, time.Duration) {}),
		WithClock(clock.Now),
	)
	return c, logs
}

func testRequest() contracts.VerificationRequest {
	return contracts.VerificationRequest{
		Type:   "buy",
		UserID: "u-1",
		Amount: decimal.NewFromInt(25),
	}
}

func TestVerifyRequest_AllNodesRespond(t *testing.T) {
	c, logs := testCoordinator(t, 11)

	result, err := c.VerifyRequest(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, 11, result.SignatureCount)
	assert.Equal(t, 7, result.RequiredSignatures)
	assert.Len(t, result.Signatures, 11)
	require.Len(t, logs.rows, 1)
	assert.True(t, logs.rows[0].ConsensusReached)
}

func TestVerifyRequest_ExactThresholdApproves(t *testing.T) {
	c, _ := testCoordinator(t, 7)

	result, err := c.VerifyRequest(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 7, result.SignatureCount)
	assert.True(t, result.Approved, "7 of 11 is exactly quorum")
}

func TestVerifyRequest_OneBelowThresholdRejects(t *testing.T) {
	c, logs := testCoordinator(t, 6)

	result, err := c.VerifyRequest(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 6, result.SignatureCount)
	assert.False(t, result.Approved, "6 of 11 misses quorum")
	require.Len(t, logs.rows, 1)
	assert.False(t, logs.rows[0].ConsensusReached, "failed rounds are logged, not dropped")
	assert.Equal(t, 6, logs.rows[0].SignatureCount)
}

func TestVerifyRequest_SignatureCountBounds(t *testing.T) {
	for _, reliable := range []int{0, 3, 7, 11} {
		c, _ := testCoordinator(t, reliable)
		result, err := c.VerifyRequest(context.Background(), testRequest())
		require.NoError(t, err)

		assert.Equal(t, reliable, result.SignatureCount)
		assert.GreaterOrEqual(t, result.SignatureCount, 0)
		assert.LessOrEqual(t, result.SignatureCount, 11)
		assert.Equal(t, result.SignatureCount >= 7, result.Approved, "approved must track the threshold exactly")
	}
}

func TestVerifyRequest_SignaturesVerifyAgainstNodeKeys(t *testing.T) {
	c, _ := testCoordinator(t, 11)

	result, err := c.VerifyRequest(context.Background(), testRequest())
	require.NoError(t, err)

	byAddress := map[string]string{}
	for _, n := range c.pool.Nodes() {
		byAddress[n.Signer.Address()] = n.Signer.PublicKey()
	}
	for _, s := range result.Signatures {
		pub, ok := byAddress[s.Address]
		require.True(t, ok, "signature from unknown address")
		ok, err := crypto.Verify(pub, s.Signature, []byte(result.RequestHash))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestVerifyRequest_RepeatedPayloadGetsFreshIdentity(t *testing.T) {
	c, _ := testCoordinator(t, 11)
	req := testRequest()

	first, err := c.VerifyRequest(context.Background(), req)
	require.NoError(t, err)
	second, err := c.VerifyRequest(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.VerificationID, second.VerificationID)
	assert.NotEqual(t, first.RequestHash, second.RequestHash,
		"identical payloads are distinct rounds, not deduplicated")
}

func TestVerifyRequest_LogRowMatchesResult(t *testing.T) {
	c, logs := testCoordinator(t, 9)

	result, err := c.VerifyRequest(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, logs.rows, 1)
	row := logs.rows[0]
	assert.Equal(t, result.VerificationID, row.VerificationID)
	assert.Equal(t, result.RequestHash, row.RequestHash)
	assert.Equal(t, result.SignatureCount, row.SignatureCount)
	assert.Equal(t, "buy", row.RequestType)
	assert.Equal(t, "u-1", row.UserID)

	var stored []contracts.VerifierSignature
	require.NoError(t, json.Unmarshal([]byte(row.Signatures), &stored))
	assert.Equal(t, result.Signatures, stored)
}

func TestCheckLog_NotFoundDistinctFromFailedRound(t *testing.T) {
	c, _ := testCoordinator(t, 6)

	result, err := c.VerifyRequest(context.Background(), testRequest())
	require.NoError(t, err)

	// Round that failed quorum: found, consensus false.
	row, err := c.CheckLog(context.Background(), result.VerificationID)
	require.NoError(t, err)
	assert.False(t, row.ConsensusReached)

	// Id that was never issued: not found.
	_, err = c.CheckLog(context.Background(), "vrf_never_issued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentLogs(t *testing.T) {
	c, _ := testCoordinator(t, 11)

	var ids []string
	for i := 0; i < 5; i++ {
		result, err := c.VerifyRequest(context.Background(), testRequest())
		require.NoError(t, err)
		ids = append(ids, result.VerificationID)
	}

	recent, err := c.RecentLogs(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[4], recent[0].VerificationID, "most recent first")
	assert.Equal(t, ids[2], recent[2].VerificationID)
}

func TestVerifyRequest_UniqueVerificationIDs(t *testing.T) {
	c, _ := testCoordinator(t, 11)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		result, err := c.VerifyRequest(context.Background(), testRequest())
		require.NoError(t, err)
		assert.False(t, seen[result.VerificationID])
		seen[result.VerificationID] = true
	}
}

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/verdict/pkg/consensus"
	"github.com/Mindburn-Labs/verdict/pkg/contracts"
	"github.com/Mindburn-Labs/verdict/pkg/decision"
	"github.com/Mindburn-Labs/verdict/pkg/policy"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		rebind(DriverSQLite, "SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2",
		rebind(DriverPostgres, "SELECT * FROM t WHERE a = ? AND b = ?"))
}

func sampleDecision(userID string) *contracts.Decision {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return &contracts.Decision{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   contracts.DecisionBuy,
		Status: contracts.StatusPending,
		Parameters: contracts.ActionParameters{
			Asset:    "SOL",
			Quantity: decimal.NewFromInt(2),
			Amount:   decimal.NewFromInt(25),
		},
		Reasoning: "momentum entry",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestDecisionStoreRoundtrip(t *testing.T) {
	db := openTestDB(t)
	s, err := NewDecisionStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	d := sampleDecision("user-1")
	require.NoError(t, s.Create(ctx, d))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, contracts.StatusPending, got.Status)
	assert.True(t, got.Parameters.Amount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, d.CreatedAt, got.CreatedAt)
	assert.Nil(t, got.Verification)
}

func TestDecisionStoreUpdate(t *testing.T) {
	db := openTestDB(t)
	s, err := NewDecisionStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	d := sampleDecision("user-1")
	require.NoError(t, s.Create(ctx, d))

	d.Status = contracts.StatusVerified
	d.Verification = &contracts.VerificationSummary{
		VerificationID:     "vrf_abc",
		TotalSignatures:    9,
		RequiredSignatures: 7,
		ConsensusReached:   true,
	}
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	require.NoError(t, s.Update(ctx, d))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusVerified, got.Status)
	require.NotNil(t, got.Verification)
	assert.Equal(t, 9, got.Verification.TotalSignatures)
	assert.True(t, got.Verification.ConsensusReached)
}

func TestDecisionStoreNotFound(t *testing.T) {
	db := openTestDB(t)
	s, err := NewDecisionStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, decision.ErrNotFound)

	ghost := sampleDecision("user-1")
	assert.ErrorIs(t, s.Update(ctx, ghost), decision.ErrNotFound)
}

func TestDecisionStoreListByUser(t *testing.T) {
	db := openTestDB(t)
	s, err := NewDecisionStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d := sampleDecision("user-1")
		d.CreatedAt = d.CreatedAt.Add(time.Duration(i) * time.Minute)
		d.UpdatedAt = d.CreatedAt
		require.NoError(t, s.Create(ctx, d))
	}
	other := sampleDecision("user-2")
	require.NoError(t, s.Create(ctx, other))

	list, err := s.ListByUser(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, d := range list {
		assert.Equal(t, "user-1", d.UserID)
	}
	// Newest first.
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	assert.True(t, list[1].CreatedAt.After(list[2].CreatedAt))
}

func samplePolicyConfig(userID string) *policy.Config {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return &policy.Config{
		ID:                       uuid.NewString(),
		UserID:                   userID,
		MaxTransactionAmount:     decimal.NewFromInt(50),
		DailySpendingCap:         decimal.NewFromInt(500),
		CurrentDailySpend:        decimal.Zero,
		CooldownPeriodSeconds:    60,
		MaxPriceDeviationPercent: decimal.NewFromInt(5),
		AllowedAddresses:         []string{"0xabc"},
		RiskTolerance:            decimal.NewFromFloat(0.5),
		IsActive:                 true,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

func TestPolicyStoreRoundtrip(t *testing.T) {
	db := openTestDB(t)
	s, err := NewPolicyStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	cfg := samplePolicyConfig("user-1")
	require.NoError(t, s.PutConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, got.ID)
	assert.True(t, got.MaxTransactionAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.RiskTolerance.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, []string{"0xabc"}, got.AllowedAddresses)
	assert.Nil(t, got.LastTradeTimestamp)
	assert.True(t, got.IsActive)
}

func TestPolicyStoreUpsert(t *testing.T) {
	db := openTestDB(t)
	s, err := NewPolicyStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	cfg := samplePolicyConfig("user-1")
	require.NoError(t, s.PutConfig(ctx, cfg))

	trade := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	cfg.CurrentDailySpend = decimal.NewFromInt(25)
	cfg.LastTradeTimestamp = &trade
	cfg.GuardExpression = `amount < 100.0`
	require.NoError(t, s.PutConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.CurrentDailySpend.Equal(decimal.NewFromInt(25)))
	require.NotNil(t, got.LastTradeTimestamp)
	assert.Equal(t, trade, *got.LastTradeTimestamp)
	assert.Equal(t, `amount < 100.0`, got.GuardExpression)
}

func TestPolicyStoreNotFound(t *testing.T) {
	db := openTestDB(t)
	s, err := NewPolicyStore(db, DriverSQLite)
	require.NoError(t, err)

	_, err = s.GetConfig(context.Background(), "missing")
	assert.ErrorIs(t, err, policy.ErrNotFound)
}

func sampleLog(id string, createdAt time.Time, reached bool) *contracts.VerificationLog {
	return &contracts.VerificationLog{
		ID:                 uuid.NewString(),
		VerificationID:     id,
		RequestHash:        "deadbeef",
		RequestType:        "buy",
		UserID:             "user-1",
		SignatureCount:     9,
		RequiredSignatures: 7,
		ConsensusReached:   reached,
		ConsensusLatencyMs: 42,
		Signatures:         "[]",
		CreatedAt:          createdAt,
	}
}

func TestVerificationLogStoreRoundtrip(t *testing.T) {
	db := openTestDB(t)
	s, err := NewVerificationLogStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, sampleLog("vrf_one", now, true)))

	got, err := s.GetByVerificationID(ctx, "vrf_one")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got.RequestHash)
	assert.Equal(t, 9, got.SignatureCount)
	assert.True(t, got.ConsensusReached)
	assert.Equal(t, now, got.CreatedAt)

	_, err = s.GetByVerificationID(ctx, "vrf_missing")
	assert.ErrorIs(t, err, consensus.ErrNotFound)
}

func TestVerificationLogStoreRecent(t *testing.T) {
	db := openTestDB(t)
	s, err := NewVerificationLogStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		log := sampleLog(uuid.NewString(), base.Add(time.Duration(i)*time.Second), i%2 == 0)
		require.NoError(t, s.Append(ctx, log))
	}

	logs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt))
}

func TestVerificationLogStoreAppendOnly(t *testing.T) {
	db := openTestDB(t)
	s, err := NewVerificationLogStore(db, DriverSQLite)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, sampleLog("vrf_dup", now, true)))
	// Duplicate verification ids are rejected at the schema level.
	assert.Error(t, s.Append(ctx, sampleLog("vrf_dup", now.Add(time.Second), false)))
}

func TestDecisionStoreGetQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := &DecisionStore{db: db, driver: DriverSQLite}
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrConnDone)

	_, err = s.Get(context.Background(), "any")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

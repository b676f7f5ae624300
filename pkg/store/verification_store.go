package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/verdict/pkg/consensus"
	"github.com/Mindburn-Labs/verdict/pkg/contracts"
)

// VerificationLogStore persists verification log rows. Rows are append-only;
// there is no update path.
type VerificationLogStore struct {
	db     *sql.DB
	driver DriverName
}

// NewVerificationLogStore creates the store and its schema.
func NewVerificationLogStore(db *sql.DB, driver DriverName) (*VerificationLogStore, error) {
	s := &VerificationLogStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate verification_logs: %w", err)
	}
	return s, nil
}

func (s *VerificationLogStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS verification_logs (
		id TEXT PRIMARY KEY,
		verification_id TEXT NOT NULL UNIQUE,
		request_hash TEXT NOT NULL,
		request_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		signature_count INTEGER NOT NULL,
		required_signatures INTEGER NOT NULL,
		consensus_reached BOOLEAN NOT NULL,
		consensus_latency_ms INTEGER NOT NULL,
		signatures TEXT NOT NULL,
		onchain_tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verification_logs_created ON verification_logs (created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const verificationColumns = `id, verification_id, request_hash, request_type, user_id,
	signature_count, required_signatures, consensus_reached, consensus_latency_ms,
	signatures, onchain_tx_hash, created_at`

// Append inserts one log row.
func (s *VerificationLogStore) Append(ctx context.Context, log *contracts.VerificationLog) error {
	query := rebind(s.driver, `INSERT INTO verification_logs (`+verificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		log.ID, log.VerificationID, log.RequestHash, log.RequestType, log.UserID,
		log.SignatureCount, log.RequiredSignatures, log.ConsensusReached,
		log.ConsensusLatencyMs, log.Signatures, log.OnChainTxHash,
		formatTime(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert verification log: %w", err)
	}
	return nil
}

// GetByVerificationID returns the row for a verification id, or consensus.ErrNotFound.
func (s *VerificationLogStore) GetByVerificationID(ctx context.Context, verificationID string) (*contracts.VerificationLog, error) {
	query := rebind(s.driver, `SELECT `+verificationColumns+` FROM verification_logs
		WHERE verification_id = ?`)
	log, err := scanVerificationRow(s.db.QueryRowContext(ctx, query, verificationID))
	if err == sql.ErrNoRows {
		return nil, consensus.ErrNotFound
	}
	return log, err
}

// Recent returns the newest rows first.
func (s *VerificationLogStore) Recent(ctx context.Context, limit int) ([]*contracts.VerificationLog, error) {
	query := rebind(s.driver, `SELECT `+verificationColumns+` FROM verification_logs
		ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list verification logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.VerificationLog
	for rows.Next() {
		log, err := scanVerificationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func scanVerificationRow(row rowScanner) (*contracts.VerificationLog, error) {
	var (
		log       contracts.VerificationLog
		createdAt string
	)
	err := row.Scan(&log.ID, &log.VerificationID, &log.RequestHash, &log.RequestType,
		&log.UserID, &log.SignatureCount, &log.RequiredSignatures, &log.ConsensusReached,
		&log.ConsensusLatencyMs, &log.Signatures, &log.OnChainTxHash, &createdAt)
	if err != nil {
		return nil, err
	}
	if log.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &log, nil
}

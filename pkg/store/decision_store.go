package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
	"github.com/Mindburn-Labs/verdict/pkg/decision"
)

// DecisionStore persists decision records.
type DecisionStore struct {
	db     *sql.DB
	driver DriverName
}

// NewDecisionStore creates the store and its schema.
func NewDecisionStore(db *sql.DB, driver DriverName) (*DecisionStore, error) {
	s := &DecisionStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate decisions: %w", err)
	}
	return s, nil
}

func (s *DecisionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		parameters TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		analytics TEXT,
		verification TEXT,
		settlement_ref TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_user ON decisions (user_id, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const decisionColumns = `id, user_id, type, status, parameters, reasoning, analytics, verification, settlement_ref, created_at, updated_at`

// Create inserts a new decision record.
func (s *DecisionStore) Create(ctx context.Context, d *contracts.Decision) error {
	params, analytics, verification, err := marshalDecisionBlobs(d)
	if err != nil {
		return err
	}
	query := rebind(s.driver, `INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.UserID, string(d.Type), string(d.Status), params, d.Reasoning,
		analytics, verification, d.SettlementRef,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an existing record.
func (s *DecisionStore) Update(ctx context.Context, d *contracts.Decision) error {
	params, analytics, verification, err := marshalDecisionBlobs(d)
	if err != nil {
		return err
	}
	query := rebind(s.driver, `UPDATE decisions
		SET status = ?, parameters = ?, reasoning = ?, analytics = ?, verification = ?,
		    settlement_ref = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(d.Status), params, d.Reasoning, analytics, verification,
		d.SettlementRef, formatTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return decision.ErrNotFound
	}
	return nil
}

// Get returns a decision by id.
func (s *DecisionStore) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	query := rebind(s.driver, `SELECT `+decisionColumns+` FROM decisions WHERE id = ?`)
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// ListByUser returns a user's most recent decisions.
func (s *DecisionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*contracts.Decision, error) {
	query := rebind(s.driver, `SELECT `+decisionColumns+` FROM decisions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Decision
	for rows.Next() {
		d, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func marshalDecisionBlobs(d *contracts.Decision) (params string, analytics, verification sql.NullString, err error) {
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return "", sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal parameters: %w", err)
	}
	params = string(raw)

	if d.Analytics != nil {
		raw, err := json.Marshal(d.Analytics)
		if err != nil {
			return "", sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal analytics: %w", err)
		}
		analytics = sql.NullString{String: string(raw), Valid: true}
	}
	if d.Verification != nil {
		raw, err := json.Marshal(d.Verification)
		if err != nil {
			return "", sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal verification: %w", err)
		}
		verification = sql.NullString{String: string(raw), Valid: true}
	}
	return params, analytics, verification, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *DecisionStore) scanOne(row *sql.Row) (*contracts.Decision, error) {
	d, err := scanDecisionRow(row)
	if err == sql.ErrNoRows {
		return nil, decision.ErrNotFound
	}
	return d, err
}

func scanDecisionRow(row rowScanner) (*contracts.Decision, error) {
	var (
		d                       contracts.Decision
		typ, status, params     string
		analytics, verification sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&d.ID, &d.UserID, &typ, &status, &params, &d.Reasoning,
		&analytics, &verification, &d.SettlementRef, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.Type = contracts.DecisionType(typ)
	d.Status = contracts.DecisionStatus(status)
	if err := json.Unmarshal([]byte(params), &d.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if analytics.Valid {
		d.Analytics = &contracts.AnalyticsSnapshot{}
		if err := json.Unmarshal([]byte(analytics.String), d.Analytics); err != nil {
			return nil, fmt.Errorf("unmarshal analytics: %w", err)
		}
	}
	if verification.Valid {
		d.Verification = &contracts.VerificationSummary{}
		if err := json.Unmarshal([]byte(verification.String), d.Verification); err != nil {
			return nil, fmt.Errorf("unmarshal verification: %w", err)
		}
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &d, nil
}

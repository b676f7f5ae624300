package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/verdict/pkg/consensus"
	"github.com/Mindburn-Labs/verdict/pkg/contracts"
	"github.com/Mindburn-Labs/verdict/pkg/decision"
	"github.com/Mindburn-Labs/verdict/pkg/policy"
	"github.com/Mindburn-Labs/verdict/pkg/verifier"
)

// Decisions is the orchestrator surface the HTTP layer depends on.
type Decisions interface {
	Submit(ctx context.Context, action contracts.ProposedAction) (*contracts.Decision, error)
	Execute(ctx context.Context, id string) (*contracts.Decision, error)
	Get(ctx context.Context, id string) (*contracts.Decision, error)
	History(ctx context.Context, userID string, limit int) ([]*contracts.Decision, error)
}

// Policies is the policy engine surface the HTTP layer depends on.
type Policies interface {
	GetOrCreateConfig(ctx context.Context, userID string) (*policy.Config, error)
	UpdateConfig(ctx context.Context, userID string, update policy.Update) (*policy.Config, error)
}

// Verifications is the consensus surface the HTTP layer depends on.
type Verifications interface {
	RecentLogs(ctx context.Context, limit int) ([]*contracts.VerificationLog, error)
	CheckLog(ctx context.Context, verificationID string) (*contracts.VerificationLog, error)
}

// Server wires the HTTP handlers.
type Server struct {
	decisions     Decisions
	policies      Policies
	verifications Verifications
	pool          *verifier.Pool
	rng           verifier.Rand
	limiter       Limiter
	validator     *JWTValidator
	schema        *jsonschema.Schema
	logger        *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLimiter bounds submissions per user. Nil disables rate limiting.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithJWTValidator enables bearer auth. Nil disables it.
func WithJWTValidator(v *JWTValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the server and compiles the submission schema.
func NewServer(decisions Decisions, policies Policies, verifications Verifications,
	pool *verifier.Pool, rng verifier.Rand, opts ...Option) (*Server, error) {
	schema, err := compileSubmitSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		decisions:     decisions,
		policies:      policies,
		verifications: verifications,
		pool:          pool,
		rng:           rng,
		schema:        schema,
		logger:        slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler with auth applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/decisions", s.handleSubmit)
	mux.HandleFunc("GET /v1/decisions", s.handleHistory)
	mux.HandleFunc("GET /v1/decisions/{id}", s.handleGetDecision)
	mux.HandleFunc("POST /v1/decisions/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET /v1/policy/{userID}", s.handleGetPolicy)
	mux.HandleFunc("PATCH /v1/policy/{userID}", s.handleUpdatePolicy)
	mux.HandleFunc("GET /v1/verifiers/status", s.handleVerifierStatus)
	mux.HandleFunc("POST /v1/verifiers/{index}/rotate", s.handleRotateVerifier)
	mux.HandleFunc("GET /v1/verifications", s.handleRecentVerifications)
	mux.HandleFunc("GET /v1/verifications/{id}", s.handleGetVerification)
	return AuthMiddleware(s.validator)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitPayload is the wire form of a decision submission. Amounts are
// strings to preserve decimal precision.
type submitPayload struct {
	Type          string         `json:"type"`
	UserID        string         `json:"user_id"`
	Asset         string         `json:"asset,omitempty"`
	Amount        string         `json:"amount"`
	TargetAddress string         `json:"target_address,omitempty"`
	Price         string         `json:"price,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteBadRequest(w, "Request body must be valid JSON")
		return
	}
	if err := s.schema.Validate(raw); err != nil {
		WriteBadRequest(w, fmt.Sprintf("Invalid submission: %v", err))
		return
	}

	// Re-decode into the typed payload now that the shape is known good.
	data, _ := json.Marshal(raw)
	var payload submitPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		WriteBadRequest(w, "Request body must be valid JSON")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), payload.UserID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if !allowed {
			WriteTooManyRequests(w, 60)
			return
		}
	}

	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		WriteBadRequest(w, "amount must be a decimal string")
		return
	}
	action := contracts.ProposedAction{
		Type:          payload.Type,
		UserID:        payload.UserID,
		Asset:         payload.Asset,
		Amount:        amount,
		TargetAddress: payload.TargetAddress,
		Reasoning:     payload.Reasoning,
		Parameters:    payload.Parameters,
	}
	if payload.Price != "" {
		price, err := decimal.NewFromString(payload.Price)
		if err != nil {
			WriteBadRequest(w, "price must be a decimal string")
			return
		}
		action.Price = &price
	}

	d, err := s.decisions.Submit(r.Context(), action)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.decisions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteBadRequest(w, "user_id query parameter is required")
		return
	}
	limit := parseLimit(r, 20)
	list, err := s.decisions.History(r.Context(), userID, limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if list == nil {
		list = []*contracts.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": list})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	d, err := s.decisions.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, decision.ErrNotFound):
		WriteNotFound(w, "Decision not found")
	case errors.Is(err, decision.ErrInvalidState):
		WriteConflict(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.policies.GetOrCreateConfig(r.Context(), r.PathValue("userID"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var update policy.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		WriteBadRequest(w, "Request body must be a valid policy update")
		return
	}
	cfg, err := s.policies.UpdateConfig(r.Context(), r.PathValue("userID"), update)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleVerifierStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Status())
}

func (s *Server) handleRotateVerifier(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		WriteBadRequest(w, "verifier index must be an integer")
		return
	}
	identity, err := verifier.NewIdentity(fmt.Sprintf("verifier-%d", index), s.rng)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if err := s.pool.Replace(index, identity); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	s.logger.Info("verifier rotated", "index", index, "address", identity.Signer.Address())
	writeJSON(w, http.StatusOK, s.pool.Status())
}

func (s *Server) handleRecentVerifications(w http.ResponseWriter, r *http.Request) {
	logs, err := s.verifications.RecentLogs(r.Context(), parseLimit(r, 10))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if logs == nil {
		logs = []*contracts.VerificationLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"verifications": logs})
}

func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	log, err := s.verifications.CheckLog(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, consensus.ErrNotFound) {
			WriteNotFound(w, "Verification not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

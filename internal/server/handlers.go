package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/noria-ai/noria/internal/agent"
	"github.com/noria-ai/noria/internal/auth"
	"github.com/noria-ai/noria/internal/executor"
	"github.com/noria-ai/noria/internal/model"
	"github.com/noria-ai/noria/internal/service/failqueue"
	"github.com/noria-ai/noria/internal/service/selfscore"
	"github.com/noria-ai/noria/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	registry            *agent.Registry
	exec                *executor.Executor
	failSvc             *failqueue.Service
	scoreSvc            *selfscore.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Registry            *agent.Registry
	Executor            *executor.Executor
	FailureSvc          *failqueue.Service
	SelfScoreSvc        *selfscore.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		registry:            d.Registry,
		exec:                d.Executor,
		failSvc:             d.FailureSvc,
		scoreSvc:            d.SelfScoreSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges an operator API key
// for a signed JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Operator == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "operator and api_key are required")
		return
	}

	op, err := h.db.GetOperator(r.Context(), req.Operator)
	if err != nil {
		// Burn the same hashing cost as a real verification so timing
		// does not reveal whether the operator exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, op.KeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(op)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, healthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// SeedAdmin creates the initial admin operator if the table is empty.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	count, err := h.db.CountOperators(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count operators: %w", err)
	}

	if adminAPIKey == "" {
		if count == 0 {
			return fmt.Errorf("seed admin: NORIA_ADMIN_API_KEY is empty and no operators exist; set NORIA_ADMIN_API_KEY to bootstrap initial admin access")
		}
		h.logger.Info("no admin API key configured, skipping admin seed", "existing_operators", count)
		return nil
	}

	if count > 0 {
		h.logger.Info("operator table not empty, skipping admin seed")
		return nil
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	if _, err := h.db.CreateOperator(ctx, "admin", model.RoleAdmin, hash); err != nil {
		return fmt.Errorf("seed admin: create operator: %w", err)
	}

	h.logger.Info("seeded initial admin operator")
	return nil
}

// writeInternalError logs the underlying error and responds with a generic
// message so internals never leak to clients.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// notFoundOrInternal maps storage.ErrNotFound to 404 and everything else
// to a logged 500.
func (h *Handlers) notFoundOrInternal(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, what+" not found")
		return
	}
	h.writeInternalError(w, r, "failed to load "+what, err)
}

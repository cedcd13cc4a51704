package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/noria-ai/noria/internal/agent"
	"github.com/noria-ai/noria/internal/auth"
	"github.com/noria-ai/noria/internal/executor"
	"github.com/noria-ai/noria/internal/model"
	"github.com/noria-ai/noria/internal/ratelimit"
	"github.com/noria-ai/noria/internal/service/failqueue"
	"github.com/noria-ai/noria/internal/service/selfscore"
	"github.com/noria-ai/noria/internal/storage"
)

// Server is the Noria HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional (nil = no rate limiting).
type ServerConfig struct {
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	Registry     *agent.Registry
	Executor     *executor.Executor
	FailureSvc   *failqueue.Service
	SelfScoreSvc *selfscore.Service
	Logger       *slog.Logger

	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Registry:            cfg.Registry,
		Executor:            cfg.Executor,
		FailureSvc:          cfg.FailureSvc,
		SelfScoreSvc:        cfg.SelfScoreSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Public traffic is limited per operator; admins are exempt. The auth
	// endpoint is limited by IP since there are no claims yet.
	publicRL := ratelimit.Middleware(cfg.Limiter, operatorKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Auth (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Public surface (member+, rate limited).
	memberOnly := requireRole(model.RoleMember)
	mux.Handle("POST /v1/orchestrate", publicRL(memberOnly(http.HandlerFunc(h.HandleOrchestrate))))
	mux.Handle("GET /v1/agents", publicRL(memberOnly(http.HandlerFunc(h.HandleListAgents))))
	mux.Handle("POST /v1/self-scores", publicRL(memberOnly(http.HandlerFunc(h.HandleSubmitSelfScore))))

	// Admin surface (admin only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("GET /admin/agent-toggles", adminOnly(http.HandlerFunc(h.HandleListToggles)))
	mux.Handle("POST /admin/agent-toggles", adminOnly(http.HandlerFunc(h.HandleUpsertToggle)))
	mux.Handle("GET /admin/agent-policies", adminOnly(http.HandlerFunc(h.HandleListPolicies)))
	mux.Handle("POST /admin/agent-policies", adminOnly(http.HandlerFunc(h.HandleUpsertPolicy)))
	mux.Handle("GET /admin/agent-failures", adminOnly(http.HandlerFunc(h.HandleListFailures)))
	mux.Handle("POST /admin/agent-failures/process", adminOnly(http.HandlerFunc(h.HandleProcessFailures)))
	mux.Handle("GET /admin/agent-dead-letters", adminOnly(http.HandlerFunc(h.HandleListDeadLetters)))
	mux.Handle("GET /admin/orchestration-logs", adminOnly(http.HandlerFunc(h.HandleListOrchestrationLogs)))
	mux.Handle("POST /admin/orchestration-logs/{id}/override", adminOnly(http.HandlerFunc(h.HandleOverrideLog)))
	mux.Handle("POST /admin/orchestrate/rerun", adminOnly(http.HandlerFunc(h.HandleRerun)))
	mux.Handle("GET /admin/lifecycle-logs", adminOnly(http.HandlerFunc(h.HandleListLifecycleLogs)))
	mux.Handle("GET /admin/self-scores", adminOnly(http.HandlerFunc(h.HandleListSelfScores)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// operatorKeyFunc extracts the operator name from the request context for
// rate limiting. Returns empty string for admin roles (exempt).
func operatorKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "operator:" + claims.Subject
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

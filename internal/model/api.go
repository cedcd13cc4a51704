package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxPromptLen bounds prompts accepted by the orchestration endpoint so a
// single oversized request cannot blow out LLM context windows or the
// performance-log token proxy.
const MaxPromptLen = 32 * 1024 // 32 KB

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Operator string `json:"operator"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response body for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OrchestrateRequest is the request body for POST /v1/orchestrate.
type OrchestrateRequest struct {
	AgentName     string `json:"agent_name"`
	UserID        int64  `json:"user_id"`
	Prompt        string `json:"prompt"`
	PromptVersion string `json:"prompt_version,omitempty"`
}

// Validate checks required fields and bounds on an orchestrate request.
func (r OrchestrateRequest) Validate() error {
	if err := ValidateAgentName(r.AgentName); err != nil {
		return err
	}
	if r.UserID <= 0 {
		return fmt.Errorf("user_id must be positive")
	}
	if r.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(r.Prompt) > MaxPromptLen {
		return fmt.Errorf("prompt exceeds maximum length of %d bytes", MaxPromptLen)
	}
	return nil
}

// OrchestrateResponse is the response body for POST /v1/orchestrate.
type OrchestrateResponse struct {
	AgentName  string `json:"agent_name"`
	Text       string `json:"text"`
	Fallback   bool   `json:"fallback"`
	RetryCount int    `json:"retry_count"`
	TimedOut   bool   `json:"timed_out"`
}

// AgentInfo is one entry in the GET /v1/agents listing: a registered agent
// together with its current toggle state.
type AgentInfo struct {
	AgentName string `json:"agent_name"`
	Enabled   bool   `json:"enabled"`
}

// ToggleUpsertRequest is the request body for POST /admin/agent-toggles.
type ToggleUpsertRequest struct {
	AgentName string `json:"agent_name"`
	Enabled   bool   `json:"enabled"`
}

// PolicyUpsertRequest is the request body for POST /admin/agent-policies.
type PolicyUpsertRequest struct {
	AgentName        string           `json:"agent_name"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	IsEnabled        bool             `json:"is_enabled"`
}

// OverrideRequest is the request body for
// POST /admin/orchestration-logs/{id}/override.
type OverrideRequest struct {
	Reason string `json:"reason"`
}

// RerunRequest is the request body for POST /admin/orchestrate/rerun.
type RerunRequest struct {
	AgentName     string `json:"agent_name"`
	UserID        int64  `json:"user_id"`
	Prompt        string `json:"prompt"`
	PromptVersion string `json:"prompt_version,omitempty"`
}

// SelfScoreRequest is the request body for POST /v1/self-scores.
type SelfScoreRequest struct {
	AgentName  string    `json:"agent_name"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	UserID     int64     `json:"user_id"`
	SelfScore  float64   `json:"self_score"`
	Reasoning  *string   `json:"reasoning,omitempty"`
}

// ProcessQueueResponse reports one failure-queue processing pass.
type ProcessQueueResponse struct {
	Advanced     int `json:"advanced"`
	DeadLettered int `json:"dead_lettered"`
}

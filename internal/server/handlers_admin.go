package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/noria-ai/noria/internal/agent"
	"github.com/noria-ai/noria/internal/executor"
	"github.com/noria-ai/noria/internal/model"
)

// HandleListToggles handles GET /admin/agent-toggles.
func (h *Handlers) HandleListToggles(w http.ResponseWriter, r *http.Request) {
	toggles, err := h.db.ListToggles(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list toggles", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toggles)
}

// HandleUpsertToggle handles POST /admin/agent-toggles.
func (h *Handlers) HandleUpsertToggle(w http.ResponseWriter, r *http.Request) {
	var req model.ToggleUpsertRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentName(req.AgentName); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	toggle, err := h.db.UpsertToggle(r.Context(), req.AgentName, req.Enabled)
	if err != nil {
		h.writeInternalError(w, r, "failed to upsert toggle", err)
		return
	}
	h.logger.Info("agent toggle updated",
		"agent", req.AgentName, "enabled", req.Enabled,
		"operator", operatorName(r.Context()))
	writeJSON(w, r, http.StatusOK, toggle)
}

// HandleListPolicies handles GET /admin/agent-policies.
func (h *Handlers) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.db.ListAccessPolicies(r.Context(), r.URL.Query().Get("agent_name"))
	if err != nil {
		h.writeInternalError(w, r, "failed to list policies", err)
		return
	}
	writeJSON(w, r, http.StatusOK, policies)
}

// HandleUpsertPolicy handles POST /admin/agent-policies.
func (h *Handlers) HandleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req model.PolicyUpsertRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentName(req.AgentName); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !req.SubscriptionTier.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown subscription_tier")
		return
	}

	policy, err := h.db.UpsertAccessPolicy(r.Context(), req.AgentName, req.SubscriptionTier, req.IsEnabled)
	if err != nil {
		h.writeInternalError(w, r, "failed to upsert policy", err)
		return
	}
	h.logger.Info("access policy updated",
		"agent", req.AgentName, "tier", req.SubscriptionTier, "enabled", req.IsEnabled,
		"operator", operatorName(r.Context()))
	writeJSON(w, r, http.StatusOK, policy)
}

// HandleListFailures handles GET /admin/agent-failures.
func (h *Handlers) HandleListFailures(w http.ResponseWriter, r *http.Request) {
	entries, err := h.failSvc.List(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list failure queue", err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleProcessFailures handles POST /admin/agent-failures/process: runs one
// processing pass immediately, outside the scheduled cadence.
func (h *Handlers) HandleProcessFailures(w http.ResponseWriter, r *http.Request) {
	res, err := h.failSvc.Process(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to process failure queue", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ProcessQueueResponse{
		Advanced:     res.Advanced,
		DeadLettered: res.DeadLettered,
	})
}

// HandleListDeadLetters handles GET /admin/agent-dead-letters.
func (h *Handlers) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 100)
	letters, err := h.failSvc.DeadLetters(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list dead letters", err)
		return
	}
	writeList(w, r, letters, len(letters), limit, offset)
}

// HandleListOrchestrationLogs handles GET /admin/orchestration-logs with
// optional agent_name, user_id, status, and since filters.
func (h *Handlers) HandleListOrchestrationLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paginationParams(r, 100)

	filter := model.PerformanceLogFilter{
		AgentName: q.Get("agent_name"),
		Limit:     limit,
		Offset:    offset,
	}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_id must be a positive integer")
			return
		}
		filter.UserID = &id
	}
	if v := q.Get("status"); v != "" {
		status := model.OutcomeStatus(v)
		if !status.Valid() {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown status")
			return
		}
		filter.Status = status
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "since must be RFC 3339")
			return
		}
		filter.Since = &since
	}

	logs, err := h.db.ListPerformanceLogs(r.Context(), filter)
	if err != nil {
		h.writeInternalError(w, r, "failed to list orchestration logs", err)
		return
	}
	writeList(w, r, logs, len(logs), limit, offset)
}

// HandleOverrideLog handles POST /admin/orchestration-logs/{id}/override:
// appends an override outcome row referencing the original. The original
// row is never mutated.
func (h *Handlers) HandleOverrideLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid log id")
		return
	}

	var req model.OverrideRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Reason == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "reason is required")
		return
	}

	original, err := h.db.GetPerformanceLog(r.Context(), id)
	if err != nil {
		h.notFoundOrInternal(w, r, err, "orchestration log")
		return
	}

	reason := req.Reason
	override, err := h.db.InsertPerformanceLog(r.Context(), model.PerformanceLog{
		AgentName:         original.AgentName,
		UserID:            original.UserID,
		Status:            model.StatusOverride,
		OverrideTriggered: true,
		OverrideReason:    &reason,
		PromptVersion:     original.PromptVersion,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to record override", err)
		return
	}

	h.appendAdminEvent(r.Context(), original.UserID, original.AgentName, model.EventOutcomeOverridden, map[string]any{
		"original_log_id": original.ID,
		"override_log_id": override.ID,
		"reason":          req.Reason,
		"operator":        operatorName(r.Context()),
	})
	writeJSON(w, r, http.StatusCreated, override)
}

// HandleRerun handles POST /admin/orchestrate/rerun: executes a registered
// agent with admin-rerun semantics; a successful run records status rerun.
func (h *Handlers) HandleRerun(w http.ResponseWriter, r *http.Request) {
	var req model.RerunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	orReq := model.OrchestrateRequest{
		AgentName:     req.AgentName,
		UserID:        req.UserID,
		Prompt:        req.Prompt,
		PromptVersion: req.PromptVersion,
	}
	if err := orReq.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	ag, err := h.registry.Get(req.AgentName)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown agent")
		return
	}

	job := executor.Job{
		AgentName:     req.AgentName,
		UserID:        req.UserID,
		Kind:          executor.KindRerun,
		PromptVersion: req.PromptVersion,
	}
	res := h.exec.Execute(r.Context(), job, func(ctx context.Context) (string, error) {
		return ag.Run(ctx, agent.Request{
			UserID:        req.UserID,
			Prompt:        req.Prompt,
			PromptVersion: req.PromptVersion,
		})
	})

	resp := model.OrchestrateResponse{
		AgentName:  req.AgentName,
		Text:       res.Text,
		Fallback:   res.Fallback,
		RetryCount: res.Retries,
		TimedOut:   res.TimedOut,
	}
	if res.Fallback {
		resp.Text = fallbackText
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListLifecycleLogs handles GET /admin/lifecycle-logs.
func (h *Handlers) HandleListLifecycleLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 100)
	events, err := h.db.ListLifecycleEvents(r.Context(), r.URL.Query().Get("agent_name"), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list lifecycle logs", err)
		return
	}
	writeList(w, r, events, len(events), limit, offset)
}

// HandleListSelfScores handles GET /admin/self-scores.
func (h *Handlers) HandleListSelfScores(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 100)
	scores, err := h.scoreSvc.List(r.Context(), r.URL.Query().Get("agent_name"), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list self-scores", err)
		return
	}
	writeList(w, r, scores, len(scores), limit, offset)
}

// appendAdminEvent records an admin action in the lifecycle stream.
// Best-effort: failures are logged, not surfaced.
func (h *Handlers) appendAdminEvent(ctx context.Context, userID int64, agentName, eventType string, details map[string]any) {
	if _, err := h.db.AppendLifecycleEvent(ctx, model.LifecycleEvent{
		UserID:    userID,
		AgentName: agentName,
		EventType: eventType,
		Details:   details,
	}); err != nil {
		h.logger.Warn("append lifecycle event", "event", eventType, "error", err)
	}
}

// operatorName returns the acting operator's subject, or empty.
func operatorName(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// paginationParams parses limit/offset query params with a default limit.
func paginationParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

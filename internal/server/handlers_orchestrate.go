package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/noria-ai/noria/internal/agent"
	"github.com/noria-ai/noria/internal/executor"
	"github.com/noria-ai/noria/internal/model"
	"github.com/noria-ai/noria/internal/service/selfscore"
	"github.com/noria-ai/noria/internal/storage"
)

// fallbackText is returned to callers when execution was gated or every
// attempt failed. The caller sees this, never an error.
const fallbackText = "We couldn't generate a response right now. Please try again in a few minutes."

// HandleOrchestrate handles POST /v1/orchestrate: runs a registered agent
// through the executor and returns its text, or a fallback.
func (h *Handlers) HandleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req model.OrchestrateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
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
		Kind:          executor.KindNormal,
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

// HandleListAgents handles GET /v1/agents: registered agents with their
// toggle state. Agents without a toggle row are enabled.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	toggles, err := h.db.ListToggles(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list toggles", err)
		return
	}
	enabled := make(map[string]bool, len(toggles))
	for _, t := range toggles {
		enabled[t.AgentName] = t.Enabled
	}

	names := h.registry.Names()
	infos := make([]model.AgentInfo, 0, len(names))
	for _, name := range names {
		on, ok := enabled[name]
		if !ok {
			on = true
		}
		infos = append(infos, model.AgentInfo{AgentName: name, Enabled: on})
	}
	writeJSON(w, r, http.StatusOK, infos)
}

// HandleSubmitSelfScore handles POST /v1/self-scores.
func (h *Handlers) HandleSubmitSelfScore(w http.ResponseWriter, r *http.Request) {
	var req model.SelfScoreRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_id must be positive")
		return
	}

	var reasoning string
	if req.Reasoning != nil {
		reasoning = *req.Reasoning
	}
	saved, err := h.scoreSvc.Submit(r.Context(), req.AgentName, req.ArtifactID, req.UserID, req.SelfScore, reasoning)
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "self-score already recorded for this artifact")
		return
	case errors.Is(err, selfscore.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	case err != nil:
		h.writeInternalError(w, r, "failed to record self-score", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, saved)
}

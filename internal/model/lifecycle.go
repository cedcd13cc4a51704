package model

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types emitted by the execution layer.
const (
	EventExecutionStarted  = "execution_started"
	EventExecutionFinished = "execution_finished"
	EventFailureQueued     = "failure_queued"
	EventFailureDeadLetter = "failure_dead_lettered"
	EventSelfScoreFlagged  = "self_score_flagged"
	EventOutcomeOverridden = "outcome_overridden"
)

// LifecycleEvent is one entry in the append-only agent lifecycle stream.
// Events are never mutated or deleted.
type LifecycleEvent struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	AgentName string         `json:"agent_name"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// SelfScore is an agent's own confidence rating for one generated artifact.
// Write-once: at most one score per (agent_name, artifact_id).
type SelfScore struct {
	ID         int64     `json:"id"`
	AgentName  string    `json:"agent_name"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	UserID     int64     `json:"user_id"`
	SelfScore  float64   `json:"self_score"`
	Reasoning  *string   `json:"reasoning,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

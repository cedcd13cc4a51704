package model

import "time"

// OutcomeStatus is the closed set of terminal states recorded in the
// orchestration performance log. The Executor produces the first five;
// rerun and override are produced by admin-driven executions, auto_flagged
// by the self-score service, and completed is a legacy alias accepted in
// filters but never written by this codebase.
type OutcomeStatus string

const (
	StatusSuccess         OutcomeStatus = "success"
	StatusFailed          OutcomeStatus = "failed"
	StatusTimeout         OutcomeStatus = "timeout"
	StatusDisabledByAdmin OutcomeStatus = "disabled_by_admin"
	StatusDisabledByPlan  OutcomeStatus = "disabled_by_plan"
	StatusRerun           OutcomeStatus = "rerun"
	StatusOverride        OutcomeStatus = "override"
	StatusAutoFlagged     OutcomeStatus = "auto_flagged"
	StatusCompleted       OutcomeStatus = "completed"
)

// Valid reports whether s is a known outcome status.
func (s OutcomeStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout,
		StatusDisabledByAdmin, StatusDisabledByPlan,
		StatusRerun, StatusOverride, StatusAutoFlagged, StatusCompleted:
		return true
	}
	return false
}

// PerformanceLog is one immutable audit record in the orchestration
// performance log. The Executor writes exactly one per invocation,
// regardless of how many internal retries occurred.
type PerformanceLog struct {
	ID                int64         `json:"id"`
	AgentName         string        `json:"agent_name"`
	UserID            int64         `json:"user_id"`
	ExecutionTimeMS   int64         `json:"execution_time_ms"`
	InputTokens       int           `json:"input_tokens"`
	OutputTokens      int           `json:"output_tokens"`
	Status            OutcomeStatus `json:"status"`
	FallbackTriggered bool          `json:"fallback_triggered"`
	TimeoutOccurred   bool          `json:"timeout_occurred"`
	Retries           int           `json:"retries"`
	ErrorMessage      *string       `json:"error_message,omitempty"`
	PromptVersion     *string       `json:"prompt_version,omitempty"`
	OverrideTriggered bool          `json:"override_triggered"`
	OverrideReason    *string       `json:"override_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// PerformanceLogFilter narrows performance-log queries.
type PerformanceLogFilter struct {
	AgentName string
	UserID    *int64
	Status    OutcomeStatus
	Since     *time.Time
	Limit     int
	Offset    int
}

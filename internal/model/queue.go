package model

import "time"

// DefaultMaxRetries is the retry budget assigned to new failure-queue entries.
const DefaultMaxRetries = 3

// FailureQueueEntry is an at-rest record of a failed execution awaiting
// out-of-band retry. The queue tracks bookkeeping only; the retried
// execution itself happens outside the processing pass.
type FailureQueueEntry struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	AgentName     string    `json:"agent_name"`
	FailureReason string    `json:"failure_reason"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Exhausted reports whether the entry has consumed its retry budget.
func (e FailureQueueEntry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// DeadLetter is a failure-queue entry whose retry budget was exhausted.
// Rows are written once when the entry is moved out of the queue and are
// kept for operator inspection.
type DeadLetter struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	AgentName      string    `json:"agent_name"`
	FailureReason  string    `json:"failure_reason"`
	RetryCount     int       `json:"retry_count"`
	QueuedAt       time.Time `json:"queued_at"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// Package failqueue manages the agent failure queue: failed executions are
// parked here, advanced by a periodic processing pass, and moved to the
// dead-letter table once their retry budget is spent.
package failqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"

	"github.com/noria-ai/noria/internal/model"
	"github.com/noria-ai/noria/internal/telemetry"
)

// DefaultSchedule is the processing cadence when none is configured.
const DefaultSchedule = "@every 5m"

// Store is the slice of storage the service needs. *storage.DB satisfies it.
type Store interface {
	EnqueueFailure(ctx context.Context, userID int64, agentName, reason string, maxRetries int) (model.FailureQueueEntry, error)
	IncrementFailureRetry(ctx context.Context, id int64) (model.FailureQueueEntry, error)
	ListFailureQueue(ctx context.Context) ([]model.FailureQueueEntry, error)
	DeadLetterFailure(ctx context.Context, entry model.FailureQueueEntry) (model.DeadLetter, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error)
	AppendLifecycleEvent(ctx context.Context, ev model.LifecycleEvent) (model.LifecycleEvent, error)
}

// ProcessResult summarizes one processing pass.
type ProcessResult struct {
	Advanced     int `json:"advanced"`
	DeadLettered int `json:"dead_lettered"`
}

// Service owns queue bookkeeping. Processing only advances retry counters
// and dead-letters exhausted entries; it does not re-execute agents.
type Service struct {
	store  Store
	logger *slog.Logger

	deadLettered metric.Int64Counter
}

func New(store Store, logger *slog.Logger) *Service {
	meter := telemetry.Meter("noria/failqueue")
	deadLettered, _ := meter.Int64Counter("noria.failqueue.dead_lettered",
		metric.WithDescription("Failure-queue entries moved to the dead-letter table"),
	)
	return &Service{store: store, logger: logger, deadLettered: deadLettered}
}

// RecordFailure parks one failed execution in the queue. Implements the
// executor's FailureRecorder.
func (s *Service) RecordFailure(ctx context.Context, userID int64, agentName, reason string) error {
	entry, err := s.store.EnqueueFailure(ctx, userID, agentName, reason, model.DefaultMaxRetries)
	if err != nil {
		return err
	}
	s.appendEvent(ctx, entry, model.EventFailureQueued, map[string]any{
		"queue_id": entry.ID,
		"reason":   reason,
	})
	s.logger.Info("execution failure queued",
		"queue_id", entry.ID, "agent", agentName, "user_id", userID)
	return nil
}

// Process walks the queue oldest-first, advancing each entry's retry count.
// An advance that spends the last of the budget moves the entry to the
// dead-letter table in the same pass, so an entry with max_retries=1 is gone
// after one pass. An error on one entry is logged and does not stop the pass.
func (s *Service) Process(ctx context.Context) (ProcessResult, error) {
	entries, err := s.store.ListFailureQueue(ctx)
	if err != nil {
		return ProcessResult{}, err
	}

	var res ProcessResult
	for _, entry := range entries {
		if !entry.Exhausted() {
			updated, err := s.store.IncrementFailureRetry(ctx, entry.ID)
			if err != nil {
				s.logger.Error("advance failure entry",
					"queue_id", entry.ID, "error", err)
				continue
			}
			if !updated.Exhausted() {
				res.Advanced++
				continue
			}
			entry = updated
		}

		dl, err := s.store.DeadLetterFailure(ctx, entry)
		if err != nil {
			s.logger.Error("dead-letter failure entry",
				"queue_id", entry.ID, "error", err)
			continue
		}
		res.DeadLettered++
		s.deadLettered.Add(ctx, 1)
		s.appendEvent(ctx, entry, model.EventFailureDeadLetter, map[string]any{
			"queue_id":       entry.ID,
			"dead_letter_id": dl.ID,
			"retry_count":    entry.RetryCount,
		})
		s.logger.Warn("failure entry dead-lettered",
			"queue_id", entry.ID, "agent", entry.AgentName,
			"retry_count", entry.RetryCount)
	}

	s.logger.Info("failure queue processed",
		"entries", len(entries), "advanced", res.Advanced, "dead_lettered", res.DeadLettered)
	return res, nil
}

// List returns all queued entries, oldest first.
func (s *Service) List(ctx context.Context) ([]model.FailureQueueEntry, error) {
	return s.store.ListFailureQueue(ctx)
}

// DeadLetters returns archived entries, newest first.
func (s *Service) DeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, limit, offset)
}

func (s *Service) appendEvent(ctx context.Context, entry model.FailureQueueEntry, eventType string, details map[string]any) {
	_, err := s.store.AppendLifecycleEvent(ctx, model.LifecycleEvent{
		UserID:    entry.UserID,
		AgentName: entry.AgentName,
		EventType: eventType,
		Details:   details,
	})
	if err != nil {
		s.logger.Warn("append lifecycle event", "event", eventType, "error", err)
	}
}

// StartWorker schedules periodic Process runs on the given cron spec and
// returns the started scheduler. Each run gets a timeout derived from the
// schedule-independent perTick bound.
func (s *Service) StartWorker(schedule string, perTick time.Duration) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if perTick <= 0 {
		perTick = time.Minute
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), perTick)
		defer cancel()
		if _, err := s.Process(ctx); err != nil {
			s.logger.Error("scheduled queue processing", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

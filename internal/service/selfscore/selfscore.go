// Package selfscore records agents' confidence ratings for their own output
// and flags low-confidence artifacts for operator review.
package selfscore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/noria-ai/noria/internal/model"
)

// DefaultFlagThreshold is the score below which an artifact is auto-flagged.
const DefaultFlagThreshold = 0.3

// ErrInvalid marks caller mistakes (bad score, missing artifact). Wrapped in
// every validation failure so handlers can map it to a 400.
var ErrInvalid = errors.New("invalid self-score")

// Store is the slice of storage the service needs. *storage.DB satisfies it.
type Store interface {
	InsertSelfScore(ctx context.Context, s model.SelfScore) (model.SelfScore, error)
	ListSelfScores(ctx context.Context, agentName string, limit, offset int) ([]model.SelfScore, error)
	InsertPerformanceLog(ctx context.Context, rec model.PerformanceLog) (model.PerformanceLog, error)
	AppendLifecycleEvent(ctx context.Context, ev model.LifecycleEvent) (model.LifecycleEvent, error)
}

// Service validates and persists self-scores. Scores are write-once per
// (agent, artifact); duplicates surface as storage.ErrDuplicate.
type Service struct {
	store     Store
	threshold float64
	logger    *slog.Logger
}

// New builds a Service. threshold <= 0 takes DefaultFlagThreshold.
func New(store Store, threshold float64, logger *slog.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultFlagThreshold
	}
	return &Service{store: store, threshold: threshold, logger: logger}
}

// Submit records one self-score. Scores below the flag threshold additionally
// emit a lifecycle event and an auto_flagged performance-log row so flagged
// artifacts show up in the same audit surfaces as failed executions.
func (s *Service) Submit(ctx context.Context, agentName string, artifactID uuid.UUID, userID int64, score float64, reasoning string) (model.SelfScore, error) {
	if err := model.ValidateAgentName(agentName); err != nil {
		return model.SelfScore{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	if score < 0 || score > 1 {
		return model.SelfScore{}, fmt.Errorf("%w: self_score must be between 0 and 1, got %g", ErrInvalid, score)
	}
	if artifactID == uuid.Nil {
		return model.SelfScore{}, fmt.Errorf("%w: artifact_id is required", ErrInvalid)
	}

	rec := model.SelfScore{
		AgentName:  agentName,
		ArtifactID: artifactID,
		UserID:     userID,
		SelfScore:  score,
	}
	if reasoning != "" {
		rec.Reasoning = &reasoning
	}

	saved, err := s.store.InsertSelfScore(ctx, rec)
	if err != nil {
		return model.SelfScore{}, err
	}

	if score < s.threshold {
		s.flag(ctx, saved)
	}
	return saved, nil
}

// List returns recorded scores, optionally filtered by agent.
func (s *Service) List(ctx context.Context, agentName string, limit, offset int) ([]model.SelfScore, error) {
	return s.store.ListSelfScores(ctx, agentName, limit, offset)
}

// flag marks a low-confidence score. Flagging is best-effort: the score is
// already persisted, so bookkeeping errors are logged, not returned.
func (s *Service) flag(ctx context.Context, score model.SelfScore) {
	s.logger.Warn("low self-score flagged",
		"agent", score.AgentName,
		"artifact_id", score.ArtifactID,
		"score", score.SelfScore,
		"threshold", s.threshold,
	)

	_, err := s.store.AppendLifecycleEvent(ctx, model.LifecycleEvent{
		UserID:    score.UserID,
		AgentName: score.AgentName,
		EventType: model.EventSelfScoreFlagged,
		Details: map[string]any{
			"artifact_id": score.ArtifactID.String(),
			"score":       score.SelfScore,
			"threshold":   s.threshold,
		},
	})
	if err != nil {
		s.logger.Warn("append lifecycle event", "event", model.EventSelfScoreFlagged, "error", err)
	}

	msg := fmt.Sprintf("self-score %g below threshold %g for artifact %s",
		score.SelfScore, s.threshold, score.ArtifactID)
	_, err = s.store.InsertPerformanceLog(ctx, model.PerformanceLog{
		AgentName:    score.AgentName,
		UserID:       score.UserID,
		Status:       model.StatusAutoFlagged,
		ErrorMessage: &msg,
	})
	if err != nil {
		s.logger.Warn("record auto-flag outcome", "error", err)
	}
}

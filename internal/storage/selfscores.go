package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noria-ai/noria/internal/model"
)

// InsertSelfScore records an agent's self-confidence score for one artifact.
// Write-once: a second insert for the same (agent_name, artifact_id) returns
// ErrDuplicate.
func (db *DB) InsertSelfScore(ctx context.Context, s model.SelfScore) (model.SelfScore, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_self_scores (agent_name, artifact_id, user_id, self_score, reasoning)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		s.AgentName, s.ArtifactID, s.UserID, s.SelfScore, s.Reasoning,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return model.SelfScore{}, fmt.Errorf("storage: self score %s/%s: %w", s.AgentName, s.ArtifactID, ErrDuplicate)
		}
		return model.SelfScore{}, fmt.Errorf("storage: insert self score: %w", err)
	}
	return s, nil
}

// ListSelfScores returns self-score rows, newest first, optionally filtered
// by agent name. Limit is clamped to [1, 1000] with a default of 100.
func (db *DB) ListSelfScores(ctx context.Context, agentName string, limit, offset int) ([]model.SelfScore, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, agent_name, artifact_id, user_id, self_score, reasoning, created_at
	          FROM agent_self_scores`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
		args = append(args, agentName, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list self scores: %w", err)
	}
	defer rows.Close()

	var scores []model.SelfScore
	for rows.Next() {
		var s model.SelfScore
		if err := rows.Scan(&s.ID, &s.AgentName, &s.ArtifactID, &s.UserID, &s.SelfScore, &s.Reasoning, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan self score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

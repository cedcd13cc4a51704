package storage

import (
	"context"
	"fmt"

	"github.com/noria-ai/noria/internal/model"
)

// AppendLifecycleEvent appends one event to the agent lifecycle stream.
// The stream is append-only; there are no update or delete operations.
func (db *DB) AppendLifecycleEvent(ctx context.Context, ev model.LifecycleEvent) (model.LifecycleEvent, error) {
	if ev.Details == nil {
		ev.Details = map[string]any{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_lifecycle_logs (user_id, agent_name, event_type, details)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		ev.UserID, ev.AgentName, ev.EventType, ev.Details,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return model.LifecycleEvent{}, fmt.Errorf("storage: append lifecycle event: %w", err)
	}
	return ev, nil
}

// ListLifecycleEvents returns lifecycle events, newest first, optionally
// filtered by agent name. Limit is clamped to [1, 1000] with a default of 100.
func (db *DB) ListLifecycleEvents(ctx context.Context, agentName string, limit, offset int) ([]model.LifecycleEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, user_id, agent_name, event_type, details, created_at
	          FROM agent_lifecycle_logs`
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
		return nil, fmt.Errorf("storage: list lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []model.LifecycleEvent
	for rows.Next() {
		var ev model.LifecycleEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.AgentName, &ev.EventType, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan lifecycle event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

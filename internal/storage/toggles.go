package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noria-ai/noria/internal/model"
)

// GetToggle retrieves the toggle row for an agent.
// Returns ErrNotFound when no row exists — callers treat that as enabled
// (fail-open by convention).
func (db *DB) GetToggle(ctx context.Context, agentName string) (model.AgentToggle, error) {
	var t model.AgentToggle
	err := db.pool.QueryRow(ctx,
		`SELECT agent_name, enabled, updated_at FROM agent_toggles WHERE agent_name = $1`,
		agentName,
	).Scan(&t.AgentName, &t.Enabled, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentToggle{}, fmt.Errorf("storage: toggle %s: %w", agentName, ErrNotFound)
		}
		return model.AgentToggle{}, fmt.Errorf("storage: get toggle: %w", err)
	}
	return t, nil
}

// UpsertToggle creates or updates the toggle for an agent.
// Concurrent writers resolve last-write-wins at the storage layer.
func (db *DB) UpsertToggle(ctx context.Context, agentName string, enabled bool) (model.AgentToggle, error) {
	var t model.AgentToggle
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_toggles (agent_name, enabled, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (agent_name) DO UPDATE SET enabled = $2, updated_at = now()
		 RETURNING agent_name, enabled, updated_at`,
		agentName, enabled,
	).Scan(&t.AgentName, &t.Enabled, &t.UpdatedAt)
	if err != nil {
		return model.AgentToggle{}, fmt.Errorf("storage: upsert toggle: %w", err)
	}
	return t, nil
}

// ListToggles returns all toggle rows ordered by agent name.
func (db *DB) ListToggles(ctx context.Context) ([]model.AgentToggle, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT agent_name, enabled, updated_at FROM agent_toggles ORDER BY agent_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list toggles: %w", err)
	}
	defer rows.Close()

	var toggles []model.AgentToggle
	for rows.Next() {
		var t model.AgentToggle
		if err := rows.Scan(&t.AgentName, &t.Enabled, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan toggle: %w", err)
		}
		toggles = append(toggles, t)
	}
	return toggles, rows.Err()
}

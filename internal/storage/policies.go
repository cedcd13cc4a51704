package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noria-ai/noria/internal/model"
)

// GetAccessPolicy retrieves the access-policy row for an (agent, tier) pair.
// Returns ErrNotFound when no row exists — callers treat that as enabled
// (fail-open by convention).
func (db *DB) GetAccessPolicy(ctx context.Context, agentName string, tier model.SubscriptionTier) (model.AgentAccessPolicy, error) {
	var p model.AgentAccessPolicy
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_name, subscription_tier, is_enabled, created_at, updated_at
		 FROM agent_access_policies WHERE agent_name = $1 AND subscription_tier = $2`,
		agentName, string(tier),
	).Scan(&p.ID, &p.AgentName, &p.SubscriptionTier, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentAccessPolicy{}, fmt.Errorf("storage: policy %s/%s: %w", agentName, tier, ErrNotFound)
		}
		return model.AgentAccessPolicy{}, fmt.Errorf("storage: get policy: %w", err)
	}
	return p, nil
}

// UpsertAccessPolicy creates or updates the access policy for an (agent, tier) pair.
func (db *DB) UpsertAccessPolicy(ctx context.Context, agentName string, tier model.SubscriptionTier, isEnabled bool) (model.AgentAccessPolicy, error) {
	var p model.AgentAccessPolicy
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_access_policies (agent_name, subscription_tier, is_enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (agent_name, subscription_tier) DO UPDATE SET is_enabled = $3, updated_at = now()
		 RETURNING id, agent_name, subscription_tier, is_enabled, created_at, updated_at`,
		agentName, string(tier), isEnabled,
	).Scan(&p.ID, &p.AgentName, &p.SubscriptionTier, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.AgentAccessPolicy{}, fmt.Errorf("storage: upsert policy: %w", err)
	}
	return p, nil
}

// ListAccessPolicies returns access-policy rows, optionally filtered by agent name.
func (db *DB) ListAccessPolicies(ctx context.Context, agentName string) ([]model.AgentAccessPolicy, error) {
	query := `SELECT id, agent_name, subscription_tier, is_enabled, created_at, updated_at
	          FROM agent_access_policies`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = $1`
		args = append(args, agentName)
	}
	query += ` ORDER BY agent_name ASC, subscription_tier ASC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list policies: %w", err)
	}
	defer rows.Close()

	var policies []model.AgentAccessPolicy
	for rows.Next() {
		var p model.AgentAccessPolicy
		if err := rows.Scan(&p.ID, &p.AgentName, &p.SubscriptionTier, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

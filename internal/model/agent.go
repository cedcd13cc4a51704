package model

import (
	"fmt"
	"time"
)

// SubscriptionTier is a user's plan tier as seen by the access-policy gate.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierBasic   SubscriptionTier = "basic"
	TierPremium SubscriptionTier = "premium"
)

// Valid reports whether t is a known tier.
func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium:
		return true
	}
	return false
}

// AgentToggle is the admin-controlled global kill-switch for one agent.
// Rows are created lazily on the first admin write; a missing row means
// the agent is enabled (fail-open).
type AgentToggle struct {
	AgentName string    `json:"agent_name"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentAccessPolicy enables or disables one agent for one subscription tier.
// A missing row means enabled (fail-open).
type AgentAccessPolicy struct {
	ID               int64            `json:"id"`
	AgentName        string           `json:"agent_name"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	IsEnabled        bool             `json:"is_enabled"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ValidateAgentName checks that an agent name conforms to the allowed format.
// Names must be 1-128 ASCII characters: alphanumeric, dots, hyphens,
// and underscores.
func ValidateAgentName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("agent_name is required")
	}
	if len(name) > 128 {
		return fmt.Errorf("agent_name must be at most 128 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("agent_name contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noria-ai/noria/internal/model"
)

func TestValidateAgentName_Valid(t *testing.T) {
	valid := []string{
		"JournalSummarizationAgent",
		"goal-suggestion",
		"agent.v2",
		"Agent_01",
		"a",
		strings.Repeat("a", 128),
	}
	for _, name := range valid {
		require.NoError(t, model.ValidateAgentName(name), "expected valid: %q", name)
	}
}

func TestValidateAgentName_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"has space",
		"slash/agent",
		"agent@home",
		strings.Repeat("a", 129),
	}
	for _, name := range invalid {
		require.Error(t, model.ValidateAgentName(name), "expected invalid: %q", name)
	}
}

func TestOutcomeStatusValid(t *testing.T) {
	known := []model.OutcomeStatus{
		model.StatusSuccess, model.StatusFailed, model.StatusTimeout,
		model.StatusDisabledByAdmin, model.StatusDisabledByPlan,
		model.StatusRerun, model.StatusOverride, model.StatusAutoFlagged,
		model.StatusCompleted,
	}
	for _, s := range known {
		assert.True(t, s.Valid(), "status %q should be valid", s)
	}
	assert.False(t, model.OutcomeStatus("exploded").Valid())
	assert.False(t, model.OutcomeStatus("").Valid())
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		name   string
		latest *model.Subscription
		want   model.SubscriptionTier
	}{
		{"no subscription", nil, model.TierFree},
		{"active", &model.Subscription{Status: model.SubscriptionActive}, model.TierPremium},
		{"trialing", &model.Subscription{Status: model.SubscriptionTrialing}, model.TierPremium},
		{"past_due", &model.Subscription{Status: model.SubscriptionPastDue}, model.TierFree},
		{"canceled", &model.Subscription{Status: model.SubscriptionCanceled}, model.TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.TierFor(tt.latest))
		})
	}
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleMember))
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleAdmin))
	assert.False(t, model.RoleAtLeast(model.RoleMember, model.RoleAdmin))
	assert.False(t, model.RoleAtLeast(model.OperatorRole("unknown"), model.RoleMember))
}

func TestOrchestrateRequestValidate(t *testing.T) {
	base := model.OrchestrateRequest{
		AgentName: "JournalSummarizationAgent",
		UserID:    42,
		Prompt:    "Summarize my week.",
	}
	require.NoError(t, base.Validate())

	missingAgent := base
	missingAgent.AgentName = ""
	require.Error(t, missingAgent.Validate())

	badUser := base
	badUser.UserID = 0
	require.Error(t, badUser.Validate())

	emptyPrompt := base
	emptyPrompt.Prompt = ""
	require.Error(t, emptyPrompt.Validate())

	huge := base
	huge.Prompt = strings.Repeat("x", model.MaxPromptLen+1)
	require.Error(t, huge.Validate())
}

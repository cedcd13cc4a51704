package agent

import (
	"context"
	"fmt"
)

// Built-in coaching agent names. These match the names stored in toggle and
// access-policy rows, so renaming one is a data migration, not a refactor.
const (
	JournalSummarizationAgent = "JournalSummarizationAgent"
	GoalSuggestionAgent       = "GoalSuggestionAgent"
	CheckInReflectionAgent    = "CheckInReflectionAgent"
)

// promptAgent is an Agent that renders a fixed instruction around the user's
// prompt and delegates to a Completer.
type promptAgent struct {
	name        string
	instruction string
	completer   Completer
}

func (p *promptAgent) Name() string { return p.name }

func (p *promptAgent) Run(ctx context.Context, req Request) (string, error) {
	full := fmt.Sprintf("%s\n\n%s", p.instruction, req.Prompt)
	text, err := p.completer.Complete(ctx, full)
	if err != nil {
		return "", fmt.Errorf("agent: %s: %w", p.name, err)
	}
	return text, nil
}

// NewJournalSummarization returns the agent that condenses a user's journal
// entries into a short reflective summary.
func NewJournalSummarization(c Completer) Agent {
	return &promptAgent{
		name: JournalSummarizationAgent,
		instruction: "You are a supportive life coach. Summarize the journal entries " +
			"below in at most three short paragraphs, naming recurring themes and " +
			"one gentle observation. Do not give medical advice.",
		completer: c,
	}
}

// NewGoalSuggestion returns the agent that proposes next-step goals from a
// user's recent activity.
func NewGoalSuggestion(c Completer) Agent {
	return &promptAgent{
		name: GoalSuggestionAgent,
		instruction: "You are a supportive life coach. Based on the context below, " +
			"suggest up to three concrete, achievable goals for the coming week. " +
			"Keep each suggestion to one sentence.",
		completer: c,
	}
}

// NewCheckInReflection returns the agent that responds to a daily check-in.
func NewCheckInReflection(c Completer) Agent {
	return &promptAgent{
		name: CheckInReflectionAgent,
		instruction: "You are a supportive life coach responding to a daily check-in. " +
			"Acknowledge how the user is feeling, then offer one brief reflection " +
			"and one question to carry into their day.",
		completer: c,
	}
}

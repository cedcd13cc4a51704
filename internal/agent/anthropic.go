package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// Completer produces completion text for a prompt. The built-in coaching
// agents are written against this interface so tests can substitute a stub.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicConfig holds settings for the Anthropic-backed completer.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// AnthropicCompleter calls the Anthropic Messages API behind a circuit
// breaker. The breaker fails fast during provider outages so the executor's
// retry loop doesn't burn its budget waiting on a dead upstream.
type AnthropicCompleter struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewAnthropicCompleter creates a completer for the given API key and model.
func NewAnthropicCompleter(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("agent: anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent: anthropic model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("completer circuit state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &AnthropicCompleter{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// Complete sends the prompt as a single user message and concatenates the
// text blocks of the response.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, err
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return text, nil
	})
	if err != nil {
		return "", fmt.Errorf("agent: anthropic complete: %w", err)
	}
	return out.(string), nil
}

// Package agent defines the pluggable unit of work the executor drives:
// a named text generator, typically backed by an LLM call. Agents are
// registered explicitly at startup; there is no runtime discovery.
package agent

import "context"

// Request carries the caller-supplied input for one agent run.
type Request struct {
	UserID        int64
	Prompt        string
	PromptVersion string
}

// Agent produces response text from a request. Implementations must be safe
// for concurrent use and idempotent-safe: the executor may invoke Run up to
// MaxRetries+1 times for a single logical request.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Agent interface.
type Func struct {
	AgentName string
	RunFunc   func(ctx context.Context, req Request) (string, error)
}

// Name returns the agent's registered name.
func (f Func) Name() string { return f.AgentName }

// Run invokes the wrapped function.
func (f Func) Run(ctx context.Context, req Request) (string, error) {
	return f.RunFunc(ctx, req)
}

package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAgent is returned when a requested agent is not registered.
var ErrUnknownAgent = errors.New("agent: unknown agent")

// Registry maps agent names to implementations. Registration happens at
// startup via explicit Register calls; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its own name.
// Registering the same name twice is a programming error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if name == "" {
		return fmt.Errorf("agent: register: empty name")
	}
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent: register %s: already registered", name)
	}
	r.agents[name] = a
	return nil
}

// MustRegister registers an agent and panics on error. For use in startup
// wiring where a duplicate registration is unrecoverable.
func (r *Registry) MustRegister(a Agent) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent: %s: %w", name, ErrUnknownAgent)
	}
	return a, nil
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

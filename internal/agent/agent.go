package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActionFunc executes one named action. Parameters and results are opaque to
// the orchestration core.
type ActionFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// ErrUnknownAction marks a configuration error: the agent does not implement
// the requested action. Never retried by the dispatcher.
var ErrUnknownAction = errors.New("unknown action")

// Agent is an opaque executor of named actions. Actions are registered as a
// capability-keyed function table so unknown actions fail at dispatch with a
// configuration error instead of a silent no-op.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	actions map[string]ActionFunc
}

// New creates an agent with an empty action table.
func New(id, name, role string) *Agent {
	return &Agent{
		ID:      id,
		Name:    name,
		Role:    role,
		actions: make(map[string]ActionFunc),
	}
}

// Handle registers an action implementation under the given name.
func (a *Agent) Handle(action string, fn ActionFunc) *Agent {
	a.actions[action] = fn
	return a
}

// Capabilities lists the action names the agent implements.
func (a *Agent) Capabilities() []string {
	caps := make([]string, 0, len(a.actions))
	for name := range a.actions {
		caps = append(caps, name)
	}
	return caps
}

// Execute runs a named action with the given parameters.
func (a *Agent) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	fn, ok := a.actions[action]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w: %s", a.ID, ErrUnknownAction, action)
	}
	return fn(ctx, params)
}

package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry tracks the registered agents. The coordinator owns the registry;
// the scheduler and dispatcher borrow it for lookups only.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
		logger: logger,
	}
}

// Register adds an agent. A missing ID is assigned.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now()
	r.agents[a.ID] = a
	r.logger.Info("registered agent",
		zap.String("id", a.ID),
		zap.String("role", a.Role),
		zap.Strings("capabilities", a.Capabilities()))
}

// Get returns an agent by ID.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns all registered agents ordered by ID.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Capabilities returns the action names an agent implements, or nil if the
// agent is not registered.
func (r *Registry) Capabilities(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	return a.Capabilities()
}

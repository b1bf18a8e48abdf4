package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages configured providers and routes agent chat requests,
// falling back through a per-agent provider chain on failure.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // agentID -> providerID
	fallbacks map[string][]string // agentID -> fallback chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the
// default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Bind associates an agent with a specific provider.
func (r *Router) Bind(agentID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentID] = providerID
}

// SetFallbacks configures the fallback provider chain for an agent.
func (r *Router) SetFallbacks(agentID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agentID] = providerIDs
}

// Route sends a chat request through the agent's provider, walking the
// fallback chain on failure.
func (r *Router) Route(ctx context.Context, agentID string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.getProvider(agentID)
	if primary == nil {
		return nil, fmt.Errorf("no provider available for agent %s", agentID)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("agent", agentID), zap.Error(err))

	for _, fbID := range r.fallbacks[agentID] {
		fb, ok := r.providers[fbID]
		if !ok {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for agent %s: %w", agentID, err)
}

func (r *Router) getProvider(agentID string) Provider {
	if pid, ok := r.bindings[agentID]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}

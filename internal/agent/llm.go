package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/provider"
)

// Recorder persists knowledge records produced by the knowledge agent.
// Satisfied by the knowledge package's vector store.
type Recorder interface {
	Store(ctx context.Context, entryType string, content map[string]any, tags []string) (string, error)
}

const (
	designerPrompt = "You are a quantum-optics experiment designer. Given a goal " +
		"and constraints, propose a concrete optical table setup: sources, " +
		"beamsplitters, phase shifters, detectors and their parameters. Be precise " +
		"and quantitative."
	analyzerPrompt = "You are a quantum-optics analyst. Given an experiment design " +
		"and an objective, assess the expected observables (fidelity, visibility, " +
		"squeezing level, count rates) and flag weaknesses."
	optimizerPrompt = "You are a quantum-optics optimizer. Given a design and its " +
		"analysis, propose parameter adjustments that improve the target figures " +
		"of merit, with expected gains."
)

// chat sends one prompt through the router on behalf of an agent and wraps
// the answer as an opaque result map.
func chat(ctx context.Context, router *provider.Router, agentID, system string, params map[string]any) (map[string]any, error) {
	user := fmt.Sprintf("Goal: %v", params["goal"])
	for k, v := range params {
		if k == "goal" {
			continue
		}
		user += fmt.Sprintf("\n%s: %v", k, v)
	}

	resp, err := router.Route(ctx, agentID, &provider.ChatRequest{
		Model: "default",
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}
	return map[string]any{
		"content": resp.Content,
		"model":   resp.Model,
		"tokens":  resp.Usage.TotalTokens,
	}, nil
}

// NewDesigner builds the experiment-design agent.
func NewDesigner(id string, router *provider.Router, logger *zap.Logger) *Agent {
	a := New(id, "Experiment Designer", "designer")
	a.Handle("design_experiment", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return chat(ctx, router, id, designerPrompt, params)
	})
	return a
}

// NewAnalyzer builds the results-analysis agent.
func NewAnalyzer(id string, router *provider.Router, logger *zap.Logger) *Agent {
	a := New(id, "Results Analyzer", "analyzer")
	a.Handle("analyze_results", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return chat(ctx, router, id, analyzerPrompt, params)
	})
	return a
}

// NewOptimizer builds the setup-optimization agent.
func NewOptimizer(id string, router *provider.Router, logger *zap.Logger) *Agent {
	a := New(id, "Setup Optimizer", "optimizer")
	a.Handle("optimize_setup", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return chat(ctx, router, id, optimizerPrompt, params)
	})
	return a
}

// NewKnowledgeAgent builds the agent that records finished designs. With a
// nil recorder the action degrades to a no-op acknowledgement.
func NewKnowledgeAgent(id string, recorder Recorder, logger *zap.Logger) *Agent {
	a := New(id, "Knowledge Keeper", "knowledge")
	a.Handle("record_knowledge", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if recorder == nil {
			logger.Debug("no knowledge store configured, skipping record")
			return map[string]any{"recorded": false}, nil
		}
		expType, _ := params["experiment_type"].(string)
		entryID, err := recorder.Store(ctx, "experiment_design", params, []string{"design", expType})
		if err != nil {
			return nil, fmt.Errorf("record knowledge: %w", err)
		}
		return map[string]any{"recorded": true, "entry_id": entryID}, nil
	})
	return a
}

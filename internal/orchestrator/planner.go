package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Agent IDs the planner targets. Registration of matching agents is the
// operator's responsibility; a missing agent fails the task at dispatch.
const (
	AgentDesigner  = "designer"
	AgentAnalyzer  = "analyzer"
	AgentOptimizer = "optimizer"
	AgentKnowledge = "knowledge"
)

// Planner turns a high-level experimental goal into a workflow plan using
// per-experiment-type task templates.
type Planner struct {
	maxRetries int
	logger     *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(maxRetries int, logger *zap.Logger) *Planner {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Planner{maxRetries: maxRetries, logger: logger}
}

// experimentType infers the experiment family from goal keywords.
func experimentType(goal string) string {
	g := strings.ToLower(goal)
	switch {
	case strings.Contains(g, "entangl"):
		return "entanglement"
	case strings.Contains(g, "squeez"):
		return "squeezing"
	case strings.Contains(g, "interferom"):
		return "interferometry"
	case strings.Contains(g, "teleport"):
		return "teleportation"
	default:
		return "general"
	}
}

// Plan builds a pending workflow for the goal: one design task, one analysis
// task per objective (at least one), an optimization pass over all analyses,
// and a final knowledge record depending on the optimization.
func (p *Planner) Plan(goal string, objectives []string, constraints map[string]any, strategy Strategy) *Workflow {
	expType := experimentType(goal)
	now := time.Now()

	w := &Workflow{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("%s experiment", expType),
		Description: goal,
		Goal:        goal,
		Strategy:    strategy,
		CreatedAt:   now,
		status:      WorkflowPending,
	}

	newTask := func(id, name, agentID, action string, prio Priority, deps []string, params map[string]any) *Task {
		if params == nil {
			params = make(map[string]any)
		}
		params["goal"] = goal
		params["experiment_type"] = expType
		if len(constraints) > 0 {
			params["constraints"] = constraints
		}
		return &Task{
			ID:           id,
			WorkflowID:   w.ID,
			Name:         name,
			TargetAgent:  agentID,
			Action:       action,
			Parameters:   params,
			Dependencies: deps,
			Priority:     prio,
			Status:       TaskPending,
			MaxRetries:   p.maxRetries,
			CreatedAt:    now,
		}
	}

	design := newTask("design", "design experimental setup",
		AgentDesigner, "design_experiment", PriorityCritical, nil, nil)
	w.Tasks = append(w.Tasks, design)

	if len(objectives) == 0 {
		objectives = []string{"verify design against goal"}
	}
	var analysisIDs []string
	for i, obj := range objectives {
		id := fmt.Sprintf("analyze-%d", i+1)
		w.Tasks = append(w.Tasks, newTask(id, "analyze: "+obj,
			AgentAnalyzer, "analyze_results", PriorityMedium,
			[]string{design.ID}, map[string]any{"objective": obj}))
		analysisIDs = append(analysisIDs, id)
	}

	optimize := newTask("optimize", "optimize experimental parameters",
		AgentOptimizer, "optimize_setup", PriorityHigh, analysisIDs, nil)
	w.Tasks = append(w.Tasks, optimize)

	w.Tasks = append(w.Tasks, newTask("record", "record design knowledge",
		AgentKnowledge, "record_knowledge", PriorityLow,
		[]string{optimize.ID}, nil))

	p.logger.Info("planned workflow",
		zap.String("workflow", w.ID),
		zap.String("experiment_type", expType),
		zap.Int("tasks", len(w.Tasks)))
	return w
}

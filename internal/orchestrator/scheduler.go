package orchestrator

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
	"go.uber.org/zap"
)

// Scheduler decides which tasks of a workflow are runnable now, honoring
// dependencies, priorities and the configured concurrency bound. It never
// mutates performance records; those belong to the dispatcher.
type Scheduler struct {
	maxConcurrency int
	weights        map[string]float64
	logger         *zap.Logger
}

// Per-action complexity weights used by the adaptive strategy. Optimization
// runs dominate; knowledge recording is near-free.
var defaultActionWeights = map[string]float64{
	"optimize_setup":    1.0,
	"design_experiment": 0.8,
	"analyze_results":   0.6,
	"record_knowledge":  0.3,
}

// NewScheduler creates a scheduler with the given concurrency bound.
func NewScheduler(maxConcurrency int, logger *zap.Logger) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		maxConcurrency: maxConcurrency,
		weights:        defaultActionWeights,
		logger:         logger,
	}
}

// MaxConcurrency returns the configured concurrency bound.
func (s *Scheduler) MaxConcurrency() int { return s.maxConcurrency }

// Order returns a topological order of the workflow's task IDs, or
// ErrDependencyCycle. Dependencies on unknown task IDs are rejected.
func (s *Scheduler) Order(w *Workflow) ([]string, error) {
	byID := make(map[string]*Task, len(w.Tasks))
	for _, t := range w.Tasks {
		byID[t.ID] = t
	}

	var edges []toposort.Edge
	for _, t := range w.Tasks {
		if len(t.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}

	order := make([]string, 0, len(w.Tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(w.Tasks) {
		return nil, fmt.Errorf("topological order lost %d tasks", len(w.Tasks)-len(order))
	}
	return order, nil
}

// Levels groups tasks into dependency levels: level 0 holds tasks with no
// dependencies, level(t) = 1 + max(level(dep)). Tasks within one level can
// run concurrently. Returns ErrDependencyCycle when levels cannot be
// assigned to every task.
func (s *Scheduler) Levels(w *Workflow) ([][]*Task, error) {
	byID := make(map[string]*Task, len(w.Tasks))
	for _, t := range w.Tasks {
		byID[t.ID] = t
	}

	levels := make(map[string]int, len(w.Tasks))
	assigned := 0
	// Iterate until a fixpoint; each pass assigns at least one task unless
	// the remainder is cyclic.
	for assigned < len(w.Tasks) {
		progressed := false
		for _, t := range w.Tasks {
			if _, done := levels[t.ID]; done {
				continue
			}
			lvl := 0
			ready := true
			for _, dep := range t.Dependencies {
				if _, ok := byID[dep]; !ok {
					return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
				}
				depLvl, ok := levels[dep]
				if !ok {
					ready = false
					break
				}
				if depLvl+1 > lvl {
					lvl = depLvl + 1
				}
			}
			if ready {
				levels[t.ID] = lvl
				assigned++
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("%w: %d tasks unassignable to levels",
				ErrDependencyCycle, len(w.Tasks)-assigned)
		}
	}

	maxLvl := 0
	for _, lvl := range levels {
		if lvl > maxLvl {
			maxLvl = lvl
		}
	}
	out := make([][]*Task, maxLvl+1)
	// Insertion order within a level follows workflow task order.
	for _, t := range w.Tasks {
		lvl := levels[t.ID]
		out[lvl] = append(out[lvl], t)
	}
	return out, nil
}

// Runnable returns the pending tasks whose dependencies have all completed,
// sorted priority-descending with workflow order as tiebreak. The status scan
// holds the workflow's counter lock so a concurrent cancel cannot interleave
// mid-scan.
func (s *Scheduler) Runnable(w *Workflow) []*Task {
	w.mu.Lock()
	byID := make(map[string]*Task, len(w.Tasks))
	for _, t := range w.Tasks {
		byID[t.ID] = t
	}

	var runnable []*Task
	for _, t := range w.Tasks {
		if t.Status != TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			d, ok := byID[dep]
			if !ok || d.Status != TaskCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			runnable = append(runnable, t)
		}
	}
	w.mu.Unlock()

	sort.SliceStable(runnable, func(i, j int) bool {
		return runnable[i].Priority > runnable[j].Priority
	})
	return runnable
}

// Select picks a concrete strategy for the adaptive mode at workflow start.
// Low load and low complexity favor parallel fan-out; either one high falls
// back to sequential; the middle ground goes priority-based.
func (s *Scheduler) Select(w *Workflow, runningTasks int) Strategy {
	load := float64(runningTasks) / float64(2*s.maxConcurrency)
	complexity := s.complexity(w)

	var chosen Strategy
	switch {
	case load < 0.3 && complexity < 0.5:
		chosen = StrategyParallel
	case load > 0.7 || complexity > 0.8:
		chosen = StrategySequential
	default:
		chosen = StrategyPriority
	}

	s.logger.Info("adaptive strategy selected",
		zap.String("workflow", w.ID),
		zap.Float64("load", load),
		zap.Float64("complexity", complexity),
		zap.String("strategy", string(chosen)))
	return chosen
}

// complexity is the mean per-action weight across the workflow's tasks.
// Unknown actions weigh 0.5.
func (s *Scheduler) complexity(w *Workflow) float64 {
	if len(w.Tasks) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range w.Tasks {
		wt, ok := s.weights[t.Action]
		if !ok {
			wt = 0.5
		}
		sum += wt
	}
	return sum / float64(len(w.Tasks))
}

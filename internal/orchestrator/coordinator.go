package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/agent"
)

// KnowledgeStore persists opaque knowledge records. The coordinator only
// writes failure records through it and never reads back.
type KnowledgeStore interface {
	Store(ctx context.Context, entryType string, content map[string]any, tags []string) (string, error)
}

// Persister snapshots workflows to durable storage. Persistence failures are
// logged, never escalated into the orchestration loop.
type Persister interface {
	SaveWorkflow(ctx context.Context, w *Workflow) error
}

// Coordinator is the façade over the orchestration engine: it plans
// workflows from goals, drives the scheduler/dispatcher loop over a FIFO
// work queue, and answers lifecycle commands. One workflow is processed at a
// time; a long workflow delays later ones.
type Coordinator struct {
	registry   *agent.Registry
	scheduler  *Scheduler
	dispatcher *Dispatcher
	planner    *Planner
	perf       *PerformanceTracker
	knowledge  KnowledgeStore
	persister  Persister
	bus        *EventBus
	logger     *zap.Logger

	// defaultStrategy is applied when a caller supplies none.
	defaultStrategy Strategy

	mu      sync.RWMutex
	active  map[string]*Workflow
	history []*Workflow
	queue   chan string

	runningTasks atomic.Int32
}

// NewCoordinator wires the coordinator. Knowledge store, persister and event
// bus are optional and attached with the Set* methods.
func NewCoordinator(registry *agent.Registry, scheduler *Scheduler, dispatcher *Dispatcher, planner *Planner, perf *PerformanceTracker, queueSize int, logger *zap.Logger) *Coordinator {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Coordinator{
		registry:        registry,
		scheduler:       scheduler,
		dispatcher:      dispatcher,
		planner:         planner,
		perf:            perf,
		active:          make(map[string]*Workflow),
		queue:           make(chan string, queueSize),
		defaultStrategy: StrategyAdaptive,
		logger:          logger,
	}
}

// SetDefaultStrategy overrides the strategy used for workflows created
// without one. An empty or unknown value keeps the current default.
func (c *Coordinator) SetDefaultStrategy(s Strategy) {
	switch s {
	case StrategySequential, StrategyParallel, StrategyPriority, StrategyAdaptive:
		c.defaultStrategy = s
	}
}

// SetKnowledge attaches the knowledge-storage collaborator.
func (c *Coordinator) SetKnowledge(ks KnowledgeStore) { c.knowledge = ks }

// SetPersister attaches durable workflow storage.
func (c *Coordinator) SetPersister(p Persister) { c.persister = p }

// SetBus attaches the lifecycle event bus.
func (c *Coordinator) SetBus(b *EventBus) {
	c.bus = b
	c.dispatcher.bus = b
}

// Start runs the execution loop until ctx is cancelled. Workflows are pulled
// from the queue in FIFO order and processed one at a time.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-c.queue:
				c.runWorkflow(ctx, id)
			}
		}
	}()
}

// CreateWorkflow plans a workflow for the goal and stores it pending.
func (c *Coordinator) CreateWorkflow(ctx context.Context, goal string, objectives []string, constraints map[string]any, strategy Strategy) (string, error) {
	if goal == "" {
		return "", fmt.Errorf("goal must not be empty")
	}
	if strategy == "" {
		strategy = c.defaultStrategy
	}

	w := c.planner.Plan(goal, objectives, constraints, strategy)
	c.addWorkflow(ctx, w)
	return w.ID, nil
}

// CreateWorkflowFromTasks stores a pending workflow over an explicit task
// list. Task and workflow IDs are assigned where missing.
func (c *Coordinator) CreateWorkflowFromTasks(ctx context.Context, goal string, tasks []*Task, strategy Strategy) (string, error) {
	if len(tasks) == 0 {
		return "", fmt.Errorf("task list must not be empty")
	}
	if strategy == "" {
		strategy = c.defaultStrategy
	}

	w := &Workflow{
		ID:        uuid.New().String(),
		Name:      goal,
		Goal:      goal,
		Strategy:  strategy,
		CreatedAt: time.Now(),
		status:    WorkflowPending,
	}
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		t.WorkflowID = w.ID
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.MaxRetries == 0 {
			t.MaxRetries = DefaultMaxRetries
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = w.CreatedAt
		}
		w.Tasks = append(w.Tasks, t)
	}
	c.addWorkflow(ctx, w)
	return w.ID, nil
}

func (c *Coordinator) addWorkflow(ctx context.Context, w *Workflow) {
	c.mu.Lock()
	c.active[w.ID] = w
	c.mu.Unlock()

	c.persist(w)
	c.bus.Publish(ctx, &Event{WorkflowID: w.ID, Type: EventWorkflowCreated})
	c.logger.Info("workflow created",
		zap.String("workflow", w.ID),
		zap.String("goal", w.Goal),
		zap.Int("tasks", len(w.Tasks)))
}

// ExecuteWorkflow enqueues a pending workflow for execution. An optional
// strategy overrides the one chosen at creation.
func (c *Coordinator) ExecuteWorkflow(id string, strategy Strategy) error {
	w := c.lookupActive(id)
	if w == nil {
		return ErrWorkflowNotFound
	}
	if err := w.transition(WorkflowRunning, WorkflowPending); err != nil {
		return fmt.Errorf("workflow %s is not pending: %w", id, err)
	}
	if strategy != "" {
		w.setStrategy(strategy)
	}

	select {
	case c.queue <- id:
	default:
		w.setStatus(WorkflowPending)
		return fmt.Errorf("work queue full, workflow %s not enqueued", id)
	}

	c.bus.Publish(context.Background(), &Event{WorkflowID: id, Type: EventWorkflowStarted})
	return nil
}

// MonitorWorkflow returns a status snapshot for an active or historical
// workflow, including per-status task counts and a linear completion-time
// estimate.
func (c *Coordinator) MonitorWorkflow(id string) (*Snapshot, error) {
	w := c.lookupAny(id)
	if w == nil {
		return nil, ErrWorkflowNotFound
	}
	return w.Snapshot(), nil
}

// PauseWorkflow stops new dispatch for a running workflow. In-flight tasks
// finish naturally.
func (c *Coordinator) PauseWorkflow(id string) error {
	w := c.lookupActive(id)
	if w == nil {
		return ErrWorkflowNotFound
	}
	if err := w.transition(WorkflowPaused, WorkflowRunning); err != nil {
		return err
	}
	c.bus.Publish(context.Background(), &Event{WorkflowID: id, Type: EventWorkflowPaused})
	c.logger.Info("workflow paused", zap.String("workflow", id))
	return nil
}

// ResumeWorkflow re-enqueues a paused workflow. The strategy is always reset
// to sequential: the conservative choice after a pause or stall.
func (c *Coordinator) ResumeWorkflow(id string) error {
	w := c.lookupActive(id)
	if w == nil {
		return ErrWorkflowNotFound
	}
	if err := w.transition(WorkflowRunning, WorkflowPaused); err != nil {
		return err
	}
	w.setStrategy(StrategySequential)

	select {
	case c.queue <- id:
	default:
		w.setStatus(WorkflowPaused)
		return fmt.Errorf("work queue full, workflow %s not resumed", id)
	}

	c.bus.Publish(context.Background(), &Event{WorkflowID: id, Type: EventWorkflowResumed})
	c.logger.Info("workflow resumed", zap.String("workflow", id))
	return nil
}

// CancelWorkflow terminally cancels a workflow from any non-terminal state.
// Pending tasks are cancelled; in-flight tasks are left to finish. The
// workflow moves to history immediately.
func (c *Coordinator) CancelWorkflow(id string) error {
	w := c.lookupActive(id)
	if w == nil {
		return ErrWorkflowNotFound
	}
	if err := w.transition(WorkflowCancelled, WorkflowPending, WorkflowRunning, WorkflowPaused); err != nil {
		return err
	}

	w.mu.Lock()
	now := time.Now()
	w.completedAt = &now
	for _, t := range w.Tasks {
		if t.Status == TaskPending || t.Status == TaskPaused {
			t.Status = TaskCancelled
		}
	}
	w.mu.Unlock()

	c.moveToHistory(w)
	c.persist(w)
	c.bus.Publish(context.Background(), &Event{WorkflowID: id, Type: EventWorkflowCancelled})
	c.logger.Info("workflow cancelled", zap.String("workflow", id))
	return nil
}

// ActiveWorkflows returns snapshots of all non-terminal workflows.
func (c *Coordinator) ActiveWorkflows() []*Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Snapshot, 0, len(c.active))
	for _, w := range c.active {
		out = append(out, w.Snapshot())
	}
	return out
}

// History returns snapshots of completed, failed and cancelled workflows in
// completion order.
func (c *Coordinator) History() []*Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Snapshot, 0, len(c.history))
	for _, w := range c.history {
		out = append(out, w.Snapshot())
	}
	return out
}

// Performance returns per-agent performance records.
func (c *Coordinator) Performance() map[string]AgentPerformance {
	return c.perf.Snapshot()
}

func (c *Coordinator) lookupActive(id string) *Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[id]
}

func (c *Coordinator) lookupAny(id string) *Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.active[id]; ok {
		return w
	}
	for _, w := range c.history {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (c *Coordinator) moveToHistory(w *Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, w.ID)
	c.history = append(c.history, w)
}

// runWorkflow executes one workflow to pause or a terminal state. Errors
// never escape the loop; a failed workflow must not stop later ones.
func (c *Coordinator) runWorkflow(ctx context.Context, id string) {
	w := c.lookupActive(id)
	if w == nil {
		return
	}
	w.exec.Lock()
	defer w.exec.Unlock()

	if w.StatusNow() != WorkflowRunning {
		return
	}
	w.markStarted()

	strategy := w.StrategyNow()
	if strategy == StrategyAdaptive {
		strategy = c.scheduler.Select(w, int(c.runningTasks.Load()))
	}
	c.logger.Info("executing workflow",
		zap.String("workflow", w.ID),
		zap.String("strategy", string(strategy)))

	var runErr error
	switch strategy {
	case StrategyParallel:
		runErr = c.runParallel(ctx, w)
	case StrategyPriority:
		runErr = c.runPriority(ctx, w)
	default:
		runErr = c.runSequential(ctx, w)
	}

	c.finalize(ctx, w, runErr)
}

// runSequential executes tasks one at a time in topological order. Tasks
// whose dependencies did not complete are skipped and stay pending.
func (c *Coordinator) runSequential(ctx context.Context, w *Workflow) error {
	order, err := c.scheduler.Order(w)
	if err != nil {
		return err
	}
	for _, id := range order {
		if w.StatusNow() != WorkflowRunning {
			return nil
		}
		t := w.Task(id)
		if t == nil || !w.readyToRun(t) {
			continue
		}
		c.dispatchTask(ctx, w, t)
	}
	return nil
}

// runParallel executes dependency levels in order, each level fanned out
// under the concurrency bound.
func (c *Coordinator) runParallel(ctx context.Context, w *Workflow) error {
	levels, err := c.scheduler.Levels(w)
	if err != nil {
		return err
	}
	for _, level := range levels {
		if w.StatusNow() != WorkflowRunning {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.scheduler.MaxConcurrency())
		for _, t := range level {
			if !w.readyToRun(t) {
				continue
			}
			t := t
			g.Go(func() error {
				c.dispatchTask(gctx, w, t)
				return nil
			})
		}
		_ = g.Wait()
	}
	return nil
}

// runPriority repeatedly dispatches bounded batches of the highest-priority
// runnable tasks. Zero runnable tasks with pending work remaining and no
// failures to explain it is a dependency cycle.
func (c *Coordinator) runPriority(ctx context.Context, w *Workflow) error {
	for {
		if w.StatusNow() != WorkflowRunning {
			return nil
		}
		runnable := c.scheduler.Runnable(w)
		if len(runnable) == 0 {
			if w.countStatus(TaskPending) > 0 && w.countStatus(TaskFailed) == 0 {
				return fmt.Errorf("%w: %d tasks pending with no runnable candidates",
					ErrDependencyCycle, w.countStatus(TaskPending))
			}
			return nil
		}

		batch := runnable
		if max := c.scheduler.MaxConcurrency(); len(batch) > max {
			batch = batch[:max]
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range batch {
			t := t
			g.Go(func() error {
				c.dispatchTask(gctx, w, t)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (c *Coordinator) dispatchTask(ctx context.Context, w *Workflow, t *Task) {
	c.runningTasks.Add(1)
	defer c.runningTasks.Add(-1)
	c.dispatcher.Dispatch(ctx, w, t)
}

// finalize settles the workflow after a scheduling pass: paused workflows
// stay active, cancelled ones were already archived, everything else goes
// terminal and into history.
func (c *Coordinator) finalize(ctx context.Context, w *Workflow, runErr error) {
	switch w.StatusNow() {
	case WorkflowPaused, WorkflowCancelled:
		return
	}

	snap := w.Snapshot()
	switch {
	case runErr != nil:
		w.finish(WorkflowFailed, runErr.Error())
	case snap.FailedTasks == 0 && snap.CompletedTasks == snap.TotalTasks:
		w.finish(WorkflowCompleted, "")
	default:
		w.finish(WorkflowFailed, fmt.Sprintf("%d of %d tasks failed",
			snap.FailedTasks, snap.TotalTasks))
	}

	c.moveToHistory(w)
	c.persist(w)

	final := w.Snapshot()
	if final.Status == WorkflowCompleted {
		c.bus.Publish(ctx, &Event{WorkflowID: w.ID, Type: EventWorkflowCompleted})
		c.logger.Info("workflow completed",
			zap.String("workflow", w.ID),
			zap.Int("tasks", final.TotalTasks))
		return
	}

	c.bus.Publish(ctx, &Event{WorkflowID: w.ID, Type: EventWorkflowFailed, Error: final.Error})
	c.logger.Error("workflow failed",
		zap.String("workflow", w.ID),
		zap.Int("failed_tasks", final.FailedTasks),
		zap.String("error", final.Error))
	c.escalateFailure(final)
}

// escalateFailure hands a failure record to the knowledge store. This is
// fire-and-forget: a storage failure must not fail the workflow twice.
func (c *Coordinator) escalateFailure(snap *Snapshot) {
	if c.knowledge == nil {
		return
	}
	elapsed := 0.0
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		elapsed = snap.CompletedAt.Sub(*snap.StartedAt).Seconds()
	}
	content := map[string]any{
		"workflow_id":           snap.ID,
		"goal":                  snap.Goal,
		"error":                 snap.Error,
		"failed_tasks":          snap.FailedTasks,
		"completion_percentage": snap.Progress,
		"elapsed_seconds":       elapsed,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.knowledge.Store(ctx, "workflow_failure", content, []string{"failure", "orchestration"}); err != nil {
			c.logger.Warn("failure record not persisted",
				zap.String("workflow", snap.ID),
				zap.Error(err))
		}
	}()
}

// persist snapshots the workflow to durable storage, logging failures only.
func (c *Coordinator) persist(w *Workflow) {
	if c.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.persister.SaveWorkflow(ctx, w); err != nil {
		c.logger.Warn("workflow not persisted",
			zap.String("workflow", w.ID),
			zap.Error(err))
	}
}

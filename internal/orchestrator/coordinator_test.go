package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/agent"
)

func newTestCoordinator(t *testing.T, agents ...*agent.Agent) *Coordinator {
	t.Helper()
	logger := zap.NewNop()
	reg := agent.NewRegistry(logger)
	for _, a := range agents {
		reg.Register(a)
	}
	perf := NewPerformanceTracker()
	sched := NewScheduler(4, logger)
	disp := NewDispatcher(reg, perf, nil, time.Second, logger)
	disp.backoff = testBackoff
	planner := NewPlanner(DefaultMaxRetries, logger)
	return NewCoordinator(reg, sched, disp, planner, perf, 16, logger)
}

func startCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)
}

func workTask(id, agentID string, prio Priority, deps ...string) *Task {
	return &Task{
		ID:           id,
		Name:         id,
		TargetAgent:  agentID,
		Action:       "run",
		Parameters:   map[string]any{"task": id, "deps": deps},
		Dependencies: deps,
		Priority:     prio,
	}
}

func waitForStatus(t *testing.T, c *Coordinator, id string, want WorkflowStatus) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last *Snapshot
	for time.Now().Before(deadline) {
		snap, err := c.MonitorWorkflow(id)
		if err == nil {
			if snap.Status == want {
				return snap
			}
			last = snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached %s, last snapshot: %+v", id, want, last)
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// execLog records task completion order and flags dependency violations:
// a task starting before all of its declared dependencies finished.
type execLog struct {
	mu         sync.Mutex
	order      []string
	done       map[string]bool
	violations []string
}

func newExecLog() *execLog {
	return &execLog{done: make(map[string]bool)}
}

func (l *execLog) agent(id string) *agent.Agent {
	return agent.New(id, id, "test").Handle("run", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		taskID, _ := params["task"].(string)
		deps, _ := params["deps"].([]string)

		l.mu.Lock()
		for _, dep := range deps {
			if !l.done[dep] {
				l.violations = append(l.violations, fmt.Sprintf("%s started before %s finished", taskID, dep))
			}
		}
		l.mu.Unlock()

		time.Sleep(time.Millisecond)

		l.mu.Lock()
		l.done[taskID] = true
		l.order = append(l.order, taskID)
		l.mu.Unlock()
		return map[string]any{"ok": true}, nil
	})
}

func (l *execLog) executed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *execLog) indexOf(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.order {
		if got == id {
			return i
		}
	}
	return -1
}

func (l *execLog) check(t *testing.T) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.violations {
		t.Errorf("dependency violation: %s", v)
	}
}

func TestSequentialExecutionOrder(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "fanin", []*Task{
		workTask("t1", "worker", PriorityHigh),
		workTask("t2", "worker", PriorityHigh),
		workTask("t3", "worker", PriorityLow, "t1", "t2"),
	}, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	snap := waitForStatus(t, c, id, WorkflowCompleted)
	if snap.CompletedTasks != 3 || snap.FailedTasks != 0 {
		t.Errorf("completed=%d failed=%d, want 3/0", snap.CompletedTasks, snap.FailedTasks)
	}
	if snap.Progress != 100 {
		t.Errorf("progress = %v, want 100", snap.Progress)
	}
	if log.indexOf("t3") < log.indexOf("t1") || log.indexOf("t3") < log.indexOf("t2") {
		t.Errorf("t3 finished before its dependencies: %v", log.executed())
	}
	log.check(t)
}

func TestStrategiesReachSameOutcome(t *testing.T) {
	for _, strategy := range []Strategy{StrategySequential, StrategyParallel, StrategyPriority} {
		t.Run(string(strategy), func(t *testing.T) {
			log := newExecLog()
			c := newTestCoordinator(t, log.agent("worker"))
			startCoordinator(t, c)

			// Diamond plus a straggler.
			id, err := c.CreateWorkflowFromTasks(context.Background(), "diamond", []*Task{
				workTask("root", "worker", PriorityCritical),
				workTask("left", "worker", PriorityHigh, "root"),
				workTask("right", "worker", PriorityMedium, "root"),
				workTask("join", "worker", PriorityHigh, "left", "right"),
				workTask("tail", "worker", PriorityLow, "join"),
			}, strategy)
			if err != nil {
				t.Fatalf("CreateWorkflowFromTasks: %v", err)
			}
			if err := c.ExecuteWorkflow(id, ""); err != nil {
				t.Fatalf("ExecuteWorkflow: %v", err)
			}

			snap := waitForStatus(t, c, id, WorkflowCompleted)
			if snap.CompletedTasks != 5 || snap.FailedTasks != 0 {
				t.Errorf("completed=%d failed=%d, want 5/0", snap.CompletedTasks, snap.FailedTasks)
			}
			log.check(t)
		})
	}
}

func TestRandomDAGHonorsDependencies(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 16

	for _, strategy := range []Strategy{StrategyParallel, StrategyPriority} {
		t.Run(string(strategy), func(t *testing.T) {
			log := newExecLog()
			c := newTestCoordinator(t, log.agent("worker"))
			startCoordinator(t, c)

			// Edges only point backward, so the graph is acyclic by
			// construction.
			tasks := make([]*Task, 0, n)
			for i := 0; i < n; i++ {
				var deps []string
				for j := 0; j < i; j++ {
					if rng.Intn(4) == 0 {
						deps = append(deps, fmt.Sprintf("n%d", j))
					}
				}
				prio := Priority(rng.Intn(4) + 1)
				tasks = append(tasks, workTask(fmt.Sprintf("n%d", i), "worker", prio, deps...))
			}

			id, err := c.CreateWorkflowFromTasks(context.Background(), "random dag", tasks, strategy)
			if err != nil {
				t.Fatalf("CreateWorkflowFromTasks: %v", err)
			}
			if err := c.ExecuteWorkflow(id, ""); err != nil {
				t.Fatalf("ExecuteWorkflow: %v", err)
			}

			snap := waitForStatus(t, c, id, WorkflowCompleted)
			if snap.CompletedTasks != n {
				t.Errorf("completed = %d, want %d", snap.CompletedTasks, n)
			}
			log.check(t)
		})
	}
}

func TestDependencyCycleFailsWorkflow(t *testing.T) {
	for _, strategy := range []Strategy{StrategySequential, StrategyParallel, StrategyPriority} {
		t.Run(string(strategy), func(t *testing.T) {
			log := newExecLog()
			c := newTestCoordinator(t, log.agent("worker"))
			startCoordinator(t, c)

			id, err := c.CreateWorkflowFromTasks(context.Background(), "cyclic", []*Task{
				workTask("a", "worker", PriorityMedium, "b"),
				workTask("b", "worker", PriorityMedium, "a"),
			}, strategy)
			if err != nil {
				t.Fatalf("CreateWorkflowFromTasks: %v", err)
			}
			if err := c.ExecuteWorkflow(id, ""); err != nil {
				t.Fatalf("ExecuteWorkflow: %v", err)
			}

			snap := waitForStatus(t, c, id, WorkflowFailed)
			if !strings.Contains(snap.Error, ErrDependencyCycle.Error()) {
				t.Errorf("workflow error = %q, want dependency cycle", snap.Error)
			}
			if got := log.executed(); len(got) != 0 {
				t.Errorf("cyclic workflow executed tasks: %v", got)
			}
		})
	}
}

func TestFailedTaskBlocksDependentsAndFailsWorkflow(t *testing.T) {
	faulty := agent.New("faulty", "faulty", "test").Handle("run", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("detector misaligned")
	})
	log := newExecLog()
	c := newTestCoordinator(t, faulty, log.agent("worker"))
	startCoordinator(t, c)

	bad := workTask("bad", "faulty", PriorityHigh)
	bad.MaxRetries = 1
	id, err := c.CreateWorkflowFromTasks(context.Background(), "failing", []*Task{
		bad,
		workTask("after", "worker", PriorityMedium, "bad"),
	}, StrategyPriority)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	snap := waitForStatus(t, c, id, WorkflowFailed)
	if snap.FailedTasks != 1 {
		t.Errorf("failed tasks = %d, want 1", snap.FailedTasks)
	}
	if snap.TaskCounts[TaskPending] != 1 {
		t.Errorf("dependent task should stay pending, counts = %v", snap.TaskCounts)
	}
	if got := log.executed(); len(got) != 0 {
		t.Errorf("dependent of a failed task executed: %v", got)
	}

	w := c.lookupAny(id)
	bad = w.Task("bad")
	if bad.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", bad.RetryCount)
	}
}

func TestConfigurationErrorNotRetried(t *testing.T) {
	c := newTestCoordinator(t)
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "misconfigured", []*Task{
		workTask("t1", "nonexistent", PriorityHigh),
	}, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	waitForStatus(t, c, id, WorkflowFailed)
	w := c.lookupAny(id)
	task := w.Task("t1")
	if task.RetryCount != 0 {
		t.Errorf("configuration error retried %d times, want 0", task.RetryCount)
	}
	if !strings.Contains(task.Error, ErrAgentNotFound.Error()) {
		t.Errorf("task error = %q, want agent-not-found", task.Error)
	}
}

func TestCancelWorkflow(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	executed := make(map[string]bool)
	blocker := agent.New("worker", "worker", "test").Handle("run", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		taskID, _ := params["task"].(string)
		mu.Lock()
		executed[taskID] = true
		mu.Unlock()
		select {
		case <-gate:
			return map[string]any{"ok": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	c := newTestCoordinator(t, blocker)
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "cancellable", []*Task{
		workTask("t1", "worker", PriorityHigh),
		workTask("t2", "worker", PriorityHigh),
		workTask("t3", "worker", PriorityMedium, "t1", "t2"),
		workTask("t4", "worker", PriorityMedium, "t1", "t2"),
		workTask("t5", "worker", PriorityLow, "t3", "t4"),
	}, StrategyParallel)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	waitFor(t, func() bool {
		snap, err := c.MonitorWorkflow(id)
		return err == nil && snap.TaskCounts[TaskRunning] == 2
	}, "first level never started")

	if err := c.CancelWorkflow(id); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}

	// Cancel is terminal and immediate: the workflow is already historical
	// and pending tasks are cancelled before the in-flight ones drain.
	snap, err := c.MonitorWorkflow(id)
	if err != nil {
		t.Fatalf("MonitorWorkflow after cancel: %v", err)
	}
	if snap.Status != WorkflowCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	if snap.TaskCounts[TaskCancelled] != 3 {
		t.Errorf("cancelled tasks = %d, want 3", snap.TaskCounts[TaskCancelled])
	}

	// In-flight tasks finish naturally once unblocked.
	close(gate)
	waitFor(t, func() bool {
		snap, err := c.MonitorWorkflow(id)
		return err == nil && snap.TaskCounts[TaskCompleted] == 2
	}, "in-flight tasks never drained")

	final, _ := c.MonitorWorkflow(id)
	if final.Status != WorkflowCancelled {
		t.Errorf("status after drain = %s, want cancelled", final.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 2 {
		t.Errorf("executed tasks = %v, want only t1 and t2", executed)
	}
	for _, id := range []string{"t3", "t4", "t5"} {
		if executed[id] {
			t.Errorf("task %s dispatched after cancel", id)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var executed []string
	worker := agent.New("worker", "worker", "test").Handle("run", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		taskID, _ := params["task"].(string)
		if taskID == "t1" {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		mu.Lock()
		executed = append(executed, taskID)
		mu.Unlock()
		return map[string]any{"ok": true}, nil
	})

	c := newTestCoordinator(t, worker)
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "pausable", []*Task{
		workTask("t1", "worker", PriorityHigh),
		workTask("t2", "worker", PriorityMedium, "t1"),
		workTask("t3", "worker", PriorityLow, "t2"),
	}, StrategyParallel)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	waitFor(t, func() bool {
		snap, err := c.MonitorWorkflow(id)
		return err == nil && snap.TaskCounts[TaskRunning] == 1
	}, "t1 never started")

	if err := c.PauseWorkflow(id); err != nil {
		t.Fatalf("PauseWorkflow: %v", err)
	}
	close(gate)

	// The in-flight task completes; nothing new is dispatched.
	waitFor(t, func() bool {
		snap, err := c.MonitorWorkflow(id)
		return err == nil && snap.TaskCounts[TaskCompleted] == 1
	}, "t1 never completed after pause")
	time.Sleep(20 * time.Millisecond)
	snap, _ := c.MonitorWorkflow(id)
	if snap.Status != WorkflowPaused {
		t.Fatalf("status = %s, want paused", snap.Status)
	}
	if snap.TaskCounts[TaskPending] != 2 {
		t.Errorf("paused workflow dispatched new tasks, counts = %v", snap.TaskCounts)
	}

	if err := c.ResumeWorkflow(id); err != nil {
		t.Fatalf("ResumeWorkflow: %v", err)
	}

	final := waitForStatus(t, c, id, WorkflowCompleted)
	if final.CompletedTasks != 3 {
		t.Errorf("completed = %d, want 3", final.CompletedTasks)
	}
	// Resume always restarts conservatively.
	if final.Strategy != StrategySequential {
		t.Errorf("strategy after resume = %s, want sequential", final.Strategy)
	}
}

func TestLifecycleTransitionRules(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))

	id, err := c.CreateWorkflowFromTasks(context.Background(), "rules", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}

	// Pending workflows cannot be paused or resumed.
	if err := c.PauseWorkflow(id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause pending: got %v, want ErrInvalidTransition", err)
	}
	if err := c.ResumeWorkflow(id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resume pending: got %v, want ErrInvalidTransition", err)
	}

	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	// A second execute hits a non-pending workflow.
	if err := c.ExecuteWorkflow(id, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double execute: got %v, want ErrInvalidTransition", err)
	}

	// Cancel is allowed pre-run and is terminal.
	if err := c.CancelWorkflow(id); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}
	if err := c.CancelWorkflow(id); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("cancel twice: got %v, want ErrWorkflowNotFound", err)
	}

	if _, err := c.MonitorWorkflow("no-such-id"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("monitor unknown: got %v, want ErrWorkflowNotFound", err)
	}
	if err := c.ExecuteWorkflow("no-such-id", ""); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("execute unknown: got %v, want ErrWorkflowNotFound", err)
	}
}

// knowledgeStub captures failure escalations.
type knowledgeStub struct {
	mu      sync.Mutex
	entries []escalation
	signal  chan struct{}
}

type escalation struct {
	entryType string
	content   map[string]any
	tags      []string
}

func newKnowledgeStub() *knowledgeStub {
	return &knowledgeStub{signal: make(chan struct{}, 8)}
}

func (k *knowledgeStub) Store(ctx context.Context, entryType string, content map[string]any, tags []string) (string, error) {
	k.mu.Lock()
	k.entries = append(k.entries, escalation{entryType: entryType, content: content, tags: tags})
	k.mu.Unlock()
	k.signal <- struct{}{}
	return "entry-1", nil
}

func TestFailureEscalatesToKnowledgeStore(t *testing.T) {
	faulty := agent.New("faulty", "faulty", "test").Handle("run", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("cavity lock lost")
	})
	c := newTestCoordinator(t, faulty)
	ks := newKnowledgeStub()
	c.SetKnowledge(ks)
	startCoordinator(t, c)

	bad := workTask("bad", "faulty", PriorityHigh)
	bad.MaxRetries = 1
	id, err := c.CreateWorkflowFromTasks(context.Background(), "probe entangled pair fidelity", []*Task{bad}, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	waitForStatus(t, c, id, WorkflowFailed)

	select {
	case <-ks.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("failure was never escalated to the knowledge store")
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	rec := ks.entries[0]
	if rec.entryType != "workflow_failure" {
		t.Errorf("entry type = %s, want workflow_failure", rec.entryType)
	}
	if rec.content["workflow_id"] != id {
		t.Errorf("content workflow_id = %v, want %s", rec.content["workflow_id"], id)
	}
	if rec.content["goal"] != "probe entangled pair fidelity" {
		t.Errorf("content goal = %v", rec.content["goal"])
	}
	if rec.content["failed_tasks"] != 1 {
		t.Errorf("content failed_tasks = %v, want 1", rec.content["failed_tasks"])
	}
	foundTag := false
	for _, tag := range rec.tags {
		if tag == "failure" {
			foundTag = true
		}
	}
	if !foundTag {
		t.Errorf("tags = %v, want to include failure", rec.tags)
	}
}

func TestCompletedWorkflowNotEscalated(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	ks := newKnowledgeStub()
	c.SetKnowledge(ks)
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "fine", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	waitForStatus(t, c, id, WorkflowCompleted)

	select {
	case <-ks.signal:
		t.Fatal("successful workflow must not write a failure record")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateWorkflowFromGoal(t *testing.T) {
	c := newTestCoordinator(t)

	id, err := c.CreateWorkflow(context.Background(), "maximize squeezing below shot noise", []string{"noise floor"}, nil, "")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	snap, err := c.MonitorWorkflow(id)
	if err != nil {
		t.Fatalf("MonitorWorkflow: %v", err)
	}
	if snap.Status != WorkflowPending {
		t.Errorf("status = %s, want pending", snap.Status)
	}
	if snap.Strategy != StrategyAdaptive {
		t.Errorf("empty strategy should default to adaptive, got %s", snap.Strategy)
	}
	if snap.TotalTasks != 4 {
		t.Errorf("planned tasks = %d, want 4", snap.TotalTasks)
	}

	if _, err := c.CreateWorkflow(context.Background(), "", nil, nil, ""); err == nil {
		t.Error("empty goal should be rejected")
	}
}

func TestQueueFullRollsBackToPending(t *testing.T) {
	logger := zap.NewNop()
	reg := agent.NewRegistry(logger)
	perf := NewPerformanceTracker()
	sched := NewScheduler(4, logger)
	disp := NewDispatcher(reg, perf, nil, time.Second, logger)
	planner := NewPlanner(DefaultMaxRetries, logger)
	c := NewCoordinator(reg, sched, disp, planner, perf, 1, logger)
	// No Start: the queue never drains.

	first, _ := c.CreateWorkflowFromTasks(context.Background(), "first", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)
	second, _ := c.CreateWorkflowFromTasks(context.Background(), "second", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)

	if err := c.ExecuteWorkflow(first, ""); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := c.ExecuteWorkflow(second, ""); err == nil {
		t.Fatal("second execute should fail with a full queue")
	}

	snap, _ := c.MonitorWorkflow(second)
	if snap.Status != WorkflowPending {
		t.Errorf("rejected workflow status = %s, want pending for re-submission", snap.Status)
	}
}

func TestAdaptiveWorkflowCompletes(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "adaptive run", []*Task{
		workTask("t1", "worker", PriorityHigh),
		workTask("t2", "worker", PriorityMedium, "t1"),
	}, StrategyAdaptive)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	snap := waitForStatus(t, c, id, WorkflowCompleted)
	if snap.CompletedTasks != 2 {
		t.Errorf("completed = %d, want 2", snap.CompletedTasks)
	}
	log.check(t)
}

func TestHistoryAndActiveListings(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	startCoordinator(t, c)

	done, _ := c.CreateWorkflowFromTasks(context.Background(), "done", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)
	if err := c.ExecuteWorkflow(done, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	waitForStatus(t, c, done, WorkflowCompleted)

	idle, _ := c.CreateWorkflowFromTasks(context.Background(), "idle", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)

	active := c.ActiveWorkflows()
	if len(active) != 1 || active[0].ID != idle {
		t.Errorf("active = %v", snapshotIDs(active))
	}
	hist := c.History()
	if len(hist) != 1 || hist[0].ID != done {
		t.Errorf("history = %v", snapshotIDs(hist))
	}
}

func TestSnapshotDuringLifecycleCommands(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	// Not started: the workflow sits in the queue while commands and
	// snapshots interleave.

	id, err := c.CreateWorkflowFromTasks(context.Background(), "contended", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategyAdaptive)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := c.MonitorWorkflow(id); err != nil {
				return
			}
		}
	}()

	if err := c.ExecuteWorkflow(id, StrategyParallel); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if err := c.PauseWorkflow(id); err != nil {
		t.Fatalf("PauseWorkflow: %v", err)
	}
	if err := c.ResumeWorkflow(id); err != nil {
		t.Fatalf("ResumeWorkflow: %v", err)
	}
	close(done)
	wg.Wait()

	snap, err := c.MonitorWorkflow(id)
	if err != nil {
		t.Fatalf("MonitorWorkflow: %v", err)
	}
	if snap.Strategy != StrategySequential {
		t.Errorf("strategy after resume = %s, want sequential", snap.Strategy)
	}
}

func TestCancelConcurrentWithScheduling(t *testing.T) {
	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	startCoordinator(t, c)

	for i := 0; i < 8; i++ {
		id, err := c.CreateWorkflowFromTasks(context.Background(), "contended cancel", []*Task{
			workTask("a", "worker", PriorityCritical),
			workTask("b", "worker", PriorityHigh),
			workTask("c", "worker", PriorityMedium, "a"),
			workTask("d", "worker", PriorityMedium, "b"),
			workTask("e", "worker", PriorityLow, "c", "d"),
		}, StrategyParallel)
		if err != nil {
			t.Fatalf("CreateWorkflowFromTasks: %v", err)
		}
		if err := c.ExecuteWorkflow(id, ""); err != nil {
			t.Fatalf("ExecuteWorkflow: %v", err)
		}

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := c.MonitorWorkflow(id); err != nil {
					return
				}
			}
		}()

		// Land the cancel at a different point of the run each round.
		time.Sleep(time.Duration(i) * time.Millisecond)
		switch err := c.CancelWorkflow(id); {
		case err == nil:
		case errors.Is(err, ErrWorkflowNotFound), errors.Is(err, ErrInvalidTransition):
			// The workflow finished first.
		default:
			t.Fatalf("CancelWorkflow: %v", err)
		}

		waitFor(t, func() bool {
			snap, err := c.MonitorWorkflow(id)
			return err == nil && snap.Status.Terminal() && snap.TaskCounts[TaskRunning] == 0
		}, "workflow never settled after cancel")
		close(done)
		wg.Wait()

		snap, _ := c.MonitorWorkflow(id)
		if snap.CompletedTasks+snap.FailedTasks > snap.TotalTasks {
			t.Errorf("counters exceed total: %+v", snap)
		}
		if snap.Status == WorkflowCompleted && snap.CompletedTasks != snap.TotalTasks {
			t.Errorf("completed workflow with %d of %d tasks done", snap.CompletedTasks, snap.TotalTasks)
		}
		if snap.Status == WorkflowCancelled {
			if n := snap.TaskCounts[TaskPending]; n != 0 {
				t.Errorf("cancelled workflow left %d tasks pending", n)
			}
		}
	}
	log.check(t)
}

func TestDefaultStrategyConfigurable(t *testing.T) {
	c := newTestCoordinator(t)
	c.SetDefaultStrategy(StrategyPriority)

	id, err := c.CreateWorkflow(context.Background(), "interferometer alignment", nil, nil, "")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	snap, _ := c.MonitorWorkflow(id)
	if snap.Strategy != StrategyPriority {
		t.Errorf("strategy = %s, want configured default priority", snap.Strategy)
	}

	// Invalid values keep the current default.
	c.SetDefaultStrategy("")
	c.SetDefaultStrategy("round-robin")
	id, err = c.CreateWorkflowFromTasks(context.Background(), "still priority", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, "")
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	snap, _ = c.MonitorWorkflow(id)
	if snap.Strategy != StrategyPriority {
		t.Errorf("strategy = %s, want priority after rejecting invalid defaults", snap.Strategy)
	}

	// An explicit strategy always wins over the default.
	id, err = c.CreateWorkflow(context.Background(), "explicit", nil, nil, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	snap, _ = c.MonitorWorkflow(id)
	if snap.Strategy != StrategySequential {
		t.Errorf("strategy = %s, want the explicit sequential", snap.Strategy)
	}
}

func snapshotIDs(snaps []*Snapshot) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	return ids
}

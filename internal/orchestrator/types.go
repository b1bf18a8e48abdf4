package orchestrator

import (
	"errors"
	"sync"
	"time"
)

// Strategy selects how a workflow's tasks are scheduled.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyPriority   Strategy = "priority"
	StrategyAdaptive   Strategy = "adaptive"
)

// TaskStatus tracks execution state of a single task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// WorkflowStatus tracks the lifecycle of a workflow plan.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the status is immutable.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// Priority orders runnable tasks within a scheduling batch.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// DefaultMaxRetries bounds transient-failure retries per task.
const DefaultMaxRetries = 3

var (
	// ErrWorkflowNotFound is returned for lookups of unknown workflow IDs.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrAgentNotFound marks a configuration error: the task's target agent
	// is not registered. Never retried.
	ErrAgentNotFound = errors.New("target agent not found")
	// ErrDependencyCycle is reported when scheduling finds no runnable task
	// while pending tasks remain.
	ErrDependencyCycle = errors.New("dependency cycle detected")
	// ErrInvalidTransition is returned for lifecycle commands issued against
	// a workflow whose status does not allow them.
	ErrInvalidTransition = errors.New("invalid workflow state transition")
	// ErrTaskTimeout marks a per-task execution deadline expiry.
	ErrTaskTimeout = errors.New("task execution timed out")
)

// Task is the atomic unit of work: one action on one agent.
type Task struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	Name         string         `json:"name"`
	TargetAgent  string         `json:"target_agent"`
	Action       string         `json:"action"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     Priority       `json:"priority"`
	Status       TaskStatus     `json:"status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Workflow owns an ordered list of tasks sharing one experimental goal.
// Tasks never outlive their workflow. Aggregate counters are guarded by mu;
// concurrent task completions for the same workflow serialize on it.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Goal        string    `json:"goal"`
	Strategy    Strategy  `json:"strategy"`
	Tasks       []*Task   `json:"tasks"`
	CreatedAt   time.Time `json:"created_at"`

	// exec serializes scheduling passes so a resume cannot overlap a pass
	// that is still winding down.
	exec sync.Mutex

	mu             sync.Mutex
	status         WorkflowStatus
	completedTasks int
	failedTasks    int
	startedAt      *time.Time
	completedAt    *time.Time
	lastError      string
}

// StatusNow returns the current workflow status.
func (w *Workflow) StatusNow() WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// StrategyNow returns the current scheduling strategy.
func (w *Workflow) StrategyNow() Strategy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Strategy
}

// setStrategy replaces the scheduling strategy under the counter lock, so a
// concurrent Snapshot never observes a torn write.
func (w *Workflow) setStrategy(s Strategy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Strategy = s
}

// setStatus transitions the workflow unconditionally. Callers validate first.
func (w *Workflow) setStatus(s WorkflowStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

// transition moves the workflow from one of the allowed source states to
// next, or returns ErrInvalidTransition.
func (w *Workflow) transition(next WorkflowStatus, from ...WorkflowStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range from {
		if w.status == f {
			w.status = next
			return nil
		}
	}
	return ErrInvalidTransition
}

// markStarted stamps the execution start time once.
func (w *Workflow) markStarted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startedAt == nil {
		now := time.Now()
		w.startedAt = &now
	}
}

// startTask marks a pending task running with its attempt start time. It
// returns false when the task is no longer pending, which happens when a
// cancel lands between scheduling and dispatch.
func (w *Workflow) startTask(t *Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.Status != TaskPending {
		return false
	}
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
	return true
}

// retryTask records a transient failure and resets the task for another
// attempt. Aggregate failure counters only move on terminal failure.
func (w *Workflow) retryTask(t *Task, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t.Status = TaskFailed
	t.Error = errMsg
	t.RetryCount++
	t.Status = TaskPending
}

// completeTask applies a successful task result atomically.
func (w *Workflow) completeTask(t *Task, result map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	t.Status = TaskCompleted
	t.Result = result
	t.CompletedAt = &now
	w.completedTasks++
}

// failTask applies a terminal task failure atomically.
func (w *Workflow) failTask(t *Task, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	t.Status = TaskFailed
	t.Error = errMsg
	t.CompletedAt = &now
	w.failedTasks++
	w.lastError = errMsg
}

// finish stamps completion time and terminal status.
func (w *Workflow) finish(s WorkflowStatus, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.Terminal() {
		return
	}
	now := time.Now()
	w.status = s
	w.completedAt = &now
	if errMsg != "" {
		w.lastError = errMsg
	}
}

// readyToRun reports whether the task is pending with every dependency
// completed. The whole check is one atomic read; without it a cancel flipping
// task statuses could interleave with a scheduling pass mid-scan.
func (w *Workflow) readyToRun(t *Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.Status != TaskPending {
		return false
	}
	for _, dep := range t.Dependencies {
		d := w.Task(dep)
		if d == nil || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// countStatus returns how many tasks currently hold the given status.
func (w *Workflow) countStatus(s TaskStatus) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, t := range w.Tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

// TaskViews returns a consistent copy of every task, taken under the counter
// lock. Persistence reads these instead of the live tasks, which in-flight
// attempts keep mutating.
func (w *Workflow) TaskViews() []Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	views := make([]Task, len(w.Tasks))
	for i, t := range w.Tasks {
		views[i] = *t
	}
	return views
}

// Task returns the task with the given ID, or nil.
func (w *Workflow) Task(id string) *Task {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Snapshot is a point-in-time view of a workflow for status queries.
type Snapshot struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Goal                string             `json:"goal"`
	Strategy            Strategy           `json:"strategy"`
	Status              WorkflowStatus     `json:"status"`
	TotalTasks          int                `json:"total_tasks"`
	CompletedTasks      int                `json:"completed_tasks"`
	FailedTasks         int                `json:"failed_tasks"`
	Progress            float64            `json:"progress_percentage"`
	TaskCounts          map[TaskStatus]int `json:"task_counts"`
	Error               string             `json:"error,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	EstimatedRemaining  *float64           `json:"estimated_remaining_seconds,omitempty"`
}

// Snapshot captures status, counters and per-status task counts atomically.
func (w *Workflow) Snapshot() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	counts := make(map[TaskStatus]int)
	for _, t := range w.Tasks {
		counts[t.Status]++
	}

	total := len(w.Tasks)
	progress := 0.0
	if total > 0 {
		progress = float64(w.completedTasks) / float64(total) * 100
	}

	snap := &Snapshot{
		ID:             w.ID,
		Name:           w.Name,
		Goal:           w.Goal,
		Strategy:       w.Strategy,
		Status:         w.status,
		TotalTasks:     total,
		CompletedTasks: w.completedTasks,
		FailedTasks:    w.failedTasks,
		Progress:       progress,
		TaskCounts:     counts,
		Error:          w.lastError,
		CreatedAt:      w.CreatedAt,
		StartedAt:      w.startedAt,
		CompletedAt:    w.completedAt,
	}

	// Linear extrapolation: remaining = elapsed/progress × (100 − progress).
	if w.status == WorkflowRunning && w.startedAt != nil && progress > 0 {
		elapsed := time.Since(*w.startedAt).Seconds()
		remaining := elapsed / progress * (100 - progress)
		snap.EstimatedRemaining = &remaining
	}
	return snap
}

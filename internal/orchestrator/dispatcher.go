package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/agent"
)

// DefaultBackoff is the retry delay schedule, indexed by attempt number.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// DefaultTaskTimeout bounds a single task attempt.
const DefaultTaskTimeout = 5 * time.Minute

// Dispatcher executes one task end-to-end: agent lookup, bounded-time
// execution, retry with backoff, and performance accounting. It holds no
// cross-task locks; all shared mutation goes through the workflow's and the
// tracker's own serialization.
type Dispatcher struct {
	registry *agent.Registry
	perf     *PerformanceTracker
	bus      *EventBus
	timeout  time.Duration
	backoff  []time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with the default backoff schedule.
func NewDispatcher(registry *agent.Registry, perf *PerformanceTracker, bus *EventBus, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Dispatcher{
		registry: registry,
		perf:     perf,
		bus:      bus,
		timeout:  timeout,
		backoff:  DefaultBackoff,
		logger:   logger,
	}
}

type execResult struct {
	result map[string]any
	err    error
}

// Dispatch runs a task to a terminal status (completed or failed), retrying
// transient failures with backoff. A paused or cancelled workflow aborts
// before the next attempt, leaving the task pending.
func (d *Dispatcher) Dispatch(ctx context.Context, w *Workflow, t *Task) {
	for {
		if st := w.StatusNow(); st != WorkflowRunning {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if !w.startTask(t) {
			return
		}
		d.logger.Info("dispatching task",
			zap.String("workflow", w.ID),
			zap.String("task", t.ID),
			zap.String("agent", t.TargetAgent),
			zap.String("action", t.Action),
			zap.Int("attempt", t.RetryCount+1))

		ag, ok := d.registry.Get(t.TargetAgent)
		if !ok {
			// Configuration error: fail immediately, no retry.
			msg := fmt.Sprintf("%v: %s", ErrAgentNotFound, t.TargetAgent)
			w.failTask(t, msg)
			d.publish(w, t, EventTaskFailed, msg)
			d.logger.Error("task failed", zap.String("task", t.ID), zap.String("error", msg))
			return
		}

		result, elapsed, err := d.execute(ctx, ag, t)
		if err == nil {
			w.completeTask(t, result)
			d.perf.Record(t.TargetAgent, true, elapsed)
			d.publish(w, t, EventTaskCompleted, "")
			d.logger.Info("task completed",
				zap.String("task", t.ID),
				zap.Duration("elapsed", elapsed))
			return
		}

		d.perf.Record(t.TargetAgent, false, elapsed)

		if errors.Is(err, agent.ErrUnknownAction) {
			// Invalid action name is a configuration error, not transient.
			w.failTask(t, err.Error())
			d.publish(w, t, EventTaskFailed, err.Error())
			d.logger.Error("task failed", zap.String("task", t.ID), zap.Error(err))
			return
		}

		if t.RetryCount >= t.MaxRetries {
			w.failTask(t, err.Error())
			d.publish(w, t, EventTaskFailed, err.Error())
			d.logger.Error("task failed, retries exhausted",
				zap.String("task", t.ID),
				zap.Int("attempts", t.RetryCount+1),
				zap.Error(err))
			return
		}

		w.retryTask(t, err.Error())
		delay := d.retryDelay(t.RetryCount)
		d.logger.Warn("task attempt failed, retrying",
			zap.String("task", t.ID),
			zap.Int("retry", t.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// execute runs one attempt, bounded by the per-task timeout. The action is
// not preempted; on timeout the attempt is abandoned and its eventual result
// discarded.
func (d *Dispatcher) execute(ctx context.Context, ag *agent.Agent, t *Task) (map[string]any, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan execResult, 1)
	go func() {
		res, err := ag.Execute(attemptCtx, t.Action, t.Parameters)
		done <- execResult{result: res, err: err}
	}()

	select {
	case r := <-done:
		return r.result, time.Since(start), r.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, d.timeout, fmt.Errorf("%w after %s", ErrTaskTimeout, d.timeout)
		}
		return nil, time.Since(start), attemptCtx.Err()
	}
}

// retryDelay returns the backoff delay for the given retry count (1-based).
func (d *Dispatcher) retryDelay(retryCount int) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

func (d *Dispatcher) publish(w *Workflow, t *Task, evType EventType, errMsg string) {
	d.bus.Publish(context.Background(), &Event{
		WorkflowID: w.ID,
		TaskID:     t.ID,
		Type:       evType,
		Agent:      t.TargetAgent,
		Action:     t.Action,
		Error:      errMsg,
	})
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/orchestrator"
)

// SaveWorkflow upserts a workflow snapshot and its tasks. Task rows come from
// a locked copy, so a cancel persisted while attempts are still draining
// writes a consistent view.
func (s *Store) SaveWorkflow(ctx context.Context, w *orchestrator.Workflow) error {
	snap := w.Snapshot()

	_, err := s.db.Exec(ctx, `
		INSERT INTO workflows (id, name, goal, strategy, status, total_tasks, completed_tasks, failed_tasks, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			strategy = EXCLUDED.strategy,
			completed_tasks = EXCLUDED.completed_tasks,
			failed_tasks = EXCLUDED.failed_tasks,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		snap.ID, snap.Name, snap.Goal, string(snap.Strategy), string(snap.Status),
		snap.TotalTasks, snap.CompletedTasks, snap.FailedTasks, snap.Error,
		snap.CreatedAt, snap.StartedAt, snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", snap.ID, err)
	}

	for _, t := range w.TaskViews() {
		if err := s.saveTask(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveTask(ctx context.Context, t *orchestrator.Task) error {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("marshal task %s parameters: %w", t.ID, err)
	}
	result, err := json.Marshal(t.Result)
	if err != nil {
		return fmt.Errorf("marshal task %s result: %w", t.ID, err)
	}
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal task %s dependencies: %w", t.ID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO tasks (id, workflow_id, name, target_agent, action, parameters, dependencies, priority, status, retry_count, max_retries, result, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (workflow_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		t.ID, t.WorkflowID, t.Name, t.TargetAgent, t.Action, params, deps,
		int(t.Priority), string(t.Status), t.RetryCount, t.MaxRetries,
		result, t.Error, t.CreatedAt, t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// WorkflowRow is a stored workflow snapshot.
type WorkflowRow struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Goal           string     `json:"goal"`
	Strategy       string     `json:"strategy"`
	Status         string     `json:"status"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// GetWorkflow reads one stored workflow snapshot.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*WorkflowRow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, goal, strategy, status, total_tasks, completed_tasks, failed_tasks, COALESCE(error,''), created_at, started_at, completed_at
		FROM workflows WHERE id = $1`, id)

	var w WorkflowRow
	err := row.Scan(&w.ID, &w.Name, &w.Goal, &w.Strategy, &w.Status,
		&w.TotalTasks, &w.CompletedTasks, &w.FailedTasks, &w.Error,
		&w.CreatedAt, &w.StartedAt, &w.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return &w, nil
}

// ListWorkflows returns stored workflow snapshots, newest first.
func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]*WorkflowRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, goal, strategy, status, total_tasks, completed_tasks, failed_tasks, COALESCE(error,''), created_at, started_at, completed_at
		FROM workflows ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowRow
	for rows.Next() {
		var w WorkflowRow
		if err := rows.Scan(&w.ID, &w.Name, &w.Goal, &w.Strategy, &w.Status,
			&w.TotalTasks, &w.CompletedTasks, &w.FailedTasks, &w.Error,
			&w.CreatedAt, &w.StartedAt, &w.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType classifies workflow lifecycle events.
type EventType string

const (
	EventWorkflowCreated   EventType = "workflow_created"
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowPaused    EventType = "workflow_paused"
	EventWorkflowResumed   EventType = "workflow_resumed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
)

// Event is one lifecycle notification published to the stream.
type Event struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Type       EventType `json:"type"`
	Agent      string    `json:"agent,omitempty"`
	Action     string    `json:"action,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const streamPrefix = "anubuddhi:workflow:"

// EventBus publishes workflow lifecycle events to Redis Streams. All
// publishing is fire-and-forget: the orchestration loop never fails because
// the bus does. A nil bus is valid and drops everything.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewEventBus connects to Redis and verifies the connection.
func NewEventBus(redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

// Publish appends an event to the workflow's stream.
func (b *EventBus) Publish(ctx context.Context, ev *Event) {
	if b == nil || b.rdb == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("marshal event", zap.Error(err))
		return
	}

	stream := streamPrefix + ev.WorkflowID
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		b.logger.Warn("publish event",
			zap.String("stream", stream),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// History reads back up to limit events for a workflow, oldest first.
func (b *EventBus) History(ctx context.Context, workflowID string, limit int64) ([]*Event, error) {
	if b == nil || b.rdb == nil {
		return nil, nil
	}
	msgs, err := b.rdb.XRangeN(ctx, streamPrefix+workflowID, "-", "+", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", workflowID, err)
	}

	events := make([]*Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			b.logger.Warn("decode event", zap.Error(err))
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// Close releases the Redis connection.
func (b *EventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

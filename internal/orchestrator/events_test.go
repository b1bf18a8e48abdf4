package orchestrator

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

func TestEventBusPublishAndHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	bus, err := NewEventBus(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	bus.Publish(ctx, &Event{WorkflowID: "wf-1", Type: EventWorkflowCreated})
	bus.Publish(ctx, &Event{WorkflowID: "wf-1", TaskID: "t1", Type: EventTaskCompleted, Agent: "designer", Action: "design_experiment"})
	bus.Publish(ctx, &Event{WorkflowID: "wf-1", Type: EventWorkflowCompleted})
	bus.Publish(ctx, &Event{WorkflowID: "wf-other", Type: EventWorkflowCreated})

	events, err := bus.History(ctx, "wf-1", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	wantTypes := []EventType{EventWorkflowCreated, EventTaskCompleted, EventWorkflowCompleted}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}
	if events[1].TaskID != "t1" || events[1].Agent != "designer" {
		t.Errorf("task event payload = %+v", events[1])
	}
	for _, ev := range events {
		if ev.ID == "" {
			t.Error("event IDs should be assigned on publish")
		}
		if ev.Timestamp.IsZero() {
			t.Error("event timestamps should be stamped on publish")
		}
	}
}

func TestEventBusWorkflowLifecycleStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	bus, err := NewEventBus(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	defer bus.Close()

	log := newExecLog()
	c := newTestCoordinator(t, log.agent("worker"))
	c.SetBus(bus)
	startCoordinator(t, c)

	id, err := c.CreateWorkflowFromTasks(context.Background(), "observed", []*Task{
		workTask("t1", "worker", PriorityMedium),
	}, StrategySequential)
	if err != nil {
		t.Fatalf("CreateWorkflowFromTasks: %v", err)
	}
	if err := c.ExecuteWorkflow(id, ""); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	waitForStatus(t, c, id, WorkflowCompleted)

	var events []*Event
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, err = bus.History(context.Background(), id, 100)
		if err == nil && len(events) >= 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	seen := make(map[EventType]bool)
	for _, ev := range events {
		seen[ev.Type] = true
	}
	for _, want := range []EventType{EventWorkflowCreated, EventWorkflowStarted, EventTaskCompleted, EventWorkflowCompleted} {
		if !seen[want] {
			t.Errorf("stream missing %s event, got %v", want, seen)
		}
	}
}

func TestNilEventBusIsSafe(t *testing.T) {
	var bus *EventBus
	bus.Publish(context.Background(), &Event{WorkflowID: "wf", Type: EventWorkflowCreated})

	events, err := bus.History(context.Background(), "wf", 10)
	if err != nil || events != nil {
		t.Errorf("nil bus History = (%v, %v), want (nil, nil)", events, err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("nil bus Close = %v", err)
	}
}

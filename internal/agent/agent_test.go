package agent

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func TestAgentExecute(t *testing.T) {
	a := New("analyzer", "Analysis Agent", "analysis").
		Handle("analyze_results", func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"objective": params["objective"]}, nil
		})

	result, err := a.Execute(context.Background(), "analyze_results", map[string]any{"objective": "visibility"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["objective"] != "visibility" {
		t.Errorf("result = %v", result)
	}
}

func TestAgentUnknownAction(t *testing.T) {
	a := New("analyzer", "Analysis Agent", "analysis")

	_, err := a.Execute(context.Background(), "calibrate_laser", nil)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("got %v, want ErrUnknownAction", err)
	}
}

func TestAgentCapabilities(t *testing.T) {
	a := New("designer", "Design Agent", "design").
		Handle("design_experiment", nil).
		Handle("refine_design", nil)

	caps := a.Capabilities()
	sort.Strings(caps)
	if len(caps) != 2 || caps[0] != "design_experiment" || caps[1] != "refine_design" {
		t.Errorf("capabilities = %v", caps)
	}
}

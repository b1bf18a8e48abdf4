package orchestrator

import (
	"sync"
	"time"
)

// AgentPerformance is the rolling record for one agent. Mutated only by the
// dispatcher immediately after a task completes or fails.
type AgentPerformance struct {
	AgentID        string        `json:"agent_id"`
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	AvgResponse    time.Duration `json:"avg_response_ns"`
	SuccessRate    float64       `json:"success_rate"`
	Score          float64       `json:"score"`
}

// PerformanceTracker keeps one record per agent. Updates for different agents
// never contend; updates for the same agent serialize on the tracker lock.
type PerformanceTracker struct {
	mu      sync.RWMutex
	records map[string]*AgentPerformance
}

// NewPerformanceTracker creates an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{records: make(map[string]*AgentPerformance)}
}

// Record applies one observed task outcome as a single read-modify-write.
func (p *PerformanceTracker) Record(agentID string, success bool, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[agentID]
	if !ok {
		rec = &AgentPerformance{AgentID: agentID}
		p.records[agentID] = rec
	}

	rec.TotalTasks++
	if success {
		rec.CompletedTasks++
	} else {
		rec.FailedTasks++
	}

	// Rolling mean over all observations.
	n := time.Duration(rec.TotalTasks)
	rec.AvgResponse = (rec.AvgResponse*(n-1) + elapsed) / n

	rec.SuccessRate = float64(rec.CompletedTasks) / float64(rec.TotalTasks)
	rec.Score = compositeScore(rec.SuccessRate, rec.AvgResponse)
}

// compositeScore blends success rate with normalized latency. A faster agent
// with an equal success rate scores higher.
func compositeScore(successRate float64, avg time.Duration) float64 {
	latencyScore := 1.0 / (1.0 + avg.Seconds())
	return 0.7*successRate + 0.3*latencyScore
}

// Get returns a copy of one agent's record.
func (p *PerformanceTracker) Get(agentID string) (AgentPerformance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[agentID]
	if !ok {
		return AgentPerformance{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all records keyed by agent ID.
func (p *PerformanceTracker) Snapshot() map[string]AgentPerformance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]AgentPerformance, len(p.records))
	for id, rec := range p.records {
		out[id] = *rec
	}
	return out
}

package core

import (
	"sync"
)

// Statistics is a read-only snapshot of the aggregator's rolling counters
type Statistics struct {
	ObservationsAnalyzed uint64                      `json:"observations_analyzed"`
	DecisionsByKind      map[FirewallDecision]uint64 `json:"decisions_by_kind"`
	DetectionEvents      uint64                      `json:"detection_events"`
	ThreatsProcessed     uint64                      `json:"threats_processed"`
	PlansGenerated       uint64                      `json:"plans_generated"`
	PlansByStatus        map[PlanStatus]uint64       `json:"plans_by_status"`
	ErrorsByKind         map[ErrorKind]uint64        `json:"errors_by_kind"`
	AvgAnalysisMicros    float64                     `json:"avg_analysis_micros"`
	AvgResponseMillis    float64                     `json:"avg_response_millis"`
	LearningCycles       uint64                      `json:"learning_cycles"`
}

// StatsAggregator keeps the pipeline's rolling counters and cumulative
// average latencies. Every update applies all of its fields under one
// critical section so a reader never sees a counter without its latency
// sample.
type StatsAggregator struct {
	mu    sync.Mutex
	stats Statistics
}

// NewStatsAggregator creates an empty aggregator
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		stats: Statistics{
			DecisionsByKind: make(map[FirewallDecision]uint64),
			PlansByStatus:   make(map[PlanStatus]uint64),
			ErrorsByKind:    make(map[ErrorKind]uint64),
		},
	}
}

// RecordAnalysis records one completed observation analysis: the decision,
// whether a detection event was emitted, and the analysis latency in
// microseconds.
func (a *StatsAggregator) RecordAnalysis(decision FirewallDecision, detected bool, micros float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.ObservationsAnalyzed++
	a.stats.DecisionsByKind[decision]++
	if detected {
		a.stats.DetectionEvents++
	}
	n := float64(a.stats.ObservationsAnalyzed)
	a.stats.AvgAnalysisMicros = (a.stats.AvgAnalysisMicros*(n-1) + micros) / n
}

// RecordThreat records one accepted threat event and its planning latency
// in milliseconds
func (a *StatsAggregator) RecordThreat(millis float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.ThreatsProcessed++
	a.stats.PlansGenerated++
	n := float64(a.stats.PlansGenerated)
	a.stats.AvgResponseMillis = (a.stats.AvgResponseMillis*(n-1) + millis) / n
}

// RecordPlanTerminal records a plan reaching a terminal status
func (a *StatsAggregator) RecordPlanTerminal(status PlanStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.PlansByStatus[status]++
}

// RecordError counts a classified error
func (a *StatsAggregator) RecordError(kind ErrorKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.ErrorsByKind[kind]++
}

// RecordLearningCycle counts one completed learning cycle
func (a *StatsAggregator) RecordLearningCycle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.LearningCycles++
}

// Snapshot copies the current statistics
func (a *StatsAggregator) Snapshot() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.stats
	out.DecisionsByKind = make(map[FirewallDecision]uint64, len(a.stats.DecisionsByKind))
	for k, v := range a.stats.DecisionsByKind {
		out.DecisionsByKind[k] = v
	}
	out.PlansByStatus = make(map[PlanStatus]uint64, len(a.stats.PlansByStatus))
	for k, v := range a.stats.PlansByStatus {
		out.PlansByStatus[k] = v
	}
	out.ErrorsByKind = make(map[ErrorKind]uint64, len(a.stats.ErrorsByKind))
	for k, v := range a.stats.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	return out
}

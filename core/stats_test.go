package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsAggregatorRecordAnalysis(t *testing.T) {
	agg := NewStatsAggregator()

	agg.RecordAnalysis(DecisionAllow, false, 100)
	agg.RecordAnalysis(DecisionBlock, true, 300)

	stats := agg.Snapshot()
	assert.Equal(t, uint64(2), stats.ObservationsAnalyzed)
	assert.Equal(t, uint64(1), stats.DecisionsByKind[DecisionAllow])
	assert.Equal(t, uint64(1), stats.DecisionsByKind[DecisionBlock])
	assert.Equal(t, uint64(1), stats.DetectionEvents)
	assert.InDelta(t, 200.0, stats.AvgAnalysisMicros, 0.001)
}

func TestStatsAggregatorCumulativeAverage(t *testing.T) {
	agg := NewStatsAggregator()
	for i := 1; i <= 10; i++ {
		agg.RecordAnalysis(DecisionAllow, false, float64(i*10))
	}
	stats := agg.Snapshot()
	assert.InDelta(t, 55.0, stats.AvgAnalysisMicros, 0.001)
}

func TestStatsAggregatorLinearizableUnderConcurrency(t *testing.T) {
	agg := NewStatsAggregator()

	const goroutines = 16
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				agg.RecordAnalysis(DecisionAlert, true, 50)
				agg.RecordThreat(2)
				agg.RecordPlanTerminal(PlanCompleted)
			}
		}()
	}
	wg.Wait()

	stats := agg.Snapshot()
	assert.Equal(t, uint64(goroutines*perGoroutine), stats.ObservationsAnalyzed)
	assert.Equal(t, uint64(goroutines*perGoroutine), stats.DetectionEvents)
	assert.Equal(t, uint64(goroutines*perGoroutine), stats.ThreatsProcessed)
	assert.Equal(t, uint64(goroutines*perGoroutine), stats.PlansByStatus[PlanCompleted])
	assert.InDelta(t, 50.0, stats.AvgAnalysisMicros, 0.001)
}

func TestStatsSnapshotIsIsolated(t *testing.T) {
	agg := NewStatsAggregator()
	agg.RecordAnalysis(DecisionAllow, false, 10)

	snap := agg.Snapshot()
	snap.DecisionsByKind[DecisionBlock] = 99

	fresh := agg.Snapshot()
	assert.Zero(t, fresh.DecisionsByKind[DecisionBlock])
}

func TestDecisionSeverityOrdering(t *testing.T) {
	ordered := []FirewallDecision{
		DecisionAllow, DecisionAlert, DecisionRateLimit,
		DecisionQuarantine, DecisionRedirect, DecisionBlock,
	}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].MoreSevereThan(ordered[i-1]),
			"%s should outrank %s", ordered[i], ordered[i-1])
	}
	assert.Equal(t, DecisionBlock, MaxDecision(DecisionAlert, DecisionBlock))
	assert.Equal(t, DecisionBlock, MaxDecision(DecisionBlock, DecisionAlert))
}

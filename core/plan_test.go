package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeThreatEvent(id string, category ThreatCategory, severity ThreatSeverity) ThreatEvent {
	return ThreatEvent{
		ID:         id,
		Category:   category,
		Severity:   severity,
		Confidence: 0.85,
		Source:     "192.168.1.100",
		Target:     "192.168.1.1",
		Timestamp:  time.Now().UTC(),
	}
}

func TestPlanLifecycleHappyPath(t *testing.T) {
	plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatPortScan, SeverityMedium),
		[]ResponseAction{ActionAlert, ActionBlockIP}, 50, 300*time.Second)

	assert.Equal(t, PlanCreated, plan.Status())
	assert.False(t, plan.Status().IsTerminal())

	require.NoError(t, plan.Begin())
	assert.Equal(t, PlanInProgress, plan.Status())
	assert.False(t, plan.StartedAt().IsZero())

	require.NoError(t, plan.Complete())
	assert.Equal(t, PlanCompleted, plan.Status())
	assert.True(t, plan.Status().IsTerminal())
	assert.False(t, plan.EndedAt().IsZero())
}

func TestPlanDoubleBeginRejected(t *testing.T) {
	plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatPortScan, SeverityMedium),
		[]ResponseAction{ActionAlert}, 50, time.Minute)

	require.NoError(t, plan.Begin())
	err := plan.Begin()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, PlanInProgress, plan.Status())
}

func TestPlanTerminalStatesAreClosed(t *testing.T) {
	finishers := map[PlanStatus]func(*ResponsePlan) error{
		PlanCompleted: func(p *ResponsePlan) error { return p.Complete() },
		PlanFailed:    func(p *ResponsePlan) error { return p.Fail(ActionBlockIP, "firewall rejected rule") },
		PlanTimedOut:  func(p *ResponsePlan) error { return p.Expire() },
		PlanCancelled: func(p *ResponsePlan) error { return p.Cancel() },
	}

	for terminal, finish := range finishers {
		t.Run(terminal.String(), func(t *testing.T) {
			plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatMalware, SeverityHigh),
				[]ResponseAction{ActionBlockIP}, 70, time.Minute)
			require.NoError(t, plan.Begin())
			require.NoError(t, finish(plan))
			require.True(t, plan.Status().IsTerminal())

			// Every further transition is rejected and leaves state unchanged
			assert.True(t, errors.Is(plan.Begin(), ErrInvalidTransition))
			assert.True(t, errors.Is(plan.Complete(), ErrInvalidTransition))
			assert.True(t, errors.Is(plan.Fail(ActionAlert, "x"), ErrInvalidTransition))
			assert.True(t, errors.Is(plan.Expire(), ErrInvalidTransition))
			assert.True(t, errors.Is(plan.Cancel(), ErrInvalidTransition))
			assert.Equal(t, terminal, plan.Status())
		})
	}
}

func TestPlanFailRecordsReason(t *testing.T) {
	plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatBruteForce, SeverityHigh),
		[]ResponseAction{ActionAlert, ActionBlockIP}, 70, time.Minute)
	require.NoError(t, plan.Begin())
	require.NoError(t, plan.Fail(ActionBlockIP, "upstream firewall unreachable"))

	failure := plan.Failure()
	require.NotNil(t, failure)
	assert.Equal(t, ActionBlockIP, failure.Action)
	assert.Equal(t, "upstream firewall unreachable", failure.Detail)
}

func TestPlanCancelFromCreated(t *testing.T) {
	plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatXSS, SeverityLow),
		[]ResponseAction{ActionMonitor}, 30, time.Minute)
	require.NoError(t, plan.Cancel())
	assert.Equal(t, PlanCancelled, plan.Status())
}

func TestPlanConcurrentExecuteCancelOneWinner(t *testing.T) {
	// First writer to observe a non-terminal state wins; the loser is
	// rejected, not queued.
	for i := 0; i < 50; i++ {
		plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatDenialOfService, SeverityCritical),
			[]ResponseAction{ActionBlockIP}, 90, time.Minute)

		var wg sync.WaitGroup
		results := make(chan error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results <- plan.Begin()
		}()
		go func() {
			defer wg.Done()
			results <- plan.Cancel()
		}()
		wg.Wait()
		close(results)

		var failures int
		for err := range results {
			if err != nil {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				failures++
			}
		}
		// Cancel is legal from both Created and InProgress, so the plan
		// always ends Cancelled; Begin fails only when Cancel got there
		// first.
		assert.Equal(t, PlanCancelled, plan.Status())
		assert.LessOrEqual(t, failures, 1)
	}
}

func TestPlanSnapshotIsStable(t *testing.T) {
	plan := NewResponsePlan(makeThreatEvent("threat-1", ThreatPortScan, SeverityMedium),
		[]ResponseAction{ActionAlert, ActionBlockIP}, 50, time.Minute)
	require.NoError(t, plan.Begin())

	snap := plan.Snapshot()
	assert.Equal(t, PlanInProgress, snap.Status)

	// Mutating the snapshot's action slice must not affect the plan
	snap.Actions[0] = ActionEmergencyShutdown
	assert.Equal(t, ActionAlert, plan.Actions[0])
}

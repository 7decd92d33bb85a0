package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"icarus/core"
	"icarus/seal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestArchive(t *testing.T) (*Archive, *seal.Sealer) {
	t.Helper()
	sealer, err := seal.NewSealer()
	require.NoError(t, err)

	archive, err := NewArchive(filepath.Join(t.TempDir(), "archive.db"), sealer, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	return archive, sealer
}

func terminalPlan(t *testing.T, threatID string) core.PlanSnapshot {
	t.Helper()
	plan := core.NewResponsePlan(core.ThreatEvent{
		ID:         threatID,
		Category:   core.ThreatPortScan,
		Severity:   core.SeverityMedium,
		Confidence: 0.9,
		Source:     "203.0.113.7",
		Target:     "10.0.0.2",
		Timestamp:  time.Now().UTC(),
		Metadata:   map[string]string{"decision": "block"},
	}, []core.ResponseAction{core.ActionAlert, core.ActionBlockIP}, 50, time.Minute)

	require.NoError(t, plan.Begin())
	require.NoError(t, plan.Complete())
	return plan.Snapshot()
}

func TestArchive_RoundTripVerifiesSeal(t *testing.T) {
	archive, _ := newTestArchive(t)
	snapshot := terminalPlan(t, "threat-1")

	require.NoError(t, archive.ArchivePlan(context.Background(), snapshot))

	record, err := archive.Plan(context.Background(), snapshot.ID)
	require.NoError(t, err)

	assert.True(t, record.Sealed)
	assert.True(t, record.Verified)
	assert.Equal(t, snapshot.ID, record.Plan.ID)
	assert.Equal(t, core.PlanCompleted, record.Plan.Status)
	assert.Equal(t, "threat-1", record.Plan.ThreatEvent.ID)
	assert.Equal(t, snapshot.Actions, record.Plan.Actions)
	assert.Equal(t, "block", record.Plan.ThreatEvent.Metadata["decision"])
}

func TestArchive_RejectsNonTerminalPlan(t *testing.T) {
	archive, _ := newTestArchive(t)

	plan := core.NewResponsePlan(core.ThreatEvent{
		ID:         "threat-1",
		Category:   core.ThreatMalware,
		Severity:   core.SeverityMedium,
		Confidence: 0.5,
	}, nil, 50, time.Minute)

	err := archive.ArchivePlan(context.Background(), plan.Snapshot())
	require.Error(t, err)
	assert.Equal(t, core.ErrKindValidation, core.KindOf(err))
}

func TestArchive_TamperingIsDetected(t *testing.T) {
	archive, _ := newTestArchive(t)
	snapshot := terminalPlan(t, "threat-1")

	require.NoError(t, archive.ArchivePlan(context.Background(), snapshot))

	// Flip one byte of the stored payload behind the archive's back
	_, err := archive.db.Exec(`
		UPDATE archived_plans
		SET payload = X'00' || substr(payload, 2)
		WHERE plan_id = ?`, snapshot.ID)
	require.NoError(t, err)

	records, err := archive.Audit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Sealed)
	assert.False(t, records[0].Verified)
}

func TestArchive_PlansByThreat(t *testing.T) {
	archive, _ := newTestArchive(t)

	first := terminalPlan(t, "threat-1")
	second := terminalPlan(t, "threat-1")
	other := terminalPlan(t, "threat-2")

	for _, snapshot := range []core.PlanSnapshot{first, second, other} {
		require.NoError(t, archive.ArchivePlan(context.Background(), snapshot))
	}

	records, err := archive.PlansByThreat(context.Background(), "threat-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, "threat-1", record.Plan.ThreatEvent.ID)
		assert.True(t, record.Verified)
	}
}

func TestArchive_PlanNotFound(t *testing.T) {
	archive, _ := newTestArchive(t)

	_, err := archive.Plan(context.Background(), "plan-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestArchive_ReArchivingOverwrites(t *testing.T) {
	archive, _ := newTestArchive(t)
	snapshot := terminalPlan(t, "threat-1")

	require.NoError(t, archive.ArchivePlan(context.Background(), snapshot))
	require.NoError(t, archive.ArchivePlan(context.Background(), snapshot))

	records, err := archive.Audit(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

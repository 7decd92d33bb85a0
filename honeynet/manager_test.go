package honeynet

import (
	"sync"
	"testing"
	"time"

	"icarus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg, zap.NewNop().Sugar())
	m.Start()
	return m
}

func TestManager_CreateEnvironment(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	env, err := m.Create(EnvWebServer)
	require.NoError(t, err)

	assert.Equal(t, EnvWebServer, env.Type)
	assert.Equal(t, EnvReady, env.State)
	assert.Contains(t, env.ExposedServices, "http")
	assert.NotEmpty(t, env.VirtualIP)

	stats := m.Snapshot()
	assert.Equal(t, uint64(1), stats.EnvironmentsCreated)
	assert.Equal(t, 1, stats.ActiveEnvironments)
}

func TestManager_CreateRejectsUnknownType(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	_, err := m.Create(EnvironmentType("mainframe"))
	require.Error(t, err)
	assert.Equal(t, core.ErrKindValidation, core.KindOf(err))
}

func TestManager_CreateRejectsBeforeStart(t *testing.T) {
	m := NewManager(DefaultConfig(), zap.NewNop().Sugar())

	_, err := m.Create(EnvWebServer)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotOperational)
}

func TestManager_CapacityLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEnvironments = 2
	m := newTestManager(t, cfg)

	_, err := m.Create(EnvWebServer)
	require.NoError(t, err)
	_, err = m.Create(EnvDatabase)
	require.NoError(t, err)

	_, err = m.Create(EnvIoT)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)

	// Terminating one frees a slot
	envs := m.Environments()
	require.NoError(t, m.Terminate(envs[0].ID))
	_, err = m.Create(EnvIoT)
	assert.NoError(t, err)
}

func TestManager_ActivateAndRecord(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	env, err := m.Create(EnvWebServer)
	require.NoError(t, err)

	// Recording before activation is a lifecycle violation
	_, err = m.RecordAttackEvent(env.ID, "sql_injection", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	require.NoError(t, m.Activate(env.ID, "192.168.1.100"))

	// Double activation is rejected
	err = m.Activate(env.ID, "192.168.1.101")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	event, err := m.RecordAttackEvent(env.ID, "sql_injection", map[string]string{
		"payload": "' OR 1=1 --",
	})
	require.NoError(t, err)
	assert.Equal(t, env.ID, event.EnvironmentID)
	assert.Equal(t, "192.168.1.100", event.Source)
	assert.Equal(t, "sql_injection", event.AttackType)

	// The event is delivered on the telemetry stream
	select {
	case got := <-m.Telemetry():
		assert.Equal(t, event.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("telemetry event not delivered")
	}
}

func TestManager_TelemetryOverflowDropsInsteadOfBlocking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TelemetryBuffer = 1
	m := newTestManager(t, cfg)

	env, err := m.Create(EnvDatabase)
	require.NoError(t, err)
	require.NoError(t, m.Activate(env.ID, "10.1.2.3"))

	// With nobody draining the channel, the second record must not block
	_, err = m.RecordAttackEvent(env.ID, "brute_force", nil)
	require.NoError(t, err)
	_, err = m.RecordAttackEvent(env.ID, "brute_force", nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), m.Snapshot().AttacksRecorded)
}

func TestManager_TerminateUnknown(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	err := m.Terminate("env-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestManager_ReapIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTTL = 10 * time.Millisecond
	m := newTestManager(t, cfg)

	env, err := m.Create(EnvWorkstation)
	require.NoError(t, err)
	require.NoError(t, m.Activate(env.ID, "172.16.0.9"))

	// Ready environments are never reaped, only idle active sessions
	_, err = m.Create(EnvWebServer)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, m.ReapIdle())
	assert.Equal(t, 1, m.Snapshot().ActiveEnvironments)
}

func TestManager_StopRacesRecordAttackEvent(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	env, err := m.Create(EnvWebServer)
	require.NoError(t, err)
	require.NoError(t, m.Activate(env.ID, "10.9.8.7"))

	// Recorders must never send on the channel Stop closes, no matter how
	// the goroutines interleave
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordAttackEvent(env.ID, "port_scan", nil)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range m.Telemetry() {
		}
	}()

	time.Sleep(time.Millisecond)
	m.Stop()
	wg.Wait()

	// Repeated Stop is tolerated
	m.Stop()
}

func TestManager_StopClosesTelemetry(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	_, err := m.Create(EnvWebServer)
	require.NoError(t, err)

	m.Stop()

	_, open := <-m.Telemetry()
	assert.False(t, open)
	assert.Equal(t, 0, m.Snapshot().ActiveEnvironments)
}

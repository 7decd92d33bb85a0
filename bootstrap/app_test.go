package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"icarus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, format string, args ...interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "icarus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(format, args...)), 0o644))
	return path
}

func TestNewApp_DefaultWiring(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, `
log:
  level: error
archive:
  path: %s/archive.db
  key_path: %s/seal.key
api:
  host: 127.0.0.1
  port: %d
`, dataDir, dataDir, freePort(t))

	app, err := NewApp(context.Background(), cfgPath)
	require.NoError(t, err)

	assert.NotNil(t, app.Thresholds)
	assert.NotNil(t, app.Learning)
	assert.NotNil(t, app.Firewall)
	assert.NotNil(t, app.Normalizer)
	assert.NotNil(t, app.Hub)
	assert.NotNil(t, app.Honeypots)
	assert.NotNil(t, app.Sealer)
	assert.NotNil(t, app.Archive)
	assert.NotNil(t, app.Orchestrator)
	assert.NotNil(t, app.APIServer)

	// The sealing key is persisted for identity across restarts
	_, err = os.Stat(filepath.Join(dataDir, "seal.key"))
	assert.NoError(t, err)

	require.NoError(t, app.Start())
	app.Shutdown()
}

func TestNewApp_DisabledComponents(t *testing.T) {
	cfgPath := writeConfig(t, `
log:
  level: error
thresholds:
  adaptive: false
archive:
  enabled: false
honeynet:
  enabled: false
api:
  host: 127.0.0.1
  port: %d
`, freePort(t))

	app, err := NewApp(context.Background(), cfgPath)
	require.NoError(t, err)

	assert.Nil(t, app.Learning)
	assert.Nil(t, app.Honeypots)
	assert.Nil(t, app.Sealer)
	assert.Nil(t, app.Archive)

	require.NoError(t, app.Start())
	app.Shutdown()
}

func TestNewApp_RejectsBadConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
firewall:
  mode: paranoid
`)
	_, err := NewApp(context.Background(), cfgPath)
	assert.Error(t, err)
}

func TestApp_EndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	port := freePort(t)
	cfgPath := writeConfig(t, `
log:
  level: error
archive:
  path: %s/archive.db
  key_path: %s/seal.key
api:
  host: 127.0.0.1
  port: %d
`, dataDir, dataDir, port)

	app, err := NewApp(context.Background(), cfgPath)
	require.NoError(t, err)
	require.NoError(t, app.Start())
	defer app.Shutdown()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	body := bytes.NewBufferString(`{
		"source_address": "203.0.113.7",
		"source_port": 41000,
		"destination_address": "10.0.0.2",
		"destination_port": 443,
		"protocol": "tcp",
		"size": 1400,
		"traffic_class": "web"
	}`)
	resp, err := http.Post(base+"/api/v1/observations", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, uint64(1), app.Firewall.Stats().ObservationsAnalyzed)
}

func TestApp_InternalShutdownRequest(t *testing.T) {
	cfgPath := writeConfig(t, `
log:
  level: error
archive:
  enabled: false
api:
  host: 127.0.0.1
  port: %d
`, freePort(t))

	app, err := NewApp(context.Background(), cfgPath)
	require.NoError(t, err)
	require.NoError(t, app.Start())

	done := make(chan struct{})
	go func() {
		app.WaitForShutdown()
		close(done)
	}()

	app.requestShutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown request did not unblock WaitForShutdown")
	}
	app.Shutdown()
}

func TestSubmitThroughPipeline(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, `
log:
  level: error
archive:
  path: %s/archive.db
  key_path: %s/seal.key
api:
  host: 127.0.0.1
  port: %d
`, dataDir, dataDir, freePort(t))

	app, err := NewApp(context.Background(), cfgPath)
	require.NoError(t, err)
	require.NoError(t, app.Start())
	defer app.Shutdown()

	event := core.ThreatEvent{
		ID:         "threat-e2e",
		Category:   core.ThreatPortScan,
		Severity:   core.SeverityMedium,
		Confidence: 0.9,
		Source:     "203.0.113.7",
		Target:     "10.0.0.2",
		Timestamp:  time.Now().UTC(),
	}
	plan, err := app.Orchestrator.SubmitThreat(context.Background(), event)
	require.NoError(t, err)
	require.NoError(t, app.Orchestrator.Execute(context.Background(), plan.ID))
	assert.Equal(t, core.PlanCompleted, plan.Status())

	// Terminal plans land in the sealed archive
	record, err := app.Archive.Plan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.True(t, record.Sealed)
	assert.True(t, record.Verified)
	assert.Equal(t, "threat-e2e", record.Plan.ThreatEvent.ID)
}

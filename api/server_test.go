package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"icarus/core"
	"icarus/detect"
	"icarus/ml"
	"icarus/response"
	"icarus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fixedOracle always returns the same score
type fixedOracle struct {
	score float64
}

func (o fixedOracle) Score(ctx context.Context, fv core.FeatureVector) (float64, error) {
	return o.score, nil
}

type testEnv struct {
	server       *Server
	firewall     *detect.Firewall
	orchestrator *response.Orchestrator
	thresholds   *ml.ThresholdManager
}

func newTestEnv(t *testing.T, score float64, auditor PlanAuditor) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	thresholds, err := ml.NewThresholdManager(ml.DefaultThresholdConfig(), logger)
	require.NoError(t, err)

	fw, err := detect.NewFirewall(context.Background(), detect.DefaultFirewallConfig(),
		fixedOracle{score: score}, thresholds, nil, logger)
	require.NoError(t, err)
	fw.Start()
	t.Cleanup(fw.Stop)

	registry := response.DefaultRegistry(nil, nil, nil, nil, logger)
	orch := response.NewOrchestrator(response.DefaultOrchestratorConfig(),
		nil, registry, nil, nil, logger)
	orch.Start()
	t.Cleanup(orch.Stop)

	cfg := ServerConfig{RateLimit: 1000, RateBurst: 1000}
	server := NewServer(cfg, fw, detect.NewNormalizer(nil, logger), orch, nil, auditor, nil, logger)
	t.Cleanup(func() { server.limiter.Stop() })

	return &testEnv{server: server, firewall: fw, orchestrator: orch, thresholds: thresholds}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func observationBody() map[string]interface{} {
	return map[string]interface{}{
		"source_address":      "203.0.113.7",
		"source_port":         41000,
		"destination_address": "10.0.0.2",
		"destination_port":    443,
		"protocol":            "tcp",
		"size":                1400,
		"traffic_class":       "web",
	}
}

func TestSubmitObservation_Allow(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "POST", "/api/v1/observations", observationBody())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "allow", body["decision"])
	assert.Nil(t, body["detection"])
	assert.Empty(t, body["plan_id"])
}

func TestSubmitObservation_EscalatesToPlan(t *testing.T) {
	env := newTestEnv(t, 0.90, nil)

	rec := env.request(t, "POST", "/api/v1/observations", observationBody())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "quarantine", body["decision"])
	require.NotNil(t, body["detection"])
	require.NotEmpty(t, body["threat_id"])
	planID, _ := body["plan_id"].(string)
	require.NotEmpty(t, planID)

	// The plan executes off the request path
	require.Eventually(t, func() bool {
		plan, err := env.orchestrator.Plan(planID)
		return err == nil && plan.Status().IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	plan, err := env.orchestrator.Plan(planID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanCompleted, plan.Status())
}

func TestSubmitObservation_InvalidBody(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	body := observationBody()
	delete(body, "source_address")
	rec := env.request(t, "POST", "/api/v1/observations", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitObservation_RejectsUnknownField(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	body := observationBody()
	body["surprise"] = true
	rec := env.request(t, "POST", "/api/v1/observations", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitObservation_NotOperational(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)
	env.firewall.State().Set(core.StateMaintenance)

	rec := env.request(t, "POST", "/api/v1/observations", observationBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func threatBody() map[string]interface{} {
	return map[string]interface{}{
		"category":   "port_scan",
		"severity":   "medium",
		"confidence": 0.9,
		"source":     "203.0.113.7",
		"target":     "10.0.0.2",
	}
}

func TestSubmitThreat_DeferredLifecycle(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "POST", "/api/v1/threats?execute=false", threatBody())
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "created", body["status"])
	planID, _ := body["id"].(string)
	require.NotEmpty(t, planID)

	rec = env.request(t, "POST", "/api/v1/plans/"+planID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		plan, err := env.orchestrator.Plan(planID)
		return err == nil && plan.Status().IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	// A terminal plan cannot be executed again
	rec = env.request(t, "POST", "/api/v1/plans/"+planID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, "GET", "/api/v1/plans/"+planID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeBody(t, rec)["status"])
}

func TestSubmitThreat_AutoExecutes(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "POST", "/api/v1/threats", threatBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	planID, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, planID)

	require.Eventually(t, func() bool {
		plan, err := env.orchestrator.Plan(planID)
		return err == nil && plan.Status().IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitThreat_UnknownSeverity(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	body := threatBody()
	body["severity"] = "apocalyptic"
	rec := env.request(t, "POST", "/api/v1/threats", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitThreat_UnknownCategory(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	body := threatBody()
	body["category"] = "weather"
	rec := env.request(t, "POST", "/api/v1/threats", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPlan(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "POST", "/api/v1/threats?execute=false", threatBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	planID, _ := decodeBody(t, rec)["id"].(string)

	rec = env.request(t, "POST", "/api/v1/plans/"+planID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeBody(t, rec)["status"])

	// Cancelling a terminal plan is a conflict, not a no-op
	rec = env.request(t, "POST", "/api/v1/plans/"+planID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetPlan_NotFound(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "GET", "/api/v1/plans/plan-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "POST", "/api/v1/observations", observationBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	firewall, ok := body["firewall"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), firewall["observations_analyzed"])
	assert.Contains(t, body, "response")
	assert.Nil(t, body["honeynet"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.firewall.State().Set(core.StateMaintenance)
	rec = env.request(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAudit_Disabled(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "GET", "/api/v1/audit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAudit_ServesArchivedPlans(t *testing.T) {
	archive, err := storage.NewArchive(filepath.Join(t.TempDir(), "audit.db"), nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	event := core.ThreatEvent{
		ID:         "threat-1",
		Category:   core.ThreatPortScan,
		Severity:   core.SeverityMedium,
		Confidence: 0.9,
		Source:     "203.0.113.7",
		Timestamp:  time.Now().UTC(),
	}
	plan := core.NewResponsePlan(event, []core.ResponseAction{core.ActionAlert}, 50, time.Minute)
	require.NoError(t, plan.Cancel())
	require.NoError(t, archive.ArchivePlan(context.Background(), plan.Snapshot()))

	env := newTestEnv(t, 0.10, archive)

	rec := env.request(t, "GET", "/api/v1/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = env.request(t, "GET", "/api/v1/audit/plans/"+plan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, "GET", "/api/v1/audit/threats/threat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = env.request(t, "GET", "/api/v1/audit/plans/plan-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAudit_RejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "GET", "/api/v1/audit?limit=borked", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitFeedback_Disabled(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	rec := env.request(t, "POST", "/api/v1/feedback", map[string]interface{}{
		"context":             "web",
		"false_positive_rate": 0.4,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFeedback_AdjustsThreshold(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)
	env.server.EnableLearningFeedback(env.thresholds, nil)

	rec := env.request(t, "POST", "/api/v1/feedback", map[string]interface{}{
		"context":             "web",
		"false_positive_rate": 0.5,
		"false_negative_rate": 0.0,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	before := env.thresholds.Threshold("web")
	env.thresholds.RunLearningCycle()
	assert.Greater(t, env.thresholds.Threshold("web"), before)
}

func TestSubmitFeedback_RejectsOutOfRange(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)
	env.server.EnableLearningFeedback(env.thresholds, nil)

	rec := env.request(t, "POST", "/api/v1/feedback", map[string]interface{}{
		"context":             "web",
		"false_positive_rate": 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	logger := zap.NewNop().Sugar()
	limiter := NewRateLimiter(1, 2, logger)
	t.Cleanup(limiter.Stop)

	assert.True(t, limiter.Allow("203.0.113.7"))
	assert.True(t, limiter.Allow("203.0.113.7"))
	assert.False(t, limiter.Allow("203.0.113.7"))

	// Distinct clients have independent buckets
	assert.True(t, limiter.Allow("198.51.100.1"))
}

func TestRateLimiting_Middleware(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)
	srv := NewServer(ServerConfig{RateLimit: 1, RateBurst: 1},
		env.firewall, env.server.normalizer, env.orchestrator, nil, nil, nil, zap.NewNop().Sugar())
	t.Cleanup(srv.limiter.Stop)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes[1:], http.StatusTooManyRequests)
}

func TestConcurrentObservations(t *testing.T) {
	env := newTestEnv(t, 0.10, nil)

	done := make(chan int, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			body := observationBody()
			body["id"] = fmt.Sprintf("obs-%d", n)
			rec := env.request(t, "POST", "/api/v1/observations", body)
			done <- rec.Code
		}(i)
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, http.StatusOK, <-done)
	}
	assert.Equal(t, uint64(8), env.firewall.Stats().ObservationsAnalyzed)
}

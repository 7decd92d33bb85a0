package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"icarus/core"
	"icarus/ml"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ObservationRequest is the request body for submitting an observation
type ObservationRequest struct {
	ID                 string            `json:"id,omitempty" validate:"max=128"`
	SourceAddress      string            `json:"source_address" validate:"required,max=256"`
	SourcePort         uint16            `json:"source_port"`
	DestinationAddress string            `json:"destination_address" validate:"required,max=256"`
	DestinationPort    uint16            `json:"destination_port"`
	Protocol           string            `json:"protocol" validate:"required,max=32"`
	Size               int               `json:"size" validate:"gte=0"`
	TrafficClass       core.TrafficClass `json:"traffic_class,omitempty"`
	PayloadSample      []byte            `json:"payload_sample,omitempty" validate:"max=4096"`
	Timestamp          *time.Time        `json:"timestamp,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

// ObservationResponse reports the verdict for one observation. PlanID is
// set when the detection escalated into a response plan.
type ObservationResponse struct {
	Decision  core.FirewallDecision `json:"decision"`
	Detection *core.DetectionEvent  `json:"detection,omitempty"`
	ThreatID  string                `json:"threat_id,omitempty"`
	PlanID    string                `json:"plan_id,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func (s *Server) submitObservation(w http.ResponseWriter, r *http.Request) {
	var req ObservationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	obs := core.Observation{
		ID:            req.ID,
		Source:        core.Endpoint{Address: req.SourceAddress, Port: req.SourcePort},
		Destination:   core.Endpoint{Address: req.DestinationAddress, Port: req.DestinationPort},
		Protocol:      req.Protocol,
		Size:          req.Size,
		TrafficClass:  req.TrafficClass,
		PayloadSample: req.PayloadSample,
		Metadata:      req.Metadata,
		Timestamp:     time.Now().UTC(),
	}
	if obs.ID == "" {
		obs.ID = "obs-" + uuid.NewString()
	}
	if obs.TrafficClass == "" {
		obs.TrafficClass = core.TrafficUnknown
	}
	if req.Timestamp != nil {
		obs.Timestamp = *req.Timestamp
	}

	decision, event, err := s.firewall.SubmitObservation(r.Context(), obs)
	if err != nil {
		kind := core.KindOf(err)
		if kind == core.ErrKindScoringUnavailable || kind == core.ErrKindScoringTimeout {
			// The fallback decision is still a verdict; the caller gets it
			// together with the cause
			writeJSON(w, http.StatusOK, ObservationResponse{
				Decision:  decision,
				Detection: event,
				Error:     err.Error(),
			})
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := ObservationResponse{Decision: decision, Detection: event}
	if event != nil {
		resp.ThreatID, resp.PlanID = s.escalate(r, *event)
	}
	writeJSON(w, http.StatusOK, resp)
}

// escalate turns a detection into a threat event and, unless deduplicated
// away, a response plan executing in the background. The observation
// verdict never waits on plan execution.
func (s *Server) escalate(r *http.Request, event core.DetectionEvent) (threatID, planID string) {
	threat := s.normalizer.Normalize(r.Context(), event)
	if threat == nil {
		return "", ""
	}

	plan, err := s.orchestrator.SubmitThreat(r.Context(), *threat)
	if err != nil {
		s.logger.Warnw("Detection escalation rejected",
			"detection_id", event.ID,
			"error", err)
		return threat.ID, ""
	}

	if plan.Status() == core.PlanCreated {
		go func() {
			if err := s.orchestrator.Execute(context.Background(), plan.ID); err != nil {
				s.logger.Warnw("Plan execution finished with error",
					"plan_id", plan.ID,
					"error", err)
			}
		}()
	}
	return threat.ID, plan.ID
}

// ThreatRequest is the request body for injecting a threat event directly,
// bypassing the detection pipeline
type ThreatRequest struct {
	ID         string              `json:"id,omitempty" validate:"max=128"`
	Category   core.ThreatCategory `json:"category" validate:"required"`
	Severity   string              `json:"severity" validate:"required"`
	Confidence float64             `json:"confidence" validate:"gte=0,lte=1"`
	Source     string              `json:"source" validate:"required,max=256"`
	Target     string              `json:"target,omitempty" validate:"max=256"`
	Metadata   map[string]string   `json:"metadata,omitempty" validate:"max=32"`
}

func (s *Server) submitThreat(w http.ResponseWriter, r *http.Request) {
	var req ThreatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	severity, ok := core.ParseSeverity(req.Severity)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown severity: "+req.Severity)
		return
	}

	event := core.ThreatEvent{
		ID:         req.ID,
		Category:   req.Category,
		Severity:   severity,
		Confidence: req.Confidence,
		Source:     req.Source,
		Target:     req.Target,
		Metadata:   req.Metadata,
		Timestamp:  time.Now().UTC(),
	}
	if event.ID == "" {
		event.ID = "threat-" + uuid.NewString()
	}

	plan, err := s.orchestrator.SubmitThreat(r.Context(), event)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	// Injected threats respond autonomously too unless the caller defers
	// execution to drive the plan manually
	if r.URL.Query().Get("execute") != "false" && plan.Status() == core.PlanCreated {
		go func() {
			if err := s.orchestrator.Execute(context.Background(), plan.ID); err != nil {
				s.logger.Warnw("Plan execution finished with error",
					"plan_id", plan.ID,
					"error", err)
			}
		}()
	}
	writeJSON(w, http.StatusAccepted, plan.Snapshot())
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.orchestrator.Plan(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan.Snapshot())
}

func (s *Server) executePlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["id"]
	plan, err := s.orchestrator.Plan(planID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if status := plan.Status(); status != core.PlanCreated {
		writeError(w, http.StatusConflict, "plan is "+status.String())
		return
	}

	go func() {
		if err := s.orchestrator.Execute(context.Background(), planID); err != nil {
			s.logger.Warnw("Plan execution finished with error",
				"plan_id", planID,
				"error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, plan.Snapshot())
}

func (s *Server) cancelPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["id"]
	if err := s.orchestrator.Cancel(planID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	plan, err := s.orchestrator.Plan(planID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan.Snapshot())
}

// FeedbackRequest carries observed detection quality for one decision
// context, feeding the adaptive thresholds
type FeedbackRequest struct {
	Context           string  `json:"context" validate:"required,max=128"`
	FalsePositiveRate float64 `json:"false_positive_rate" validate:"gte=0,lte=1"`
	FalseNegativeRate float64 `json:"false_negative_rate" validate:"gte=0,lte=1"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if s.thresholds == nil {
		writeError(w, http.StatusNotFound, "adaptive thresholds are disabled")
		return
	}

	var req FeedbackRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	s.thresholds.RecordFeedback(ml.Feedback{
		Context:           req.Context,
		FalsePositiveRate: req.FalsePositiveRate,
		FalseNegativeRate: req.FalseNegativeRate,
	})
	if s.learning != nil {
		s.learning.Trigger()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// StatsResponse aggregates the statistics of every subsystem
type StatsResponse struct {
	Firewall core.Statistics `json:"firewall"`
	Response core.Statistics `json:"response"`
	Honeynet *honeynetStats  `json:"honeynet,omitempty"`
}

type honeynetStats struct {
	EnvironmentsCreated uint64 `json:"environments_created"`
	ActiveEnvironments  int    `json:"active_environments"`
	AttacksRecorded     uint64 `json:"attacks_recorded"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Firewall: s.firewall.Stats(),
		Response: s.orchestrator.Stats(),
	}
	if s.honeypots != nil {
		snap := s.honeypots.Snapshot()
		resp.Honeynet = &honeynetStats{
			EnvironmentsCreated: snap.EnvironmentsCreated,
			ActiveEnvironments:  snap.ActiveEnvironments,
			AttacksRecorded:     snap.AttacksRecorded,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getHoneynet(w http.ResponseWriter, r *http.Request) {
	if s.honeypots == nil {
		writeError(w, http.StatusNotFound, "honeynet is disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":        s.honeypots.Snapshot(),
		"environments": s.honeypots.Environments(),
	})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusNotFound, "plan archive is disabled")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be within [1,1000]")
			return
		}
		limit = parsed
	}

	records, err := s.auditor.Audit(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) getAuditPlan(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusNotFound, "plan archive is disabled")
		return
	}
	record, err := s.auditor.Plan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) getAuditByThreat(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusNotFound, "plan archive is disabled")
		return
	}
	records, err := s.auditor.PlansByThreat(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	fwState := s.firewall.State().State()
	orchState := s.orchestrator.State().State()

	body := map[string]string{
		"firewall": fwState.String(),
		"response": orchState.String(),
	}
	status := http.StatusOK
	if fwState != core.StateOperational && fwState != core.StateLearning {
		status = http.StatusServiceUnavailable
	}
	if orchState != core.StateOperational {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// decodeBody decodes and validates a JSON request body, writing the error
// response itself on failure
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field: "+verrs[0].Field())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

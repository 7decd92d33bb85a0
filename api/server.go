// Package api exposes the detection pipeline, the response orchestrator,
// and the audit archive over HTTP, plus the live event feed over a
// websocket. Observation analysis is synchronous; plan execution is not.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"icarus/core"
	"icarus/detect"
	"icarus/honeynet"
	"icarus/ml"
	"icarus/response"
	"icarus/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PlanAuditor reads sealed plan records from the archive
type PlanAuditor interface {
	Audit(ctx context.Context, limit int) ([]storage.AuditRecord, error)
	Plan(ctx context.Context, planID string) (storage.AuditRecord, error)
	PlansByThreat(ctx context.Context, threatID string) ([]storage.AuditRecord, error)
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Host      string
	Port      int
	RateLimit float64
	RateBurst int
}

// Server is the HTTP front of the pipeline. The firewall, orchestrator,
// honeynet, auditor, and event feed are injected; auditor, honeypots, and
// feed may be nil, the routes degrade accordingly.
type Server struct {
	cfg          ServerConfig
	router       *mux.Router
	server       *http.Server
	firewall     *detect.Firewall
	normalizer   *detect.Normalizer
	orchestrator *response.Orchestrator
	honeypots    *honeynet.Manager
	auditor      PlanAuditor
	feed         http.Handler
	thresholds   *ml.ThresholdManager
	learning     *ml.LearningLoop
	validate     *validator.Validate
	limiter      *RateLimiter
	logger       *zap.SugaredLogger
}

// NewServer creates the server and wires its routes
func NewServer(cfg ServerConfig, fw *detect.Firewall, normalizer *detect.Normalizer, orch *response.Orchestrator, honeypots *honeynet.Manager, auditor PlanAuditor, feed http.Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 200
	}

	s := &Server{
		cfg:          cfg,
		router:       mux.NewRouter(),
		firewall:     fw,
		normalizer:   normalizer,
		orchestrator: orch,
		honeypots:    honeypots,
		auditor:      auditor,
		feed:         feed,
		validate:     validator.New(),
		limiter:      NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, logger),
		logger:       logger,
	}
	s.setupRoutes()
	return s
}

// EnableLearningFeedback wires the threshold feedback route to the given
// manager. The loop, when set, is triggered after each accepted sample.
func (s *Server) EnableLearningFeedback(thresholds *ml.ThresholdManager, learning *ml.LearningLoop) {
	s.thresholds = thresholds
	s.learning = learning
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.Middleware)

	api.HandleFunc("/observations", s.submitObservation).Methods("POST")
	api.HandleFunc("/threats", s.submitThreat).Methods("POST")
	api.HandleFunc("/plans/{id}", s.getPlan).Methods("GET")
	api.HandleFunc("/plans/{id}/execute", s.executePlan).Methods("POST")
	api.HandleFunc("/plans/{id}/cancel", s.cancelPlan).Methods("POST")
	api.HandleFunc("/feedback", s.submitFeedback).Methods("POST")
	api.HandleFunc("/stats", s.getStats).Methods("GET")
	api.HandleFunc("/honeynet", s.getHoneynet).Methods("GET")
	api.HandleFunc("/audit", s.getAudit).Methods("GET")
	api.HandleFunc("/audit/plans/{id}", s.getAuditPlan).Methods("GET")
	api.HandleFunc("/audit/threats/{id}", s.getAuditByThreat).Methods("GET")

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.feed != nil {
		s.router.Handle("/ws/events", s.feed)
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Infow("API server listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the rate limiter
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}

// statusRecorder captures the response status for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}

// statusFor maps classified pipeline errors onto HTTP status codes
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.ErrKindNotOperational:
		return http.StatusServiceUnavailable
	case core.ErrKindValidation:
		return http.StatusBadRequest
	case core.ErrKindNotFound:
		return http.StatusNotFound
	case core.ErrKindCapacityExceeded:
		return http.StatusTooManyRequests
	case core.ErrKindInvalidTransition:
		return http.StatusConflict
	case core.ErrKindScoringUnavailable, core.ErrKindScoringTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

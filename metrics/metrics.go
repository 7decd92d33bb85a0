package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObservationsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_observations_analyzed_total",
			Help: "Total number of observations analyzed by the firewall",
		},
		[]string{"decision"},
	)

	DetectionEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icarus_detection_events_total",
			Help: "Total number of detection events emitted",
		},
	)

	ThreatsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_threats_submitted_total",
			Help: "Total number of threat events submitted to the orchestrator",
		},
		[]string{"category", "severity"},
	)

	PlansTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_response_plans_terminal_total",
			Help: "Total number of response plans reaching a terminal status",
		},
		[]string{"status"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_actions_executed_total",
			Help: "Total number of response actions executed",
		},
		[]string{"action", "status"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "icarus_analysis_duration_seconds",
			Help:    "Time taken to analyze one observation end to end",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		},
	)

	ScoringFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_scoring_failures_total",
			Help: "Total number of scoring oracle failures by kind",
		},
		[]string{"kind"},
	)

	LearningCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icarus_learning_cycles_total",
			Help: "Total number of completed threshold learning cycles",
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "icarus_worker_pool_active_workers",
			Help: "Number of active workers in a pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "icarus_worker_pool_queue_size",
			Help: "Current task queue depth of a pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by a pool",
		},
		[]string{"pool"},
	)

	DedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icarus_detection_dedup_hits_total",
			Help: "Total number of detection events collapsed by deduplication",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "icarus_websocket_clients",
			Help: "Number of connected visualization clients",
		},
	)

	HoneynetEnvironments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "icarus_honeynet_environments_active",
			Help: "Number of active deception environments",
		},
	)

	ArchivedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icarus_archived_records_total",
			Help: "Total number of records written to the audit archive",
		},
		[]string{"kind"},
	)
)

package detect

import (
	"context"
	"time"

	"icarus/core"
	"icarus/metrics"
	"icarus/ml"
	"icarus/notify"

	"go.uber.org/zap"
)

// FirewallConfig configures the analysis pipeline
type FirewallConfig struct {
	Engine     EngineConfig
	Extractor  ml.ExtractorConfig
	BufferSize int
	Workers    int
	QueueSize  int
}

// DefaultFirewallConfig mirrors the reference system's defaults
func DefaultFirewallConfig() FirewallConfig {
	return FirewallConfig{
		Engine:     EngineConfig{Mode: ModePermissive, Adaptive: true},
		Extractor:  ml.DefaultExtractorConfig(),
		BufferSize: 10000,
		Workers:    8,
		QueueSize:  1024,
	}
}

// Firewall is the packet-path pipeline: extract → score → decide. It owns
// the observation buffer, the statistics aggregator, and a worker pool for
// concurrent analysis of distinct observations. Plan execution lives in the
// response package and never blocks this path.
type Firewall struct {
	cfg       FirewallConfig
	extractor *ml.FeatureExtractor
	engine    *Engine
	buffer    *core.ObservationBuffer
	stats     *core.StatsAggregator
	state     *core.StateManager
	pool      *core.WorkerPool
	sink      notify.EventSink
	logger    *zap.SugaredLogger
}

// NewFirewall assembles the pipeline. The oracle and threshold manager are
// injected so the scoring capability stays opaque to this package's logic.
func NewFirewall(ctx context.Context, cfg FirewallConfig, oracle ml.ScoringOracle, thresholds *ml.ThresholdManager, sink notify.EventSink, logger *zap.SugaredLogger) (*Firewall, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sink == nil {
		sink = notify.NopSink{}
	}

	buffer, err := core.NewObservationBuffer(cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	fw := &Firewall{
		cfg:       cfg,
		extractor: ml.NewFeatureExtractor(cfg.Extractor),
		engine:    NewEngine(cfg.Engine, oracle, thresholds, logger),
		buffer:    buffer,
		stats:     core.NewStatsAggregator(),
		state:     core.NewStateManager(),
		sink:      sink,
		logger:    logger,
	}
	fw.pool = core.NewWorkerPool(ctx, cfg.Workers, cfg.QueueSize, "firewall", logger)
	return fw, nil
}

// Start moves the firewall to Operational and launches the workers
func (f *Firewall) Start() {
	f.pool.Start()
	f.state.Set(core.StateOperational)
	f.logger.Infow("Firewall operational",
		"mode", string(f.cfg.Engine.Mode),
		"workers", f.cfg.Workers,
		"buffer_size", f.cfg.BufferSize)
}

// Stop moves the firewall to Shutdown and drains the workers
func (f *Firewall) Stop() {
	f.state.Set(core.StateShutdown)
	f.pool.Stop()
}

// State returns the firewall's lifecycle state manager
func (f *Firewall) State() *core.StateManager {
	return f.state
}

// Buffer exposes the observation buffer for learning cycles
func (f *Firewall) Buffer() *core.ObservationBuffer {
	return f.buffer
}

// SubmitObservation analyzes one observation synchronously and returns the
// decision plus the detection event, if the score crossed the alerting
// threshold. Analysis is served while Operational or Learning.
func (f *Firewall) SubmitObservation(ctx context.Context, obs core.Observation) (core.FirewallDecision, *core.DetectionEvent, error) {
	if err := f.state.RequireOperational(core.StateLearning); err != nil {
		f.stats.RecordError(core.KindOf(err))
		return core.DecisionBlock, nil, err
	}

	start := time.Now()

	fv := f.extractor.Extract(obs)
	decision, event, err := f.engine.Decide(ctx, obs, fv)

	// The observation is retained for future learning cycles regardless of
	// the decision outcome.
	f.buffer.Push(obs)

	micros := float64(time.Since(start).Microseconds())
	f.stats.RecordAnalysis(decision, event != nil, micros)
	metrics.ObservationsAnalyzed.WithLabelValues(decision.String()).Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if event != nil {
		metrics.DetectionEvents.Inc()
		f.sink.PublishDetection(*event)
	}
	if err != nil {
		f.stats.RecordError(core.KindOf(err))
		return decision, event, err
	}
	return decision, event, nil
}

// SubmitAsync queues an observation for analysis on the worker pool. The
// callback receives the outcome; a full queue surfaces as a capacity error
// instead of unbounded queueing.
func (f *Firewall) SubmitAsync(ctx context.Context, obs core.Observation, done func(core.FirewallDecision, *core.DetectionEvent, error)) error {
	err := f.pool.Submit(func() {
		decision, event, decideErr := f.SubmitObservation(ctx, obs)
		if done != nil {
			done(decision, event, decideErr)
		}
	})
	if err != nil {
		f.stats.RecordError(core.ErrKindCapacityExceeded)
		return &core.Error{Kind: core.ErrKindCapacityExceeded, Detail: "analysis queue full", Err: err}
	}
	return nil
}

// Stats returns a snapshot of the pipeline statistics
func (f *Firewall) Stats() core.Statistics {
	return f.stats.Snapshot()
}

// StatsAggregator exposes the live aggregator so the learning loop can
// record its cycles against the pipeline statistics
func (f *Firewall) StatsAggregator() *core.StatsAggregator {
	return f.stats
}

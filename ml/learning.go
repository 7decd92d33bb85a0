package ml

import (
	"context"
	"time"

	"icarus/core"
	"icarus/metrics"

	"go.uber.org/zap"
)

// LearningLoop periodically runs threshold learning cycles. While a cycle
// is in progress the owning subsystem reports the Learning state but keeps
// serving decisions; readers of the threshold manager continue to see the
// last stable snapshot until the atomic swap.
type LearningLoop struct {
	manager  *ThresholdManager
	state    *core.StateManager
	stats    *core.StatsAggregator
	interval time.Duration
	logger   *zap.SugaredLogger
	trigger  chan struct{}
}

// NewLearningLoop creates a loop; Run must be started on its own goroutine
func NewLearningLoop(manager *ThresholdManager, state *core.StateManager, stats *core.StatsAggregator, interval time.Duration, logger *zap.SugaredLogger) *LearningLoop {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LearningLoop{
		manager:  manager,
		state:    state,
		stats:    stats,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate learning cycle in addition to the periodic
// schedule. Coalesces when a trigger is already pending.
func (l *LearningLoop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run executes learning cycles until the context is cancelled
func (l *LearningLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Infow("Started threshold learning loop", "interval", l.interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Stopped threshold learning loop")
			return
		case <-ticker.C:
			l.runCycle()
		case <-l.trigger:
			l.runCycle()
		}
	}
}

// RunCycleNow executes one synchronous learning cycle; exposed for external
// triggering and tests
func (l *LearningLoop) RunCycleNow() int {
	return l.runCycle()
}

func (l *LearningLoop) runCycle() int {
	// Only flip into Learning from Operational; a degraded or shutting-down
	// system keeps its state.
	restore := false
	if l.state != nil && l.state.State() == core.StateOperational {
		l.state.Set(core.StateLearning)
		restore = true
	}

	adjusted := l.manager.RunLearningCycle()

	if restore && l.state.State() == core.StateLearning {
		l.state.Set(core.StateOperational)
	}

	if l.stats != nil {
		l.stats.RecordLearningCycle()
	}
	metrics.LearningCycles.Inc()

	if adjusted > 0 {
		l.logger.Infow("Learning cycle adjusted thresholds", "contexts", adjusted)
	}
	return adjusted
}

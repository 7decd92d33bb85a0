package detect

import (
	"context"
	"errors"

	"icarus/core"
	"icarus/ml"

	"go.uber.org/zap"
)

// hardBlockScore is the absolute ceiling: at or above it the decision is
// Block regardless of any configured threshold, bounding worst-case
// exposure even under a mistuned adaptive threshold.
const hardBlockScore = 0.95

// alertFraction of the effective threshold at which Alert kicks in
const alertFraction = 0.8

// Mode selects how the engine treats at-threshold traffic and oracle
// failures
type Mode string

const (
	// ModePermissive quarantines at-threshold traffic and fails open with
	// an Alert-only fallback when the oracle is unavailable
	ModePermissive Mode = "permissive"
	// ModeStrict blocks at-threshold traffic and fails closed when the
	// oracle is unavailable
	ModeStrict Mode = "strict"
)

// IsValid checks if the mode is a known value
func (m Mode) IsValid() bool {
	return m == ModePermissive || m == ModeStrict
}

// EngineConfig configures the decision engine
type EngineConfig struct {
	Mode Mode
	// Adaptive selects the threshold manager; when off, the static base
	// threshold applies to every context
	Adaptive bool
}

// Engine turns a feature vector into a firewall decision and, at or above
// the alerting threshold, a detection event. Decide is a pure function of
// (score, threshold, mode); the only shared state it touches is the
// threshold snapshot read.
type Engine struct {
	cfg        EngineConfig
	oracle     ml.ScoringOracle
	thresholds *ml.ThresholdManager
	logger     *zap.SugaredLogger
}

// NewEngine creates a decision engine
func NewEngine(cfg EngineConfig, oracle ml.ScoringOracle, thresholds *ml.ThresholdManager, logger *zap.SugaredLogger) *Engine {
	if !cfg.Mode.IsValid() {
		cfg.Mode = ModePermissive
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{cfg: cfg, oracle: oracle, thresholds: thresholds, logger: logger}
}

// Decide scores the features and classifies the observation. The returned
// detection event is non-nil iff score ≥ threshold. Oracle failures resolve
// per the configured mode: strict fails closed (Block), permissive fails
// open with an Alert and no event; either way the failure is reported to
// the caller alongside the fallback decision.
func (e *Engine) Decide(ctx context.Context, obs core.Observation, fv core.FeatureVector) (core.FirewallDecision, *core.DetectionEvent, error) {
	threshold := e.effectiveThreshold(string(obs.TrafficClass))

	score, err := e.oracle.Score(ctx, fv)
	if err != nil {
		if !errors.Is(err, core.ErrScoringTimeout) && !errors.Is(err, core.ErrScoringUnavailable) {
			err = &core.Error{Kind: core.ErrKindScoringUnavailable, Err: err}
		}
		decision := e.failurePolicy()
		e.logger.Warnw("Scoring oracle failed, applying failure policy",
			"observation_id", obs.ID,
			"mode", string(e.cfg.Mode),
			"decision", decision.String(),
			"error", err)
		return decision, nil, err
	}

	decision := classify(score, threshold, e.cfg.Mode)

	var event *core.DetectionEvent
	if score >= threshold {
		event = core.NewDetectionEvent(obs,
			core.AnomalyScore{Score: score, Threshold: threshold},
			decision, fv.Labels)
	}
	return decision, event, nil
}

// effectiveThreshold reads the adaptive threshold for the context, or the
// static base when adaptive mode is off
func (e *Engine) effectiveThreshold(context string) float64 {
	if e.cfg.Adaptive {
		return e.thresholds.Threshold(context)
	}
	return e.thresholds.Base()
}

// failurePolicy maps the configured mode to the oracle-failure decision.
// This is explicit policy, never a silent default-Allow.
func (e *Engine) failurePolicy() core.FirewallDecision {
	if e.cfg.Mode == ModeStrict {
		return core.DecisionBlock
	}
	return core.DecisionAlert
}

// classify implements the decision ladder. Severity is monotonic
// non-decreasing in the score.
func classify(score, threshold float64, mode Mode) core.FirewallDecision {
	switch {
	case score >= hardBlockScore:
		return core.DecisionBlock
	case score >= threshold:
		if mode == ModeStrict {
			return core.DecisionBlock
		}
		return core.DecisionQuarantine
	case score >= threshold*alertFraction:
		return core.DecisionAlert
	default:
		return core.DecisionAllow
	}
}

package ml

import (
	"context"
	"math"
	"time"

	"icarus/core"
	"icarus/metrics"
)

// DefaultScoringBudget is the scoring oracle's declared latency budget
const DefaultScoringBudget = 200 * time.Microsecond

// ScoringOracle maps a feature vector to an anomaly score in [0,1]. The
// model internals are opaque to the pipeline; implementations must be safe
// for concurrent invocation (read-only model state) and may fail with a
// scoring_timeout or scoring_unavailable error.
type ScoringOracle interface {
	Score(ctx context.Context, fv core.FeatureVector) (float64, error)
}

// LogisticOracle is a local, deterministic scoring capability: a single
// logistic unit over the feature vector. It stands in for the external
// deep-learning model during tests and standalone deployments. Weights are
// fixed at construction and never mutated, so concurrent Score calls need
// no synchronization.
type LogisticOracle struct {
	weights []float64
	bias    float64
	dim     int
}

// NewLogisticOracle creates an oracle for vectors of the given dimension.
// The weight initialization mirrors the reference model's untrained state.
func NewLogisticOracle(dimension int) *LogisticOracle {
	weights := make([]float64, dimension)
	for i := range weights {
		weights[i] = 0.1 * float64(dimension)
	}
	return &LogisticOracle{weights: weights, dim: dimension}
}

// NewLogisticOracleWithWeights creates an oracle with explicit weights,
// used by tests to force scores into specific ranges
func NewLogisticOracleWithWeights(weights []float64, bias float64) *LogisticOracle {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &LogisticOracle{weights: w, bias: bias, dim: len(weights)}
}

// Score computes sigmoid(w·x + b). A dimension mismatch yields the neutral
// score 0.5 rather than an error, matching the reference model's behavior
// for malformed input.
func (o *LogisticOracle) Score(ctx context.Context, fv core.FeatureVector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &core.Error{Kind: core.ErrKindScoringUnavailable, Detail: "context done", Err: err}
	}
	if fv.Dimension() != o.dim {
		return 0.5, nil
	}

	sum := o.bias
	for i, v := range fv.Values {
		sum += v * o.weights[i]
	}
	return 1.0 / (1.0 + math.Exp(-sum)), nil
}

// BudgetedOracle enforces the declared latency budget around an inner
// oracle. Exceeding the budget surfaces as a scoring_timeout error; the
// abandoned inner call finishes on its own goroutine and is discarded.
type BudgetedOracle struct {
	inner  ScoringOracle
	budget time.Duration
}

// NewBudgetedOracle wraps an oracle with a latency budget
func NewBudgetedOracle(inner ScoringOracle, budget time.Duration) *BudgetedOracle {
	if budget <= 0 {
		budget = DefaultScoringBudget
	}
	return &BudgetedOracle{inner: inner, budget: budget}
}

type scoreResult struct {
	score float64
	err   error
}

// Score calls the inner oracle, bounding it by the budget
func (b *BudgetedOracle) Score(ctx context.Context, fv core.FeatureVector) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.budget)
	defer cancel()

	resultCh := make(chan scoreResult, 1)
	go func() {
		score, err := b.inner.Score(ctx, fv)
		resultCh <- scoreResult{score: score, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			metrics.ScoringFailures.WithLabelValues(string(core.KindOf(res.err))).Inc()
			return res.score, res.err
		}
		return sanitizeScore(res.score), nil
	case <-ctx.Done():
		metrics.ScoringFailures.WithLabelValues(string(core.ErrKindScoringTimeout)).Inc()
		if ctx.Err() == context.DeadlineExceeded {
			return 0, &core.Error{Kind: core.ErrKindScoringTimeout, Detail: "latency budget exceeded", Err: ctx.Err()}
		}
		return 0, &core.Error{Kind: core.ErrKindScoringUnavailable, Detail: "scoring cancelled", Err: ctx.Err()}
	}
}

// math.NaN guard is deliberate: a NaN score would poison every comparison
// downstream, so it degrades to the neutral value.
func sanitizeScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0.5
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

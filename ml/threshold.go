package ml

import (
	"sync"
	"sync/atomic"

	"icarus/core"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// ThresholdConfig bounds the adaptive threshold behavior
type ThresholdConfig struct {
	// Base is the starting threshold for every context
	Base float64
	// MaxStep caps how far one learning cycle may move a threshold,
	// preventing oscillation under noisy feedback
	MaxStep float64
	// MaxContexts bounds how many per-context thresholds are tracked
	MaxContexts int
	// WindowSize bounds how many feedback samples one context retains
	WindowSize int
}

// DefaultThresholdConfig mirrors the reference system's defaults
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Base:        0.85,
		MaxStep:     0.05,
		MaxContexts: 1024,
		WindowSize:  256,
	}
}

// thresholdSnapshot is an immutable view of all per-context thresholds.
// Readers dereference the current snapshot without taking any lock; a
// learning cycle builds a replacement and swaps it in atomically, so a
// reader never observes a half-updated state.
type thresholdSnapshot struct {
	base     float64
	contexts map[string]float64
}

func (s *thresholdSnapshot) threshold(context string) float64 {
	if t, ok := s.contexts[context]; ok {
		return t
	}
	return s.base
}

// Feedback carries externally supplied false-positive/false-negative rates
// for one decision context
type Feedback struct {
	Context           string  `json:"context"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	FalseNegativeRate float64 `json:"false_negative_rate"`
}

// feedbackWindow accumulates recent feedback samples for one context
type feedbackWindow struct {
	fpRates []float64
	fnRates []float64
}

// ThresholdManager owns all per-context decision thresholds. Reads are
// lock-free against concurrent learning cycles via the snapshot pointer;
// the feedback side is guarded by its own mutex and never touches the read
// path.
type ThresholdManager struct {
	cfg      ThresholdConfig
	snapshot atomic.Pointer[thresholdSnapshot]

	mu      sync.Mutex
	pending *lru.Cache[string, *feedbackWindow]
	logger  *zap.SugaredLogger
}

// NewThresholdManager creates a manager with every context at the base
// threshold
func NewThresholdManager(cfg ThresholdConfig, logger *zap.SugaredLogger) (*ThresholdManager, error) {
	if cfg.Base < 0 || cfg.Base > 1 {
		return nil, &core.Error{Kind: core.ErrKindValidation, Detail: "base threshold must be within [0,1]"}
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = 0.05
	}
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = 1024
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 256
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	pending, err := lru.New[string, *feedbackWindow](cfg.MaxContexts)
	if err != nil {
		return nil, err
	}

	m := &ThresholdManager{cfg: cfg, pending: pending, logger: logger}
	m.snapshot.Store(&thresholdSnapshot{base: cfg.Base, contexts: map[string]float64{}})
	return m, nil
}

// Threshold returns the effective threshold for a context. This is the hot
// path shared by every decision worker; it takes no locks.
func (m *ThresholdManager) Threshold(context string) float64 {
	return m.snapshot.Load().threshold(context)
}

// Base returns the configured base threshold
func (m *ThresholdManager) Base() float64 {
	return m.cfg.Base
}

// RecordFeedback queues false-positive/negative rates for the next learning
// cycle. Rates outside [0,1] are clamped rather than rejected; feedback is
// advisory input, not a contract.
func (m *ThresholdManager) RecordFeedback(fb Feedback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window, ok := m.pending.Get(fb.Context)
	if !ok {
		window = &feedbackWindow{}
		m.pending.Add(fb.Context, window)
	}
	window.fpRates = append(window.fpRates, clamp01(fb.FalsePositiveRate))
	window.fnRates = append(window.fnRates, clamp01(fb.FalseNegativeRate))
	if len(window.fpRates) > m.cfg.WindowSize {
		window.fpRates = window.fpRates[len(window.fpRates)-m.cfg.WindowSize:]
		window.fnRates = window.fnRates[len(window.fnRates)-m.cfg.WindowSize:]
	}
}

// RunLearningCycle folds all pending feedback into a fresh snapshot and
// swaps it in. Excess false positives push a context's threshold up, excess
// false negatives pull it down; each cycle moves a threshold by at most
// MaxStep and the result always stays within [0,1]. Returns the number of
// contexts adjusted.
func (m *ThresholdManager) RunLearningCycle() int {
	m.mu.Lock()
	type update struct {
		context string
		fpMean  float64
		fnMean  float64
	}
	updates := make([]update, 0, m.pending.Len())
	for _, ctx := range m.pending.Keys() {
		window, ok := m.pending.Get(ctx)
		if !ok || len(window.fpRates) == 0 {
			continue
		}
		updates = append(updates, update{
			context: ctx,
			fpMean:  stat.Mean(window.fpRates, nil),
			fnMean:  stat.Mean(window.fnRates, nil),
		})
	}
	m.pending.Purge()
	m.mu.Unlock()

	if len(updates) == 0 {
		return 0
	}

	old := m.snapshot.Load()
	next := &thresholdSnapshot{
		base:     old.base,
		contexts: make(map[string]float64, len(old.contexts)+len(updates)),
	}
	for k, v := range old.contexts {
		next.contexts[k] = v
	}

	for _, u := range updates {
		current := next.contexts[u.context]
		if _, ok := old.contexts[u.context]; !ok {
			current = old.base
		}
		delta := u.fpMean - u.fnMean
		if delta > 1 {
			delta = 1
		} else if delta < -1 {
			delta = -1
		}
		adjusted := clamp01(current + delta*m.cfg.MaxStep)
		next.contexts[u.context] = adjusted
		m.logger.Debugw("Adjusted threshold",
			"context", u.context,
			"from", current,
			"to", adjusted,
			"fp_mean", u.fpMean,
			"fn_mean", u.fnMean)
	}

	m.snapshot.Store(next)
	return len(updates)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

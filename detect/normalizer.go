package detect

import (
	"context"
	"strconv"
	"time"

	"icarus/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Normalizer maps detection events onto canonical threat events. Category
// inference is heuristic; external detectors inject their threat events
// directly and bypass this path entirely.
type Normalizer struct {
	dedup  *Deduplicator
	logger *zap.SugaredLogger
}

// NewNormalizer creates a normalizer; dedup may be nil to disable
// collapsing
func NewNormalizer(dedup *Deduplicator, logger *zap.SugaredLogger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Normalizer{dedup: dedup, logger: logger}
}

// Normalize derives one threat event from one or more detection events
// covering the same source. Returns nil when every detection was collapsed
// by deduplication.
func (n *Normalizer) Normalize(ctx context.Context, events ...core.DetectionEvent) *core.ThreatEvent {
	if len(events) == 0 {
		return nil
	}

	// Collective detections share the first event's endpoints; dedup is
	// checked against the strongest event.
	strongest := events[0]
	for _, ev := range events[1:] {
		if ev.Score.Score > strongest.Score.Score {
			strongest = ev
		}
	}

	if n.dedup != nil && n.dedup.Seen(ctx, strongest) {
		n.logger.Debugw("Detection collapsed by dedup window", "event_id", strongest.ID)
		return nil
	}

	observationIDs := make([]string, 0, len(events))
	for _, ev := range events {
		observationIDs = append(observationIDs, ev.ObservationIDs...)
	}

	threat := &core.ThreatEvent{
		ID:         "threat-" + uuid.NewString(),
		Category:   inferCategory(strongest),
		Severity:   severityFromScore(strongest.Score.Score),
		Confidence: strongest.Score.Score,
		Source:     strongest.SourceAddress,
		Target:     strongest.TargetAddress,
		Timestamp:  time.Now().UTC(),
		Metadata: map[string]string{
			"detection_id": strongest.ID,
			"detections":   strconv.Itoa(len(events)),
			"observations": strconv.Itoa(len(observationIDs)),
			"score":        strconv.FormatFloat(strongest.Score.Score, 'f', 4, 64),
			"threshold":    strconv.FormatFloat(strongest.Score.Threshold, 'f', 4, 64),
			"decision":     strongest.Decision.String(),
		},
	}
	return threat
}

// severityFromScore maps the anomaly score onto the ordinal severity scale
func severityFromScore(score float64) core.ThreatSeverity {
	switch {
	case score >= 0.95:
		return core.SeverityCritical
	case score >= 0.90:
		return core.SeverityHigh
	case score >= 0.85:
		return core.SeverityMedium
	case score >= 0.80:
		return core.SeverityLow
	default:
		return core.SeverityInfo
	}
}

// inferCategory guesses the threat category from what the detection shows.
// A single anomalous observation carries little signal, so unknowns
// dominate; collective detections sharpen the guess.
func inferCategory(event core.DetectionEvent) core.ThreatCategory {
	switch {
	case len(event.ObservationIDs) > 10:
		return core.ThreatDenialOfService
	case len(event.ObservationIDs) > 3:
		return core.ThreatPortScan
	case event.Score.Score >= 0.95:
		return core.ThreatUnknownZeroDay
	default:
		return core.ThreatMalware
	}
}

package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DetectionEvent records one at-or-above-threshold anomaly. It is created
// only when the score crossed the alerting threshold; sub-threshold
// observations never materialize an event.
type DetectionEvent struct {
	ID              string           `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	Score           AnomalyScore     `json:"score"`
	Decision        FirewallDecision `json:"decision"`
	ObservationIDs  []string         `json:"observation_ids"`
	TriggerFeatures []string         `json:"trigger_features"`
	Description     string           `json:"description"`
	SourceAddress   string           `json:"source_address"`
	TargetAddress   string           `json:"target_address"`
}

// NewDetectionEvent builds a detection event for a single observation.
// Collective (1:N) detections append further observation IDs afterwards.
func NewDetectionEvent(obs Observation, score AnomalyScore, decision FirewallDecision, triggerFeatures []string) *DetectionEvent {
	return &DetectionEvent{
		ID:              "event-" + uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Score:           score,
		Decision:        decision,
		ObservationIDs:  []string{obs.ID},
		TriggerFeatures: triggerFeatures,
		Description:     fmt.Sprintf("anomaly detected with score %.2f against threshold %.2f", score.Score, score.Threshold),
		SourceAddress:   obs.Source.Address,
		TargetAddress:   obs.Destination.Address,
	}
}

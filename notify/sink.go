// Package notify delivers finished pipeline records to the visualization
// layer. Delivery is fire-and-forget: a slow or absent dashboard never
// blocks the packet path or the orchestrator.
package notify

import (
	"time"

	"icarus/core"
)

// EventSink consumes finished records for display. Implementations must
// return immediately; anything slow happens behind a buffer.
type EventSink interface {
	PublishDetection(event core.DetectionEvent)
	PublishThreat(event core.ThreatEvent)
	PublishPlan(plan core.PlanSnapshot)
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) PublishDetection(core.DetectionEvent) {}
func (NopSink) PublishThreat(core.ThreatEvent)       {}
func (NopSink) PublishPlan(core.PlanSnapshot)        {}

// Message is the wire envelope broadcast to visualization clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Message types emitted over the feed
const (
	TypeDetection = "detection"
	TypeThreat    = "threat"
	TypePlan      = "plan"
)

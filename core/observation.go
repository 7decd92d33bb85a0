package core

import (
	"time"
)

// TrafficClass categorizes an observation by the kind of traffic it belongs to
type TrafficClass string

const (
	TrafficWeb      TrafficClass = "web"
	TrafficDNS      TrafficClass = "dns"
	TrafficSSH      TrafficClass = "ssh"
	TrafficFTP      TrafficClass = "ftp"
	TrafficSMTP     TrafficClass = "smtp"
	TrafficDatabase TrafficClass = "database"
	TrafficIoT      TrafficClass = "iot"
	TrafficAPI      TrafficClass = "api"
	TrafficUnknown  TrafficClass = "unknown"
)

// String returns the string representation
func (t TrafficClass) String() string {
	return string(t)
}

// IsValid checks if the traffic class is a known value
func (t TrafficClass) IsValid() bool {
	switch t {
	case TrafficWeb, TrafficDNS, TrafficSSH, TrafficFTP, TrafficSMTP,
		TrafficDatabase, TrafficIoT, TrafficAPI, TrafficUnknown:
		return true
	default:
		return false
	}
}

// Endpoint identifies one side of an observed flow
type Endpoint struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// Observation is one analyzed network packet or flow sample.
// Observations are immutable once created and handed off by value between
// pipeline stages.
type Observation struct {
	ID            string            `json:"id"`
	Source        Endpoint          `json:"source"`
	Destination   Endpoint          `json:"destination"`
	Protocol      string            `json:"protocol"`
	Size          int               `json:"size"`
	TrafficClass  TrafficClass      `json:"traffic_class"`
	PayloadSample []byte            `json:"payload_sample,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// FeatureVector is a fixed-arity numeric summary of one observation.
// Labels and Values are parallel slices of identical length; neither is
// mutated after creation.
type FeatureVector struct {
	ObservationID string    `json:"observation_id"`
	Values        []float64 `json:"values"`
	Labels        []string  `json:"labels"`
}

// Dimension returns the arity of the vector
func (fv FeatureVector) Dimension() int {
	return len(fv.Values)
}

// AnomalyScore pairs the oracle's score with the threshold it was compared
// against at decision time. The two always travel together for auditability.
type AnomalyScore struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

package core

import (
	"time"
)

// ThreatCategory is the closed enumeration of threat kinds handled by the
// response orchestrator
type ThreatCategory string

const (
	ThreatDenialOfService   ThreatCategory = "denial_of_service"
	ThreatPortScan          ThreatCategory = "port_scan"
	ThreatDataExfiltration  ThreatCategory = "data_exfiltration"
	ThreatSQLInjection      ThreatCategory = "sql_injection"
	ThreatXSS               ThreatCategory = "xss"
	ThreatBruteForce        ThreatCategory = "brute_force"
	ThreatMalware           ThreatCategory = "malware"
	ThreatCommandAndControl ThreatCategory = "command_and_control"
	ThreatUnknownZeroDay    ThreatCategory = "unknown_zero_day"
)

// String returns the string representation
func (c ThreatCategory) String() string {
	return string(c)
}

// IsValid checks if the category is a known value
func (c ThreatCategory) IsValid() bool {
	switch c {
	case ThreatDenialOfService, ThreatPortScan, ThreatDataExfiltration,
		ThreatSQLInjection, ThreatXSS, ThreatBruteForce, ThreatMalware,
		ThreatCommandAndControl, ThreatUnknownZeroDay:
		return true
	default:
		return false
	}
}

// ThreatSeverity is an ordinal severity scale
type ThreatSeverity int

const (
	SeverityInfo ThreatSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[ThreatSeverity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the string representation
func (s ThreatSeverity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsValid checks if the severity is within the defined scale
func (s ThreatSeverity) IsValid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// ParseSeverity maps a severity name to its ordinal value
func ParseSeverity(name string) (ThreatSeverity, bool) {
	for sev, n := range severityNames {
		if n == name {
			return sev, true
		}
	}
	return SeverityInfo, false
}

// ThreatEvent is a normalized, severity-classified signal derived from one
// or more detections or injected directly by an external detector.
type ThreatEvent struct {
	ID         string            `json:"id"`
	Category   ThreatCategory    `json:"category"`
	Severity   ThreatSeverity    `json:"severity"`
	Confidence float64           `json:"confidence"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the invariants a threat event must satisfy before it is
// allowed to drive a response plan
func (t *ThreatEvent) Validate() error {
	if t.ID == "" {
		return &Error{Kind: ErrKindValidation, Detail: "threat event id is empty"}
	}
	if !t.Category.IsValid() {
		return &Error{Kind: ErrKindValidation, Detail: "unknown threat category: " + string(t.Category)}
	}
	if !t.Severity.IsValid() {
		return &Error{Kind: ErrKindValidation, Detail: "severity out of range"}
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return &Error{Kind: ErrKindValidation, Detail: "confidence must be within [0,1]"}
	}
	return nil
}

package ml

import (
	"icarus/core"
)

// Feature family names accepted by the extractor configuration
const (
	FamilyPorts        = "ports"
	FamilySize         = "size"
	FamilyProtocol     = "protocol"
	FamilyTrafficClass = "traffic_class"
	FamilyPayload      = "payload"
)

// FeatureDimension is the fixed arity of every extracted vector. Downstream
// consumers assume exactly this many elements.
const FeatureDimension = 10

// payloadSampleBytes is how many leading payload bytes become features
const payloadSampleBytes = 5

// featureLabels is the canonical label ordering, parallel to the values
var featureLabels = []string{
	"destination_port",
	"source_port",
	"packet_size",
	"protocol",
	"traffic_class",
	"payload_byte_0",
	"payload_byte_1",
	"payload_byte_2",
	"payload_byte_3",
	"payload_byte_4",
}

// protocolValues maps protocol tags onto a stable [0,1] encoding. Unknown
// protocols land at the suspicious end of the range.
var protocolValues = map[string]float64{
	"TCP":   0.1,
	"UDP":   0.2,
	"ICMP":  0.3,
	"HTTP":  0.4,
	"HTTPS": 0.5,
}

// trafficClassValues maps traffic classes onto a stable [0,1] encoding
var trafficClassValues = map[core.TrafficClass]float64{
	core.TrafficWeb:      0.1,
	core.TrafficDNS:      0.2,
	core.TrafficSSH:      0.3,
	core.TrafficFTP:      0.4,
	core.TrafficSMTP:     0.5,
	core.TrafficDatabase: 0.6,
	core.TrafficIoT:      0.7,
	core.TrafficAPI:      0.8,
	core.TrafficUnknown:  0.9,
}

// ExtractorConfig selects which feature families are populated. Disabled
// families keep their slots, filled with the neutral value 0.0, so the
// vector arity never changes.
type ExtractorConfig struct {
	EnabledFamilies []string
}

// DefaultExtractorConfig enables every family
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		EnabledFamilies: []string{FamilyPorts, FamilySize, FamilyProtocol, FamilyTrafficClass, FamilyPayload},
	}
}

// FeatureExtractor derives fixed-arity feature vectors from observations.
// Extract is a pure function of the observation and the static
// configuration; the extractor holds no mutable state and is safe for
// concurrent use.
type FeatureExtractor struct {
	enabled map[string]bool
}

// NewFeatureExtractor creates an extractor from the given configuration
func NewFeatureExtractor(cfg ExtractorConfig) *FeatureExtractor {
	enabled := make(map[string]bool, len(cfg.EnabledFamilies))
	for _, fam := range cfg.EnabledFamilies {
		enabled[fam] = true
	}
	return &FeatureExtractor{enabled: enabled}
}

// Extract derives the feature vector for one observation. The result always
// has exactly FeatureDimension elements; degenerate inputs (empty payload,
// unknown protocol) produce neutral values rather than errors.
func (e *FeatureExtractor) Extract(obs core.Observation) core.FeatureVector {
	values := make([]float64, FeatureDimension)

	if e.enabled[FamilyPorts] {
		values[0] = float64(obs.Destination.Port) / 65535.0
		values[1] = float64(obs.Source.Port) / 65535.0
	}

	if e.enabled[FamilySize] {
		// Normalized by the typical MTU; oversized packets saturate at 1.0
		size := float64(obs.Size) / 1500.0
		if size > 1.0 {
			size = 1.0
		}
		if size < 0 {
			size = 0
		}
		values[2] = size
	}

	if e.enabled[FamilyProtocol] {
		if v, ok := protocolValues[obs.Protocol]; ok {
			values[3] = v
		} else {
			values[3] = 0.9
		}
	}

	if e.enabled[FamilyTrafficClass] {
		if v, ok := trafficClassValues[obs.TrafficClass]; ok {
			values[4] = v
		} else {
			values[4] = trafficClassValues[core.TrafficUnknown]
		}
	}

	if e.enabled[FamilyPayload] {
		for i := 0; i < payloadSampleBytes; i++ {
			if i < len(obs.PayloadSample) {
				values[5+i] = float64(obs.PayloadSample[i]) / 255.0
			}
		}
	}

	labels := make([]string, FeatureDimension)
	copy(labels, featureLabels)

	return core.FeatureVector{
		ObservationID: obs.ID,
		Values:        values,
		Labels:        labels,
	}
}

package codec

import (
	"time"

	"github.com/amycare/telemetry-core/internal/observation"
)

// Decoder turns raw MQTT payloads into canonical readings.
//
// It is pure: no I/O, no clocks. The only configuration is the timezone
// used to interpret Kati timestamp strings, which the watch never states.
//
// Thread Safety: a Decoder is immutable after construction and safe for
// concurrent use.
type Decoder struct {
	katiLoc *time.Location
}

// NewDecoder creates a Decoder. A nil location means Kati timestamp
// strings are read as UTC.
func NewDecoder(katiLoc *time.Location) *Decoder {
	if katiLoc == nil {
		katiLoc = time.UTC
	}
	return &Decoder{katiLoc: katiLoc}
}

// Decode dispatches to the family-specific decoder.
//
// Parameters:
//   - family: the listener's device family (gateway and sub-device AVA4
//     tags both route to the AVA4 decoder)
//   - topic: the MQTT topic the payload arrived on
//   - payload: the raw UTF-8 JSON payload
//
// Returns:
//   - *Result: decoded readings plus soft-check warnings
//   - error: a *ParseError describing the failure
func (d *Decoder) Decode(family observation.Family, topic string, payload []byte) (*Result, error) {
	switch family {
	case observation.FamilyAVA4Gateway, observation.FamilyAVA4SubDevice:
		return d.DecodeAVA4(topic, payload)
	case observation.FamilyKatiWatch:
		return d.DecodeKati(topic, payload)
	case observation.FamilyQubeVital:
		return d.DecodeQube(topic, payload)
	default:
		return nil, newParseError(FailureUnsupportedTopic, "unknown device family %q", family)
	}
}

package codec

import (
	"encoding/json"

	"github.com/amycare/telemetry-core/internal/observation"
)

// AVA4 topics. dusun_pub is a historical alias still emitted by older
// gateway firmware; both carry the same medical report payloads.
const (
	TopicAVA4Gateway    = "ESP32_BLE_GW_TX"
	TopicAVA4Medical    = "dusun_sub"
	TopicAVA4MedicalAlt = "dusun_pub"
)

// AVA4 payload type values.
const (
	ava4TypeHeartbeat = "HB_Msg"
	ava4TypeReport    = "reportMsg"
	ava4TypeAttribute = "reportAttribute"
)

// ava4Envelope is the common outer frame of every AVA4 message.
type ava4Envelope struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Time       int64           `json:"time"`
	Mac        string          `json:"mac"`
	IP         string          `json:"IP"`
	RSSI       *flexInt        `json:"rssi"`
	DeviceCode string          `json:"deviceCode"`
	Device     string          `json:"device"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
}

// ava4ReportData is the inner frame of a reportAttribute message.
type ava4ReportData struct {
	Attribute string `json:"attribute"`
	Mac       string `json:"mac"`
	Value     struct {
		DeviceList []ava4DeviceEntry `json:"device_list"`
	} `json:"value"`
}

// ava4DeviceEntry is one BLE sub-device report. The field set is the
// union across all sub-device classes; the attribute selects which
// fields are required.
type ava4DeviceEntry struct {
	ScanTime int64  `json:"scan_time"`
	BLEAddr  string `json:"ble_addr"`

	// BP_BIOLIGTH
	BPHigh *flexFloat `json:"bp_high"`
	BPLow  *flexFloat `json:"bp_low"`
	PR     *flexInt   `json:"PR"`

	// Contour_Elite / AccuChek_Instant
	BloodGlucose *flexFloat `json:"blood_glucose"`
	Marker       string     `json:"marker"`

	// Oximeter JUMPER
	SpO2  *flexFloat `json:"spo2"`
	Pulse *flexInt   `json:"pulse"`
	PI    *flexFloat `json:"pi"`

	// IR_TEMO_JUMPER
	Temp *flexFloat `json:"temp"`
	Mode string     `json:"mode"`

	// BodyScale_JUMPER
	Weight     *flexFloat `json:"weight"`
	Resistance *flexFloat `json:"resistance"`

	// MGSS_REF_UA / MGSS_REF_CHOL
	UricAcid    *flexFloat `json:"uric_acid"`
	Cholesterol *flexFloat `json:"cholesterol"`
}

// DecodeAVA4 parses a message from an AVA4 BLE gateway.
//
// Gateway status messages (HB_Msg, reportMsg) yield a single heartbeat
// reading carrying the gateway identity. reportAttribute messages yield
// one medical reading per device_list entry, identified by the BLE
// sub-device address (falling back to the report mac).
func (d *Decoder) DecodeAVA4(topic string, payload []byte) (*Result, error) {
	var env ava4Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, newParseError(FailureMalformedJSON, "ava4 envelope: %v", err)
	}

	switch env.Type {
	case ava4TypeHeartbeat, ava4TypeReport:
		return d.decodeAVA4Heartbeat(&env)
	case ava4TypeAttribute:
		return d.decodeAVA4Report(&env)
	case "":
		return nil, newParseError(FailureMissingRequiredField, "ava4 message has no type field")
	default:
		return nil, newParseError(FailureUnsupportedAttribute, "ava4 message type %q", env.Type)
	}
}

// decodeAVA4Heartbeat builds the gateway liveness reading. No medical payload.
func (d *Decoder) decodeAVA4Heartbeat(env *ava4Envelope) (*Result, error) {
	if env.Mac == "" {
		return nil, newParseError(FailureMissingRequiredField, "ava4 heartbeat has no mac")
	}

	hb := &observation.Heartbeat{IP: env.IP}
	if env.RSSI != nil {
		hb.RSSI = env.RSSI.intPtr()
	}

	return &Result{Readings: []observation.Reading{{
		Kind:     observation.KindHeartbeat,
		DeviceTS: epochTime(env.Time),
		Identity: observation.DeviceIdentity{
			ID:     env.Mac,
			Family: observation.FamilyAVA4Gateway,
		},
		Heartbeat: hb,
	}}}, nil
}

// decodeAVA4Report expands a reportAttribute into one reading per
// device_list entry, dispatching on the attribute table.
func (d *Decoder) decodeAVA4Report(env *ava4Envelope) (*Result, error) {
	var data ava4ReportData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, newParseError(FailureMalformedJSON, "ava4 report data: %v", err)
	}
	if data.Attribute == "" {
		return nil, newParseError(FailureMissingRequiredField, "ava4 report has no attribute")
	}
	if len(data.Value.DeviceList) == 0 {
		return nil, newParseError(FailureMissingRequiredField, "ava4 report %q has empty device_list", data.Attribute)
	}

	readings := make([]observation.Reading, 0, len(data.Value.DeviceList))
	for i, entry := range data.Value.DeviceList {
		r, err := buildAVA4Reading(data.Attribute, &entry)
		if err != nil {
			return nil, err
		}

		r.DeviceTS = epochTime(entry.ScanTime)
		if r.DeviceTS.IsZero() {
			r.DeviceTS = epochTime(env.Time)
		}

		id := entry.BLEAddr
		if id == "" {
			id = data.Mac
		}
		if id == "" {
			return nil, newParseError(FailureMissingRequiredField,
				"ava4 report %q entry %d has neither ble_addr nor mac", data.Attribute, i)
		}
		r.Identity = observation.DeviceIdentity{
			ID:         id,
			Family:     observation.FamilyAVA4SubDevice,
			GatewayMAC: env.Mac,
		}

		readings = append(readings, *r)
	}

	result := &Result{Readings: readings}
	result.Warnings = checkRanges(readings)
	return result, nil
}

// buildAVA4Reading maps one device_list entry to a canonical reading
// according to the fixed attribute table.
func buildAVA4Reading(attribute string, e *ava4DeviceEntry) (*observation.Reading, error) {
	switch attribute {
	case "BP_BIOLIGTH":
		if e.BPHigh == nil || e.BPLow == nil {
			return nil, newParseError(FailureMissingRequiredField, "BP_BIOLIGTH entry missing bp_high/bp_low")
		}
		return &observation.Reading{
			Kind: observation.KindBloodPressure,
			BloodPressure: &observation.BloodPressure{
				Systolic:  e.BPHigh.value(),
				Diastolic: e.BPLow.value(),
				Pulse:     e.PR.value(),
			},
		}, nil

	case "Contour_Elite", "AccuChek_Instant":
		if e.BloodGlucose == nil {
			return nil, newParseError(FailureMissingRequiredField, "%s entry missing blood_glucose", attribute)
		}
		return &observation.Reading{
			Kind: observation.KindBloodSugar,
			BloodSugar: &observation.BloodSugar{
				Value:  e.BloodGlucose.value(),
				Marker: sugarMarker(e.Marker),
			},
		}, nil

	case "Oximeter JUMPER":
		if e.SpO2 == nil {
			return nil, newParseError(FailureMissingRequiredField, "Oximeter JUMPER entry missing spo2")
		}
		return &observation.Reading{
			Kind: observation.KindSpO2,
			SpO2: &observation.SpO2{
				SpO2:           e.SpO2.value(),
				Pulse:          e.Pulse.value(),
				PerfusionIndex: e.PI.value(),
			},
		}, nil

	case "IR_TEMO_JUMPER":
		if e.Temp == nil {
			return nil, newParseError(FailureMissingRequiredField, "IR_TEMO_JUMPER entry missing temp")
		}
		return &observation.Reading{
			Kind: observation.KindBodyTemperature,
			BodyTemperature: &observation.BodyTemperature{
				ValueC: e.Temp.value(),
				Site:   temperatureSite(e.Mode),
			},
		}, nil

	case "BodyScale_JUMPER":
		if e.Weight == nil {
			return nil, newParseError(FailureMissingRequiredField, "BodyScale_JUMPER entry missing weight")
		}
		w := &observation.Weight{ValueKg: e.Weight.value()}
		if e.Resistance != nil {
			ohm := e.Resistance.value()
			w.ImpedanceOhm = &ohm
		}
		return &observation.Reading{Kind: observation.KindWeight, Weight: w}, nil

	case "MGSS_REF_UA":
		if e.UricAcid == nil {
			return nil, newParseError(FailureMissingRequiredField, "MGSS_REF_UA entry missing uric_acid")
		}
		return &observation.Reading{
			Kind:     observation.KindUricAcid,
			UricAcid: &observation.UricAcid{Value: e.UricAcid.value()},
		}, nil

	case "MGSS_REF_CHOL":
		if e.Cholesterol == nil {
			return nil, newParseError(FailureMissingRequiredField, "MGSS_REF_CHOL entry missing cholesterol")
		}
		return &observation.Reading{
			Kind:        observation.KindCholesterol,
			Cholesterol: &observation.Cholesterol{Value: e.Cholesterol.value()},
		}, nil

	default:
		return nil, newParseError(FailureUnsupportedAttribute, "ava4 attribute %q", attribute)
	}
}

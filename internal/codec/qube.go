package codec

import (
	"encoding/json"

	"github.com/amycare/telemetry-core/internal/observation"
)

// TopicQubeVital is the hospital appliance's only topic.
const TopicQubeVital = "CM4_BLE_GW_TX"

// qubeEnvelope is the outer frame of every Qube-Vital message.
type qubeEnvelope struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Time  int64           `json:"time"`
	Mac   string          `json:"mac"`
	IMEI  string          `json:"IMEI"`
	ICCID string          `json:"ICCID"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// qubeReportData is the inner frame of a reportAttribute message.
// Unlike AVA4, the appliance identifies the patient inline: citiz plus
// demographic fields ride along with every medical report.
type qubeReportData struct {
	Attribute string    `json:"attribute"`
	Mac       string    `json:"mac"`
	Citiz     string    `json:"citiz"`
	NameTH    string    `json:"nameTH"`
	NameEN    string    `json:"nameEN"`
	Birth     string    `json:"brith"` // field name is misspelled on the wire
	Gender    string    `json:"gender"`
	Value     qubeValue `json:"value"`
}

// qubeValue is the union of measurement fields across Qube attributes.
type qubeValue struct {
	// WBP_JUMPER
	BPHigh *flexFloat `json:"bp_high"`
	BPLow  *flexFloat `json:"bp_low"`
	PR     *flexInt   `json:"pr"`

	// CONTOUR
	BloodGlucose *flexFloat `json:"blood_glucose"`
	Marker       string     `json:"marker"`

	// BodyScale_JUMPER
	Weight     *flexFloat `json:"weight"`
	Resistance *flexFloat `json:"resistance"`

	// TEMO_Jumper
	Temp *flexFloat `json:"Temp"`
	Mode string     `json:"mode"`

	// Oximeter_JUMPER
	SpO2  *flexFloat `json:"spo2"`
	Pulse *flexInt   `json:"pulse"`
	PI    *flexFloat `json:"pi"`
}

// DecodeQube parses a message from a Qube-Vital appliance.
//
// reportAttribute messages yield one medical reading with the citizen-ID
// PatientHint attached; only the Qube resolver path consumes the hint.
func (d *Decoder) DecodeQube(topic string, payload []byte) (*Result, error) {
	var env qubeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, newParseError(FailureMalformedJSON, "qube envelope: %v", err)
	}

	switch env.Type {
	case ava4TypeHeartbeat:
		return d.decodeQubeHeartbeat(&env)
	case ava4TypeAttribute:
		return d.decodeQubeReport(&env)
	case "":
		return nil, newParseError(FailureMissingRequiredField, "qube message has no type field")
	default:
		return nil, newParseError(FailureUnsupportedAttribute, "qube message type %q", env.Type)
	}
}

// decodeQubeHeartbeat builds the appliance liveness reading.
func (d *Decoder) decodeQubeHeartbeat(env *qubeEnvelope) (*Result, error) {
	if env.Mac == "" && env.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "qube heartbeat has neither mac nor IMEI")
	}
	id := env.Mac
	if id == "" {
		id = env.IMEI
	}

	return &Result{Readings: []observation.Reading{{
		Kind:     observation.KindHeartbeat,
		DeviceTS: epochTime(env.Time),
		Identity: observation.DeviceIdentity{ID: id, Family: observation.FamilyQubeVital},
		Heartbeat: &observation.Heartbeat{},
	}}}, nil
}

// decodeQubeReport maps a reportAttribute to one canonical reading.
func (d *Decoder) decodeQubeReport(env *qubeEnvelope) (*Result, error) {
	var data qubeReportData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, newParseError(FailureMalformedJSON, "qube report data: %v", err)
	}
	if data.Attribute == "" {
		return nil, newParseError(FailureMissingRequiredField, "qube report has no attribute")
	}

	r, err := buildQubeReading(data.Attribute, &data.Value)
	if err != nil {
		return nil, err
	}

	r.DeviceTS = epochTime(env.Time)
	id := data.Mac
	if id == "" {
		id = env.Mac
	}
	r.Identity = observation.DeviceIdentity{ID: id, Family: observation.FamilyQubeVital}

	if data.Citiz != "" {
		r.Hint = &observation.PatientHint{
			Citiz:  data.Citiz,
			NameTH: data.NameTH,
			NameEN: data.NameEN,
			Birth:  data.Birth,
			Gender: data.Gender,
		}
	}

	result := &Result{Readings: []observation.Reading{*r}}
	result.Warnings = checkRanges(result.Readings)
	return result, nil
}

// buildQubeReading maps the attribute table for the hospital appliance.
func buildQubeReading(attribute string, v *qubeValue) (*observation.Reading, error) {
	switch attribute {
	case "WBP_JUMPER":
		if v.BPHigh == nil || v.BPLow == nil {
			return nil, newParseError(FailureMissingRequiredField, "WBP_JUMPER missing bp_high/bp_low")
		}
		return &observation.Reading{
			Kind: observation.KindBloodPressure,
			BloodPressure: &observation.BloodPressure{
				Systolic:  v.BPHigh.value(),
				Diastolic: v.BPLow.value(),
				Pulse:     v.PR.value(),
			},
		}, nil

	case "CONTOUR":
		if v.BloodGlucose == nil {
			return nil, newParseError(FailureMissingRequiredField, "CONTOUR missing blood_glucose")
		}
		return &observation.Reading{
			Kind: observation.KindBloodSugar,
			BloodSugar: &observation.BloodSugar{
				Value:  v.BloodGlucose.value(),
				Marker: sugarMarker(v.Marker),
			},
		}, nil

	case "BodyScale_JUMPER":
		if v.Weight == nil {
			return nil, newParseError(FailureMissingRequiredField, "BodyScale_JUMPER missing weight")
		}
		w := &observation.Weight{ValueKg: v.Weight.value()}
		if v.Resistance != nil {
			ohm := v.Resistance.value()
			w.ImpedanceOhm = &ohm
		}
		return &observation.Reading{Kind: observation.KindWeight, Weight: w}, nil

	case "TEMO_Jumper":
		if v.Temp == nil {
			return nil, newParseError(FailureMissingRequiredField, "TEMO_Jumper missing Temp")
		}
		return &observation.Reading{
			Kind: observation.KindBodyTemperature,
			BodyTemperature: &observation.BodyTemperature{
				ValueC: v.Temp.value(),
				Site:   temperatureSite(v.Mode),
			},
		}, nil

	case "Oximeter_JUMPER":
		if v.SpO2 == nil {
			return nil, newParseError(FailureMissingRequiredField, "Oximeter_JUMPER missing spo2")
		}
		return &observation.Reading{
			Kind: observation.KindSpO2,
			SpO2: &observation.SpO2{
				SpO2:           v.SpO2.value(),
				Pulse:          v.Pulse.value(),
				PerfusionIndex: v.PI.value(),
			},
		}, nil

	default:
		return nil, newParseError(FailureUnsupportedAttribute, "qube attribute %q", attribute)
	}
}

package observation

import "time"

// Family identifies the device family a reading originated from.
type Family string

// Device family tags.
const (
	FamilyAVA4Gateway   Family = "AVA4_GATEWAY"
	FamilyAVA4SubDevice Family = "AVA4_SUBDEVICE"
	FamilyKatiWatch     Family = "KATI_WATCH"
	FamilyQubeVital     Family = "QUBE_VITAL"
)

// Kind identifies the canonical reading kind.
type Kind string

// Supported reading kinds.
const (
	KindBloodPressure   Kind = "blood_pressure"
	KindBloodSugar      Kind = "blood_sugar"
	KindSpO2            Kind = "spo2"
	KindBodyTemperature Kind = "body_temperature"
	KindWeight          Kind = "weight"
	KindUricAcid        Kind = "uric_acid"
	KindCholesterol     Kind = "cholesterol"
	KindHeartRate       Kind = "heart_rate"
	KindStepCount       Kind = "step_count"
	KindSleepSummary    Kind = "sleep_summary"
	KindLocation        Kind = "location"
	KindEmergency       Kind = "emergency"
	KindHeartbeat       Kind = "heartbeat"
)

// DeviceIdentity identifies the physical source of a reading.
//
// For AVA4 sub-device readings, ID is the BLE sub-device address and
// GatewayMAC carries the relaying gateway's MAC (used as a resolver
// fallback). For Kati readings ID is the IMEI; for Qube-Vital readings
// ID is the appliance MAC.
type DeviceIdentity struct {
	ID         string `json:"id" bson:"id"`
	Family     Family `json:"family" bson:"family"`
	GatewayMAC string `json:"gateway_mac,omitempty" bson:"gateway_mac,omitempty"`
}

// GeoPoint is a GPS fix.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Speed     float64 `json:"speed,omitempty" bson:"speed,omitempty"`
	Heading   float64 `json:"heading,omitempty" bson:"heading,omitempty"`
}

// Location carries whatever positioning data the device supplied.
// Cell and WiFiRaw are passed through untouched for downstream consumers.
type Location struct {
	GPS     *GeoPoint `json:"gps,omitempty" bson:"gps,omitempty"`
	Cell    string    `json:"cell,omitempty" bson:"cell,omitempty"`
	WiFiRaw string    `json:"wifi_raw,omitempty" bson:"wifi_raw,omitempty"`
}

// SugarMarker marks when a blood sugar sample was taken relative to meals.
type SugarMarker string

// Blood sugar markers.
const (
	MarkerFasting   SugarMarker = "fasting"
	MarkerAfterMeal SugarMarker = "after_meal"
	MarkerUnknown   SugarMarker = "unknown"
)

// TemperatureSite identifies where a body temperature was measured.
type TemperatureSite string

// Temperature measurement sites.
const (
	SiteHead   TemperatureSite = "head"
	SiteArmpit TemperatureSite = "armpit"
	SiteOther  TemperatureSite = "other"
)

// SleepPhase is one per-minute sleep classification.
type SleepPhase string

// Sleep phases.
const (
	PhaseAwake SleepPhase = "awake"
	PhaseLight SleepPhase = "light"
	PhaseDeep  SleepPhase = "deep"
	PhaseREM   SleepPhase = "rem"
)

// EmergencyKind classifies an emergency reading.
type EmergencyKind string

// Emergency kinds.
const (
	EmergencySOS        EmergencyKind = "sos"
	EmergencyFall       EmergencyKind = "fall"
	EmergencyLowBattery EmergencyKind = "low_battery"
	EmergencyNotWorn    EmergencyKind = "not_worn"
	EmergencyOffline    EmergencyKind = "offline"
)

// BloodPressure carries one cuff measurement in mmHg.
type BloodPressure struct {
	Systolic  float64 `json:"systolic" bson:"systolic"`
	Diastolic float64 `json:"diastolic" bson:"diastolic"`
	Pulse     int     `json:"pulse" bson:"pulse"`
}

// BloodSugar carries one glucose measurement in mg/dL.
type BloodSugar struct {
	Value  float64     `json:"value" bson:"value"`
	Marker SugarMarker `json:"marker" bson:"marker"`
}

// SpO2 carries one pulse oximeter measurement.
type SpO2 struct {
	SpO2           float64 `json:"spo2" bson:"spo2"`
	Pulse          int     `json:"pulse" bson:"pulse"`
	PerfusionIndex float64 `json:"perfusion_index,omitempty" bson:"perfusion_index,omitempty"`
}

// BodyTemperature carries one temperature measurement in degrees Celsius.
type BodyTemperature struct {
	ValueC float64         `json:"value_c" bson:"value_c"`
	Site   TemperatureSite `json:"site" bson:"site"`
}

// Weight carries one scale measurement in kilograms.
type Weight struct {
	ValueKg      float64  `json:"value_kg" bson:"value_kg"`
	ImpedanceOhm *float64 `json:"impedance_ohm,omitempty" bson:"impedance_ohm,omitempty"`
}

// UricAcid carries one uric acid measurement.
type UricAcid struct {
	Value float64 `json:"value" bson:"value"`
}

// Cholesterol carries one cholesterol measurement.
type Cholesterol struct {
	Value float64 `json:"value" bson:"value"`
}

// HeartRate carries one heart rate sample in beats per minute.
type HeartRate struct {
	BPM int `json:"bpm" bson:"bpm"`
}

// StepCount carries a cumulative step counter sample.
type StepCount struct {
	Steps int `json:"steps" bson:"steps"`
}

// SleepSegment is a run of consecutive minutes in one sleep phase.
type SleepSegment struct {
	Phase     SleepPhase `json:"phase" bson:"phase"`
	DurationS int        `json:"duration_s" bson:"duration_s"`
}

// SleepSummary covers one sleep window with its ordered phase segments.
type SleepSummary struct {
	Start    time.Time      `json:"start_ts" bson:"start_ts"`
	End      time.Time      `json:"end_ts" bson:"end_ts"`
	Segments []SleepSegment `json:"segments" bson:"segments"`
}

// Emergency is an alert reading requiring priority handling.
type Emergency struct {
	Kind     EmergencyKind `json:"kind" bson:"kind"`
	Location *Location     `json:"location,omitempty" bson:"location,omitempty"`
}

// Heartbeat is a device liveness report. It carries no medical payload
// and is not persisted to a history collection.
type Heartbeat struct {
	BatteryPct  *int   `json:"battery_pct,omitempty" bson:"battery_pct,omitempty"`
	GSMSignal   *int   `json:"gsm_signal,omitempty" bson:"gsm_signal,omitempty"`
	Satellites  *int   `json:"satellites,omitempty" bson:"satellites,omitempty"`
	WorkingMode *int   `json:"working_mode,omitempty" bson:"working_mode,omitempty"`
	RSSI        *int   `json:"rssi,omitempty" bson:"rssi,omitempty"`
	IP          string `json:"ip,omitempty" bson:"ip,omitempty"`
}

// PatientHint carries the demographic side channel from Qube-Vital
// messages. Only the Qube resolver path consumes it (auto-provisioning).
type PatientHint struct {
	Citiz  string `json:"citiz"`
	NameTH string `json:"name_th,omitempty"`
	NameEN string `json:"name_en,omitempty"`
	Birth  string `json:"birth,omitempty"` // YYYYMMDD as sent by the device
	Gender string `json:"gender,omitempty"`
}

// Reading is the canonical observation produced by the payload codec.
//
// It is a sum type: Kind selects which one of the variant pointers is
// populated. DeviceTS is the device-supplied timestamp; a zero DeviceTS
// means the device sent none and the writer substitutes the server time.
type Reading struct {
	Kind     Kind           `json:"kind"`
	DeviceTS time.Time      `json:"device_ts"`
	Identity DeviceIdentity `json:"identity"`
	Location *Location      `json:"location,omitempty"`

	// Hint is only set on Qube-Vital readings.
	Hint *PatientHint `json:"hint,omitempty"`

	BloodPressure   *BloodPressure   `json:"blood_pressure,omitempty"`
	BloodSugar      *BloodSugar      `json:"blood_sugar,omitempty"`
	SpO2            *SpO2            `json:"spo2,omitempty"`
	BodyTemperature *BodyTemperature `json:"body_temperature,omitempty"`
	Weight          *Weight          `json:"weight,omitempty"`
	UricAcid        *UricAcid        `json:"uric_acid,omitempty"`
	Cholesterol     *Cholesterol     `json:"cholesterol,omitempty"`
	HeartRate       *HeartRate       `json:"heart_rate,omitempty"`
	StepCount       *StepCount       `json:"step_count,omitempty"`
	Sleep           *SleepSummary    `json:"sleep_summary,omitempty"`
	Emergency       *Emergency       `json:"emergency,omitempty"`
	Heartbeat       *Heartbeat       `json:"heartbeat,omitempty"`
}

// IsEmergency reports whether the reading is an emergency alert.
func (r *Reading) IsEmergency() bool {
	return r.Kind == KindEmergency
}

// Payload returns the populated variant for the reading's kind, or nil
// if the variant pointer does not match Kind.
func (r *Reading) Payload() any {
	switch r.Kind {
	case KindBloodPressure:
		return r.BloodPressure
	case KindBloodSugar:
		return r.BloodSugar
	case KindSpO2:
		return r.SpO2
	case KindBodyTemperature:
		return r.BodyTemperature
	case KindWeight:
		return r.Weight
	case KindUricAcid:
		return r.UricAcid
	case KindCholesterol:
		return r.Cholesterol
	case KindHeartRate:
		return r.HeartRate
	case KindStepCount:
		return r.StepCount
	case KindSleepSummary:
		return r.Sleep
	case KindLocation:
		return r.Location
	case KindEmergency:
		return r.Emergency
	case KindHeartbeat:
		return r.Heartbeat
	default:
		return nil
	}
}

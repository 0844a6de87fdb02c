package codec

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/amycare/telemetry-core/internal/observation"
)

// TopicKatiPrefix is the topic namespace for Kati watch messages. The
// subtopic (last segment) selects the payload shape and is matched
// case-insensitively; the field appears as both "sos" and "SOS" on real
// devices.
const TopicKatiPrefix = "iMEDE_watch/"

// katiTimeLayout is the watch's timestamp string format.
// The firmware does not state a timezone; the decoder's configured
// location (default UTC) decides how the string is read.
const katiTimeLayout = "02/01/2006 15:04:05"

// katiLocation mirrors the "location" object watches attach to several
// message types. LBS is kept as raw JSON; the core does not interpret
// cell tower data.
type katiLocation struct {
	GPS *struct {
		Latitude  flexFloat `json:"latitude"`
		Longitude flexFloat `json:"longitude"`
		Speed     flexFloat `json:"speed"`
		Header    flexFloat `json:"header"`
	} `json:"GPS"`
	WiFi string          `json:"WiFi"`
	LBS  json.RawMessage `json:"LBS"`
}

// toLocation converts the wire location to the canonical form.
// Returns nil when the watch sent nothing usable.
func (k *katiLocation) toLocation() *observation.Location {
	if k == nil {
		return nil
	}
	loc := &observation.Location{WiFiRaw: k.WiFi}
	if k.GPS != nil {
		loc.GPS = &observation.GeoPoint{
			Latitude:  float64(k.GPS.Latitude),
			Longitude: float64(k.GPS.Longitude),
			Speed:     float64(k.GPS.Speed),
			Heading:   float64(k.GPS.Header),
		}
	}
	if len(k.LBS) > 0 {
		loc.Cell = string(k.LBS)
	}
	if loc.GPS == nil && loc.Cell == "" && loc.WiFiRaw == "" {
		return nil
	}
	return loc
}

// katiVitalSign is the iMEDE_watch/VitalSign payload.
type katiVitalSign struct {
	IMEI          string   `json:"IMEI"`
	HeartRate     *flexInt `json:"heartRate"`
	BloodPressure *struct {
		Systolic  flexFloat `json:"bp_sys"`
		Diastolic flexFloat `json:"bp_dia"`
	} `json:"bloodPressure"`
	BodyTemperature *flexFloat    `json:"bodyTemperature"`
	SpO2            *flexFloat    `json:"spO2"`
	Location        *katiLocation `json:"location"`
	TimeStamps      string        `json:"timeStamps"`
}

// katiAP55 is the iMEDE_watch/AP55 batch payload.
type katiAP55 struct {
	IMEI       string        `json:"IMEI"`
	Location   *katiLocation `json:"location"`
	TimeStamps string        `json:"timeStamps"`
	NumDatas   int           `json:"num_datas"`
	Data       []katiAP55Row `json:"data"`
}

// katiAP55Row is one vital-signs tuple inside an AP55 batch.
type katiAP55Row struct {
	Timestamp     int64    `json:"timestamp"`
	HeartRate     *flexInt `json:"heartRate"`
	BloodPressure *struct {
		Systolic  flexFloat `json:"bp_sys"`
		Diastolic flexFloat `json:"bp_dia"`
	} `json:"bloodPressure"`
	SpO2            *flexFloat `json:"spO2"`
	BodyTemperature *flexFloat `json:"bodyTemperature"`
}

// katiHeartbeat is the iMEDE_watch/hb payload.
type katiHeartbeat struct {
	IMEI        string   `json:"IMEI"`
	TimeStamps  string   `json:"timeStamps"`
	SignalGSM   *flexInt `json:"signalGSM"`
	Battery     *flexInt `json:"battery"`
	Satellites  *flexInt `json:"satellites"`
	WorkingMode *flexInt `json:"workingMode"`
	Step        *flexInt `json:"step"`
}

// katiLocationMsg is the iMEDE_watch/location payload.
type katiLocationMsg struct {
	IMEI       string        `json:"IMEI"`
	Location   *katiLocation `json:"location"`
	TimeStamps string        `json:"timeStamps"`
}

// katiAlert covers sos / fallDown / onlineTrigger payloads.
type katiAlert struct {
	IMEI       string        `json:"IMEI"`
	Status     string        `json:"status"`
	Location   *katiLocation `json:"location"`
	TimeStamps string        `json:"timeStamps"`
}

// DecodeKati parses a message from a Kati watch.
//
// The subtopic (final topic segment, case-insensitive) selects the
// payload shape. onlineTrigger messages with a status other than
// "offline" decode to an empty result.
func (d *Decoder) DecodeKati(topic string, payload []byte) (*Result, error) {
	sub := topic
	if idx := strings.LastIndex(topic, "/"); idx >= 0 {
		sub = topic[idx+1:]
	}

	switch strings.ToLower(sub) {
	case "vitalsign":
		return d.decodeKatiVitalSign(payload)
	case "ap55":
		return d.decodeKatiAP55(payload)
	case "hb":
		return d.decodeKatiHeartbeat(payload)
	case "location":
		return d.decodeKatiLocation(payload)
	case "sleepdata":
		return d.decodeKatiSleep(payload)
	case "sos":
		return d.decodeKatiEmergency(payload, observation.EmergencySOS)
	case "falldown":
		return d.decodeKatiEmergency(payload, observation.EmergencyFall)
	case "onlinetrigger":
		return d.decodeKatiOnlineTrigger(payload)
	default:
		return nil, newParseError(FailureUnsupportedTopic, "kati subtopic %q", sub)
	}
}

// katiTime parses the watch's timestamp string in the configured zone.
// Returns the zero time for an empty string.
func (d *Decoder) katiTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(katiTimeLayout, s, d.katiLoc)
	if err != nil {
		return time.Time{}, newParseError(FailureMalformedJSON, "kati timestamp %q: %v", s, err)
	}
	return t.UTC(), nil
}

// katiIdentity builds the shared watch identity.
func katiIdentity(imei string) observation.DeviceIdentity {
	return observation.DeviceIdentity{ID: imei, Family: observation.FamilyKatiWatch}
}

// decodeKatiVitalSign expands a VitalSign message into up to four
// readings (heart rate, blood pressure, body temperature, SpO2), all
// sharing the IMEI identity, the message timestamp, and the optional
// location.
func (d *Decoder) decodeKatiVitalSign(payload []byte) (*Result, error) {
	var msg katiVitalSign
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati VitalSign: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati VitalSign has no IMEI")
	}

	ts, err := d.katiTime(msg.TimeStamps)
	if err != nil {
		return nil, err
	}

	identity := katiIdentity(msg.IMEI)
	loc := msg.Location.toLocation()

	var readings []observation.Reading
	if msg.HeartRate != nil {
		readings = append(readings, observation.Reading{
			Kind: observation.KindHeartRate, DeviceTS: ts, Identity: identity, Location: loc,
			HeartRate: &observation.HeartRate{BPM: msg.HeartRate.value()},
		})
	}
	if msg.BloodPressure != nil {
		readings = append(readings, observation.Reading{
			Kind: observation.KindBloodPressure, DeviceTS: ts, Identity: identity, Location: loc,
			BloodPressure: &observation.BloodPressure{
				Systolic:  float64(msg.BloodPressure.Systolic),
				Diastolic: float64(msg.BloodPressure.Diastolic),
				Pulse:     msg.HeartRate.value(),
			},
		})
	}
	if msg.BodyTemperature != nil {
		readings = append(readings, observation.Reading{
			Kind: observation.KindBodyTemperature, DeviceTS: ts, Identity: identity, Location: loc,
			BodyTemperature: &observation.BodyTemperature{
				ValueC: msg.BodyTemperature.value(),
				Site:   observation.SiteOther,
			},
		})
	}
	if msg.SpO2 != nil {
		readings = append(readings, observation.Reading{
			Kind: observation.KindSpO2, DeviceTS: ts, Identity: identity, Location: loc,
			SpO2: &observation.SpO2{SpO2: msg.SpO2.value(), Pulse: msg.HeartRate.value()},
		})
	}

	if len(readings) == 0 {
		return nil, newParseError(FailureMissingRequiredField, "kati VitalSign carries no vital signs")
	}

	result := &Result{Readings: readings}
	result.Warnings = checkRanges(readings)
	return result, nil
}

// decodeKatiAP55 expands a batch upload: one reading per vital-sign
// field per tuple, each tuple carrying its own epoch timestamp.
func (d *Decoder) decodeKatiAP55(payload []byte) (*Result, error) {
	var msg katiAP55
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati AP55: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati AP55 has no IMEI")
	}
	if len(msg.Data) == 0 {
		return nil, newParseError(FailureMissingRequiredField, "kati AP55 has empty data")
	}

	identity := katiIdentity(msg.IMEI)
	loc := msg.Location.toLocation()

	var readings []observation.Reading
	for _, row := range msg.Data {
		ts := epochTime(row.Timestamp)

		if row.HeartRate != nil {
			readings = append(readings, observation.Reading{
				Kind: observation.KindHeartRate, DeviceTS: ts, Identity: identity, Location: loc,
				HeartRate: &observation.HeartRate{BPM: row.HeartRate.value()},
			})
		}
		if row.BloodPressure != nil {
			readings = append(readings, observation.Reading{
				Kind: observation.KindBloodPressure, DeviceTS: ts, Identity: identity, Location: loc,
				BloodPressure: &observation.BloodPressure{
					Systolic:  float64(row.BloodPressure.Systolic),
					Diastolic: float64(row.BloodPressure.Diastolic),
					Pulse:     row.HeartRate.value(),
				},
			})
		}
		if row.SpO2 != nil {
			readings = append(readings, observation.Reading{
				Kind: observation.KindSpO2, DeviceTS: ts, Identity: identity, Location: loc,
				SpO2: &observation.SpO2{SpO2: row.SpO2.value(), Pulse: row.HeartRate.value()},
			})
		}
		if row.BodyTemperature != nil {
			readings = append(readings, observation.Reading{
				Kind: observation.KindBodyTemperature, DeviceTS: ts, Identity: identity, Location: loc,
				BodyTemperature: &observation.BodyTemperature{
					ValueC: row.BodyTemperature.value(),
					Site:   observation.SiteOther,
				},
			})
		}
	}

	if len(readings) == 0 {
		return nil, newParseError(FailureMissingRequiredField, "kati AP55 tuples carry no vital signs")
	}

	result := &Result{Readings: readings}
	result.Warnings = checkRanges(readings)
	return result, nil
}

// decodeKatiHeartbeat builds the watch liveness reading plus an extra
// step_count reading when the heartbeat carries a step counter.
func (d *Decoder) decodeKatiHeartbeat(payload []byte) (*Result, error) {
	var msg katiHeartbeat
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati hb: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati hb has no IMEI")
	}

	ts, err := d.katiTime(msg.TimeStamps)
	if err != nil {
		return nil, err
	}
	identity := katiIdentity(msg.IMEI)

	readings := []observation.Reading{{
		Kind: observation.KindHeartbeat, DeviceTS: ts, Identity: identity,
		Heartbeat: &observation.Heartbeat{
			BatteryPct:  msg.Battery.intPtr(),
			GSMSignal:   msg.SignalGSM.intPtr(),
			Satellites:  msg.Satellites.intPtr(),
			WorkingMode: msg.WorkingMode.intPtr(),
		},
	}}

	if msg.Step != nil {
		readings = append(readings, observation.Reading{
			Kind: observation.KindStepCount, DeviceTS: ts, Identity: identity,
			StepCount: &observation.StepCount{Steps: msg.Step.value()},
		})
	}

	return &Result{Readings: readings}, nil
}

// decodeKatiLocation builds a location reading.
func (d *Decoder) decodeKatiLocation(payload []byte) (*Result, error) {
	var msg katiLocationMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati location: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati location has no IMEI")
	}
	loc := msg.Location.toLocation()
	if loc == nil {
		return nil, newParseError(FailureMissingRequiredField, "kati location message carries no location")
	}

	ts, err := d.katiTime(msg.TimeStamps)
	if err != nil {
		return nil, err
	}

	return &Result{Readings: []observation.Reading{{
		Kind:     observation.KindLocation,
		DeviceTS: ts,
		Identity: katiIdentity(msg.IMEI),
		Location: loc,
	}}}, nil
}

// decodeKatiEmergency builds an emergency reading for sos/fallDown topics.
func (d *Decoder) decodeKatiEmergency(payload []byte, kind observation.EmergencyKind) (*Result, error) {
	var msg katiAlert
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati alert: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati alert has no IMEI")
	}

	ts, err := d.katiTime(msg.TimeStamps)
	if err != nil {
		return nil, err
	}

	loc := msg.Location.toLocation()
	return &Result{Readings: []observation.Reading{{
		Kind:      observation.KindEmergency,
		DeviceTS:  ts,
		Identity:  katiIdentity(msg.IMEI),
		Location:  loc,
		Emergency: &observation.Emergency{Kind: kind, Location: loc},
	}}}, nil
}

// decodeKatiOnlineTrigger emits an offline emergency when the watch
// reports going offline; any other status is ignored (empty result).
func (d *Decoder) decodeKatiOnlineTrigger(payload []byte) (*Result, error) {
	var msg katiAlert
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati onlineTrigger: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati onlineTrigger has no IMEI")
	}
	if !strings.EqualFold(msg.Status, "offline") {
		return &Result{}, nil
	}

	ts, err := d.katiTime(msg.TimeStamps)
	if err != nil {
		return nil, err
	}

	return &Result{Readings: []observation.Reading{{
		Kind:      observation.KindEmergency,
		DeviceTS:  ts,
		Identity:  katiIdentity(msg.IMEI),
		Emergency: &observation.Emergency{Kind: observation.EmergencyOffline},
	}}}, nil
}

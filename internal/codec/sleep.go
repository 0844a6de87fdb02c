package codec

import (
	"encoding/json"
	"time"

	"github.com/amycare/telemetry-core/internal/observation"
)

// katiSleepMsg is the iMEDE_watch/sleepdata payload. The watch encodes
// one character per minute of the sleep window; Time carries the window
// as "HHMM@HHMM" (bed time @ wake time).
type katiSleepMsg struct {
	IMEI  string `json:"IMEI"`
	Sleep struct {
		TimeStamps string `json:"timeStamps"`
		Time       string `json:"time"`
		Data       string `json:"data"`
		Num        int    `json:"num"`
	} `json:"sleep"`
}

// sleepPhaseFor maps one per-minute character to a sleep phase.
func sleepPhaseFor(c byte) (observation.SleepPhase, bool) {
	switch c {
	case '0':
		return observation.PhaseAwake, true
	case '1':
		return observation.PhaseLight, true
	case '2':
		return observation.PhaseDeep, true
	case '3':
		return observation.PhaseREM, true
	default:
		return "", false
	}
}

// decodeKatiSleep builds a sleep_summary reading from the per-minute
// phase string. The declared num must equal the character count; a
// mismatch rejects the message.
func (d *Decoder) decodeKatiSleep(payload []byte) (*Result, error) {
	var msg katiSleepMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, newParseError(FailureMalformedJSON, "kati sleepdata: %v", err)
	}
	if msg.IMEI == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati sleepdata has no IMEI")
	}
	if msg.Sleep.Data == "" {
		return nil, newParseError(FailureMissingRequiredField, "kati sleepdata has no sleep.data")
	}
	if msg.Sleep.Num != len(msg.Sleep.Data) {
		return nil, newParseError(FailureMissingRequiredField,
			"kati sleepdata num %d does not match %d data characters", msg.Sleep.Num, len(msg.Sleep.Data))
	}

	reportTS, err := d.katiTime(msg.Sleep.TimeStamps)
	if err != nil {
		return nil, err
	}

	start, end, err := d.sleepWindow(msg.Sleep.Time, reportTS)
	if err != nil {
		return nil, err
	}

	segments, err := decodeSleepSegments(msg.Sleep.Data)
	if err != nil {
		return nil, err
	}

	return &Result{Readings: []observation.Reading{{
		Kind:     observation.KindSleepSummary,
		DeviceTS: reportTS,
		Identity: katiIdentity(msg.IMEI),
		Sleep: &observation.SleepSummary{
			Start:    start,
			End:      end,
			Segments: segments,
		},
	}}}, nil
}

// decodeSleepSegments groups consecutive identical characters into
// ordered segments, one minute (60 s) per character.
func decodeSleepSegments(data string) ([]observation.SleepSegment, error) {
	const secondsPerSample = 60

	var segments []observation.SleepSegment
	runStart := 0
	for i := 1; i <= len(data); i++ {
		if i < len(data) && data[i] == data[runStart] {
			continue
		}
		phase, ok := sleepPhaseFor(data[runStart])
		if !ok {
			return nil, newParseError(FailureMissingRequiredField,
				"kati sleepdata contains unknown phase character %q", string(data[runStart]))
		}
		segments = append(segments, observation.SleepSegment{
			Phase:     phase,
			DurationS: (i - runStart) * secondsPerSample,
		})
		runStart = i
	}
	return segments, nil
}

// sleepWindow resolves the "HHMM@HHMM" window against the report date.
// A bed time later than the wake time crosses midnight, so the start is
// pushed back one day.
func (d *Decoder) sleepWindow(window string, reportTS time.Time) (start, end time.Time, err error) {
	const windowLen = 9 // HHMM@HHMM
	if len(window) != windowLen || window[4] != '@' {
		return time.Time{}, time.Time{}, newParseError(FailureMissingRequiredField,
			"kati sleepdata window %q is not HHMM@HHMM", window)
	}

	bed, err1 := time.Parse("1504", window[:4])
	wake, err2 := time.Parse("1504", window[5:])
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, newParseError(FailureMalformedJSON,
			"kati sleepdata window %q has invalid times", window)
	}

	anchor := reportTS
	if anchor.IsZero() {
		// No report timestamp; anchor to the epoch day so the window
		// still yields a consistent duration.
		anchor = time.Unix(0, 0).UTC()
	}
	anchor = anchor.In(d.katiLoc)

	year, month, day := anchor.Date()
	end = time.Date(year, month, day, wake.Hour(), wake.Minute(), 0, 0, d.katiLoc)
	start = time.Date(year, month, day, bed.Hour(), bed.Minute(), 0, 0, d.katiLoc)
	if !start.Before(end) {
		start = start.AddDate(0, 0, -1)
	}
	return start.UTC(), end.UTC(), nil
}

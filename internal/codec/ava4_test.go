package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/amycare/telemetry-core/internal/observation"
)

// Captured from a live WBP BIOLIGHT cuff report relayed by an AVA4 gateway.
const ava4BloodPressurePayload = `{"from":"BLE","to":"CLOUD","time":1836942771,"deviceCode":"08:F9:E0:D1:F7:B4","mac":"08:F9:E0:D1:F7:B4","type":"reportAttribute","device":"WBP BIOLIGHT","data":{"attribute":"BP_BIOLIGTH","mac":"08:F9:E0:D1:F7:B4","value":{"device_list":[{"scan_time":1836942771,"ble_addr":"d616f9641622","bp_high":137,"bp_low":95,"PR":74}]}}}`

func TestDecodeAVA4BloodPressure(t *testing.T) {
	d := NewDecoder(nil)

	result, err := d.DecodeAVA4(TopicAVA4Medical, []byte(ava4BloodPressurePayload))
	if err != nil {
		t.Fatalf("DecodeAVA4() error: %v", err)
	}
	if len(result.Readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(result.Readings))
	}

	r := result.Readings[0]
	if r.Kind != observation.KindBloodPressure {
		t.Errorf("kind = %q, want blood_pressure", r.Kind)
	}
	if r.BloodPressure == nil {
		t.Fatal("BloodPressure variant is nil")
	}
	if r.BloodPressure.Systolic != 137 || r.BloodPressure.Diastolic != 95 || r.BloodPressure.Pulse != 74 {
		t.Errorf("bp = %+v, want 137/95 pulse 74", r.BloodPressure)
	}
	if r.Identity.ID != "d616f9641622" {
		t.Errorf("identity = %q, want BLE sub-device address", r.Identity.ID)
	}
	if r.Identity.Family != observation.FamilyAVA4SubDevice {
		t.Errorf("family = %q, want AVA4_SUBDEVICE", r.Identity.Family)
	}
	if r.Identity.GatewayMAC != "08:F9:E0:D1:F7:B4" {
		t.Errorf("gateway mac = %q", r.Identity.GatewayMAC)
	}
	if want := time.Unix(1836942771, 0).UTC(); !r.DeviceTS.Equal(want) {
		t.Errorf("device ts = %v, want %v", r.DeviceTS, want)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestDecodeAVA4IdentityFallsBackToReportMac(t *testing.T) {
	payload := `{"mac":"AA:BB","time":100,"type":"reportAttribute","data":{"attribute":"MGSS_REF_UA","mac":"cc:dd","value":{"device_list":[{"uric_acid":5.2}]}}}`

	result, err := NewDecoder(nil).DecodeAVA4(TopicAVA4Medical, []byte(payload))
	if err != nil {
		t.Fatalf("DecodeAVA4() error: %v", err)
	}
	r := result.Readings[0]
	if r.Identity.ID != "cc:dd" {
		t.Errorf("identity = %q, want report mac fallback", r.Identity.ID)
	}
	if r.UricAcid == nil || r.UricAcid.Value != 5.2 {
		t.Errorf("uric acid = %+v, want 5.2", r.UricAcid)
	}
	// scan_time absent: entry inherits the envelope time.
	if want := time.Unix(100, 0).UTC(); !r.DeviceTS.Equal(want) {
		t.Errorf("device ts = %v, want envelope time", r.DeviceTS)
	}
}

func TestDecodeAVA4MultiEntryDeviceList(t *testing.T) {
	payload := `{"mac":"gw","time":50,"type":"reportAttribute","data":{"attribute":"BodyScale_JUMPER","mac":"gw-scale","value":{"device_list":[{"scan_time":60,"ble_addr":"s1","weight":71.5,"resistance":512},{"scan_time":61,"ble_addr":"s2","weight":62.0}]}}}`

	result, err := NewDecoder(nil).DecodeAVA4(TopicAVA4Medical, []byte(payload))
	if err != nil {
		t.Fatalf("DecodeAVA4() error: %v", err)
	}
	if len(result.Readings) != 2 {
		t.Fatalf("got %d readings, want 2 (one per device_list entry)", len(result.Readings))
	}
	first := result.Readings[0]
	if first.Weight == nil || first.Weight.ValueKg != 71.5 {
		t.Errorf("first weight = %+v", first.Weight)
	}
	if first.Weight.ImpedanceOhm == nil || *first.Weight.ImpedanceOhm != 512 {
		t.Errorf("impedance = %v, want 512", first.Weight.ImpedanceOhm)
	}
	if result.Readings[1].Weight.ImpedanceOhm != nil {
		t.Error("second entry has no resistance; impedance should be nil")
	}
}

func TestDecodeAVA4Heartbeat(t *testing.T) {
	payload := `{"from":"ESP32_GW","to":"CLOUD","time":1836942000,"mac":"08:F9:E0:D1:F7:B4","IP":"10.0.1.44","rssi":-61,"type":"HB_Msg","data":{"msg":"Online"}}`

	result, err := NewDecoder(nil).DecodeAVA4(TopicAVA4Gateway, []byte(payload))
	if err != nil {
		t.Fatalf("DecodeAVA4() error: %v", err)
	}
	r := result.Readings[0]
	if r.Kind != observation.KindHeartbeat {
		t.Fatalf("kind = %q, want heartbeat", r.Kind)
	}
	if r.Identity.Family != observation.FamilyAVA4Gateway {
		t.Errorf("family = %q, want AVA4_GATEWAY", r.Identity.Family)
	}
	if r.Heartbeat.IP != "10.0.1.44" {
		t.Errorf("heartbeat IP = %q", r.Heartbeat.IP)
	}
	if r.Heartbeat.RSSI == nil || *r.Heartbeat.RSSI != -61 {
		t.Errorf("heartbeat RSSI = %v, want -61", r.Heartbeat.RSSI)
	}
}

func TestDecodeAVA4Failures(t *testing.T) {
	d := NewDecoder(nil)

	tests := []struct {
		name    string
		payload string
		want    FailureKind
	}{
		{
			name:    "not json",
			payload: `{{{`,
			want:    FailureMalformedJSON,
		},
		{
			name:    "no type",
			payload: `{"mac":"aa"}`,
			want:    FailureMissingRequiredField,
		},
		{
			name:    "unknown attribute",
			payload: `{"mac":"gw","type":"reportAttribute","data":{"attribute":"SHINY_NEW_DEVICE","value":{"device_list":[{"ble_addr":"x"}]}}}`,
			want:    FailureUnsupportedAttribute,
		},
		{
			name:    "empty device list",
			payload: `{"mac":"gw","type":"reportAttribute","data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[]}}}`,
			want:    FailureMissingRequiredField,
		},
		{
			name:    "bp entry missing values",
			payload: `{"mac":"gw","type":"reportAttribute","data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[{"ble_addr":"x","PR":70}]}}}`,
			want:    FailureMissingRequiredField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DecodeAVA4(TopicAVA4Medical, []byte(tt.payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := FailureOf(err); got != tt.want {
				t.Errorf("failure kind = %q, want %q", got, tt.want)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Error("error is not a *ParseError")
			}
		})
	}
}

func TestDecodeAVA4OutOfRangeIsAcceptedWithWarning(t *testing.T) {
	payload := `{"mac":"gw","time":10,"type":"reportAttribute","data":{"attribute":"BP_BIOLIGTH","mac":"m","value":{"device_list":[{"ble_addr":"x","bp_high":290,"bp_low":95,"PR":74}]}}}`

	result, err := NewDecoder(nil).DecodeAVA4(TopicAVA4Medical, []byte(payload))
	if err != nil {
		t.Fatalf("out-of-range reading should still decode: %v", err)
	}
	if len(result.Readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(result.Readings))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(result.Warnings), result.Warnings)
	}
	if result.Warnings[0].ReadingIndex != 0 {
		t.Errorf("warning index = %d, want 0", result.Warnings[0].ReadingIndex)
	}
}

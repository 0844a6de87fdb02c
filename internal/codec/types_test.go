package codec

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/amycare/telemetry-core/internal/observation"
)

func TestFlexFloatLenientDecoding(t *testing.T) {
	var doc struct {
		A *flexFloat `json:"a"`
		B *flexFloat `json:"b"`
		C *flexFloat `json:"c"`
		D *flexInt   `json:"d"`
		E *flexInt   `json:"e"`
	}

	raw := `{"a":36.6,"b":"37.2","c":null,"d":"74","e":74}`
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if doc.A.value() != 36.6 {
		t.Errorf("number field = %v", doc.A.value())
	}
	if doc.B.value() != 37.2 {
		t.Errorf("string field = %v", doc.B.value())
	}
	if doc.D.value() != 74 || doc.E.value() != 74 {
		t.Errorf("int fields = %v/%v", doc.D.value(), doc.E.value())
	}

	if err := json.Unmarshal([]byte(`{"a":"not a number"}`), &doc); err == nil {
		t.Error("garbage string should fail to decode")
	}
}

func TestFlexNilAccessors(t *testing.T) {
	var f *flexFloat
	var i *flexInt
	if f.value() != 0 || i.value() != 0 {
		t.Error("nil accessors should return zero")
	}
	if i.intPtr() != nil {
		t.Error("nil intPtr should return nil")
	}
}

// Readings must survive a JSON round trip unchanged: the data-flow stream
// and downstream consumers rely on stable canonical field names.
func TestReadingRoundTrip(t *testing.T) {
	d := NewDecoder(nil)

	payloads := []struct {
		name   string
		decode func() (*Result, error)
	}{
		{"ava4 bp", func() (*Result, error) {
			return d.DecodeAVA4(TopicAVA4Medical, []byte(ava4BloodPressurePayload))
		}},
		{"qube bp", func() (*Result, error) {
			return d.DecodeQube(TopicQubeVital, []byte(qubeBloodPressurePayload))
		}},
		{"kati vitalsign", func() (*Result, error) {
			return d.DecodeKati("iMEDE_watch/VitalSign",
				[]byte(`{"IMEI":"1","heartRate":70,"spO2":98,"timeStamps":"16/06/2025 12:30:45"}`))
		}},
	}

	for _, tt := range payloads {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.decode()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			for _, original := range result.Readings {
				data, err := json.Marshal(original)
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				var restored observation.Reading
				if err := json.Unmarshal(data, &restored); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if !reflect.DeepEqual(original, restored) {
					t.Errorf("round trip mismatch:\n  in:  %+v\n  out: %+v", original, restored)
				}
			}
		})
	}
}

package codec

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/amycare/telemetry-core/internal/observation"
)

// Result is the output of a successful decode: one or more canonical
// readings plus any soft range-check warnings. Warnings never suppress
// readings; out-of-range values are still stored, just flagged.
type Result struct {
	Readings []observation.Reading
	Warnings []Warning
}

// Warning flags a soft range-check violation on one decoded reading.
type Warning struct {
	// ReadingIndex is the offset into Result.Readings.
	ReadingIndex int

	// Detail names the field and the violated bound.
	Detail string
}

// flexFloat decodes a JSON number that sloppy device firmware may send as
// a number, a quoted string, or null.
type flexFloat float64

// UnmarshalJSON implements lenient float decoding.
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes a JSON integer that may arrive as a number or a string.
type flexInt int

// UnmarshalJSON implements lenient integer decoding.
func (i *flexInt) UnmarshalJSON(data []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt(f)
	return nil
}

func (f *flexFloat) value() float64 {
	if f == nil {
		return 0
	}
	return float64(*f)
}

func (i *flexInt) value() int {
	if i == nil {
		return 0
	}
	return int(*i)
}

func (i *flexInt) intPtr() *int {
	if i == nil {
		return nil
	}
	v := int(*i)
	return &v
}

// epochTime converts epoch seconds to UTC, returning the zero time for
// zero/negative input (the writer substitutes server time for zero).
func epochTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

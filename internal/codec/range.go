package codec

import (
	"fmt"

	"github.com/amycare/telemetry-core/internal/observation"
)

// Soft plausibility bounds. Readings outside these bounds are still
// accepted and persisted; they only raise a warning on the flow stream.
const (
	minSystolic  = 50.0
	maxSystolic  = 260.0
	minDiastolic = 30.0
	maxDiastolic = 200.0
	minSpO2      = 50.0
	maxSpO2      = 100.0
	minTempC     = 30.0
	maxTempC     = 45.0
	minWeightKg  = 1.0
	maxWeightKg  = 400.0
)

// checkRanges runs the soft plausibility checks over decoded readings.
func checkRanges(readings []observation.Reading) []Warning {
	var warnings []Warning
	for i := range readings {
		for _, detail := range rangeViolations(&readings[i]) {
			warnings = append(warnings, Warning{ReadingIndex: i, Detail: detail})
		}
	}
	return warnings
}

// rangeViolations returns one detail string per violated bound.
func rangeViolations(r *observation.Reading) []string {
	var out []string
	add := func(field string, value, lo, hi float64) {
		if value < lo || value > hi {
			out = append(out, fmt.Sprintf("%s %g outside [%g, %g]", field, value, lo, hi))
		}
	}

	switch r.Kind {
	case observation.KindBloodPressure:
		if bp := r.BloodPressure; bp != nil {
			add("systolic", bp.Systolic, minSystolic, maxSystolic)
			add("diastolic", bp.Diastolic, minDiastolic, maxDiastolic)
		}
	case observation.KindSpO2:
		if s := r.SpO2; s != nil {
			add("spo2", s.SpO2, minSpO2, maxSpO2)
		}
	case observation.KindBodyTemperature:
		if t := r.BodyTemperature; t != nil {
			add("temperature_c", t.ValueC, minTempC, maxTempC)
		}
	case observation.KindWeight:
		if w := r.Weight; w != nil {
			add("weight_kg", w.ValueKg, minWeightKg, maxWeightKg)
		}
	}
	return out
}

package codec

import (
	"strings"

	"github.com/amycare/telemetry-core/internal/observation"
)

// sugarMarker normalises the free-text meal marker different glucometer
// firmwares send ("Before Meal", "fasting", "After-meal", ...).
func sugarMarker(raw string) observation.SugarMarker {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return observation.MarkerUnknown
	case strings.Contains(s, "fast"), strings.Contains(s, "before"):
		return observation.MarkerFasting
	case strings.Contains(s, "after"):
		return observation.MarkerAfterMeal
	default:
		return observation.MarkerUnknown
	}
}

// temperatureSite normalises the thermometer mode field.
func temperatureSite(raw string) observation.TemperatureSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "head", "forehead", "ear":
		return observation.SiteHead
	case "armpit", "body":
		return observation.SiteArmpit
	default:
		return observation.SiteOther
	}
}

package mongo

// Registry and snapshot collections in the primary database.
const (
	CollPatients   = "patients"
	CollAmyBoxes   = "amy_boxes"
	CollAmyDevices = "amy_devices"
	CollWatches    = "watches"
	CollQubeBoxes  = "mfc_hv01_boxes"
	CollEmergency  = "emergency_alarm"
)

// History collections, one per reading kind. Documents are append-only.
const (
	CollBloodPressureHist = "blood_pressure_histories"
	CollBloodSugarHist    = "blood_sugar_histories"
	CollSpO2Hist          = "spo2_histories"
	CollTemperatureHist   = "temperature_histories"
	CollWeightHist        = "body_data_histories"
	CollUricAcidHist      = "uric_acid_histories"
	CollCholesterolHist   = "cholesterol_histories"
	CollHeartRateHist     = "heart_rate_histories"
	CollStepCountHist     = "step_histories"
	CollSleepHist         = "sleep_data_histories"
	CollLocationHist      = "location_histories"
	CollEmergencyHist     = "emergency_alarm"
)

// Audit database collection.
const CollAuditLog = "audit_log"

package dataflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/amycare/telemetry-core/internal/observation"
)

// Step identifies a stage of the processing pipeline.
type Step string

const (
	StepReceived         Step = "received"
	StepParsed           Step = "parsed"
	StepResolved         Step = "resolved"
	StepSnapshotWritten  Step = "snapshot_written"
	StepHistoryWritten   Step = "history_written"
	StepEmittedEmergency Step = "emitted_emergency"
	StepRejected         Step = "rejected"
)

// Status is the outcome of a step.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"

	// StatusWarning marks soft anomalies (out-of-range values, late
	// readings) that were stored anyway.
	StatusWarning Status = "warning"
)

// Event is one entry in the data-flow stream. The events of a single
// reading share one FlowID and form a causally ordered sequence.
type Event struct {
	FlowID         string             `json:"flow_id"`
	Step           Step               `json:"step"`
	Status         Status             `json:"status"`
	FamilyTag      observation.Family `json:"family_tag"`
	Topic          string             `json:"topic"`
	DeviceIdentity string             `json:"device_identity"`
	Kind           observation.Kind   `json:"kind,omitempty"`
	PatientID      string             `json:"patient_id,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Priority       string             `json:"priority,omitempty"`
	ServerTS       time.Time          `json:"server_ts"`
}

// NewFlowID mints the identifier shared by one reading's event sequence.
func NewFlowID() string {
	return uuid.New().String()
}

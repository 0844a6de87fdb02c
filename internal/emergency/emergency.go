package emergency

import (
	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/observation"
)

// Priority ranks an alarm for downstream escalation.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
)

// priorities maps the emergency kind to its escalation level.
var priorities = map[observation.EmergencyKind]Priority{
	observation.EmergencySOS:        PriorityCritical,
	observation.EmergencyFall:       PriorityHigh,
	observation.EmergencyLowBattery: PriorityMedium,
	observation.EmergencyNotWorn:    PriorityMedium,
	observation.EmergencyOffline:    PriorityMedium,
}

// PriorityFor returns the escalation level for an emergency kind.
// Unknown kinds rank MEDIUM rather than being silently dropped.
func PriorityFor(kind observation.EmergencyKind) Priority {
	if p, ok := priorities[kind]; ok {
		return p
	}
	return PriorityMedium
}

// Emitter is the slice of the data-flow emitter the pipeline needs.
type Emitter interface {
	Emit(e dataflow.Event)
}

// Pipeline tags and broadcasts emergency readings. Persistence goes
// through the normal writer; this pipeline only adds the priority and
// the emitted_emergency event, which fires even for unresolved patients.
type Pipeline struct {
	emitter Emitter
	logger  *logging.Logger
}

// New creates the emergency pipeline.
func New(emitter Emitter, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{emitter: emitter, logger: logger}
}

// Notify emits the emitted_emergency event for a stored emergency
// reading. patientID is empty for unresolved devices; the alarm is
// broadcast regardless.
func (p *Pipeline) Notify(flowID, topic, patientID string, reading observation.Reading) {
	if reading.Emergency == nil {
		return
	}
	priority := PriorityFor(reading.Emergency.Kind)

	p.emitter.Emit(dataflow.Event{
		FlowID:         flowID,
		Step:           dataflow.StepEmittedEmergency,
		Status:         dataflow.StatusOK,
		FamilyTag:      reading.Identity.Family,
		Topic:          topic,
		DeviceIdentity: reading.Identity.ID,
		Kind:           reading.Kind,
		PatientID:      patientID,
		Priority:       string(priority),
	})

	p.logger.Warn("emergency alarm",
		"kind", reading.Emergency.Kind,
		"priority", priority,
		"device", reading.Identity.ID,
		"patient_id", patientID,
	)
}

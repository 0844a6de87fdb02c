package listener

import (
	"context"
	"errors"

	"github.com/amycare/telemetry-core/internal/codec"
	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/observation"
)

// process drives one MQTT message through the pipeline. Every reading
// gets its own flow sequence; a message that fails to decode at all
// gets a single message-level received/rejected pair.
//
// A non-nil return withholds the broker ack: the whole message is
// redelivered, and readings that already stored produce a second
// history record on replay. Decode failures return nil; redelivering
// the same bytes cannot succeed.
func (l *Listener) process(ctx context.Context, topic string, payload []byte) error {
	result, err := l.decoder.Decode(l.family, topic, payload)
	if err != nil {
		flowID := dataflow.NewFlowID()
		l.emit(dataflow.Event{
			FlowID: flowID, Step: dataflow.StepReceived, Status: dataflow.StatusOK,
			Topic: topic,
		})
		l.emit(dataflow.Event{
			FlowID: flowID, Step: dataflow.StepRejected, Status: dataflow.StatusFail,
			Topic: topic, Reason: string(codec.FailureOf(err)),
		})
		l.logger.Warn("message rejected",
			"topic", topic,
			"reason", codec.FailureOf(err),
			"error", err,
		)
		return nil
	}

	warnings := warningsByReading(result.Warnings)
	var errs []error
	for i, reading := range result.Readings {
		if err := l.processReading(ctx, topic, reading, warnings[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// processReading runs one reading's flow: received, parsed, resolved,
// store, terminal events. The returned error marks a retryable failure
// (store or registry outage) that should hold back the broker ack.
func (l *Listener) processReading(ctx context.Context, topic string, reading observation.Reading, warnings []codec.Warning) error {
	flowID := dataflow.NewFlowID()
	base := dataflow.Event{
		FlowID:         flowID,
		Topic:          topic,
		FamilyTag:      reading.Identity.Family,
		DeviceIdentity: reading.Identity.ID,
		Kind:           reading.Kind,
	}

	l.emitStep(base, dataflow.StepReceived, dataflow.StatusOK, "")
	l.emitStep(base, dataflow.StepParsed, dataflow.StatusOK, "")

	for _, w := range warnings {
		l.emitStep(base, dataflow.StepRejected, dataflow.StatusWarning, w.Detail)
	}

	// Heartbeats are device telemetry, not medical data: no patient, no
	// history collection. Their flow ends at parsed.
	if reading.Kind == observation.KindHeartbeat {
		return nil
	}

	patientID, proceed, err := l.resolveReading(ctx, base, reading)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	storeResult, err := l.store.Store(ctx, patientID, reading)
	if err != nil {
		l.emitStep(base, dataflow.StepRejected, dataflow.StatusFail, err.Error())
		l.logger.Error("store failed",
			"kind", reading.Kind,
			"patient_id", patientID,
			"error", err,
		)
		return err
	}

	if storeResult.SnapshotUpdated {
		l.emitStepWithPatient(base, dataflow.StepSnapshotWritten, dataflow.StatusOK, "", patientID)
	} else if storeResult.LateReading {
		l.emitStepWithPatient(base, dataflow.StepRejected, dataflow.StatusWarning, "late_reading", patientID)
	} else if storeResult.SnapshotStale {
		l.emitStepWithPatient(base, dataflow.StepRejected, dataflow.StatusWarning, "snapshot_stale", patientID)
	}
	l.emitStepWithPatient(base, dataflow.StepHistoryWritten, dataflow.StatusOK, "", patientID)

	if reading.IsEmergency() && l.alarms != nil {
		l.alarms.Notify(flowID, topic, patientID, reading)
	}
	return nil
}

// resolveReading maps the reading to a patient. proceed is false when
// the flow is terminal; a non-nil error additionally marks a registry
// outage whose message should stay unacked for redelivery.
func (l *Listener) resolveReading(ctx context.Context, base dataflow.Event, reading observation.Reading) (patientID string, proceed bool, retry error) {
	res, err := l.resolve.Resolve(ctx, reading)
	if err != nil {
		// Registry outage. Emergencies still flow with a null patient;
		// anything else is rejected and retried via broker redelivery.
		if reading.IsEmergency() {
			l.logger.Error("resolver unavailable; emergency continues unresolved", "error", err)
			l.emitStep(base, dataflow.StepResolved, dataflow.StatusOK, "unresolved")
			return "", true, nil
		}
		l.emitStep(base, dataflow.StepRejected, dataflow.StatusFail, "resolver_unavailable")
		l.logger.Error("resolver unavailable", "kind", reading.Kind, "error", err)
		return "", false, err
	}

	if !res.Resolved() {
		if reading.IsEmergency() {
			l.emitStep(base, dataflow.StepResolved, dataflow.StatusOK, "unresolved")
			return "", true, nil
		}
		l.emitStep(base, dataflow.StepRejected, dataflow.StatusFail, "unresolved_device")
		return "", false, nil
	}

	l.emitStepWithPatient(base, dataflow.StepResolved, dataflow.StatusOK, "", res.PatientID)
	return res.PatientID, true, nil
}

func (l *Listener) emit(e dataflow.Event) {
	l.emitter.Emit(e)
}

func (l *Listener) emitStep(base dataflow.Event, step dataflow.Step, status dataflow.Status, reason string) {
	l.emitStepWithPatient(base, step, status, reason, base.PatientID)
}

func (l *Listener) emitStepWithPatient(base dataflow.Event, step dataflow.Step, status dataflow.Status, reason, patientID string) {
	e := base
	e.Step = step
	e.Status = status
	e.Reason = reason
	e.PatientID = patientID
	l.emitter.Emit(e)
}

// warningsByReading groups codec warnings by reading index.
func warningsByReading(warnings []codec.Warning) map[int][]codec.Warning {
	if len(warnings) == 0 {
		return nil
	}
	byIndex := make(map[int][]codec.Warning)
	for _, w := range warnings {
		byIndex[w.ReadingIndex] = append(byIndex[w.ReadingIndex], w)
	}
	return byIndex
}

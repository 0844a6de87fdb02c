package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amycare/telemetry-core/internal/audit"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/infrastructure/mongo"
	"github.com/amycare/telemetry-core/internal/observation"
)

// kindCollections maps each reading kind to its history collection.
// Collection names are contractual; downstream services query them.
var kindCollections = map[observation.Kind]string{
	observation.KindBloodPressure:   mongo.CollBloodPressureHist,
	observation.KindBloodSugar:      mongo.CollBloodSugarHist,
	observation.KindSpO2:            mongo.CollSpO2Hist,
	observation.KindBodyTemperature: mongo.CollTemperatureHist,
	observation.KindWeight:          mongo.CollWeightHist,
	observation.KindUricAcid:        mongo.CollUricAcidHist,
	observation.KindCholesterol:     mongo.CollCholesterolHist,
	observation.KindHeartRate:       mongo.CollHeartRateHist,
	observation.KindStepCount:       mongo.CollStepCountHist,
	observation.KindSleepSummary:    mongo.CollSleepHist,
	observation.KindLocation:        mongo.CollLocationHist,
	observation.KindEmergency:       mongo.CollEmergencyHist,
}

// snapshotBackoffs are the delays between snapshot CAS retries.
var snapshotBackoffs = []time.Duration{
	50 * time.Millisecond,
	200 * time.Millisecond,
	800 * time.Millisecond,
}

// StoreResult reports what the dual-write protocol accomplished.
type StoreResult struct {
	// HistoryRecordID is the id of the appended history record.
	HistoryRecordID string

	// SnapshotUpdated is true when the patient snapshot now reflects this
	// reading.
	SnapshotUpdated bool

	// LateReading is true when a newer snapshot already existed; the
	// history record is kept and the snapshot is untouched.
	LateReading bool

	// SnapshotStale is true when the snapshot update kept failing after
	// retries; the history record is kept.
	SnapshotStale bool
}

// Store is the writer contract the listener depends on.
type Store interface {
	Store(ctx context.Context, patientID string, reading observation.Reading) (StoreResult, error)
}

// Metrics receives one latency sample per completed store protocol.
// Satisfied by the InfluxDB sink; nil disables sampling.
type Metrics interface {
	RecordWriteLatency(kind string, elapsed time.Duration)
}

// Writer executes the dual-write protocol: append-only history first,
// then a compare-and-set snapshot update on the patient document, then a
// best-effort audit record.
type Writer struct {
	backend backend
	auditor audit.Recorder
	locks   *stripedLock
	logger  *logging.Logger
	metrics Metrics

	maxRetries      int
	protocolTimeout time.Duration
}

// New creates a Writer backed by MongoDB.
func New(client *mongo.Client, auditor audit.Recorder, cfg config.WriterConfig, logger *logging.Logger) *Writer {
	return newWithBackend(newMongoBackend(client), auditor, cfg, logger)
}

func newWithBackend(b backend, auditor audit.Recorder, cfg config.WriterConfig, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Writer{
		backend:         b,
		auditor:         auditor,
		locks:           newStripedLock(cfg.PerPatientStripes),
		logger:          logger,
		maxRetries:      cfg.MaxRetries,
		protocolTimeout: time.Duration(cfg.ProtocolTimeout) * time.Second,
	}
}

// SetMetrics attaches the optional latency sink.
func (w *Writer) SetMetrics(m Metrics) {
	w.metrics = m
}

// Store implements the dual-write protocol for one reading.
//
// patientID may be empty only for unresolved emergencies, which are
// written to emergency_alarm with a null patient and no snapshot.
//
// Writes for the same patient are serialised through a striped lock so
// concurrent readings cannot lose a snapshot update.
func (w *Writer) Store(ctx context.Context, patientID string, reading observation.Reading) (StoreResult, error) {
	collection, ok := kindCollections[reading.Kind]
	if !ok {
		return StoreResult{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, reading.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, w.protocolTimeout)
	defer cancel()

	mu := w.locks.forKey(patientID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	result, err := w.store(ctx, collection, patientID, reading)
	if w.metrics != nil {
		w.metrics.RecordWriteLatency(string(reading.Kind), time.Since(start))
	}
	if err != nil && ctx.Err() != nil {
		return result, fmt.Errorf("%w: %w", ErrWriteTimeout, err)
	}
	return result, err
}

func (w *Writer) store(ctx context.Context, collection, patientID string, reading observation.Reading) (StoreResult, error) {
	serverTS := time.Now().UTC()
	if reading.DeviceTS.IsZero() {
		reading.DeviceTS = serverTS
	}

	rec := newHistoryRecord(patientID, reading, serverTS)
	if err := w.backend.InsertHistory(ctx, collection, rec); err != nil {
		return StoreResult{}, fmt.Errorf("%w: %s: %w", ErrHistoryFailed, collection, err)
	}
	result := StoreResult{HistoryRecordID: rec.ID}

	if patientID != "" {
		w.updateSnapshot(ctx, patientID, reading, serverTS, &result)
	}

	w.recordAudit(ctx, patientID, reading, rec.ID, serverTS)

	return result, nil
}

// updateSnapshot runs the CAS with bounded retries. Only transient
// failures are retried; a no-op CAS means a newer snapshot exists and is
// already success.
func (w *Writer) updateSnapshot(ctx context.Context, patientID string, reading observation.Reading, serverTS time.Time, result *StoreResult) {
	field := snapshotField(reading.Kind)
	snap := newSnapshot(reading, serverTS)

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := snapshotBackoffs[len(snapshotBackoffs)-1]
			if attempt-1 < len(snapshotBackoffs) {
				delay = snapshotBackoffs[attempt-1]
			}
			select {
			case <-ctx.Done():
				result.SnapshotStale = true
				return
			case <-time.After(delay):
			}
		}

		updated, err := w.backend.UpdateSnapshot(ctx, patientID, field, snap, reading.DeviceTS)
		if err == nil {
			result.SnapshotUpdated = updated
			result.LateReading = !updated
			return
		}
		lastErr = err
		if !mongo.IsTransient(err) {
			break
		}
	}

	result.SnapshotStale = true
	w.logger.Error("snapshot update failed after retries; history record retained",
		"patient_id", patientID,
		"kind", reading.Kind,
		"error", lastErr,
	)
}

// recordAudit appends the provenance record. Best-effort: a failure is
// logged and the store still succeeds.
func (w *Writer) recordAudit(ctx context.Context, patientID string, reading observation.Reading, historyID string, serverTS time.Time) {
	if w.auditor == nil {
		return
	}
	err := w.auditor.Record(ctx, audit.Record{
		ServerTS:        serverTS,
		PatientID:       patientID,
		ReadingKind:     reading.Kind,
		SourceFamily:    reading.Identity.Family,
		HistoryRecordID: historyID,
	})
	if err != nil {
		w.logger.Warn("audit record write failed",
			"history_record_id", historyID,
			"error", err,
		)
	}
}

// snapshotField names the patient document field for a kind.
func snapshotField(kind observation.Kind) string {
	return "last_" + string(kind)
}

// historyRecord is the append-only document shape shared by every
// history collection.
type historyRecord struct {
	ID           string                `bson:"_id"`
	PatientID    *string               `bson:"patient_id"`
	Kind         observation.Kind      `bson:"kind"`
	SourceFamily observation.Family    `bson:"source_family"`
	DeviceID     string                `bson:"device_id"`
	DeviceTS     time.Time             `bson:"device_ts"`
	ServerTS     time.Time             `bson:"server_ts"`
	Data         any                   `bson:"data"`
	Location     *observation.Location `bson:"location,omitempty"`
}

// newHistoryRecord assigns a fresh id every time: redelivered messages
// produce a second record rather than silently overwriting the first.
func newHistoryRecord(patientID string, reading observation.Reading, serverTS time.Time) historyRecord {
	rec := historyRecord{
		ID:           uuid.New().String(),
		Kind:         reading.Kind,
		SourceFamily: reading.Identity.Family,
		DeviceID:     reading.Identity.ID,
		DeviceTS:     reading.DeviceTS,
		ServerTS:     serverTS,
		Data:         reading.Payload(),
		Location:     reading.Location,
	}
	if patientID != "" {
		rec.PatientID = &patientID
	}
	return rec
}

// snapshotValue is the last_<kind> field on the patient document.
type snapshotValue struct {
	DeviceTS time.Time `bson:"device_ts"`
	ServerTS time.Time `bson:"server_ts"`
	DeviceID string    `bson:"device_id"`
	Data     any       `bson:"data"`
}

func newSnapshot(reading observation.Reading, serverTS time.Time) snapshotValue {
	return snapshotValue{
		DeviceTS: reading.DeviceTS,
		ServerTS: serverTS,
		DeviceID: reading.Identity.ID,
		Data:     reading.Payload(),
	}
}

package writer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/amycare/telemetry-core/internal/audit"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/mongo"
	"github.com/amycare/telemetry-core/internal/observation"
)

// mockBackend captures protocol calls and plays back scripted failures.
type mockBackend struct {
	inserts      []insertCall
	snapshots    []snapshotCall
	insertErr    error
	snapshotErrs []error // consumed one per UpdateSnapshot call
	casMisses    bool    // true makes every CAS a no-op (newer snapshot exists)
}

type insertCall struct {
	collection string
	rec        historyRecord
}

type snapshotCall struct {
	patientID string
	field     string
	deviceTS  time.Time
}

func (m *mockBackend) InsertHistory(_ context.Context, collection string, rec historyRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserts = append(m.inserts, insertCall{collection: collection, rec: rec})
	return nil
}

func (m *mockBackend) UpdateSnapshot(_ context.Context, patientID, field string, _ snapshotValue, deviceTS time.Time) (bool, error) {
	m.snapshots = append(m.snapshots, snapshotCall{patientID: patientID, field: field, deviceTS: deviceTS})
	if len(m.snapshotErrs) > 0 {
		err := m.snapshotErrs[0]
		m.snapshotErrs = m.snapshotErrs[1:]
		if err != nil {
			return false, err
		}
	}
	return !m.casMisses, nil
}

type mockAuditor struct {
	records  []audit.Record
	failWith error
}

func (m *mockAuditor) Record(_ context.Context, rec audit.Record) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.records = append(m.records, rec)
	return nil
}

func testWriterConfig() config.WriterConfig {
	return config.WriterConfig{
		MaxRetries:        3,
		ProtocolTimeout:   15,
		PerPatientStripes: 8,
	}
}

func bpReading(deviceTS time.Time) observation.Reading {
	return observation.Reading{
		Kind: observation.KindBloodPressure,
		Identity: observation.DeviceIdentity{
			ID:     "c1:2a:b3:44:55:66",
			Family: observation.FamilyAVA4SubDevice,
		},
		DeviceTS:      deviceTS,
		BloodPressure: &observation.BloodPressure{Systolic: 137, Diastolic: 95, Pulse: 74},
	}
}

func TestStoreDualWrite(t *testing.T) {
	backend := &mockBackend{}
	auditor := &mockAuditor{}
	w := newWithBackend(backend, auditor, testWriterConfig(), nil)

	ts := time.Now().UTC().Truncate(time.Second)
	result, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(ts))
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	if len(backend.inserts) != 1 {
		t.Fatalf("got %d history inserts, want 1", len(backend.inserts))
	}
	ins := backend.inserts[0]
	if ins.collection != mongo.CollBloodPressureHist {
		t.Errorf("collection = %q, want %q", ins.collection, mongo.CollBloodPressureHist)
	}
	if ins.rec.PatientID == nil || *ins.rec.PatientID != "507f1f77bcf86cd799439011" {
		t.Errorf("history patient_id = %v", ins.rec.PatientID)
	}
	if result.HistoryRecordID != ins.rec.ID {
		t.Errorf("result history id %q != record id %q", result.HistoryRecordID, ins.rec.ID)
	}

	if len(backend.snapshots) != 1 {
		t.Fatalf("got %d snapshot updates, want 1", len(backend.snapshots))
	}
	if backend.snapshots[0].field != "last_blood_pressure" {
		t.Errorf("snapshot field = %q", backend.snapshots[0].field)
	}
	if !result.SnapshotUpdated || result.LateReading || result.SnapshotStale {
		t.Errorf("result flags = %+v, want clean snapshot update", result)
	}

	if len(auditor.records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(auditor.records))
	}
	if auditor.records[0].HistoryRecordID != ins.rec.ID {
		t.Errorf("audit links %q, want %q", auditor.records[0].HistoryRecordID, ins.rec.ID)
	}
}

func TestStoreLateReadingKeepsHistory(t *testing.T) {
	backend := &mockBackend{casMisses: true}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	result, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now()))
	if err != nil {
		t.Fatalf("a stale snapshot is still success: %v", err)
	}
	if len(backend.inserts) != 1 {
		t.Errorf("history record must be kept, got %d inserts", len(backend.inserts))
	}
	if result.SnapshotUpdated || !result.LateReading {
		t.Errorf("result flags = %+v, want late reading", result)
	}
	if len(backend.snapshots) != 1 {
		t.Errorf("a CAS miss must not be retried, got %d attempts", len(backend.snapshots))
	}
}

func TestStoreHistoryFailureAbandonsWrite(t *testing.T) {
	backend := &mockBackend{insertErr: errors.New("disk full")}
	auditor := &mockAuditor{}
	w := newWithBackend(backend, auditor, testWriterConfig(), nil)

	_, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now()))
	if !errors.Is(err, ErrHistoryFailed) {
		t.Fatalf("err = %v, want ErrHistoryFailed", err)
	}
	if len(backend.snapshots) != 0 {
		t.Error("no snapshot attempt after history failure")
	}
	if len(auditor.records) != 0 {
		t.Error("no audit record after history failure")
	}
}

func TestStoreSnapshotRetriesTransientThenSucceeds(t *testing.T) {
	// context.DeadlineExceeded classifies as a timeout, hence transient.
	backend := &mockBackend{snapshotErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	result, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now()))
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if len(backend.snapshots) != 3 {
		t.Errorf("got %d CAS attempts, want 3 (two failures then success)", len(backend.snapshots))
	}
	if !result.SnapshotUpdated || result.SnapshotStale {
		t.Errorf("result flags = %+v, want recovered snapshot", result)
	}
}

func TestStoreSnapshotStaleAfterRetryBudget(t *testing.T) {
	backend := &mockBackend{snapshotErrs: []error{
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
	}}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	result, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now()))
	if err != nil {
		t.Fatalf("snapshot exhaustion must not fail the store: %v", err)
	}
	if len(backend.snapshots) != 4 {
		t.Errorf("got %d CAS attempts, want 4 (initial + 3 retries)", len(backend.snapshots))
	}
	if !result.SnapshotStale {
		t.Errorf("result flags = %+v, want snapshot_stale", result)
	}
	if result.HistoryRecordID == "" {
		t.Error("history record must survive snapshot exhaustion")
	}
}

func TestStorePermanentSnapshotErrorNotRetried(t *testing.T) {
	backend := &mockBackend{snapshotErrs: []error{errors.New("document validation failed")}}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	result, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now()))
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if len(backend.snapshots) != 1 {
		t.Errorf("permanent errors must not be retried, got %d attempts", len(backend.snapshots))
	}
	if !result.SnapshotStale {
		t.Errorf("result flags = %+v, want snapshot_stale", result)
	}
}

func TestStoreAuditFailureDoesNotFailWrite(t *testing.T) {
	backend := &mockBackend{}
	auditor := &mockAuditor{failWith: errors.New("audit db down")}
	w := newWithBackend(backend, auditor, testWriterConfig(), nil)

	result, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now()))
	if err != nil {
		t.Fatalf("audit failure must not fail the store: %v", err)
	}
	if !result.SnapshotUpdated {
		t.Errorf("result = %+v, want snapshot updated", result)
	}
}

func TestStoreUnresolvedEmergencySkipsSnapshot(t *testing.T) {
	backend := &mockBackend{}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	reading := observation.Reading{
		Kind: observation.KindEmergency,
		Identity: observation.DeviceIdentity{
			ID:     "865067123456789",
			Family: observation.FamilyKatiWatch,
		},
		DeviceTS:  time.Now(),
		Emergency: &observation.Emergency{Kind: observation.EmergencySOS},
	}

	result, err := w.Store(context.Background(), "", reading)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if backend.inserts[0].collection != mongo.CollEmergency {
		t.Errorf("collection = %q, want %q", backend.inserts[0].collection, mongo.CollEmergency)
	}
	if backend.inserts[0].rec.PatientID != nil {
		t.Error("unresolved emergency must carry a null patient_id")
	}
	if len(backend.snapshots) != 0 {
		t.Error("no snapshot update without a patient")
	}
	if result.HistoryRecordID == "" {
		t.Error("emergency record id missing")
	}
}

func TestStoreHeartbeatUnsupported(t *testing.T) {
	w := newWithBackend(&mockBackend{}, &mockAuditor{}, testWriterConfig(), nil)

	reading := observation.Reading{Kind: observation.KindHeartbeat}
	if _, err := w.Store(context.Background(), "p", reading); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("err = %v, want ErrUnsupportedKind", err)
	}
}

func TestStoreRepeatYieldsDistinctHistoryRecords(t *testing.T) {
	backend := &mockBackend{}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	reading := bpReading(time.Now())
	r1, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", reading)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	r2, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", reading)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	if len(backend.inserts) != 2 {
		t.Fatalf("got %d inserts, want 2", len(backend.inserts))
	}
	if r1.HistoryRecordID == r2.HistoryRecordID {
		t.Error("redelivery must produce a second history record with its own id")
	}
}

// casBackend enforces the snapshot's device_ts guard the way the
// single-document UpdateOne filter does, for concurrency tests.
type casBackend struct {
	mu       sync.Mutex
	inserts  int
	snapshot *snapshotValue
}

func (b *casBackend) InsertHistory(_ context.Context, _ string, _ historyRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inserts++
	return nil
}

func (b *casBackend) UpdateSnapshot(_ context.Context, _, _ string, snap snapshotValue, deviceTS time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot != nil && !deviceTS.After(b.snapshot.DeviceTS) {
		return false, nil
	}
	s := snap
	b.snapshot = &s
	return true, nil
}

func TestStoreConcurrentWritersKeepNewestSnapshot(t *testing.T) {
	backend := &casBackend{}
	w := newWithBackend(backend, &mockAuditor{}, testWriterConfig(), nil)

	base := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	const n = 32

	var wg sync.WaitGroup
	for _, offset := range rand.Perm(n) {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			reading := bpReading(base.Add(time.Duration(offset) * time.Second))
			if _, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", reading); err != nil {
				t.Errorf("Store() error: %v", err)
			}
		}(offset)
	}
	wg.Wait()

	if backend.inserts != n {
		t.Errorf("history inserts = %d, want %d (every writer appends)", backend.inserts, n)
	}
	want := base.Add((n - 1) * time.Second)
	if backend.snapshot == nil || !backend.snapshot.DeviceTS.Equal(want) {
		t.Fatalf("final snapshot device_ts = %+v, want %v (newest reading wins)", backend.snapshot, want)
	}
}

type mockMetrics struct {
	kinds []string
}

func (m *mockMetrics) RecordWriteLatency(kind string, _ time.Duration) {
	m.kinds = append(m.kinds, kind)
}

func TestStoreSamplesWriteLatency(t *testing.T) {
	w := newWithBackend(&mockBackend{}, &mockAuditor{}, testWriterConfig(), nil)
	metrics := &mockMetrics{}
	w.SetMetrics(metrics)

	if _, err := w.Store(context.Background(), "507f1f77bcf86cd799439011", bpReading(time.Now())); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if len(metrics.kinds) != 1 || metrics.kinds[0] != "blood_pressure" {
		t.Errorf("latency samples = %v, want one blood_pressure sample", metrics.kinds)
	}
}

func TestStripedLockStability(t *testing.T) {
	locks := newStripedLock(16)

	a := locks.forKey("patient-a")
	if locks.forKey("patient-a") != a {
		t.Error("same key must map to the same stripe")
	}
}

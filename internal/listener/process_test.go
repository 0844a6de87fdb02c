package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/amycare/telemetry-core/internal/codec"
	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/observation"
	"github.com/amycare/telemetry-core/internal/resolver"
	"github.com/amycare/telemetry-core/internal/writer"
)

const ava4BPMessage = `{"from":"BLE","time":1836942771,"mac":"08:F9:E0:D1:F7:B4","type":"reportAttribute","device":"WBP BIOLIGHT","data":{"attribute":"BP_BIOLIGTH","mac":"08:F9:E0:D1:F7:B4","value":{"device_list":[{"scan_time":1836942771,"ble_addr":"d616f9641622","bp_high":137,"bp_low":95,"PR":74}]}}}`

type mockResolver struct {
	resolution resolver.Resolution
	err        error
	calls      int
}

func (m *mockResolver) Resolve(_ context.Context, _ observation.Reading) (resolver.Resolution, error) {
	m.calls++
	return m.resolution, m.err
}

type storeCall struct {
	patientID string
	kind      observation.Kind
}

type mockStore struct {
	calls  []storeCall
	result writer.StoreResult
	err    error
}

func (m *mockStore) Store(_ context.Context, patientID string, reading observation.Reading) (writer.StoreResult, error) {
	m.calls = append(m.calls, storeCall{patientID: patientID, kind: reading.Kind})
	if m.err != nil {
		return writer.StoreResult{}, m.err
	}
	return m.result, nil
}

type captureEmitter struct {
	events []dataflow.Event
}

func (c *captureEmitter) Emit(e dataflow.Event) {
	c.events = append(c.events, e)
}

func (c *captureEmitter) flows() map[string][]dataflow.Event {
	byFlow := make(map[string][]dataflow.Event)
	for _, e := range c.events {
		byFlow[e.FlowID] = append(byFlow[e.FlowID], e)
	}
	return byFlow
}

type notifyCall struct {
	flowID    string
	patientID string
}

type mockNotifier struct {
	calls []notifyCall
}

func (m *mockNotifier) Notify(flowID, _, patientID string, _ observation.Reading) {
	m.calls = append(m.calls, notifyCall{flowID: flowID, patientID: patientID})
}

func testListener(family observation.Family, res Resolver, store writer.Store, emitter Emitter, alarms Notifier) *Listener {
	return &Listener{
		name:    "test",
		family:  family,
		cfg:     config.Default(),
		decoder: codec.NewDecoder(nil),
		resolve: res,
		store:   store,
		emitter: emitter,
		alarms:  alarms,
		logger:  logging.Default(),
		state:   newStateTracker(),
		pool:    make(chan struct{}, 4),
	}
}

func stepsOf(events []dataflow.Event) []dataflow.Step {
	out := make([]dataflow.Step, len(events))
	for i, e := range events {
		out[i] = e.Step
	}
	return out
}

func stepsEqual(got []dataflow.Step, want ...dataflow.Step) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestProcessAcceptedReadingFlow(t *testing.T) {
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusResolved, PatientID: "P1"}}
	store := &mockStore{result: writer.StoreResult{HistoryRecordID: "h1", SnapshotUpdated: true}}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyAVA4SubDevice, res, store, emitter, &mockNotifier{})

	l.process(context.Background(), codec.TopicAVA4Medical, []byte(ava4BPMessage))

	if len(store.calls) != 1 {
		t.Fatalf("store calls = %d, want 1", len(store.calls))
	}
	if store.calls[0].patientID != "P1" || store.calls[0].kind != observation.KindBloodPressure {
		t.Errorf("store call = %+v", store.calls[0])
	}

	flows := emitter.flows()
	if len(flows) != 1 {
		t.Fatalf("flow count = %d, want 1", len(flows))
	}
	for _, events := range flows {
		if !stepsEqual(stepsOf(events),
			dataflow.StepReceived, dataflow.StepParsed, dataflow.StepResolved,
			dataflow.StepSnapshotWritten, dataflow.StepHistoryWritten) {
			t.Errorf("steps = %v", stepsOf(events))
		}
		if events[2].PatientID != "P1" {
			t.Errorf("resolved event patient = %q", events[2].PatientID)
		}
	}
}

func TestProcessBatchYieldsFlowPerReading(t *testing.T) {
	payload := `{
		"IMEI":"865067123456789",
		"timeStamps":"31/01/2025 14:30:00",
		"num_datas":2,
		"data":[
			{"timestamp":1738331256,"heartRate":71,"bloodPressure":{"bp_sys":118,"bp_dia":76},"spO2":96,"bodyTemperature":36.5},
			{"timestamp":1738331316,"heartRate":74,"bloodPressure":{"bp_sys":121,"bp_dia":79},"spO2":97,"bodyTemperature":36.7}
		]
	}`
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusResolved, PatientID: "P2"}}
	store := &mockStore{result: writer.StoreResult{SnapshotUpdated: true}}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyKatiWatch, res, store, emitter, &mockNotifier{})

	l.process(context.Background(), "iMEDE_watch/AP55", []byte(payload))

	if len(store.calls) != 8 {
		t.Fatalf("store calls = %d, want 8 (2 tuples x 4 kinds)", len(store.calls))
	}

	flows := emitter.flows()
	if len(flows) != 8 {
		t.Fatalf("distinct flow ids = %d, want 8", len(flows))
	}
	for id, events := range flows {
		if !stepsEqual(stepsOf(events),
			dataflow.StepReceived, dataflow.StepParsed, dataflow.StepResolved,
			dataflow.StepSnapshotWritten, dataflow.StepHistoryWritten) {
			t.Errorf("flow %s steps = %v", id, stepsOf(events))
		}
	}
}

func TestProcessMalformedMessageRejected(t *testing.T) {
	res := &mockResolver{}
	store := &mockStore{}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyQubeVital, res, store, emitter, nil)

	if err := l.process(context.Background(), codec.TopicQubeVital, []byte(`{broken`)); err != nil {
		t.Fatalf("decode failures must ack (redelivery cannot help): %v", err)
	}

	if len(store.calls) != 0 || res.calls != 0 {
		t.Error("rejected message must not reach resolver or store")
	}
	if !stepsEqual(stepsOf(emitter.events), dataflow.StepReceived, dataflow.StepRejected) {
		t.Fatalf("steps = %v", stepsOf(emitter.events))
	}
	if emitter.events[1].Reason != "malformed_json" {
		t.Errorf("reason = %q", emitter.events[1].Reason)
	}
	if emitter.events[0].FlowID != emitter.events[1].FlowID {
		t.Error("message-level rejection must share one flow id")
	}
}

func TestProcessUnresolvedVitalsDropped(t *testing.T) {
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusUnresolved}}
	store := &mockStore{}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyAVA4SubDevice, res, store, emitter, nil)

	if err := l.process(context.Background(), codec.TopicAVA4Medical, []byte(ava4BPMessage)); err != nil {
		t.Fatalf("an unmapped device is a terminal drop, not a retry: %v", err)
	}

	if len(store.calls) != 0 {
		t.Error("unresolved vitals must not be stored")
	}
	steps := stepsOf(emitter.events)
	if !stepsEqual(steps, dataflow.StepReceived, dataflow.StepParsed, dataflow.StepRejected) {
		t.Fatalf("steps = %v", steps)
	}
	if emitter.events[2].Reason != "unresolved_device" {
		t.Errorf("reason = %q", emitter.events[2].Reason)
	}
}

func TestProcessUnresolvedEmergencyStillStored(t *testing.T) {
	payload := `{"IMEI":"865067123456789","status":"SOS","timeStamps":"16/06/2025 09:15:00"}`
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusUnresolved}}
	store := &mockStore{result: writer.StoreResult{HistoryRecordID: "h1"}}
	emitter := &captureEmitter{}
	alarms := &mockNotifier{}
	l := testListener(observation.FamilyKatiWatch, res, store, emitter, alarms)

	l.process(context.Background(), "iMEDE_watch/sos", []byte(payload))

	if len(store.calls) != 1 {
		t.Fatalf("store calls = %d, want 1 (emergency flows on unresolved)", len(store.calls))
	}
	if store.calls[0].patientID != "" {
		t.Errorf("patient = %q, want empty", store.calls[0].patientID)
	}

	steps := stepsOf(emitter.events)
	if !stepsEqual(steps,
		dataflow.StepReceived, dataflow.StepParsed, dataflow.StepResolved,
		dataflow.StepHistoryWritten) {
		t.Fatalf("steps = %v", steps)
	}
	resolved := emitter.events[2]
	if resolved.Status != dataflow.StatusOK || resolved.PatientID != "" || resolved.Reason != "unresolved" {
		t.Errorf("resolved event = %+v", resolved)
	}

	if len(alarms.calls) != 1 || alarms.calls[0].patientID != "" {
		t.Errorf("alarm calls = %+v", alarms.calls)
	}
	if alarms.calls[0].flowID != emitter.events[0].FlowID {
		t.Error("alarm must share the reading's flow id")
	}
}

func TestProcessHeartbeatEndsAtParsed(t *testing.T) {
	payload := `{"IMEI":"865067123456789","battery":50}`
	res := &mockResolver{}
	store := &mockStore{}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyKatiWatch, res, store, emitter, nil)

	l.process(context.Background(), "iMEDE_watch/hb", []byte(payload))

	if res.calls != 0 || len(store.calls) != 0 {
		t.Error("heartbeats must not reach resolver or store")
	}
	if !stepsEqual(stepsOf(emitter.events), dataflow.StepReceived, dataflow.StepParsed) {
		t.Errorf("steps = %v", stepsOf(emitter.events))
	}
}

func TestProcessLateReadingWarns(t *testing.T) {
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusResolved, PatientID: "P1"}}
	store := &mockStore{result: writer.StoreResult{HistoryRecordID: "h1", LateReading: true}}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyAVA4SubDevice, res, store, emitter, nil)

	l.process(context.Background(), codec.TopicAVA4Medical, []byte(ava4BPMessage))

	steps := stepsOf(emitter.events)
	if !stepsEqual(steps,
		dataflow.StepReceived, dataflow.StepParsed, dataflow.StepResolved,
		dataflow.StepRejected, dataflow.StepHistoryWritten) {
		t.Fatalf("steps = %v", steps)
	}
	warning := emitter.events[3]
	if warning.Status != dataflow.StatusWarning || warning.Reason != "late_reading" {
		t.Errorf("warning event = %+v", warning)
	}
}

func TestProcessOutOfRangeStoredWithWarning(t *testing.T) {
	payload := `{"time":1836942771,"mac":"08:F9:E0:D1:F7:B4","type":"reportAttribute","data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[{"scan_time":1836942771,"ble_addr":"d616f9641622","bp_high":300,"bp_low":95,"PR":74}]}}}`
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusResolved, PatientID: "P1"}}
	store := &mockStore{result: writer.StoreResult{SnapshotUpdated: true}}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyAVA4SubDevice, res, store, emitter, nil)

	l.process(context.Background(), codec.TopicAVA4Medical, []byte(payload))

	if len(store.calls) != 1 {
		t.Fatal("out-of-range readings are stored")
	}
	steps := stepsOf(emitter.events)
	if !stepsEqual(steps,
		dataflow.StepReceived, dataflow.StepParsed, dataflow.StepRejected,
		dataflow.StepResolved, dataflow.StepSnapshotWritten, dataflow.StepHistoryWritten) {
		t.Fatalf("steps = %v", steps)
	}
	if emitter.events[2].Status != dataflow.StatusWarning {
		t.Errorf("range warning status = %q", emitter.events[2].Status)
	}
}

func TestProcessResolverOutageRejectsVitals(t *testing.T) {
	res := &mockResolver{err: errors.New("registry down")}
	store := &mockStore{}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyAVA4SubDevice, res, store, emitter, nil)

	if err := l.process(context.Background(), codec.TopicAVA4Medical, []byte(ava4BPMessage)); err == nil {
		t.Fatal("a registry outage must withhold the ack so the broker redelivers")
	}

	if len(store.calls) != 0 {
		t.Error("vitals must not be stored during a registry outage")
	}
	last := emitter.events[len(emitter.events)-1]
	if last.Step != dataflow.StepRejected || last.Reason != "resolver_unavailable" {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestProcessStoreFailureRejected(t *testing.T) {
	res := &mockResolver{resolution: resolver.Resolution{Status: resolver.StatusResolved, PatientID: "P1"}}
	store := &mockStore{err: writer.ErrHistoryFailed}
	emitter := &captureEmitter{}
	l := testListener(observation.FamilyAVA4SubDevice, res, store, emitter, nil)

	err := l.process(context.Background(), codec.TopicAVA4Medical, []byte(ava4BPMessage))
	if !errors.Is(err, writer.ErrHistoryFailed) {
		t.Fatalf("err = %v, want the store failure back for ack withholding", err)
	}

	last := emitter.events[len(emitter.events)-1]
	if last.Step != dataflow.StepRejected || last.Status != dataflow.StatusFail {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestHandleMessageDrainingWithholdsAck(t *testing.T) {
	l := testListener(observation.FamilyAVA4SubDevice, &mockResolver{}, &mockStore{}, &captureEmitter{}, nil)
	l.state.set(StateDraining)

	if err := l.handleMessage(codec.TopicAVA4Medical, []byte(ava4BPMessage)); !errors.Is(err, errDraining) {
		t.Errorf("err = %v, want errDraining so the broker replays after restart", err)
	}
}

func TestManagerHealth(t *testing.T) {
	m := NewManager(config.Default(), &mockResolver{}, &mockStore{}, &captureEmitter{}, nil, logging.Default())

	health := m.Health()
	for _, name := range []string{"ava4", "kati", "qube"} {
		if health[name] != string(StateDisconnected) {
			t.Errorf("listener %s state = %v, want disconnected before start", name, health[name])
		}
	}
}

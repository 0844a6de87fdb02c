package dataflow

import (
	"context"
	"sync"
	"time"

	"github.com/amycare/telemetry-core/internal/infrastructure/influxdb"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
)

// emitBlockTimeout is how long Emit waits on a full channel before
// dropping the event. Readings are never dropped; observability is.
const emitBlockTimeout = 500 * time.Millisecond

// Broadcaster receives every drained event for WebSocket fan-out.
type Broadcaster interface {
	Broadcast(e Event)
}

// Emitter decouples the processing pipeline from event delivery. Emit is
// cheap and near-non-blocking; a single drainer goroutine feeds the ring
// buffer, the collector hop, the WebSocket hub, and the metrics sink.
type Emitter struct {
	events    chan Event
	ring      *ringBuffer
	counters  *Counters
	collector *CollectorClient
	hub       Broadcaster
	sink      *influxdb.Sink
	logger    *logging.Logger

	closed   chan struct{}
	closeOne sync.Once
	drained  chan struct{}
}

// NewEmitter creates and starts the emitter. hub and sink may be nil.
func NewEmitter(capacity, ringSize int, collector *CollectorClient, hub Broadcaster, sink *influxdb.Sink, counters *Counters, logger *logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Emitter{
		events:    make(chan Event, capacity),
		ring:      newRingBuffer(ringSize),
		counters:  counters,
		collector: collector,
		hub:       hub,
		sink:      sink,
		logger:    logger,
		closed:    make(chan struct{}),
		drained:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit queues one event. If the channel stays full past the block
// timeout the event is dropped and counted; the pipeline never stalls
// on its own observability.
func (e *Emitter) Emit(ev Event) {
	if ev.ServerTS.IsZero() {
		ev.ServerTS = time.Now().UTC()
	}
	e.counters.observe(ev)

	select {
	case <-e.closed:
		return
	default:
	}

	select {
	case e.events <- ev:
	default:
		select {
		case e.events <- ev:
		case <-time.After(emitBlockTimeout):
			e.sink.RecordCounter("dropped_event", e.counters.DroppedEvents.Add(1), time.Now().UTC())
		case <-e.closed:
		}
	}
}

// Recent returns up to limit buffered events, oldest first.
func (e *Emitter) Recent(limit int) []Event {
	return e.ring.snapshot(limit)
}

// Close stops intake and flushes queued events, bounded by the deadline.
// The events channel is never closed so a racing Emit cannot panic; it
// just finds the closed gate and returns.
func (e *Emitter) Close(deadline time.Duration) {
	e.closeOne.Do(func() {
		close(e.closed)
	})

	select {
	case <-e.drained:
	case <-time.After(deadline):
		e.logger.Warn("event flush deadline exceeded; discarding remainder")
	}
}

func (e *Emitter) drain() {
	defer close(e.drained)

	for {
		select {
		case ev := <-e.events:
			e.deliver(ev)
		case <-e.closed:
			// Flush whatever is already queued, then stop.
			for {
				select {
				case ev := <-e.events:
					e.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) deliver(ev Event) {
	e.ring.append(ev)

	if e.hub != nil {
		e.hub.Broadcast(ev)
	}

	if e.collector != nil {
		if err := e.collector.Post(context.Background(), ev); err != nil {
			e.sink.RecordCounter("collector_failure", e.counters.CollectorFailures.Add(1), time.Now().UTC())
			e.logger.Warn("collector delivery failed; event dropped from hop",
				"flow_id", ev.FlowID,
				"step", ev.Step,
				"error", err,
			)
		}
	}

	e.sink.RecordFlowEvent(string(ev.Step), string(ev.Status), string(ev.FamilyTag), ev.Topic, ev.ServerTS)
}

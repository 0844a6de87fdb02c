package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amycare/telemetry-core/internal/codec"
	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/infrastructure/mqtt"
	"github.com/amycare/telemetry-core/internal/observation"
	"github.com/amycare/telemetry-core/internal/resolver"
	"github.com/amycare/telemetry-core/internal/writer"
)

// errDraining keeps late deliveries unacked during shutdown so the
// broker replays them to the next session.
var errDraining = errors.New("listener draining")

// Resolver is the slice of the patient resolver the listener needs.
type Resolver interface {
	Resolve(ctx context.Context, reading observation.Reading) (resolver.Resolution, error)
}

// Emitter accepts data-flow events.
type Emitter interface {
	Emit(e dataflow.Event)
}

// Notifier raises emergency alarms after the reading is stored.
type Notifier interface {
	Notify(flowID, topic, patientID string, reading observation.Reading)
}

// Listener consumes one device family's topics on its own MQTT
// connection and drives each message through decode, resolve, and store.
type Listener struct {
	name   string
	family observation.Family
	topics []string

	cfg     *config.Config
	decoder *codec.Decoder
	resolve Resolver
	store   writer.Store
	emitter Emitter
	alarms  Notifier
	logger  *logging.Logger

	client *mqtt.Client
	state  *stateTracker

	// pool bounds concurrent message handlers; inflight tracks them for
	// the shutdown drain.
	pool     chan struct{}
	inflight sync.WaitGroup
}

func newListener(
	name string,
	family observation.Family,
	topics []string,
	cfg *config.Config,
	decoder *codec.Decoder,
	res Resolver,
	store writer.Store,
	emitter Emitter,
	alarms Notifier,
	logger *logging.Logger,
) *Listener {
	return &Listener{
		name:    name,
		family:  family,
		topics:  topics,
		cfg:     cfg,
		decoder: decoder,
		resolve: res,
		store:   store,
		emitter: emitter,
		alarms:  alarms,
		logger:  logger.With("listener", name),
		state:   newStateTracker(),
		pool:    make(chan struct{}, cfg.WorkerPoolSize()),
	}
}

// Run connects, subscribes, and serves until ctx is cancelled, then
// drains in-flight handlers within the configured deadline.
func (l *Listener) Run(ctx context.Context) error {
	l.state.set(StateConnecting)

	client, err := mqtt.Connect(l.cfg.MQTT, l.name)
	if err != nil {
		l.state.set(StateDisconnected)
		return fmt.Errorf("listener %s: %w", l.name, err)
	}
	l.client = client
	client.SetLogger(l.logger)
	client.SetOnConnect(func() {
		// Fires on every reconnect; subscriptions are restored by the
		// client before this callback runs.
		l.state.set(StateRunning)
		l.logger.Info("broker connection established")
	})
	client.SetOnDisconnect(func(err error) {
		l.state.set(StateDisconnected)
		l.logger.Warn("broker connection lost", "error", err)
	})

	if err := l.subscribeAll(); err != nil {
		client.Close()
		l.state.set(StateDisconnected)
		return fmt.Errorf("listener %s: %w", l.name, err)
	}
	l.state.set(StateRunning)
	l.logger.Info("listener running", "topics", l.topics)

	<-ctx.Done()
	return l.stop()
}

func (l *Listener) subscribeAll() error {
	l.state.set(StateSubscribed)
	qos := byte(l.cfg.MQTT.QoS)
	for _, topic := range l.topics {
		if err := l.client.Subscribe(topic, qos, l.handleMessage); err != nil {
			return fmt.Errorf("subscribing %q: %w", topic, err)
		}
	}
	return nil
}

// stop unsubscribes so no new deliveries arrive, drains handlers within
// the deadline, then closes the connection. Handlers that pass the
// history append always complete.
func (l *Listener) stop() error {
	l.state.set(StateDraining)
	for _, topic := range l.topics {
		if err := l.client.Unsubscribe(topic); err != nil {
			l.logger.Warn("unsubscribe during drain failed", "topic", topic, "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(l.cfg.DrainDeadline()):
		l.logger.Warn("drain deadline exceeded; abandoning remaining handlers")
	}

	err := l.client.Close()
	l.state.set(StateStopped)
	l.logger.Info("listener stopped")
	return err
}

// handleMessage is the MQTT callback. It blocks on the worker pool,
// which backpressures the broker rather than queueing unboundedly.
// A returned error withholds the broker ack, leaving the message in
// the session queue for redelivery.
func (l *Listener) handleMessage(topic string, payload []byte) error {
	if s := l.state.get(); s == StateDraining || s == StateStopped {
		return errDraining
	}

	l.pool <- struct{}{}
	l.inflight.Add(1)
	defer func() {
		<-l.pool
		l.inflight.Done()
	}()

	return l.process(context.Background(), topic, payload)
}

// Status reports the lifecycle state for the health endpoint.
func (l *Listener) Status() State {
	return l.state.get()
}

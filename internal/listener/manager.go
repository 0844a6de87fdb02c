package listener

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/amycare/telemetry-core/internal/codec"
	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/observation"
	"github.com/amycare/telemetry-core/internal/writer"
)

// Manager owns the three family listeners. Each runs on its own MQTT
// connection so one family's outage never stalls another's stream.
type Manager struct {
	listeners []*Listener
}

// NewManager wires the listeners against the shared pipeline stages.
func NewManager(
	cfg *config.Config,
	res Resolver,
	store writer.Store,
	emitter Emitter,
	alarms Notifier,
	logger *logging.Logger,
) *Manager {
	decoder := codec.NewDecoder(cfg.KatiLocation())

	build := func(name string, family observation.Family, topics ...string) *Listener {
		return newListener(name, family, topics, cfg, decoder, res, store, emitter, alarms, logger)
	}

	return &Manager{
		listeners: []*Listener{
			build("ava4", observation.FamilyAVA4SubDevice,
				codec.TopicAVA4Gateway, codec.TopicAVA4Medical, codec.TopicAVA4MedicalAlt),
			build("kati", observation.FamilyKatiWatch,
				codec.TopicKatiPrefix+"#"),
			build("qube", observation.FamilyQubeVital,
				codec.TopicQubeVital),
		},
	}
}

// Run serves all listeners until ctx is cancelled or one fails to start.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range m.listeners {
		l := l
		g.Go(func() error { return l.Run(ctx) })
	}
	return g.Wait()
}

// Health reports each listener's state for the monitoring API.
func (m *Manager) Health() map[string]any {
	out := make(map[string]any, len(m.listeners))
	for _, l := range m.listeners {
		out[l.name] = string(l.Status())
	}
	return out
}

var _ Emitter = (*dataflow.Emitter)(nil)

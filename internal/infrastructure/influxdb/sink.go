package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/amycare/telemetry-core/internal/infrastructure/config"
)

// Sink writes pipeline metrics to InfluxDB using the non-blocking write
// API. Points are batched and flushed in the background; a write failure
// never stalls the pipeline.
//
// A nil *Sink is valid and drops every point, so callers need no
// enabled-check at each call site.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// New creates a metrics sink from configuration.
//
// Returns (nil, nil) when the sink is disabled; a nil Sink is safe to use.
func New(cfg config.InfluxDBConfig) (*Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval * 1000))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}, nil
}

// RecordFlowEvent writes one point per data-flow event, tagged for
// per-family and per-step dashboards.
func (s *Sink) RecordFlowEvent(step, status, family, topic string, ts time.Time) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint("data_flow",
		map[string]string{
			"step":   step,
			"status": status,
			"family": family,
		},
		map[string]interface{}{
			"topic": topic,
			"count": 1,
		},
		ts,
	)
	s.writeAPI.WritePoint(p)
}

// RecordCounter writes a gauge-style counter sample, used for the
// dropped-event and collector-failure counters.
func (s *Sink) RecordCounter(name string, value uint64, ts time.Time) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint("pipeline_counters",
		map[string]string{"counter": name},
		map[string]interface{}{"value": int64(value)},
		ts,
	)
	s.writeAPI.WritePoint(p)
}

// RecordWriteLatency writes one sample of the dual-write protocol's
// end-to-end duration for a reading kind.
func (s *Sink) RecordWriteLatency(kind string, elapsed time.Duration) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint("write_latency",
		map[string]string{"kind": kind},
		map[string]interface{}{"ms": elapsed.Milliseconds()},
		time.Now().UTC(),
	)
	s.writeAPI.WritePoint(p)
}

// Close flushes buffered points and releases the client.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.writeAPI.Flush()
	s.client.Close()
}

package dataflow

import "sync/atomic"

// Counters are the pipeline's cheap observable surface, exposed by the
// monitoring API and mirrored to InfluxDB when enabled.
type Counters struct {
	Received          atomic.Uint64
	Parsed            atomic.Uint64
	Resolved          atomic.Uint64
	Stored            atomic.Uint64
	Rejected          atomic.Uint64
	Warnings          atomic.Uint64
	Emergencies       atomic.Uint64
	DroppedEvents     atomic.Uint64
	CollectorFailures atomic.Uint64
}

// Snapshot returns the current counter values for serialisation.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"received":           c.Received.Load(),
		"parsed":             c.Parsed.Load(),
		"resolved":           c.Resolved.Load(),
		"stored":             c.Stored.Load(),
		"rejected":           c.Rejected.Load(),
		"warnings":           c.Warnings.Load(),
		"emergencies":        c.Emergencies.Load(),
		"dropped_events":     c.DroppedEvents.Load(),
		"collector_failures": c.CollectorFailures.Load(),
	}
}

// observe updates the step counters from one event.
func (c *Counters) observe(e Event) {
	switch e.Step {
	case StepReceived:
		c.Received.Add(1)
	case StepParsed:
		c.Parsed.Add(1)
	case StepResolved:
		c.Resolved.Add(1)
	case StepHistoryWritten:
		c.Stored.Add(1)
	case StepEmittedEmergency:
		c.Emergencies.Add(1)
	case StepRejected:
		if e.Status == StatusWarning {
			c.Warnings.Add(1)
		} else {
			c.Rejected.Add(1)
		}
	}
}

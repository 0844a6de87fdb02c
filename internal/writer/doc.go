// Package writer persists accepted readings with the dual-write
// protocol: history append first, snapshot compare-and-set second,
// best-effort audit record last. History is the source of truth; the
// snapshot is a denormalised convenience that only ever moves forward
// in device time.
package writer

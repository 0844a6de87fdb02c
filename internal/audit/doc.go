// Package audit writes the provenance trail for accepted readings.
//
// One record per history write, kept for 180 days by a TTL index in a
// separate audit database. The trail is best-effort: losing an audit
// record is logged, losing a reading is not acceptable.
package audit

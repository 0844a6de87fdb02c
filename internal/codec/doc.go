// Package codec parses the wire JSON of the three device families (AVA4
// gateway, Kati watch, Qube-Vital appliance) into canonical readings.
//
// The decoder is a pure transformation: (topic, payload) in, readings and
// soft-check warnings out, or a typed *ParseError whose FailureKind feeds
// the rejected flow event. No I/O, no clock reads; device timestamps come
// from the payload and the writer substitutes server time for zero values.
//
// Device firmware is sloppy about JSON types (numbers arriving as quoted
// strings), so all measurement fields decode through lenient flexFloat /
// flexInt types.
package codec

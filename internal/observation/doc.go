// Package observation defines the canonical reading model shared by the
// codec, resolver, writer, and emergency pipeline.
//
// A Reading is produced by the payload codec from raw device JSON and flows
// unchanged through the rest of the pipeline. The package is deliberately
// free of I/O, clocks, and storage concerns.
package observation

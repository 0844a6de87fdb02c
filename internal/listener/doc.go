// Package listener runs the per-family MQTT consumers and orchestrates
// each message's journey: decode, resolve, store, and the data-flow
// trail alongside. The three families (AVA4 gateways, Kati watches,
// Qube-Vital appliances) are isolated from each other down to the
// broker connection.
package listener

// Package mqtt provides the broker client used by the device listeners.
//
// Each listener family owns its own Client with a distinct client ID,
// so a crash loop in one family's connection never disturbs another's
// persistent session. Connections use clean session = false and QoS-1
// subscriptions so the broker queues readings across restarts.
package mqtt

package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/amycare/telemetry-core/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds the initial broker handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the grace period (ms) for in-flight
	// acknowledgments during Close.
	defaultDisconnectQuiesce = 1000
)

// buildClientOptions translates MQTTConfig into paho client options.
//
// The session is persistent (clean session = false): the broker queues
// QoS-1 messages while a listener is down and redelivers them on
// reconnect, so device readings survive short outages.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(false)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Acks are issued by wrapHandler only after the handler succeeds; a
	// failed handler leaves the message queued for broker redelivery.
	opts.SetAutoAckDisabled(true)

	// Reconnect forever with exponential backoff; listeners surface the
	// outage through their state machine rather than exiting.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetOrderMatters(false)

	return opts
}

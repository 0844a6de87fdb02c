package mqtt

import (
	"fmt"
	"time"
)

// subscribeTimeout bounds how long Subscribe waits for the broker SUBACK.
const subscribeTimeout = 5 * time.Second

// Subscribe registers a handler for a topic filter at the given QoS.
//
// The subscription is tracked and automatically restored after a
// reconnect. Subscribing twice to the same filter replaces the handler.
//
// Parameters:
//   - topic: MQTT topic filter (wildcards allowed)
//   - qos: Quality of service level (0, 1, or 2)
//   - handler: Callback for received messages
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed with detail
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("%w: timeout on %q", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes a subscription and stops tracking it for restore.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("%w: unsubscribe timeout on %q", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: unsubscribe %q: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return nil
}

// Subscriptions returns the currently tracked topic filters.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

package mqtt

import "errors"

// Sentinel errors for MQTT operations.
// Wrap with fmt.Errorf("%w: detail", Err...) to add context.
var (
	// ErrConnectionFailed indicates the broker connection could not be established.
	ErrConnectionFailed = errors.New("mqtt connection failed")

	// ErrNotConnected indicates an operation was attempted while disconnected.
	ErrNotConnected = errors.New("mqtt client not connected")

	// ErrSubscribeFailed indicates a subscription request was rejected or timed out.
	ErrSubscribeFailed = errors.New("mqtt subscribe failed")

	// ErrInvalidTopic indicates an empty or malformed topic filter.
	ErrInvalidTopic = errors.New("invalid mqtt topic")

	// ErrInvalidQoS indicates a QoS level outside 0-2.
	ErrInvalidQoS = errors.New("invalid mqtt qos level")
)

package writer

import "errors"

// Sentinel errors for store operations.
var (
	// ErrUnsupportedKind indicates a reading kind with no history
	// collection. Heartbeats never reach the writer.
	ErrUnsupportedKind = errors.New("no history collection for reading kind")

	// ErrHistoryFailed indicates the history append failed; the write is
	// abandoned and the broker redelivery retries the message.
	ErrHistoryFailed = errors.New("history append failed")

	// ErrWriteTimeout indicates the store protocol exceeded its budget.
	ErrWriteTimeout = errors.New("store protocol timed out")
)

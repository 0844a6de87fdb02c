package listener

import "sync"

// State is a listener's position in its connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateRunning      State = "running"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
)

// stateTracker holds the current state behind a mutex; transitions come
// from both the run loop and the MQTT callbacks.
type stateTracker struct {
	mu    sync.RWMutex
	state State
}

func newStateTracker() *stateTracker {
	return &stateTracker{state: StateDisconnected}
}

func (t *stateTracker) set(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *stateTracker) get() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

package dataflow

import "sync"

// ringBuffer keeps the most recent events for the monitoring API and
// for WebSocket replay. Oldest entries are overwritten silently.
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Event, size)}
}

func (r *ringBuffer) append(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// snapshot returns up to limit events, oldest first. limit <= 0 means all.
func (r *ringBuffer) snapshot(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}

	out := make([]Event, 0, limit)
	start := r.next - limit
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < limit; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

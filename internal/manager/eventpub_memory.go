package manager

import "sync"

// MemoryPublisher keeps the most recent lifecycle events in a ring. The
// service exposes them on /events; tests read them directly.
type MemoryPublisher struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	limit int
}

// DefaultEventHistory is the ring size used when capacity is not positive.
const DefaultEventHistory = 256

// NewMemoryPublisher returns a publisher retaining up to capacity events.
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = DefaultEventHistory
	}
	return &MemoryPublisher{buf: make([]Event, capacity), limit: capacity}
}

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.buf[p.next] = e
	p.next = (p.next + 1) % p.limit
	if p.next == 0 {
		p.full = true
	}
	p.mu.Unlock()
}

// Events returns retained events, oldest first.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.full {
		return append([]Event(nil), p.buf[:p.next]...)
	}
	out := make([]Event, 0, p.limit)
	out = append(out, p.buf[p.next:]...)
	return append(out, p.buf[:p.next]...)
}

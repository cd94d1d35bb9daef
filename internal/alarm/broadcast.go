package alarm

import "sync"

// Broadcaster fans delivered records out to live subscribers such as the
// websocket alarm feed. Slow subscribers miss records instead of blocking
// the dispatcher.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Record
}

// NewBroadcaster returns a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make([]chan Record, 0),
	}
}

// Subscribe adds a listener
func (b *Broadcaster) Subscribe() chan Record {
	ch := make(chan Record, 16)
	b.mu.Lock()
	b.listeners = append(b.listeners, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (b *Broadcaster) Unsubscribe(ch chan Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Subscribers returns the number of attached listeners.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish sends a copy of rec to every listener that has room.
func (b *Broadcaster) Publish(rec *Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.listeners) == 0 {
		return
	}

	// Listeners never see the snapshot pixels; they belong to the queue slot.
	out := *rec
	out.Snapshot.Data = nil
	out.Rects = append([]Rect(nil), rec.Rects...)

	for _, listener := range b.listeners {
		select {
		case listener <- out:
		default:
			// Skip if channel is full
		}
	}
}

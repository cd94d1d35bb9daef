// Package frame holds the shared frame slots a capture loop publishes into
// and detectors read from.
package frame

import "sync"

type slot struct {
	mu    sync.Mutex
	frame Frame
	seq   uint64
}

// Hub keeps the latest frame of each Kind. Every kind has its own lock, so
// publishing one kind never blocks readers of another. There is no history
// and no back-pressure: slow readers see a repeated frame.
type Hub struct {
	slots [kindCount]slot
}

// NewHub returns a hub with every slot empty.
func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) slot(kind Kind) *slot {
	if kind < 0 || kind >= kindCount {
		return nil
	}
	return &h.slots[kind]
}

// Publish copies f into the slot for kind and returns the sequence number
// it was stored under. Unknown kinds are ignored and return 0.
func (h *Hub) Publish(kind Kind, f Frame) uint64 {
	s := h.slot(kind)
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	f.CopyTo(&s.frame)
	s.frame.Seq = s.seq
	return s.seq
}

// Snapshot returns a private copy of the current frame for kind, or an empty
// frame if nothing has been published.
func (h *Hub) Snapshot(kind Kind) Frame {
	s := h.slot(kind)
	if s == nil {
		return Frame{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame.Empty() {
		return Frame{}
	}
	return s.frame.Clone()
}

// SnapshotInto is Snapshot without allocating when dst already has room.
// It reports false and resets dst when the slot is empty.
func (h *Hub) SnapshotInto(kind Kind, dst *Frame) bool {
	s := h.slot(kind)
	if s == nil {
		dst.Reset()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame.Empty() {
		dst.Reset()
		return false
	}
	s.frame.CopyTo(dst)
	return true
}

// Seq returns the sequence number of the latest publish for kind.
func (h *Hub) Seq(kind Kind) uint64 {
	s := h.slot(kind)
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Clear empties every slot. Sequence numbers keep increasing so visibility
// stays monotonic across a pipeline restart.
func (h *Hub) Clear() {
	for i := range h.slots {
		s := &h.slots[i]
		s.mu.Lock()
		s.frame.Reset()
		s.mu.Unlock()
	}
}

// Dims returns the size of the current frame for kind without copying it.
func (h *Hub) Dims(kind Kind) (width, height int) {
	s := h.slot(kind)
	if s == nil {
		return 0, 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Width, s.frame.Height
}

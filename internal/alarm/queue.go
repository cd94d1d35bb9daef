package alarm

import (
	"sync"
	"time"
)

// Queue is a fixed-size ring of pre-allocated records shared by exactly one
// writer and one reader. Callers acquire a slot, fill or read it in place
// and then commit it.
//
// One slot is kept free to tell full from empty, so a queue built with size
// n holds at most n-1 records.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	slots    []Record
	head     int
	tail     int
	occupied int

	timeout time.Duration
	closed  bool

	writeHeld bool
	readHeld  bool
}

// NewQueue builds a queue of size slots (minimum 2). A negative timeout
// makes acquires wait forever; zero makes them fail at once.
func NewQueue(size int, timeout time.Duration) *Queue {
	if size < 2 {
		size = 2
	}
	q := &Queue{
		slots:   make([]Record, size),
		timeout: timeout,
	}
	for i := range q.slots {
		q.slots[i].Reset()
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Size returns the configured number of slots.
func (q *Queue) Size() int {
	return len(q.slots)
}

// Capacity returns how many records the queue can hold at once.
func (q *Queue) Capacity() int {
	return len(q.slots) - 1
}

// Timeout returns the configured acquire timeout.
func (q *Queue) Timeout() time.Duration {
	return q.timeout
}

// Len returns the number of committed, unread records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.occupied
}

// wait blocks on cond until ready() holds, the queue closes or the timeout
// runs out. It reports whether ready() holds. Caller holds q.mu.
func (q *Queue) wait(cond *sync.Cond, ready func() bool) bool {
	if ready() {
		return true
	}
	if q.closed || q.timeout == 0 {
		return false
	}

	if q.timeout < 0 {
		for !ready() && !q.closed {
			cond.Wait()
		}
		return ready() && !q.closed
	}

	deadline := time.Now().Add(q.timeout)
	timer := time.AfterFunc(q.timeout, func() {
		q.mu.Lock()
		cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for !ready() && !q.closed {
		if !time.Now().Before(deadline) {
			return false
		}
		cond.Wait()
	}
	return ready() && !q.closed
}

// AcquireWriteSlot returns the next free slot, reset and ready to fill, or
// nil if none frees up within the timeout. Until CommitWrite the slot is
// invisible to the reader. Acquiring again before committing returns the
// slot already held.
func (q *Queue) AcquireWriteSlot() *Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.writeHeld {
		return &q.slots[q.head]
	}
	if !q.wait(q.notFull, q.hasRoom) {
		return nil
	}

	q.writeHeld = true
	rec := &q.slots[q.head]
	rec.Reset()
	return rec
}

// CommitWrite publishes the held write slot to the reader. Without a held
// slot it does nothing.
func (q *Queue) CommitWrite() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.writeHeld {
		return
	}
	q.writeHeld = false
	q.head = (q.head + 1) % len(q.slots)
	q.occupied++
	q.notEmpty.Signal()
}

// AbortWrite releases a held write slot without publishing it.
func (q *Queue) AbortWrite() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.writeHeld = false
}

// AcquireReadSlot returns the oldest committed record, or nil if none is
// available within the timeout. The record stays valid until CommitRead.
func (q *Queue) AcquireReadSlot() *Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.readHeld {
		return &q.slots[q.tail]
	}
	if !q.wait(q.notEmpty, q.hasData) {
		return nil
	}

	q.readHeld = true
	return &q.slots[q.tail]
}

// CommitRead retires the held read slot and frees it for the writer.
func (q *Queue) CommitRead() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.readHeld {
		return
	}
	q.readHeld = false
	q.tail = (q.tail + 1) % len(q.slots)
	q.occupied--
	q.notFull.Signal()
}

// Push fills the next slot with fill and commits it. It returns
// ErrQueueFull on timeout and ErrQueueClosed after Close.
func (q *Queue) Push(fill func(*Record)) error {
	rec := q.AcquireWriteSlot()
	if rec == nil {
		if q.isClosed() {
			return ErrQueueClosed
		}
		return ErrQueueFull
	}
	fill(rec)
	q.CommitWrite()
	return nil
}

// Pop hands the oldest record to consume and retires it afterwards,
// whatever consume does. It returns ErrQueueEmpty on timeout.
func (q *Queue) Pop(consume func(*Record)) error {
	rec := q.AcquireReadSlot()
	if rec == nil {
		if q.isClosed() {
			return ErrQueueClosed
		}
		return ErrQueueEmpty
	}
	defer q.CommitRead()
	consume(rec)
	return nil
}

// Close wakes every waiter and makes further acquires fail immediately.
// Held slots can still be committed. Records already queued are kept.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Reopen undoes Close so a restarted pipeline can reuse the queue.
func (q *Queue) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) hasRoom() bool {
	return q.occupied < len(q.slots)-1
}

func (q *Queue) hasData() bool {
	return q.occupied > 0
}

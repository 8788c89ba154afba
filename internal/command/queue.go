package command

import (
	"context"
	"sync"
)

// DefaultCapacity is the queue size used when none is configured
const DefaultCapacity = 48

// Queue is a bounded many-producer, single-consumer command queue.
//
// Push never fails: when the queue is full the oldest pending command is
// dropped. Priority kinds (Quit, Stop) clear the queue and become the only
// pending command, except that a Stop never displaces a pending Quit.
type Queue struct {
	mu    sync.Mutex
	buf   []Command
	head  int // index of the oldest command
	count int

	// wake has room for one token; a push leaves a token so a blocked Pop
	// rechecks the buffer.
	wake chan struct{}

	dropped int
}

// NewQueue creates a queue holding at most capacity commands
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:  make([]Command, capacity),
		wake: make(chan struct{}, 1),
	}
}

// Push enqueues a command
func (q *Queue) Push(cmd Command) {
	q.mu.Lock()
	if cmd.Kind.IsPriority() {
		if cmd.Kind != Quit && q.pendingLocked(Quit) {
			// A pending Quit already stops playback
			q.mu.Unlock()
			return
		}
		q.clearLocked()
	}
	if q.count == len(q.buf) {
		// Evict oldest
		q.buf[q.head] = Command{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped++
	}
	q.buf[(q.head+q.count)%len(q.buf)] = cmd
	q.count++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PushAll enqueues commands in order
func (q *Queue) PushAll(cmds ...Command) {
	for _, cmd := range cmds {
		q.Push(cmd)
	}
}

// Pop blocks until a command is available or ctx is done
func (q *Queue) Pop(ctx context.Context) (Command, error) {
	for {
		if cmd, ok := q.Poll(); ok {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Poll returns the next command without blocking
func (q *Queue) Poll() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Command{}, false
	}
	cmd := q.buf[q.head]
	q.buf[q.head] = Command{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	if q.count > 0 {
		// Keep the consumer awake while commands remain
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return cmd, true
}

// Len returns the number of pending commands
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Capacity returns the maximum number of pending commands
func (q *Queue) Capacity() int {
	return len(q.buf)
}

// Dropped returns how many commands were evicted because the queue was full
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all pending commands
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
}

// pendingLocked reports whether a command of kind is queued. q.mu must be
// held.
func (q *Queue) pendingLocked(kind Kind) bool {
	for i := 0; i < q.count; i++ {
		if q.buf[(q.head+i)%len(q.buf)].Kind == kind {
			return true
		}
	}
	return false
}

// clearLocked must be called with q.mu held
func (q *Queue) clearLocked() {
	for i := range q.buf {
		q.buf[i] = Command{}
	}
	q.head = 0
	q.count = 0
}

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-memory Queue used by tests and single-node
// deployments. Delayed messages become visible once their delay
// expires.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []*Message
	delayed map[string]delayedMessage
	notify  chan struct{}
	now     func() time.Time
}

type delayedMessage struct {
	msg     *Message
	visible time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		delayed: make(map[string]delayedMessage),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Enqueue implements Queue.Enqueue.
func (q *MemoryQueue) Enqueue(_ context.Context, jobID string, delay time.Duration) error {
	delay = ClampDelay(delay)
	msg := &Message{JobID: jobID, Receipt: uuid.NewString()}

	q.mu.Lock()
	if delay > 0 {
		q.delayed[msg.Receipt] = delayedMessage{msg: msg, visible: q.now().Add(delay)}
	} else {
		q.ready = append(q.ready, msg)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// promote moves due delayed messages to the ready list. Caller holds
// the lock.
func (q *MemoryQueue) promote() {
	now := q.now()
	for receipt, d := range q.delayed {
		if !d.visible.After(now) {
			q.ready = append(q.ready, d.msg)
			delete(q.delayed, receipt)
		}
	}
}

// Receive implements Queue.Receive. It waits up to one second for a
// message to become available.
func (q *MemoryQueue) Receive(ctx context.Context) (*Message, error) {
	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		q.promote()
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Delete implements Queue.Delete. Messages are removed on receive, so
// delete is a no-op.
func (q *MemoryQueue) Delete(context.Context, *Message) error {
	return nil
}

// Len returns the number of immediately available messages. Test helper.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promote()
	return len(q.ready)
}

// DelayedLen returns the number of delayed, not yet visible messages.
// Test helper.
func (q *MemoryQueue) DelayedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promote()
	return len(q.delayed)
}

// Package queue provides the job queue abstraction and its SQS and
// in-memory implementations.
package queue

import (
	"context"
	"time"
)

// MaxDelay is the longest supported enqueue delay. SQS caps message
// delays at 900 seconds; longer backoff windows are re-applied on the
// next dequeue rather than encoded in a single delay.
const MaxDelay = 900 * time.Second

// Message is one queued job reference. The queue carries only the job
// ID; the job store is the source of truth for everything else.
type Message struct {
	// JobID identifies the job to process.
	JobID string `json:"job_id"`

	// Receipt is the backend's delivery handle, needed to delete the
	// message after processing.
	Receipt string `json:"-"`
}

// Queue is a best-effort at-least-once job queue. Consumers must treat
// duplicate delivery as normal.
type Queue interface {
	// Enqueue publishes a job reference with an optional delay. Delays
	// above MaxDelay are capped, never rejected.
	Enqueue(ctx context.Context, jobID string, delay time.Duration) error

	// Receive waits for up to one message. It returns nil with no error
	// when the wait expires without a message.
	Receive(ctx context.Context) (*Message, error)

	// Delete acknowledges a received message.
	Delete(ctx context.Context, msg *Message) error
}

// ClampDelay caps a delay to the supported range.
func ClampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

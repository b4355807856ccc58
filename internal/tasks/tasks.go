// Package tasks is the delayed task queue used to retry work that could not
// finish inline, such as re-driving a stuck verification session. Delivery is
// at least once; handlers must be idempotent.
package tasks

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies the handler a task is routed to.
type Kind string

const (
	KindDriveVerification Kind = "drive_verification"
)

// Task is one unit of deferred work. ID is the dedupe key: enqueuing a task
// whose ID is already queued is a no-op.
type Task struct {
	ID           string
	Kind         Kind
	Payload      json.RawMessage
	ScheduledFor time.Time
	// Attempts counts claims, including the current one.
	Attempts   int
	EnqueuedAt time.Time
}

// Queue stores tasks until they are due. A claimed task stays queued with its
// schedule pushed out by the lease, so a worker that dies mid-task hands it
// back automatically.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Claim returns the earliest task due at now, or nil when none is due.
	Claim(ctx context.Context, now time.Time, lease time.Duration) (*Task, error)
	Ack(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, at time.Time) error
	Len(ctx context.Context) (int, error)
}

// Backoff returns base doubled per previous attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

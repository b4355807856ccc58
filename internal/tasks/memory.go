package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue keeps tasks in a map. It is used by tests and single-process
// deployments without Redis.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]Task)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[t.ID]; ok {
		return nil
	}
	q.tasks[t.ID] = t
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, lease time.Duration) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next *Task
	for _, t := range q.tasks {
		if t.ScheduledFor.After(now) {
			continue
		}
		if next == nil || t.ScheduledFor.Before(next.ScheduledFor) {
			t := t
			next = &t
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Attempts++
	next.ScheduledFor = now.Add(lease)
	q.tasks[next.ID] = *next
	out := *next
	return &out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, id)
	return nil
}

func (q *MemoryQueue) Reschedule(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil
	}
	t.ScheduledFor = at
	q.tasks[id] = t
	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), nil
}

// Get returns the queued task with id.
func (q *MemoryQueue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

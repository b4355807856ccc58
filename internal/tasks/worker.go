package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kycflow/internal/tasks/metrics"
)

const (
	defaultLease        = time.Minute
	defaultPollInterval = time.Second
	defaultBaseDelay    = 5 * time.Second
	defaultMaxDelay     = 10 * time.Minute
	defaultMaxAttempts  = 8
)

// Handler processes one task. A returned error schedules a retry.
type Handler func(ctx context.Context, t Task) error

// Worker claims due tasks and routes them to handlers by kind. Failed tasks
// are rescheduled with exponential backoff and abandoned after MaxAttempts.
type Worker struct {
	queue    Queue
	handlers map[Kind]Handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	lease        time.Duration
	pollInterval time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxAttempts  int
}

type WorkerOption func(*Worker)

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithBackoff sets the first retry delay and the cap.
func WithBackoff(base, max time.Duration) WorkerOption {
	return func(w *Worker) {
		if base > 0 {
			w.baseDelay = base
		}
		if max >= base {
			w.maxDelay = max
		}
	}
}

func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

func WithLease(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lease = d
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithClock overrides time.Now for scheduling.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(queue Queue, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        queue,
		handlers:     make(map[Kind]Handler),
		logger:       slog.Default(),
		now:          time.Now,
		lease:        defaultLease,
		pollInterval: defaultPollInterval,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers h for kind. It must be called before Run.
func (w *Worker) Handle(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// MaxAttempts is the number of claims after which a failing task is dropped.
func (w *Worker) MaxAttempts() int { return w.maxAttempts }

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		for {
			processed, err := w.ProcessNext(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "task queue error", "error", err)
				break
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and handles one due task. It reports false when nothing
// was due. Handler failures are absorbed into the retry schedule; only queue
// errors are returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	now := w.now()
	t, err := w.queue.Claim(ctx, now, w.lease)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	h, ok := w.handlers[t.Kind]
	if !ok {
		w.logger.WarnContext(ctx, "dropping task with no handler", "task_id", t.ID, "kind", t.Kind)
		w.metrics.IncrementProcessed(string(t.Kind), "abandoned")
		return true, w.queue.Ack(ctx, t.ID)
	}

	herr := h(ctx, *t)
	if herr == nil {
		w.metrics.IncrementProcessed(string(t.Kind), "done")
		if err := w.queue.Ack(ctx, t.ID); err != nil {
			return true, err
		}
		return true, nil
	}

	if t.Attempts >= w.maxAttempts {
		w.logger.ErrorContext(ctx, "giving up on task",
			"task_id", t.ID,
			"kind", t.Kind,
			"attempts", t.Attempts,
			"error", herr,
		)
		w.metrics.IncrementProcessed(string(t.Kind), "abandoned")
		if err := w.queue.Ack(ctx, t.ID); err != nil {
			return true, err
		}
		return true, nil
	}

	delay := Backoff(w.baseDelay, w.maxDelay, t.Attempts)
	w.logger.WarnContext(ctx, "task failed, retrying",
		"task_id", t.ID,
		"kind", t.Kind,
		"attempts", t.Attempts,
		"retry_in", delay,
		"error", herr,
	)
	w.metrics.IncrementProcessed(string(t.Kind), "retry")
	if err := w.queue.Reschedule(ctx, t.ID, now.Add(delay)); err != nil {
		return true, fmt.Errorf("reschedule after failure: %w", err)
	}
	return true, nil
}

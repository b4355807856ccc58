package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "kycflow/pkg/platform/audit"
	txcontext "kycflow/pkg/platform/tx"
	"kycflow/pkg/requestcontext"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Outbox is the read side of the transactional outbox. Pending must lock the
// returned rows for the lifetime of the surrounding transaction.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Publisher delivers a batch of entries downstream. Delivery is at-least-once:
// a batch that publishes but fails to be marked will be sent again.
type Publisher interface {
	Publish(ctx context.Context, entries []audit.OutboxEntry) error
}

// Metrics for the outbox relay.
type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_outbox_published_total",
			Help: "Outbox entries delivered to the event stream",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_outbox_flush_failures_total",
			Help: "Outbox flushes that rolled back",
		}),
	}
}

func (m *Metrics) addPublished(n int) {
	if m == nil {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) incFailures() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}

// Worker relays outbox rows to a Publisher. Each flush claims a batch,
// publishes it and marks it inside one transaction, so concurrent relays
// never hand out the same row twice.
type Worker struct {
	outbox    Outbox
	publisher Publisher
	runner    txcontext.Runner
	logger    *slog.Logger
	metrics   *Metrics

	batchSize int
	interval  time.Duration
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func NewWorker(outbox Outbox, publisher Publisher, runner txcontext.Runner, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		publisher: publisher,
		runner:    runner,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Flush relays at most one batch and reports how many entries went out.
func (w *Worker) Flush(ctx context.Context) (int, error) {
	var published int
	err := w.runner.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.outbox.Pending(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := w.publisher.Publish(ctx, entries); err != nil {
			return fmt.Errorf("publish outbox batch: %w", err)
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := w.outbox.MarkPublished(ctx, ids, requestcontext.Now(ctx)); err != nil {
			return err
		}
		published = len(entries)
		return nil
	})
	if err != nil {
		w.metrics.incFailures()
		return 0, err
	}
	w.metrics.addPublished(published)
	return published, nil
}

// Run flushes on every tick until ctx is cancelled. A full batch is
// followed immediately by another flush so a backlog drains without waiting.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.Flush(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "outbox flush failed", "error", err)
			return
		}
		if n < w.batchSize {
			return
		}
	}
}

// Package app assembles the workflow core from configuration: stores, vendor
// gateway, engine, verification machine, coordinator, retry worker and outbox
// relay. Inbound adapters drive cases through the exported components.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/coordinator"
	coordinatormetrics "kycflow/internal/coordinator/metrics"
	"kycflow/internal/decision"
	decisionmetrics "kycflow/internal/decision/metrics"
	decisionstore "kycflow/internal/decision/store"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/postgres"
	platformredis "kycflow/internal/platform/redis"
	"kycflow/internal/tasks"
	taskmetrics "kycflow/internal/tasks/metrics"
	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	"kycflow/internal/vendors/classify"
	vendormetrics "kycflow/internal/vendors/metrics"
	vendorstore "kycflow/internal/vendors/store"
	"kycflow/internal/verification"
	"kycflow/internal/verification/images"
	verificationmetrics "kycflow/internal/verification/metrics"
	sessionstore "kycflow/internal/verification/store"
	"kycflow/internal/workflow"
	workflowmetrics "kycflow/internal/workflow/metrics"
	workflowstore "kycflow/internal/workflow/store"
	"kycflow/pkg/platform/audit"
	auditmemory "kycflow/pkg/platform/audit/store/memory"
	auditpostgres "kycflow/pkg/platform/audit/store/postgres"
	auditworker "kycflow/pkg/platform/audit/worker"
	"kycflow/pkg/platform/tx"
)

// App holds the wired components. Vendor clients are registered on Vendors
// by the deployment; calls to unregistered APIs fail as vendor errors.
type App struct {
	Vendors     *vendors.Registry
	Vault       vault.Vault
	Engine      *workflow.Engine
	Machine     *verification.Machine
	Documents   *verification.Service
	Coordinator *coordinator.Coordinator
	Tasks       *tasks.Worker
	Relay       *auditworker.Worker // nil without Kafka
	Checks      map[string]httpserver.HealthCheck

	logger  *slog.Logger
	closers []func() error
}

type stores struct {
	cases     workflow.CaseStore
	sessions  verification.SessionStore
	decisions decision.Store
	calls     vendors.CallStore
	vault     vault.Vault
	audit     audit.Store
	runner    tx.Runner
}

func memoryStores() stores {
	return stores{
		cases:     workflowstore.NewInMemory(),
		sessions:  sessionstore.NewInMemory(),
		decisions: decisionstore.NewInMemory(),
		calls:     vendorstore.NewInMemory(),
		vault:     vault.NewInMemory(),
		audit:     auditmemory.NewInMemoryStore(),
		runner:    tx.NewMemoryRunner(),
	}
}

func postgresStores(db *sql.DB, cfg config.Database) stores {
	return stores{
		cases:     workflowstore.NewPostgres(db),
		sessions:  sessionstore.NewPostgres(db),
		decisions: decisionstore.NewPostgres(db),
		calls:     vendorstore.NewPostgres(db),
		vault:     vault.NewPostgres(db),
		audit:     auditpostgres.New(db),
		runner:    tx.NewSQLRunner(db, cfg.TxTimeout),
	}
}

// New connects to the configured backends and wires every component.
// Without a database URL everything runs in memory.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Vendors: vendors.NewRegistry(),
		Checks:  make(map[string]httpserver.HealthCheck),
		logger:  logger,
	}
	if err := a.build(ctx, cfg, reg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg config.Config, reg prometheus.Registerer) error {
	policy, err := classify.LoadPolicy(cfg.Workflow.PolicyPath)
	if err != nil {
		return err
	}
	ruleSets, err := decision.LoadRuleSets(cfg.Workflow.PolicyPath)
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	st := memoryStores()
	if db != nil {
		a.closers = append(a.closers, db.Close)
		a.Checks["postgres"] = db.PingContext
		st = postgresStores(db, cfg.Database)
	} else {
		a.logger.Warn("no database configured, cases are kept in memory")
	}
	a.Vault = st.vault

	blobs, err := a.blobStore(ctx, cfg.MinIO)
	if err != nil {
		return err
	}

	queue, err := a.queue(ctx, cfg, db)
	if err != nil {
		return err
	}

	gateway := vendors.NewGateway(a.Vendors, st.calls,
		vendors.WithLogger(a.logger),
		vendors.WithMetrics(vendormetrics.New(reg)),
		vendors.WithTimeouts(policy),
	)

	verificationMetrics := verificationmetrics.New(reg)
	a.Machine = verification.NewMachine(st.sessions, gateway, policy, st.vault, st.runner,
		verification.WithLogger(a.logger),
		verification.WithMetrics(verificationMetrics),
		verification.WithAuditor(st.audit),
	)
	a.Documents = verification.NewService(st.sessions, blobs, st.runner,
		verification.WithServiceLogger(a.logger),
		verification.WithServiceMetrics(verificationMetrics),
		verification.WithServiceAuditor(st.audit),
	)

	evaluator := decision.NewRuleEngine(ruleSets, decision.WithMetrics(decisionmetrics.New(reg)))
	a.Engine = workflow.NewEngine(&workflow.Env{
		Cases:     st.cases,
		Sessions:  st.sessions,
		Decisions: st.decisions,
		Calls:     st.calls,
		Gateway:   gateway,
		Policy:    policy,
		Evaluator: evaluator,
		Vault:     st.vault,
		Runner:    st.runner,
		Audit:     st.audit,
	},
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(workflowmetrics.New(reg)),
		workflow.WithMaxCascade(cfg.Workflow.MaxCascade),
		workflow.WithMaxParallelCalls(cfg.Workflow.MaxParallelCalls),
	)

	a.Coordinator = coordinator.New(a.Engine, a.Machine, st.sessions, queue,
		coordinator.WithLogger(a.logger),
		coordinator.WithMetrics(coordinatormetrics.New(reg)),
		coordinator.WithRetryBackoff(cfg.Workflow.RetryBaseDelay, cfg.Workflow.RetryMaxDelay),
	)

	a.Tasks = tasks.NewWorker(queue,
		tasks.WithLogger(a.logger),
		tasks.WithMetrics(taskmetrics.New(reg)),
		tasks.WithBackoff(cfg.Workflow.RetryBaseDelay, cfg.Workflow.RetryMaxDelay),
		tasks.WithMaxAttempts(cfg.Workflow.RetryMaxAttempts),
		tasks.WithLease(cfg.Workflow.TaskLease),
		tasks.WithPollInterval(cfg.Workflow.TaskPollInterval),
	)
	a.Tasks.Handle(tasks.KindDriveVerification, a.Coordinator.RetryHandler)

	if len(cfg.Kafka.Brokers) > 0 && db != nil {
		relay, err := a.relay(ctx, cfg.Kafka, auditpostgres.New(db), st.runner, reg)
		if err != nil {
			return err
		}
		a.Relay = relay
	}
	return nil
}

func (a *App) blobStore(ctx context.Context, cfg config.MinIO) (images.BlobStore, error) {
	if cfg.Endpoint == "" {
		a.logger.Warn("no object store configured, document images are kept in memory")
		return images.NewInMemory(), nil
	}
	return images.NewMinioStore(ctx, images.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
	})
}

func (a *App) queue(ctx context.Context, cfg config.Config, db *sql.DB) (tasks.Queue, error) {
	switch cfg.Workflow.QueueBackend {
	case config.QueueRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.Checks["redis"] = client.Health
		return tasks.NewRedisQueue(client.Client, cfg.Redis.KeyPrefix), nil
	case config.QueuePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres queue backend needs a database")
		}
		return tasks.NewPostgresQueue(db), nil
	default:
		return tasks.NewMemoryQueue(), nil
	}
}

func (a *App) relay(ctx context.Context, cfg config.Kafka, outbox auditworker.Outbox, runner tx.Runner, reg prometheus.Registerer) (*auditworker.Worker, error) {
	publisher, err := auditworker.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		publisher.Close()
		return nil
	})
	if err := publisher.EnsureTopic(ctx, int32(cfg.Partitions), int16(cfg.ReplicationFactor)); err != nil {
		return nil, err
	}
	return auditworker.NewWorker(outbox, publisher, runner,
		auditworker.WithLogger(a.logger),
		auditworker.WithMetrics(auditworker.NewMetrics(reg)),
		auditworker.WithBatchSize(cfg.BatchSize),
		auditworker.WithInterval(cfg.FlushInterval),
	), nil
}

// Run drives the retry worker and the outbox relay until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(a.Tasks.Run(ctx)) })
	if a.Relay != nil {
		g.Go(func() error { return ignoreCanceled(a.Relay.Run(ctx)) })
	}
	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

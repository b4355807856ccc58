// Package coordinator drains a case's verification session before handing the
// case to the workflow engine. A session that cannot finish now is retried in
// the background instead of failing the caller.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"kycflow/internal/coordinator/metrics"
	"kycflow/internal/tasks"
	"kycflow/internal/verification"
	"kycflow/internal/workflow"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

const (
	defaultRetryBase = 5 * time.Second
	defaultRetryMax  = 10 * time.Minute
)

var tracer = otel.Tracer("kycflow/coordinator")

// ErrStillStuck is returned to the task worker when a retried session is
// still not complete, so the worker schedules another attempt.
var ErrStillStuck = errors.New("verification session still stuck")

type Status string

const (
	StatusAdvanced Status = "advanced"
	StatusStuck    Status = "stuck"
)

// Outcome reports how far one coordinator run got. Instance is the case after
// the workflow ran and is nil when the run stopped at a stuck session. Drive
// is set whenever a session was driven.
type Outcome struct {
	Status   Status
	Instance *workflow.Instance
	Drive    *verification.DriveResult
}

// Engine is the workflow side the coordinator hands off to.
type Engine interface {
	Run(ctx context.Context, caseID id.CaseID, action workflow.Action) (*workflow.Instance, error)
	Resume(ctx context.Context, caseID id.CaseID) (*workflow.Instance, error)
}

// Driver advances a verification session as far as its inputs allow.
type Driver interface {
	Drive(ctx context.Context, sessionID id.VerificationSessionID) (verification.DriveResult, error)
}

// SessionFinder locates the session a case is currently collecting.
type SessionFinder interface {
	LatestForCase(ctx context.Context, caseID id.CaseID) (*verification.Session, error)
}

type Coordinator struct {
	engine    Engine
	driver    Driver
	sessions  SessionFinder
	queue     tasks.Queue
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retryBase time.Duration
	retryMax  time.Duration
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryBackoff sets the first retry delay for a stuck session and its cap.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(c *Coordinator) {
		if base > 0 {
			c.retryBase = base
		}
		if max >= base {
			c.retryMax = max
		}
	}
}

func New(engine Engine, driver Driver, sessions SessionFinder, queue tasks.Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:    engine,
		driver:    driver,
		sessions:  sessions,
		queue:     queue,
		logger:    slog.Default(),
		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunVerificationAndWorkflow drives the case's open session and, once it is
// complete or when there is none, resumes the case's default action.
func (c *Coordinator) RunVerificationAndWorkflow(ctx context.Context, caseID id.CaseID) (Outcome, error) {
	return c.run(ctx, caseID, nil, true)
}

// HandleEvent translates an inbound event into a workflow action and runs it
// behind the session drain.
func (c *Coordinator) HandleEvent(ctx context.Context, caseID id.CaseID, event Event) (Outcome, error) {
	action, err := event.action()
	if err != nil {
		return Outcome{}, err
	}
	return c.run(ctx, caseID, action, true)
}

func (c *Coordinator) run(ctx context.Context, caseID id.CaseID, action workflow.Action, scheduleRetry bool) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "coordinator.run")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", caseID.String()))

	drive, stuck := c.drain(ctx, caseID)
	if stuck {
		if scheduleRetry {
			c.scheduleRetry(ctx, caseID)
		}
		span.SetAttributes(attribute.String("coordinator.outcome", string(StatusStuck)))
		c.metrics.IncrementOutcome(string(StatusStuck))
		return Outcome{Status: StatusStuck, Drive: drive}, nil
	}

	var (
		inst *workflow.Instance
		err  error
	)
	if action != nil {
		inst, err = c.engine.Run(ctx, caseID, action)
	} else {
		inst, err = c.engine.Resume(ctx, caseID)
	}
	if err != nil {
		return Outcome{Instance: inst, Drive: drive}, err
	}
	span.SetAttributes(attribute.String("coordinator.outcome", string(StatusAdvanced)))
	c.metrics.IncrementOutcome(string(StatusAdvanced))
	return Outcome{Status: StatusAdvanced, Instance: inst, Drive: drive}, nil
}

// drain drives the case's latest session if it is still open. Drive errors
// are logged and reported as stuck rather than returned.
func (c *Coordinator) drain(ctx context.Context, caseID id.CaseID) (*verification.DriveResult, bool) {
	session, err := c.sessions.LatestForCase(ctx, caseID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "failed to load verification session", "case_id", caseID, "error", err)
		return nil, true
	}
	if session.IsComplete() {
		return nil, false
	}

	res, err := c.driver.Drive(ctx, session.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "verification drive failed",
			"case_id", caseID,
			"session_id", session.ID,
			"error", err,
		)
		return nil, true
	}
	if res.IsStuck() {
		c.logger.InfoContext(ctx, "verification session waiting",
			"case_id", caseID,
			"session_id", session.ID,
			"status", res.Status,
		)
		return &res, true
	}
	return &res, false
}

type retryPayload struct {
	CaseID id.CaseID `json:"case_id"`
}

func retryTaskID(caseID id.CaseID) string {
	return string(tasks.KindDriveVerification) + ":" + caseID.String()
}

// scheduleRetry is best effort: a queue failure is logged, never returned.
func (c *Coordinator) scheduleRetry(ctx context.Context, caseID id.CaseID) {
	payload, err := json.Marshal(retryPayload{CaseID: caseID})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode retry task", "case_id", caseID, "error", err)
		return
	}
	now := requestcontext.Now(ctx)
	task := tasks.Task{
		ID:           retryTaskID(caseID),
		Kind:         tasks.KindDriveVerification,
		Payload:      payload,
		ScheduledFor: now.Add(tasks.Backoff(c.retryBase, c.retryMax, 1)),
		EnqueuedAt:   now,
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		c.metrics.IncrementEnqueueFailures()
		c.logger.WarnContext(ctx, "failed to queue verification retry", "case_id", caseID, "error", err)
		return
	}
	c.metrics.IncrementRetriesQueued()
}

// RetryHandler re-drives a case from a drive_verification task. A session
// that is still stuck returns ErrStillStuck so the worker backs off; a
// structural workflow error drops the task since retrying cannot fix it.
func (c *Coordinator) RetryHandler(ctx context.Context, t tasks.Task) error {
	var p retryPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil || p.CaseID.IsNil() {
		c.logger.ErrorContext(ctx, "dropping malformed retry task", "task_id", t.ID, "error", err)
		return nil
	}

	out, err := c.run(ctx, p.CaseID, nil, false)
	if err != nil {
		if dErrors.IsFatal(err) {
			c.logger.ErrorContext(ctx, "retry hit a structural workflow error",
				"case_id", p.CaseID,
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("resume case %s: %w", p.CaseID, err)
	}
	if out.Status == StatusStuck {
		return ErrStillStuck
	}
	c.logger.InfoContext(ctx, "verification retry advanced case",
		"case_id", p.CaseID,
		"attempts", t.Attempts,
	)
	return nil
}

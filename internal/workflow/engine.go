package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kycflow/internal/decision"
	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	"kycflow/internal/vendors/classify"
	"kycflow/internal/verification"
	"kycflow/internal/workflow/metrics"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
	"kycflow/pkg/requestcontext"
)

const (
	defaultMaxCascade       = 16
	defaultMaxParallelCalls = 4
)

var tracer = otel.Tracer("kycflow/workflow")

// VendorGateway performs and records one vendor call.
type VendorGateway interface {
	Call(ctx context.Context, caseID id.CaseID, req vendors.Request) vendors.CallResult
}

// VendorPolicy is the externally configured fatal/primary mapping.
type VendorPolicy interface {
	classify.Policy
	PrimaryAPIs() []vendors.API
}

// Env is the shared, read-only context every transition runs with.
type Env struct {
	Cases     CaseStore
	Sessions  verification.SessionStore
	Decisions decision.Store
	Calls     vendors.CallStore
	Gateway   VendorGateway
	Policy    VendorPolicy
	Evaluator decision.Evaluator
	Vault     vault.Vault
	Runner    tx.Runner
	Audit     audit.Store
}

// Instance is the hydrated, typed view of a case at one version.
type Instance struct {
	Case  *Case
	State State
}

// Engine dispatches actions against cases.
type Engine struct {
	env              *Env
	metrics          *metrics.Metrics
	logger           *slog.Logger
	maxCascade       int
	maxParallelCalls int
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxCascade bounds how many dispatches one Run may chain.
func WithMaxCascade(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCascade = n
		}
	}
}

// WithMaxParallelCalls bounds the vendor fan-out of one transition.
func WithMaxParallelCalls(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallelCalls = n
		}
	}
}

func NewEngine(env *Env, opts ...Option) *Engine {
	e := &Engine{
		env:              env,
		logger:           slog.Default(),
		maxCascade:       defaultMaxCascade,
		maxParallelCalls: defaultMaxParallelCalls,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create persists a new case in its kind's initial state.
func (e *Engine) Create(ctx context.Context, in NewCase) (*Instance, error) {
	if !in.Kind.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown case kind %q", in.Kind)
	}
	if in.Config.Kind != in.Kind {
		return nil, dErrors.Newf(dErrors.CodeConfigKindMismatch,
			"config kind %q does not match case kind %q", in.Config.Kind, in.Kind)
	}
	if in.ApplicantID.IsNil() || in.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "applicant and tenant are required")
	}
	if in.Kind == KindDocument && !in.Config.DocumentType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "document case needs a document type, got %q", in.Config.DocumentType)
	}

	initial, err := InitialState(in.Kind)
	if err != nil {
		return nil, err
	}
	ps, err := Persist(initial)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	c := &Case{
		ID:          id.NewCaseID(),
		Kind:        in.Kind,
		TenantID:    in.TenantID,
		ApplicantID: in.ApplicantID,
		Config:      in.Config,
		State:       ps,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = e.env.Runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.env.Cases.Create(ctx, c); err != nil {
			return fmt.Errorf("create case: %w", err)
		}
		return e.appendAudit(ctx, audit.Event{
			CaseID:    c.ID,
			Timestamp: now,
			Subject:   c.ID.String(),
			Action:    string(audit.EventCaseCreated),
			Decision:  string(initial.Name()),
			Reason:    string(c.Kind),
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "case created", "case_id", c.ID, "kind", c.Kind)
	return &Instance{Case: c, State: initial}, nil
}

// Init hydrates the typed state of a persisted case.
func (e *Engine) Init(c *Case) (*Instance, error) {
	if c.Config.Kind != c.Kind {
		return nil, dErrors.Newf(dErrors.CodeConfigKindMismatch,
			"case %s: config kind %q does not match case kind %q", c.ID, c.Config.Kind, c.Kind)
	}
	st, err := Hydrate(c.Kind, c.State)
	if err != nil {
		return nil, err
	}
	return &Instance{Case: c, State: st}, nil
}

// Load reads and hydrates the current persisted case.
func (e *Engine) Load(ctx context.Context, caseID id.CaseID) (*Instance, error) {
	c, err := e.env.Cases.Get(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "case %s not found", caseID)
		}
		return nil, fmt.Errorf("load case: %w", err)
	}
	return e.Init(c)
}

// Dispatch applies action to the case's current persisted state. It returns
// the resulting instance and the new state's default next action, if any. A
// transition that waits for external input commits nothing and returns no
// next action.
func (e *Engine) Dispatch(ctx context.Context, caseID id.CaseID, action Action) (*Instance, Action, error) {
	ctx, span := tracer.Start(ctx, "workflow.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("case.id", caseID.String()),
		attribute.String("workflow.action", action.Name()),
	)

	start := time.Now()
	inst, err := e.Load(ctx, caseID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	kind := string(inst.Case.Kind)
	defer func() { e.metrics.ObserveDispatch(kind, time.Since(start)) }()

	next, err := e.dispatch(ctx, inst, action)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.metrics.IncrementDispatchError(kind, string(dErrors.CodeOf(err)))
		e.logger.WarnContext(ctx, "dispatch failed",
			"case_id", caseID,
			"kind", kind,
			"state", inst.State.Name(),
			"action", action.Name(),
			"error", err,
		)
		return inst, nil, err
	}
	if next == nil {
		e.metrics.IncrementWait(kind, string(inst.State.Name()))
		return inst, nil, nil
	}
	return next, next.State.DefaultAction(), nil
}

func (e *Engine) dispatch(ctx context.Context, inst *Instance, action Action) (*Instance, error) {
	p, err := e.transition(ctx, inst, action)
	if err != nil {
		return nil, err
	}
	if p.next == nil {
		return nil, nil
	}
	return e.commit(ctx, inst, action, p)
}

// commit writes the planned transition in one transaction. The case row must
// still be at the version the plan was computed from.
func (e *Engine) commit(ctx context.Context, inst *Instance, action Action, p plan) (*Instance, error) {
	ps, err := Persist(p.next)
	if err != nil {
		return nil, err
	}

	var updated Case
	err = e.env.Runner.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := e.env.Cases.GetForUpdate(ctx, inst.Case.ID)
		if err != nil {
			return fmt.Errorf("lock case: %w", err)
		}
		if locked.Version != inst.Case.Version {
			return dErrors.Newf(dErrors.CodeConcurrentStateChange,
				"case %s moved from version %d to %d during %s", inst.Case.ID, inst.Case.Version, locked.Version, action.Name())
		}

		now := requestcontext.Now(ctx)
		version := locked.Version + 1
		if err := e.env.Cases.UpdateState(ctx, locked.ID, ps, version, now); err != nil {
			return fmt.Errorf("update case state: %w", err)
		}
		if p.session != nil {
			if err := e.env.Sessions.Create(ctx, p.session); err != nil {
				return fmt.Errorf("create verification session: %w", err)
			}
		}
		if p.decision != nil {
			if err := e.env.Decisions.Save(ctx, *p.decision); err != nil {
				return fmt.Errorf("save decision: %w", err)
			}
			if err := e.appendAudit(ctx, audit.Event{
				CaseID:    locked.ID,
				Timestamp: now,
				Subject:   p.decision.ID.String(),
				Action:    string(audit.EventDecisionMade),
				Decision:  string(p.decision.Status),
				Reason:    joinReasons(p.decision.ReasonCodes),
				RequestID: requestcontext.RequestID(ctx),
			}); err != nil {
				return err
			}
		}
		if err := e.appendAudit(ctx, audit.Event{
			CaseID:    locked.ID,
			Timestamp: now,
			Subject:   locked.ID.String(),
			Action:    string(audit.EventCaseTransitioned),
			Decision:  string(p.next.Name()),
			Reason:    action.Name(),
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return err
		}

		updated = *locked
		updated.State = ps
		updated.Version = version
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.IncrementTransition(string(updated.Kind), string(inst.State.Name()), string(p.next.Name()))
	e.logger.InfoContext(ctx, "case transitioned",
		"case_id", updated.ID,
		"kind", updated.Kind,
		"from", inst.State.Name(),
		"to", p.next.Name(),
		"action", action.Name(),
	)
	return &Instance{Case: &updated, State: p.next}, nil
}

// Run dispatches action and keeps feeding each default next action back in
// until none remains. Each dispatch commits on its own; a failure leaves the
// case at the last committed state and Run can be called again.
func (e *Engine) Run(ctx context.Context, caseID id.CaseID, action Action) (*Instance, error) {
	var inst *Instance
	for steps := 0; action != nil; steps++ {
		if steps >= e.maxCascade {
			return inst, dErrors.Newf(dErrors.CodeInvariantViolation,
				"case %s cascaded more than %d actions", caseID, e.maxCascade)
		}
		next, nextAction, err := e.Dispatch(ctx, caseID, action)
		if next != nil {
			inst = next
		}
		if err != nil {
			return inst, err
		}
		action = nextAction
	}
	if inst == nil {
		return e.Load(ctx, caseID)
	}
	return inst, nil
}

// Resume runs the current state's default action, if it has one.
func (e *Engine) Resume(ctx context.Context, caseID id.CaseID) (*Instance, error) {
	inst, err := e.Load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	action := inst.State.DefaultAction()
	if action == nil {
		return inst, nil
	}
	return e.Run(ctx, caseID, action)
}

func (e *Engine) appendAudit(ctx context.Context, event audit.Event) error {
	if e.env.Audit == nil {
		return nil
	}
	if err := e.env.Audit.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func joinReasons(codes []decision.ReasonCode) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

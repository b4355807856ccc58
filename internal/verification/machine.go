package verification

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	"kycflow/internal/verification/metrics"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/tx"
	"kycflow/pkg/requestcontext"
)

var tracer = otel.Tracer("kycflow/verification")

// VendorGateway performs and records one vendor call.
type VendorGateway interface {
	Call(ctx context.Context, caseID id.CaseID, req vendors.Request) vendors.CallResult
}

// FatalPolicy decides whether a failed call to api is a step failure that
// needs new input, rather than a transient error.
type FatalPolicy interface {
	IsFatal(api vendors.API) bool
}

type DriveStatus string

const (
	DriveComplete               DriveStatus = "complete"
	DriveWaitingForInput        DriveStatus = "waiting_for_input"
	DriveWaitingForResubmission DriveStatus = "waiting_for_resubmission"
)

// DriveResult reports where a drive stopped and which steps it committed.
type DriveResult struct {
	Status    DriveStatus
	Session   *Session
	Committed []Step
}

func (r DriveResult) IsStuck() bool { return r.Status != DriveComplete }

// Machine runs sessions through the pipeline.
type Machine struct {
	sessions SessionStore
	gateway  VendorGateway
	policy   FatalPolicy
	vault    vault.Vault
	runner   tx.Runner
	audit    audit.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

func WithAuditor(store audit.Store) Option {
	return func(m *Machine) { m.audit = store }
}

func NewMachine(sessions SessionStore, gateway VendorGateway, policy FatalPolicy, v vault.Vault, runner tx.Runner, opts ...Option) *Machine {
	m := &Machine{
		sessions: sessions,
		gateway:  gateway,
		policy:   policy,
		vault:    v,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Drive attempts and commits steps until the session completes or cannot
// progress without new input. A failed commit never triggers another attempt
// of the same step within one drive.
func (m *Machine) Drive(ctx context.Context, sessionID id.VerificationSessionID) (DriveResult, error) {
	ctx, span := tracer.Start(ctx, "verification.drive")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	res, err := m.drive(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	m.metrics.IncrementDriveOutcome(string(res.Status))
	return res, nil
}

func (m *Machine) drive(ctx context.Context, sessionID id.VerificationSessionID) (DriveResult, error) {
	var result DriveResult
	for i := 0; ; i++ {
		session, err := m.sessions.Get(ctx, sessionID)
		if err != nil {
			return result, fmt.Errorf("load session: %w", err)
		}
		result.Session = session
		if session.IsComplete() {
			result.Status = DriveComplete
			return result, nil
		}
		if i > len(pipeline) {
			return result, dErrors.Newf(dErrors.CodeInvariantViolation, "session %s did not settle after %d commits", sessionID, i)
		}

		handler, ok := handlers[session.Step]
		if !ok {
			return result, dErrors.Newf(dErrors.CodeInvariantViolation, "no handler for step %q", session.Step)
		}
		images, err := m.sessions.ActiveImages(ctx, sessionID)
		if err != nil {
			return result, fmt.Errorf("load images: %w", err)
		}

		outcome, err := handler.Attempt(ctx, m, stepContext{session: session, images: images})
		if err != nil {
			m.logger.WarnContext(ctx, "verification step attempt failed",
				"session_id", sessionID,
				"step", session.Step,
				"error", err,
			)
			return result, err
		}
		if outcome == nil {
			result.Status = DriveWaitingForInput
			if session.NeedsResubmission() {
				result.Status = DriveWaitingForResubmission
			}
			return result, nil
		}

		committed, step, err := m.commit(ctx, session, handler, outcome)
		if err != nil {
			return result, err
		}
		result.Session = committed
		result.Committed = append(result.Committed, step.Next)
		if step.IsRetry() {
			result.Status = DriveWaitingForResubmission
			return result, nil
		}
	}
}

// commit applies one step result atomically: the session row is locked and
// must still be at the step and version the attempt started from.
func (m *Machine) commit(ctx context.Context, seen *Session, handler stepHandler, outcome *Outcome) (*Session, StepResult, error) {
	var (
		updated *Session
		result  StepResult
	)
	err := m.runner.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := m.sessions.GetForUpdate(ctx, seen.ID)
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if locked.Step != seen.Step || locked.Version != seen.Version {
			return dErrors.Newf(dErrors.CodeConcurrentStateChange,
				"session %s moved from %s@%d to %s@%d", seen.ID, seen.Step, seen.Version, locked.Step, locked.Version)
		}

		result, err = handler.Commit(ctx, m, locked, outcome)
		if err != nil {
			return err
		}
		if err := result.validateFrom(locked.Step); err != nil {
			return err
		}

		from := locked.Step
		locked.Step = result.Next
		locked.LastFailure = result.Reason
		locked.Version++
		locked.UpdatedAt = requestcontext.Now(ctx)
		if err := m.sessions.Update(ctx, locked); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		event := audit.Event{
			CaseID:    locked.CaseID,
			Timestamp: locked.UpdatedAt,
			Subject:   locked.ID.String(),
			Action:    string(audit.EventSessionStepCommitted),
			Decision:  string(result.Next),
			Reason:    string(from),
			RequestID: requestcontext.RequestID(ctx),
		}
		if result.IsRetry() {
			if _, err := m.sessions.DeactivateSides(ctx, locked.ID, result.ClearSides); err != nil {
				return fmt.Errorf("deactivate sides: %w", err)
			}
			event.Action = string(audit.EventSessionRetryRequested)
			event.Reason = string(result.Reason)
		}
		if err := m.appendAudit(ctx, event); err != nil {
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		return nil, StepResult{}, err
	}

	outcomeLabel := "advance"
	if result.IsRetry() {
		outcomeLabel = "retry"
		m.logger.InfoContext(ctx, "verification step needs resubmission",
			"session_id", seen.ID,
			"step", seen.Step,
			"retry_from", result.Next,
			"reason", result.Reason,
		)
	}
	m.metrics.IncrementStepCommit(string(seen.Step), outcomeLabel)
	return updated, result, nil
}

// saveVendorSession stores the vendor onboarding token without moving the
// step. seen is updated in place so the step's own commit still matches.
func (m *Machine) saveVendorSession(ctx context.Context, seen *Session, token string) error {
	var updated *Session
	err := m.runner.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := m.sessions.GetForUpdate(ctx, seen.ID)
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if locked.Step != seen.Step || locked.Version != seen.Version {
			return dErrors.Newf(dErrors.CodeConcurrentStateChange,
				"session %s moved from %s@%d to %s@%d", seen.ID, seen.Step, seen.Version, locked.Step, locked.Version)
		}
		if locked.VendorSession != "" {
			return dErrors.Newf(dErrors.CodeConcurrentStateChange, "session %s already has a vendor session", seen.ID)
		}
		locked.VendorSession = token
		locked.Version++
		locked.UpdatedAt = requestcontext.Now(ctx)
		if err := m.sessions.Update(ctx, locked); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		updated = locked
		return nil
	})
	if err != nil {
		return err
	}
	*seen = *updated
	m.logger.InfoContext(ctx, "vendor session opened",
		"session_id", seen.ID,
		"case_id", seen.CaseID,
	)
	return nil
}

func (m *Machine) appendAudit(ctx context.Context, event audit.Event) error {
	if m.audit == nil {
		return nil
	}
	if err := m.audit.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// settle turns a call result into a step failure, a transient error, or
// nothing. Rejections and policy-fatal failures become step failures when
// the step can retry; everything else is transient and leaves the session
// where it is.
func (m *Machine) settle(res vendors.CallResult, canRetry bool) (*vendors.Error, error) {
	if res.OK() {
		return nil, nil
	}
	fatal := res.Err.Category == vendors.ErrorRejected ||
		(m.policy != nil && m.policy.IsFatal(res.API()))
	if canRetry && fatal {
		return res.Err, nil
	}
	return nil, dErrors.Wrap(res.Err, dErrors.CodeVendorFailure, fmt.Sprintf("vendor call %s", res.API()))
}

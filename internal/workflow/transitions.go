package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kycflow/internal/decision"
	"kycflow/internal/vendors"
	"kycflow/internal/vendors/classify"
	"kycflow/internal/verification"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/requestcontext"
)

// plan is a matched transition before commit. A nil next state means the
// transition waits for external input and commits nothing.
type plan struct {
	next     State
	session  *verification.Session
	decision *decision.Record
}

func wait() (plan, error) { return plan{}, nil }

func moveTo(st State) (plan, error) { return plan{next: st}, nil }

// transition is the explicit (state, action) table. Any pair not listed is
// rejected with UnexpectedActionForState before any I/O happens.
func (e *Engine) transition(ctx context.Context, inst *Instance, action Action) (plan, error) {
	switch st := inst.State.(type) {

	// standard identity
	case KYCDataCollection:
		if _, ok := action.(Authorize); ok {
			return e.authorize(ctx, inst, KYCVendorCalls{})
		}
	case KYCVendorCalls:
		if _, ok := action.(MakeVendorCalls); ok {
			return e.makeVendorCalls(ctx, inst, KYCDecisioning{})
		}
	case KYCDecisioning:
		if _, ok := action.(MakeDecision); ok {
			return e.decideKYC(ctx, inst, st)
		}
	case KYCDocCollection:
		if _, ok := action.(DocCollected); ok {
			return e.docCollected(ctx, st.SessionID, KYCDecisioning{DocSessionID: st.SessionID})
		}
	case KYCPendingReview:
		if a, ok := action.(ReviewCompleted); ok {
			return e.completeReview(ctx, inst, a)
		}

	// business
	case KYBDataCollection:
		if _, ok := action.(Authorize); ok {
			if n := inst.Case.Config.BeneficialOwners; n > 0 {
				return e.authorize(ctx, inst, KYBAwaitBoKyc{Pending: n})
			}
			return e.authorize(ctx, inst, KYBVendorCalls{})
		}
	case KYBAwaitBoKyc:
		if _, ok := action.(BoKycCompleted); ok {
			if st.Pending > 1 {
				return moveTo(KYBAwaitBoKyc{Pending: st.Pending - 1})
			}
			return moveTo(KYBVendorCalls{})
		}
	case KYBVendorCalls:
		if _, ok := action.(MakeVendorCalls); ok {
			return e.makeVendorCalls(ctx, inst, KYBDecisioning{})
		}
	case KYBDecisioning:
		if _, ok := action.(MakeDecision); ok {
			return e.decideTerminal(ctx, inst)
		}
	case KYBPendingReview:
		if a, ok := action.(ReviewCompleted); ok {
			return e.completeReview(ctx, inst, a)
		}

	// document only
	case DocumentDataCollection:
		if _, ok := action.(Authorize); ok {
			p, err := e.authorize(ctx, inst, nil)
			if err != nil {
				return p, err
			}
			session := e.newSession(ctx, inst)
			return plan{next: DocumentCollection{SessionID: session.ID}, session: session}, nil
		}
	case DocumentCollection:
		if _, ok := action.(DocCollected); ok {
			return e.docCollected(ctx, st.SessionID, DocumentDecisioning{SessionID: st.SessionID})
		}
	case DocumentDecisioning:
		if _, ok := action.(MakeDecision); ok {
			return e.decideTerminal(ctx, inst)
		}
	case DocumentPendingReview:
		if a, ok := action.(ReviewCompleted); ok {
			return e.completeReview(ctx, inst, a)
		}
	}
	return plan{}, dErrors.Newf(dErrors.CodeUnexpectedActionForState,
		"action %s is not valid for %s state %s", action.Name(), inst.Case.Kind, inst.State.Name())
}

// authorize checks the case's required fields were collected.
func (e *Engine) authorize(ctx context.Context, inst *Instance, next State) (plan, error) {
	required := inst.Case.Config.RequiredFields
	if len(required) > 0 {
		missing, err := e.env.Vault.Missing(ctx, inst.Case.ApplicantID, required...)
		if err != nil {
			return plan{}, fmt.Errorf("check required fields: %w", err)
		}
		if len(missing) > 0 {
			return plan{}, dErrors.Newf(dErrors.CodeMissingData, "missing required fields %v", missing)
		}
	}
	return plan{next: next}, nil
}

type vendorPayload struct {
	CaseKind    CaseKind       `json:"case_kind"`
	ApplicantID string         `json:"applicant_id"`
	TenantID    string         `json:"tenant_id"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// makeVendorCalls fans out to every configured API. Vendor failures are
// recorded as data; only cancellation aborts the transition.
func (e *Engine) makeVendorCalls(ctx context.Context, inst *Instance, next State) (plan, error) {
	c := inst.Case
	payload, err := json.Marshal(vendorPayload{
		CaseKind:    c.Kind,
		ApplicantID: c.ApplicantID.String(),
		TenantID:    c.TenantID.String(),
	})
	if err != nil {
		return plan{}, fmt.Errorf("marshal vendor payload: %w", err)
	}

	apis := c.Config.VendorAPIs
	results := make([]vendors.CallResult, len(apis))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallelCalls)
	for i, api := range apis {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.env.Gateway.Call(gctx, c.ID, vendors.Request{API: api, Payload: payload})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return plan{}, dErrors.Wrap(err, dErrors.CodeTimeout, "vendor calls aborted")
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	e.logger.InfoContext(ctx, "vendor calls made",
		"case_id", c.ID,
		"calls", len(results),
		"failed", failed,
	)
	return moveTo(next)
}

// docCollected advances once the case's verification session is complete and
// waits otherwise.
func (e *Engine) docCollected(ctx context.Context, sessionID id.VerificationSessionID, next State) (plan, error) {
	session, err := e.env.Sessions.Get(ctx, sessionID)
	if err != nil {
		return plan{}, fmt.Errorf("load verification session %s: %w", sessionID, err)
	}
	if !session.IsComplete() {
		return wait()
	}
	return moveTo(next)
}

// decide aggregates the latest vendor results, classifies them and invokes
// rule evaluation. Critical errors cap the outcome at review; without a
// primary result the rules are not consulted at all.
func (e *Engine) decide(ctx context.Context, inst *Instance) (decision.Result, error) {
	c := inst.Case
	calls, err := e.env.Calls.LatestByCase(ctx, c.ID)
	if err != nil {
		return decision.Result{}, fmt.Errorf("load vendor calls: %w", err)
	}
	results := make([]vendors.CallResult, len(calls))
	for i, call := range calls {
		results[i] = call.Result()
	}
	batch := classify.Partition(results, e.env.Policy)

	if !sufficient(batch, results, e.env.Policy) {
		e.logger.InfoContext(ctx, "no authoritative vendor result, sending to review",
			"case_id", c.ID,
			"calls", batch.Len(),
		)
		return decision.Result{
			Status:      decision.StatusReview,
			ReasonCodes: []decision.ReasonCode{decision.ReasonInsufficientResults},
		}, nil
	}

	res, err := e.env.Evaluator.Evaluate(ctx, decision.Input{
		CaseKind:    string(c.Kind),
		RuleSet:     c.Config.RuleSet,
		Successful:  batch.Successful,
		NonCritical: batch.NonCriticalErrors,
	})
	if err != nil {
		return decision.Result{}, fmt.Errorf("evaluate rules: %w", err)
	}
	if !res.Status.IsValid() {
		return decision.Result{}, dErrors.Newf(dErrors.CodeInvariantViolation, "evaluator returned status %q", res.Status)
	}
	if batch.HasCriticalErrors() && res.Status == decision.StatusPass {
		e.logger.WarnContext(ctx, "critical vendor errors block pass",
			"case_id", c.ID,
			"apis", batch.CriticalAPIs(),
		)
		res.Status = decision.StatusReview
		res.ReasonCodes = append(res.ReasonCodes, decision.ReasonCriticalVendorError)
	}
	return res, nil
}

// sufficient reports whether a primary API that the case actually called
// succeeded. When the case called no primary API, any success is enough.
func sufficient(batch classify.Batch, results []vendors.CallResult, policy VendorPolicy) bool {
	called := make(map[vendors.API]bool, len(results))
	for _, r := range results {
		called[r.API()] = true
	}
	var primary []vendors.API
	if policy != nil {
		for _, api := range policy.PrimaryAPIs() {
			if called[api] {
				primary = append(primary, api)
			}
		}
	}
	if len(primary) == 0 {
		return len(batch.Successful) > 0
	}
	return batch.HasSufficientResultsForDecision(primary...)
}

func (e *Engine) decideKYC(ctx context.Context, inst *Instance, st KYCDecisioning) (plan, error) {
	res, err := e.decide(ctx, inst)
	if err != nil {
		return plan{}, err
	}
	rec := e.newRecord(ctx, inst, res, decision.SourceRules)

	if res.Status == decision.StatusReview && inst.Case.Config.StepUpWithDocument && st.DocSessionID.IsNil() {
		session := e.newSession(ctx, inst)
		return plan{next: KYCDocCollection{SessionID: session.ID}, session: session, decision: rec}, nil
	}
	return plan{next: outcomeState(inst.Case.Kind, rec), decision: rec}, nil
}

func (e *Engine) decideTerminal(ctx context.Context, inst *Instance) (plan, error) {
	res, err := e.decide(ctx, inst)
	if err != nil {
		return plan{}, err
	}
	rec := e.newRecord(ctx, inst, res, decision.SourceRules)
	return plan{next: outcomeState(inst.Case.Kind, rec), decision: rec}, nil
}

func (e *Engine) completeReview(ctx context.Context, inst *Instance, a ReviewCompleted) (plan, error) {
	if a.Status != decision.StatusPass && a.Status != decision.StatusFail {
		return plan{}, dErrors.Newf(dErrors.CodeInvalidInput, "review must complete as pass or fail, got %q", a.Status)
	}
	rec := e.newRecord(ctx, inst, decision.Result{
		Status:      a.Status,
		ReasonCodes: []decision.ReasonCode{decision.ReasonManualReview},
	}, decision.SourceManual)
	return plan{next: outcomeState(inst.Case.Kind, rec), decision: rec}, nil
}

func (e *Engine) newRecord(ctx context.Context, inst *Instance, res decision.Result, source decision.Source) *decision.Record {
	return &decision.Record{
		ID:          id.NewDecisionID(),
		CaseID:      inst.Case.ID,
		Status:      res.Status,
		ReasonCodes: res.ReasonCodes,
		Source:      source,
		CreatedAt:   requestcontext.Now(ctx),
	}
}

func (e *Engine) newSession(ctx context.Context, inst *Instance) *verification.Session {
	cfg := inst.Case.Config
	docType := cfg.DocumentType
	if !docType.IsValid() {
		docType = verification.DocumentDriversLicense
	}
	return verification.NewSession(inst.Case.ID, inst.Case.ApplicantID, docType, cfg.RequireSelfie, requestcontext.Now(ctx))
}

// outcomeState maps a decision to the kind's terminal or review state.
func outcomeState(kind CaseKind, rec *decision.Record) State {
	review := rec.Status == decision.StatusReview
	switch kind {
	case KindKYC:
		if review {
			return KYCPendingReview{DecisionID: rec.ID}
		}
		return KYCComplete{Status: rec.Status, DecisionID: rec.ID}
	case KindKYB:
		if review {
			return KYBPendingReview{DecisionID: rec.ID}
		}
		return KYBComplete{Status: rec.Status, DecisionID: rec.ID}
	default:
		if review {
			return DocumentPendingReview{DecisionID: rec.ID}
		}
		return DocumentComplete{Status: rec.Status, DecisionID: rec.ID}
	}
}

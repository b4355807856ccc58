package verification

import (
	"context"
	"encoding/json"
	"fmt"

	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	dErrors "kycflow/pkg/domain-errors"
)

// Outcome is what a successful attempt hands to commit.
type Outcome struct {
	Response *vendors.Response
	Failure  *vendors.Error // structured or policy-fatal vendor failure
}

// stepContext is the hydrated view a step works from.
type stepContext struct {
	session *Session
	images  map[Side]Image
}

// stepHandler knows how to attempt and commit one pipeline step.
type stepHandler interface {
	Attempt(ctx context.Context, m *Machine, sc stepContext) (*Outcome, error)
	Commit(ctx context.Context, m *Machine, s *Session, out *Outcome) (StepResult, error)
}

// vendorStep is a step that sends one vendor request, optionally gated on an
// uploaded image side.
type vendorStep struct {
	step  Step
	api   vendors.API
	input Side // required image side, empty when the step needs none
	// retry builds the jump-back result for a vendor failure; nil makes every
	// failure transient.
	retry func(s *Session, reason FailureReason) StepResult
	// fallback is the reason used when the vendor's own reason is unknown.
	fallback FailureReason
}

var handlers = map[Step]stepHandler{
	StepSubmitFront: &submitFrontStep{vendorStep{
		step: StepSubmitFront, api: vendors.IncodeAddFront, input: SideFront,
		fallback: FailureDocumentUnreadable,
		retry: func(_ *Session, r FailureReason) StepResult {
			return Retry(StepSubmitFront, r, SideFront)
		},
	}},
	StepSubmitBack: &vendorStep{
		step: StepSubmitBack, api: vendors.IncodeAddBack, input: SideBack,
		fallback: FailureBackMismatch,
		retry: func(_ *Session, r FailureReason) StepResult {
			return Retry(StepSubmitBack, r, SideBack)
		},
	},
	StepSubmitConsent: &consentStep{vendorStep{
		step: StepSubmitConsent, api: vendors.IncodeAddPrivacyConsent,
	}},
	StepSubmitSelfie: &vendorStep{
		step: StepSubmitSelfie, api: vendors.IncodeAddSelfie, input: SideSelfie,
		fallback: FailureSelfieNoFace,
		retry: func(_ *Session, r FailureReason) StepResult {
			return Retry(StepSubmitSelfie, r, SideSelfie)
		},
	},
	StepProcess: &vendorStep{
		step: StepProcess, api: vendors.IncodeProcessID,
		fallback: FailureProcessingFailed,
		retry: func(s *Session, r FailureReason) StepResult {
			if s.DocumentType.HasBack() {
				return Retry(StepSubmitFront, r, SideFront, SideBack)
			}
			return Retry(StepSubmitFront, r, SideFront)
		},
	},
	StepFetchScores: &vendorStep{
		step: StepFetchScores, api: vendors.IncodeFetchScores,
		fallback: FailureScoresUnavailable,
		retry: func(_ *Session, r FailureReason) StepResult {
			return Retry(StepSubmitFront, r, SideFront)
		},
	},
	StepFetchOCR: &ocrStep{vendorStep{
		step: StepFetchOCR, api: vendors.IncodeFetchOCR,
		fallback: FailureOCRUnavailable,
		retry: func(_ *Session, r FailureReason) StepResult {
			return Retry(StepSubmitFront, r, SideFront)
		},
	}},
}

func (h *vendorStep) Attempt(ctx context.Context, m *Machine, sc stepContext) (*Outcome, error) {
	payload := map[string]string{}
	if h.input != "" {
		img, ok := sc.images[h.input]
		if !ok {
			return nil, nil
		}
		payload["side"] = string(img.Side)
		payload["object_key"] = img.ObjectKey
	}
	return h.call(ctx, m, sc.session, sc.session.VendorSession, payload)
}

func (h *vendorStep) call(ctx context.Context, m *Machine, s *Session, token string, payload map[string]string) (*Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", h.api, err)
	}
	res := m.gateway.Call(ctx, s.CaseID, vendors.Request{
		API:           h.api,
		VendorSession: token,
		Payload:       body,
	})
	failure, err := m.settle(res, h.retry != nil)
	if err != nil {
		return nil, err
	}
	return &Outcome{Response: res.Response, Failure: failure}, nil
}

func (h *vendorStep) Commit(_ context.Context, _ *Machine, s *Session, out *Outcome) (StepResult, error) {
	if out.Failure != nil {
		return h.retry(s, h.reasonFor(out.Failure)), nil
	}
	return Advance(s.NextAfter(h.step)), nil
}

func (h *vendorStep) reasonFor(verr *vendors.Error) FailureReason {
	if r := FailureReason(verr.Reason); r.IsValid() {
		return r
	}
	return h.fallback
}

// submitFrontStep opens the vendor onboarding session on first use. The token
// is stored on the session row before the front image is sent, so a failed
// submission never opens a second vendor session.
type submitFrontStep struct {
	vendorStep
}

type onboardingResponse struct {
	Token string `json:"token"`
}

func (h *submitFrontStep) Attempt(ctx context.Context, m *Machine, sc stepContext) (*Outcome, error) {
	img, ok := sc.images[SideFront]
	if !ok {
		return nil, nil
	}

	if sc.session.VendorSession == "" {
		res := m.gateway.Call(ctx, sc.session.CaseID, vendors.Request{API: vendors.IncodeStartOnboarding})
		failure, err := m.settle(res, true)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			return &Outcome{Failure: failure}, nil
		}
		var body onboardingResponse
		if err := json.Unmarshal(res.Response.Body, &body); err != nil || body.Token == "" {
			return nil, dErrors.New(dErrors.CodeVendorFailure, "onboarding response carries no session token")
		}
		if err := m.saveVendorSession(ctx, sc.session, body.Token); err != nil {
			return nil, err
		}
	}

	return h.call(ctx, m, sc.session, sc.session.VendorSession, map[string]string{
		"side":       string(img.Side),
		"object_key": img.ObjectKey,
	})
}

// consentStep waits until the applicant's consent is in the vault.
type consentStep struct {
	vendorStep
}

func (h *consentStep) Attempt(ctx context.Context, m *Machine, sc stepContext) (*Outcome, error) {
	missing, err := m.vault.Missing(ctx, sc.session.ApplicantID, vault.FieldDocConsent)
	if err != nil {
		return nil, fmt.Errorf("check consent: %w", err)
	}
	if len(missing) > 0 {
		return nil, nil
	}
	return h.call(ctx, m, sc.session, sc.session.VendorSession, map[string]string{"consent": "granted"})
}

// ocrStep writes the extracted document fields to the vault in the commit
// that completes the session.
type ocrStep struct {
	vendorStep
}

type ocrResponse struct {
	FullName       string `json:"full_name"`
	DOB            string `json:"dob"`
	DocumentNumber string `json:"document_number"`
	ExpiresAt      string `json:"expires_at"`
}

func (h *ocrStep) Commit(ctx context.Context, m *Machine, s *Session, out *Outcome) (StepResult, error) {
	if out.Failure != nil {
		return h.vendorStep.Commit(ctx, m, s, out)
	}

	var ocr ocrResponse
	if err := json.Unmarshal(out.Response.Body, &ocr); err != nil {
		return StepResult{}, dErrors.Wrap(err, dErrors.CodeVendorFailure, "decode ocr response")
	}
	fields := make(map[vault.Field]string)
	for f, v := range map[vault.Field]string{
		vault.FieldOCRFullName:       ocr.FullName,
		vault.FieldOCRDOB:            ocr.DOB,
		vault.FieldOCRDocumentNumber: ocr.DocumentNumber,
		vault.FieldOCRExpiresAt:      ocr.ExpiresAt,
	} {
		if v != "" {
			fields[f] = v
		}
	}
	if len(fields) > 0 {
		if err := m.vault.WriteFields(ctx, s.ApplicantID, fields); err != nil {
			return StepResult{}, fmt.Errorf("write ocr fields: %w", err)
		}
	}
	return Advance(s.NextAfter(h.step)), nil
}

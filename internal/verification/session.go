// Package verification drives the document-identity sub-machine: an ordered
// pipeline of vendor steps that persists its position after every commit so
// an interrupted run resumes exactly where it stopped.
package verification

import (
	"context"
	"time"

	id "kycflow/pkg/domain"
)

// Step is one stage of the document pipeline.
type Step string

const (
	StepSubmitFront   Step = "submit_front"
	StepSubmitBack    Step = "submit_back"
	StepSubmitConsent Step = "submit_consent"
	StepSubmitSelfie  Step = "submit_selfie"
	StepProcess       Step = "process"
	StepFetchScores   Step = "fetch_scores"
	StepFetchOCR      Step = "fetch_ocr"
	StepComplete      Step = "complete"
)

var pipeline = []Step{
	StepSubmitFront,
	StepSubmitBack,
	StepSubmitConsent,
	StepSubmitSelfie,
	StepProcess,
	StepFetchScores,
	StepFetchOCR,
	StepComplete,
}

// Pipeline returns every step in order.
func Pipeline() []Step {
	return append([]Step(nil), pipeline...)
}

func (s Step) IsValid() bool { return s.index() >= 0 }

func (s Step) IsTerminal() bool { return s == StepComplete }

func (s Step) index() int {
	for i, p := range pipeline {
		if p == s {
			return i
		}
	}
	return -1
}

// Before reports whether s comes strictly earlier in the pipeline than other.
func (s Step) Before(other Step) bool {
	return s.index() < other.index()
}

type DocumentType string

const (
	DocumentPassport       DocumentType = "passport"
	DocumentDriversLicense DocumentType = "drivers_license"
	DocumentIDCard         DocumentType = "id_card"
)

func (d DocumentType) IsValid() bool {
	switch d {
	case DocumentPassport, DocumentDriversLicense, DocumentIDCard:
		return true
	}
	return false
}

// HasBack reports whether the document has a back side to capture.
func (d DocumentType) HasBack() bool { return d != DocumentPassport }

// Side is one collected image input.
type Side string

const (
	SideFront  Side = "front"
	SideBack   Side = "back"
	SideSelfie Side = "selfie"
)

func (s Side) IsValid() bool {
	return s == SideFront || s == SideBack || s == SideSelfie
}

// FailureReason is a structured, retryable step failure. A session carrying
// one needs new input before the failed step can succeed.
type FailureReason string

const (
	FailureDocumentUnreadable   FailureReason = "document_unreadable"
	FailureDocumentGlare        FailureReason = "document_glare"
	FailureDocumentExpired      FailureReason = "document_expired"
	FailureDocumentTypeMismatch FailureReason = "document_type_mismatch"
	FailureBackMismatch         FailureReason = "back_side_mismatch"
	FailureSelfieNoFace         FailureReason = "selfie_no_face"
	FailureSelfieMismatch       FailureReason = "selfie_face_mismatch"
	FailureProcessingFailed     FailureReason = "processing_failed"
	FailureScoresUnavailable    FailureReason = "scores_unavailable"
	FailureOCRUnavailable       FailureReason = "ocr_unavailable"
)

var failureReasons = map[FailureReason]struct{}{
	FailureDocumentUnreadable:   {},
	FailureDocumentGlare:        {},
	FailureDocumentExpired:      {},
	FailureDocumentTypeMismatch: {},
	FailureBackMismatch:         {},
	FailureSelfieNoFace:         {},
	FailureSelfieMismatch:       {},
	FailureProcessingFailed:     {},
	FailureScoresUnavailable:    {},
	FailureOCRUnavailable:       {},
}

func (r FailureReason) IsValid() bool {
	_, ok := failureReasons[r]
	return ok
}

// Session is the persisted progress of one sub-machine run for a case.
type Session struct {
	ID             id.VerificationSessionID
	CaseID         id.CaseID
	ApplicantID    id.ApplicantID
	Step           Step
	DocumentType   DocumentType
	RequiresSelfie bool
	VendorSession  string // vendor onboarding token, set by the first submission
	LastFailure    FailureReason
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSession returns a session positioned at the first step.
func NewSession(caseID id.CaseID, applicantID id.ApplicantID, docType DocumentType, requiresSelfie bool, now time.Time) *Session {
	return &Session{
		ID:             id.NewVerificationSessionID(),
		CaseID:         caseID,
		ApplicantID:    applicantID,
		Step:           StepSubmitFront,
		DocumentType:   docType,
		RequiresSelfie: requiresSelfie,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Session) IsComplete() bool { return s.Step.IsTerminal() }

// NeedsResubmission reports whether the last commit was a Retry that is still
// waiting on new input.
func (s *Session) NeedsResubmission() bool {
	return !s.IsComplete() && s.LastFailure != ""
}

// Applies reports whether step is part of this session's pipeline.
func (s *Session) Applies(step Step) bool {
	switch step {
	case StepSubmitBack:
		return s.DocumentType.HasBack()
	case StepSubmitSelfie:
		return s.RequiresSelfie
	}
	return step.IsValid()
}

// NextAfter returns the first applicable step after step.
func (s *Session) NextAfter(step Step) Step {
	for i := step.index() + 1; i < len(pipeline); i++ {
		if s.Applies(pipeline[i]) {
			return pipeline[i]
		}
	}
	return StepComplete
}

// AcceptsSide reports whether an image of side belongs in this session.
func (s *Session) AcceptsSide(side Side) bool {
	switch side {
	case SideFront:
		return true
	case SideBack:
		return s.DocumentType.HasBack()
	case SideSelfie:
		return s.RequiresSelfie
	}
	return false
}

// Image is the metadata of one uploaded input. At most one image per side is
// active; a Retry deactivates the sides it names.
type Image struct {
	ID        id.ImageID
	SessionID id.VerificationSessionID
	Side      Side
	ObjectKey string
	Active    bool
	CreatedAt time.Time
}

// SessionStore persists sessions and their image metadata. Writes participate
// in the transaction carried by ctx.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID id.VerificationSessionID) (*Session, error)
	// GetForUpdate locks the session row for the rest of the transaction.
	GetForUpdate(ctx context.Context, sessionID id.VerificationSessionID) (*Session, error)
	// LatestForCase returns the most recently created session of the case.
	LatestForCase(ctx context.Context, caseID id.CaseID) (*Session, error)
	Update(ctx context.Context, s *Session) error

	AddImage(ctx context.Context, img Image) error
	ActiveImages(ctx context.Context, sessionID id.VerificationSessionID) (map[Side]Image, error)
	// DeactivateSides marks the active images of sides inactive and returns
	// how many were changed.
	DeactivateSides(ctx context.Context, sessionID id.VerificationSessionID, sides []Side) (int, error)
}

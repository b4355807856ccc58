// Package workflow is the case workflow engine: a closed set of per-kind
// state machines driven by explicit (state, action) tables. Every transition
// commits in its own transaction against the case row.
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	"kycflow/internal/verification"
	id "kycflow/pkg/domain"
)

// CaseKind is fixed at creation and selects the state machine.
type CaseKind string

const (
	KindKYC      CaseKind = "kyc"      // standard identity
	KindKYB      CaseKind = "kyb"      // business
	KindDocument CaseKind = "document" // document only
)

var allKinds = []CaseKind{KindKYC, KindKYB, KindDocument}

// Kinds returns every case kind.
func Kinds() []CaseKind { return append([]CaseKind(nil), allKinds...) }

func (k CaseKind) IsValid() bool {
	return k == KindKYC || k == KindKYB || k == KindDocument
}

// Config is the immutable per-case configuration. Kind must equal the case's
// kind; a mismatch is a fatal condition.
type Config struct {
	Kind           CaseKind      `json:"kind"`
	RequiredFields []vault.Field `json:"required_fields,omitempty"`
	VendorAPIs     []vendors.API  `json:"vendor_apis,omitempty"`
	RuleSet        string        `json:"rule_set"`

	DocumentType       verification.DocumentType `json:"document_type,omitempty"`
	RequireSelfie      bool                      `json:"require_selfie,omitempty"`
	StepUpWithDocument bool                      `json:"step_up_with_document,omitempty"`
	BeneficialOwners   int                       `json:"beneficial_owners,omitempty"`
}

// Case is one applicant's verification, as persisted.
type Case struct {
	ID          id.CaseID
	Kind        CaseKind
	TenantID    id.TenantID
	ApplicantID id.ApplicantID
	Config      Config
	State       PersistedState
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PersistedState is the stored form of a typed state.
type PersistedState struct {
	Kind CaseKind        `json:"kind"`
	Name StateName       `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewCase is the input to Engine.Create.
type NewCase struct {
	Kind        CaseKind
	TenantID    id.TenantID
	ApplicantID id.ApplicantID
	Config      Config
}

// CaseStore is the persistence collaborator for case rows. Writes participate
// in the transaction carried by ctx.
type CaseStore interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, caseID id.CaseID) (*Case, error)
	// GetForUpdate locks the case row for the rest of the transaction.
	GetForUpdate(ctx context.Context, caseID id.CaseID) (*Case, error)
	UpdateState(ctx context.Context, caseID id.CaseID, state PersistedState, version int64, updatedAt time.Time) error
}

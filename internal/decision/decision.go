// Package decision is the rule-evaluation collaborator: it turns aggregated
// vendor results into a status plus structured reason codes. The workflow
// engine invokes it once per decisioning state and never computes rules itself.
package decision

import (
	"context"
	"time"

	"kycflow/internal/vendors"
	id "kycflow/pkg/domain"
)

type Status string

const (
	StatusPass   Status = "pass"
	StatusFail   Status = "fail"
	StatusReview Status = "review"
)

func (s Status) IsValid() bool {
	return s == StatusPass || s == StatusFail || s == StatusReview
}

// ReasonCode explains a decision. Rule sets emit vendor signal names; the
// workflow adds the codes below when it overrides the rules.
type ReasonCode string

const (
	ReasonCriticalVendorError   ReasonCode = "critical_vendor_error"
	ReasonInsufficientResults   ReasonCode = "insufficient_vendor_results"
	ReasonVendorErrorsTolerated ReasonCode = "vendor_errors_tolerated"
	ReasonManualReview          ReasonCode = "manual_review"
)

// Source records who produced a decision.
type Source string

const (
	SourceRules  Source = "rules"
	SourceManual Source = "manual"
)

// Input is everything rule evaluation may look at.
type Input struct {
	CaseKind    string
	RuleSet     string
	Successful  []vendors.CallResult
	NonCritical []vendors.CallResult
}

type Result struct {
	Status      Status
	ReasonCodes []ReasonCode
}

// Evaluator converts vendor results into a decision.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// Record is a persisted decision for a case.
type Record struct {
	ID          id.DecisionID
	CaseID      id.CaseID
	Status      Status
	ReasonCodes []ReasonCode
	Source      Source
	CreatedAt   time.Time
}

// Store persists decision records. Save participates in the caller's transaction.
type Store interface {
	Save(ctx context.Context, rec Record) error
	ListByCase(ctx context.Context, caseID id.CaseID) ([]Record, error)
}

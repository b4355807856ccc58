// Package domain holds identifier types shared across the workflow core.
//
// Every identifier is a distinct named UUID type so a session id can never be
// passed where a case id is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "kycflow/pkg/domain-errors"
)

type (
	CaseID                uuid.UUID
	ApplicantID           uuid.UUID
	TenantID              uuid.UUID
	VerificationSessionID uuid.UUID
	VendorCallID          uuid.UUID
	ImageID               uuid.UUID
	DecisionID            uuid.UUID
)

func (id CaseID) String() string                { return uuid.UUID(id).String() }
func (id ApplicantID) String() string           { return uuid.UUID(id).String() }
func (id TenantID) String() string              { return uuid.UUID(id).String() }
func (id VerificationSessionID) String() string { return uuid.UUID(id).String() }
func (id VendorCallID) String() string          { return uuid.UUID(id).String() }
func (id ImageID) String() string               { return uuid.UUID(id).String() }
func (id DecisionID) String() string            { return uuid.UUID(id).String() }

func (id CaseID) IsNil() bool                { return uuid.UUID(id) == uuid.Nil }
func (id ApplicantID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool              { return uuid.UUID(id) == uuid.Nil }
func (id VerificationSessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id VendorCallID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id ImageID) IsNil() bool               { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool            { return uuid.UUID(id) == uuid.Nil }

func NewCaseID() CaseID                               { return CaseID(uuid.New()) }
func NewApplicantID() ApplicantID                     { return ApplicantID(uuid.New()) }
func NewTenantID() TenantID                           { return TenantID(uuid.New()) }
func NewVerificationSessionID() VerificationSessionID { return VerificationSessionID(uuid.New()) }
func NewVendorCallID() VendorCallID                   { return VendorCallID(uuid.New()) }
func NewImageID() ImageID                             { return ImageID(uuid.New()) }
func NewDecisionID() DecisionID                       { return DecisionID(uuid.New()) }

// parseID rejects empty, malformed and nil UUIDs.
func parseID[T ~[16]byte](s, kind string) (T, error) {
	var zero T
	if s == "" {
		return zero, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return zero, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return zero, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return T(u), nil
}

func ParseCaseID(s string) (CaseID, error)           { return parseID[CaseID](s, "case id") }
func ParseApplicantID(s string) (ApplicantID, error) { return parseID[ApplicantID](s, "applicant id") }
func ParseTenantID(s string) (TenantID, error)       { return parseID[TenantID](s, "tenant id") }
func ParseVerificationSessionID(s string) (VerificationSessionID, error) {
	return parseID[VerificationSessionID](s, "verification session id")
}
func ParseVendorCallID(s string) (VendorCallID, error) {
	return parseID[VendorCallID](s, "vendor call id")
}
func ParseImageID(s string) (ImageID, error)       { return parseID[ImageID](s, "image id") }
func ParseDecisionID(s string) (DecisionID, error) { return parseID[DecisionID](s, "decision id") }

// Text marshaling lets ids appear as strings in JSON documents such as
// persisted workflow state and task payloads. Unlike Parse*, decoding accepts
// the nil UUID so optional fields round-trip.

func (id CaseID) MarshalText() ([]byte, error)                { return uuid.UUID(id).MarshalText() }
func (id VerificationSessionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id DecisionID) MarshalText() ([]byte, error)            { return uuid.UUID(id).MarshalText() }

func (id *CaseID) UnmarshalText(b []byte) error                { return unmarshalText(id, b) }
func (id *VerificationSessionID) UnmarshalText(b []byte) error { return unmarshalText(id, b) }
func (id *DecisionID) UnmarshalText(b []byte) error            { return unmarshalText(id, b) }

func unmarshalText[T ~[16]byte](dst *T, b []byte) error {
	if len(b) == 0 {
		*dst = T(uuid.Nil)
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id")
	}
	*dst = T(u)
	return nil
}

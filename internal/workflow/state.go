package workflow

import (
	"encoding/json"

	"kycflow/internal/decision"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

type StateName string

const (
	StateDataCollection StateName = "data_collection"
	StateAwaitBoKyc     StateName = "await_bo_kyc"
	StateVendorCalls    StateName = "vendor_calls"
	StateDecisioning    StateName = "decisioning"
	StateDocCollection  StateName = "doc_collection"
	StatePendingReview  StateName = "pending_review"
	StateComplete       StateName = "complete"
)

// State is one variant of a kind's state union. Variants are distinct types
// per kind, so a state of one kind never matches another kind's table.
type State interface {
	Kind() CaseKind
	Name() StateName
	// DefaultAction is the action to apply next without an external
	// trigger, or nil.
	DefaultAction() Action
}

// Standard identity (kyc) states.

type KYCDataCollection struct{}

type KYCVendorCalls struct{}

type KYCDecisioning struct {
	// DocSessionID is set once a document step-up has been collected.
	DocSessionID id.VerificationSessionID `json:"doc_session_id"`
}

type KYCDocCollection struct {
	SessionID id.VerificationSessionID `json:"session_id"`
}

type KYCPendingReview struct {
	DecisionID id.DecisionID `json:"decision_id"`
}

type KYCComplete struct {
	Status     decision.Status `json:"status"`
	DecisionID id.DecisionID   `json:"decision_id"`
}

func (KYCDataCollection) Kind() CaseKind { return KindKYC }
func (KYCVendorCalls) Kind() CaseKind    { return KindKYC }
func (KYCDecisioning) Kind() CaseKind    { return KindKYC }
func (KYCDocCollection) Kind() CaseKind  { return KindKYC }
func (KYCPendingReview) Kind() CaseKind  { return KindKYC }
func (KYCComplete) Kind() CaseKind       { return KindKYC }

func (KYCDataCollection) Name() StateName { return StateDataCollection }
func (KYCVendorCalls) Name() StateName    { return StateVendorCalls }
func (KYCDecisioning) Name() StateName    { return StateDecisioning }
func (KYCDocCollection) Name() StateName  { return StateDocCollection }
func (KYCPendingReview) Name() StateName  { return StatePendingReview }
func (KYCComplete) Name() StateName       { return StateComplete }

func (KYCDataCollection) DefaultAction() Action { return nil }
func (KYCVendorCalls) DefaultAction() Action    { return MakeVendorCalls{} }
func (KYCDecisioning) DefaultAction() Action    { return MakeDecision{} }
func (KYCDocCollection) DefaultAction() Action  { return DocCollected{} }
func (KYCPendingReview) DefaultAction() Action  { return nil }
func (KYCComplete) DefaultAction() Action       { return nil }

// Business (kyb) states.

type KYBDataCollection struct{}

// KYBAwaitBoKyc waits for the beneficial owners' own identity cases.
type KYBAwaitBoKyc struct {
	Pending int `json:"pending"`
}

type KYBVendorCalls struct{}

type KYBDecisioning struct{}

type KYBPendingReview struct {
	DecisionID id.DecisionID `json:"decision_id"`
}

type KYBComplete struct {
	Status     decision.Status `json:"status"`
	DecisionID id.DecisionID   `json:"decision_id"`
}

func (KYBDataCollection) Kind() CaseKind { return KindKYB }
func (KYBAwaitBoKyc) Kind() CaseKind     { return KindKYB }
func (KYBVendorCalls) Kind() CaseKind    { return KindKYB }
func (KYBDecisioning) Kind() CaseKind    { return KindKYB }
func (KYBPendingReview) Kind() CaseKind  { return KindKYB }
func (KYBComplete) Kind() CaseKind       { return KindKYB }

func (KYBDataCollection) Name() StateName { return StateDataCollection }
func (KYBAwaitBoKyc) Name() StateName     { return StateAwaitBoKyc }
func (KYBVendorCalls) Name() StateName    { return StateVendorCalls }
func (KYBDecisioning) Name() StateName    { return StateDecisioning }
func (KYBPendingReview) Name() StateName  { return StatePendingReview }
func (KYBComplete) Name() StateName       { return StateComplete }

func (KYBDataCollection) DefaultAction() Action { return nil }
func (KYBAwaitBoKyc) DefaultAction() Action     { return nil }
func (KYBVendorCalls) DefaultAction() Action    { return MakeVendorCalls{} }
func (KYBDecisioning) DefaultAction() Action    { return MakeDecision{} }
func (KYBPendingReview) DefaultAction() Action  { return nil }
func (KYBComplete) DefaultAction() Action       { return nil }

// Document-only states.

type DocumentDataCollection struct{}

type DocumentCollection struct {
	SessionID id.VerificationSessionID `json:"session_id"`
}

type DocumentDecisioning struct {
	SessionID id.VerificationSessionID `json:"session_id"`
}

type DocumentPendingReview struct {
	DecisionID id.DecisionID `json:"decision_id"`
}

type DocumentComplete struct {
	Status     decision.Status `json:"status"`
	DecisionID id.DecisionID   `json:"decision_id"`
}

func (DocumentDataCollection) Kind() CaseKind { return KindDocument }
func (DocumentCollection) Kind() CaseKind     { return KindDocument }
func (DocumentDecisioning) Kind() CaseKind    { return KindDocument }
func (DocumentPendingReview) Kind() CaseKind  { return KindDocument }
func (DocumentComplete) Kind() CaseKind       { return KindDocument }

func (DocumentDataCollection) Name() StateName { return StateDataCollection }
func (DocumentCollection) Name() StateName     { return StateDocCollection }
func (DocumentDecisioning) Name() StateName    { return StateDecisioning }
func (DocumentPendingReview) Name() StateName  { return StatePendingReview }
func (DocumentComplete) Name() StateName       { return StateComplete }

func (DocumentDataCollection) DefaultAction() Action { return nil }
func (DocumentCollection) DefaultAction() Action     { return DocCollected{} }
func (DocumentDecisioning) DefaultAction() Action    { return MakeDecision{} }
func (DocumentPendingReview) DefaultAction() Action  { return nil }
func (DocumentComplete) DefaultAction() Action       { return nil }

type stateDecoder func(data json.RawMessage) (State, error)

func decodeAs[T State](data json.RawMessage) (State, error) {
	var st T
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

var stateDecoders = map[CaseKind]map[StateName]stateDecoder{
	KindKYC: {
		StateDataCollection: decodeAs[KYCDataCollection],
		StateVendorCalls:    decodeAs[KYCVendorCalls],
		StateDecisioning:    decodeAs[KYCDecisioning],
		StateDocCollection:  decodeAs[KYCDocCollection],
		StatePendingReview:  decodeAs[KYCPendingReview],
		StateComplete:       decodeAs[KYCComplete],
	},
	KindKYB: {
		StateDataCollection: decodeAs[KYBDataCollection],
		StateAwaitBoKyc:     decodeAs[KYBAwaitBoKyc],
		StateVendorCalls:    decodeAs[KYBVendorCalls],
		StateDecisioning:    decodeAs[KYBDecisioning],
		StatePendingReview:  decodeAs[KYBPendingReview],
		StateComplete:       decodeAs[KYBComplete],
	},
	KindDocument: {
		StateDataCollection: decodeAs[DocumentDataCollection],
		StateDocCollection:  decodeAs[DocumentCollection],
		StateDecisioning:    decodeAs[DocumentDecisioning],
		StatePendingReview:  decodeAs[DocumentPendingReview],
		StateComplete:       decodeAs[DocumentComplete],
	},
}

// InitialState returns the state a new case of kind starts in.
func InitialState(kind CaseKind) (State, error) {
	switch kind {
	case KindKYC:
		return KYCDataCollection{}, nil
	case KindKYB:
		return KYBDataCollection{}, nil
	case KindDocument:
		return DocumentDataCollection{}, nil
	}
	return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown case kind %q", kind)
}

// States returns the zero value of every state of kind.
func States(kind CaseKind) []State {
	names := stateDecoders[kind]
	out := make([]State, 0, len(names))
	for _, decode := range names {
		st, _ := decode(nil)
		out = append(out, st)
	}
	return out
}

// Persist encodes st for storage.
func Persist(st State) (PersistedState, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return PersistedState{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode state")
	}
	return PersistedState{Kind: st.Kind(), Name: st.Name(), Data: data}, nil
}

// Hydrate decodes a persisted state of kind.
func Hydrate(kind CaseKind, ps PersistedState) (State, error) {
	if ps.Kind != kind {
		return nil, dErrors.Newf(dErrors.CodeStateKindMismatch,
			"persisted state kind %q does not match case kind %q", ps.Kind, kind)
	}
	decode, ok := stateDecoders[kind][ps.Name]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown %s state %q", kind, ps.Name)
	}
	st, err := decode(ps.Data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "decode "+string(kind)+" state "+string(ps.Name))
	}
	return st, nil
}

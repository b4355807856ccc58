package workflow

import "kycflow/internal/decision"

// Action is a named request to advance a case. The set is closed.
type Action interface {
	Name() string
	action()
}

type (
	Authorize       struct{}
	MakeVendorCalls struct{}
	MakeDecision    struct{}
	DocCollected    struct{}
	// BoKycCompleted reports one beneficial owner's identity case finished.
	BoKycCompleted struct{}
	// ReviewCompleted records a manual review outcome; Status is pass or fail.
	ReviewCompleted struct {
		Status decision.Status
	}
)

func (Authorize) Name() string       { return "authorize" }
func (MakeVendorCalls) Name() string { return "make_vendor_calls" }
func (MakeDecision) Name() string    { return "make_decision" }
func (DocCollected) Name() string    { return "doc_collected" }
func (BoKycCompleted) Name() string  { return "bo_kyc_completed" }
func (ReviewCompleted) Name() string { return "review_completed" }

func (Authorize) action()       {}
func (MakeVendorCalls) action() {}
func (MakeDecision) action()    {}
func (DocCollected) action()    {}
func (BoKycCompleted) action()  {}
func (ReviewCompleted) action() {}

// Actions returns one value of every action.
func Actions() []Action {
	return []Action{
		Authorize{},
		MakeVendorCalls{},
		MakeDecision{},
		DocCollected{},
		BoKycCompleted{},
		ReviewCompleted{Status: decision.StatusPass},
	}
}

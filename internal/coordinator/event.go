package coordinator

import (
	"kycflow/internal/decision"
	"kycflow/internal/workflow"
	dErrors "kycflow/pkg/domain-errors"
)

// EventKind names an inbound trigger from the request layer.
type EventKind string

const (
	EventUserAuthorized   EventKind = "user_authorized"
	EventDocumentUploaded EventKind = "document_uploaded"
	EventBoKycCompleted   EventKind = "bo_kyc_completed"
	EventReviewCompleted  EventKind = "review_completed"
)

// Event is an inbound trigger for a case. ReviewStatus is only read for
// review_completed.
type Event struct {
	Kind         EventKind
	ReviewStatus decision.Status
}

// action maps the event to the workflow action it triggers. A nil action
// means "drive the session, then resume the default action".
func (e Event) action() (workflow.Action, error) {
	switch e.Kind {
	case EventUserAuthorized:
		return workflow.Authorize{}, nil
	case EventDocumentUploaded:
		return nil, nil
	case EventBoKycCompleted:
		return workflow.BoKycCompleted{}, nil
	case EventReviewCompleted:
		return workflow.ReviewCompleted{Status: e.ReviewStatus}, nil
	}
	return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown event %q", e.Kind)
}

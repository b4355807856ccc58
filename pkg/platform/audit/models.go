package audit

import (
	"context"
	"time"

	id "kycflow/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream of the outbox.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance, such as
	// decisions on a case. These require long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and operational
	// visibility: state transitions, step commits, uploads.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	CaseID    id.CaseID
	Subject   string // entity the action applies to (case, session or image id)
	Action    string
	Decision  string // outcome or resulting state
	Reason    string
	RequestID string // correlation id from the request context
}

type AuditEvent string

const (
	EventCaseCreated           AuditEvent = "case_created"
	EventCaseTransitioned      AuditEvent = "case_transitioned"
	EventDecisionMade          AuditEvent = "decision_made"
	EventSessionStepCommitted  AuditEvent = "session_step_committed"
	EventSessionRetryRequested AuditEvent = "session_retry_requested"
	EventImageUploaded         AuditEvent = "image_uploaded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCaseCreated:  CategoryCompliance,
	EventDecisionMade: CategoryCompliance,

	EventCaseTransitioned:      CategoryOperations,
	EventSessionStepCommitted:  CategoryOperations,
	EventSessionRetryRequested: CategoryOperations,
	EventImageUploaded:         CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store appends audit events. Implementations participate in the transaction
// carried by ctx so an event is written if and only if its transition is.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// OutboxEntry is one row of the transactional outbox awaiting publication.
type OutboxEntry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

package verification

import (
	"fmt"

	dErrors "kycflow/pkg/domain-errors"
)

// StepResult is the outcome of a commit: advance to a later step, or jump
// back to retry from an earlier one with a failure reason and the inputs the
// caller must supply again.
type StepResult struct {
	Next       Step
	Reason     FailureReason
	ClearSides []Side
}

func Advance(next Step) StepResult {
	return StepResult{Next: next}
}

func Retry(next Step, reason FailureReason, sides ...Side) StepResult {
	return StepResult{Next: next, Reason: reason, ClearSides: sides}
}

func (r StepResult) IsRetry() bool { return r.Reason != "" }

// validateFrom checks the result against the step it was committed from.
// Advance moves strictly forward; Retry never moves forward and always names
// at least one side to clear.
func (r StepResult) validateFrom(current Step) error {
	if !r.Next.IsValid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "step result targets unknown step %q", r.Next)
	}
	if !r.IsRetry() {
		if !current.Before(r.Next) {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "advance from %s to %s is not forward", current, r.Next)
		}
		return nil
	}
	if current.Before(r.Next) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "retry from %s to %s moves forward", current, r.Next)
	}
	if len(r.ClearSides) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "retry must clear at least one side")
	}
	for _, side := range r.ClearSides {
		if !side.IsValid() {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("retry clears unknown side %q", side))
		}
	}
	return nil
}

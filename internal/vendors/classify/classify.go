// Package classify partitions vendor call outcomes for decisioning.
//
// Successful calls and tolerable failures both feed rule evaluation; critical
// failures block a Pass outcome until they are resolved by a new call. Which
// failures are critical is product policy supplied by the caller.
package classify

import "kycflow/internal/vendors"

// Batch groups one decisioning pass's call results. Every input lands in
// exactly one bucket.
type Batch struct {
	Successful        []vendors.CallResult
	NonCriticalErrors []vendors.CallResult
	CriticalErrors    []vendors.CallResult
}

// Partition splits results by outcome, then failures by policy. A nil policy
// treats every failure as tolerable.
func Partition(results []vendors.CallResult, policy Policy) Batch {
	var b Batch
	for _, r := range results {
		switch {
		case r.OK():
			b.Successful = append(b.Successful, r)
		case policy != nil && policy.IsFatal(r.API()):
			b.CriticalErrors = append(b.CriticalErrors, r)
		default:
			b.NonCriticalErrors = append(b.NonCriticalErrors, r)
		}
	}
	return b
}

func (b Batch) Len() int {
	return len(b.Successful) + len(b.NonCriticalErrors) + len(b.CriticalErrors)
}

func (b Batch) HasCriticalErrors() bool {
	return len(b.CriticalErrors) > 0
}

// HasSufficientResultsForDecision reports whether at least one primary API
// succeeded.
func (b Batch) HasSufficientResultsForDecision(primary ...vendors.API) bool {
	for _, r := range b.Successful {
		for _, api := range primary {
			if r.API() == api {
				return true
			}
		}
	}
	return false
}

// Eligible returns the results rule evaluation may consider.
func (b Batch) Eligible() []vendors.CallResult {
	out := make([]vendors.CallResult, 0, len(b.Successful)+len(b.NonCriticalErrors))
	out = append(out, b.Successful...)
	return append(out, b.NonCriticalErrors...)
}

// CriticalAPIs lists the APIs with blocking failures.
func (b Batch) CriticalAPIs() []vendors.API {
	apis := make([]vendors.API, 0, len(b.CriticalErrors))
	for _, r := range b.CriticalErrors {
		apis = append(apis, r.API())
	}
	return apis
}

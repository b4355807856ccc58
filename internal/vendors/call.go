package vendors

import (
	"context"
	"encoding/json"
	"time"

	id "kycflow/pkg/domain"
)

type CallStatus string

const (
	CallSucceeded CallStatus = "succeeded"
	CallFailed    CallStatus = "failed"
)

// Call is the immutable record of one attempted vendor request. A retry
// creates a new Call; records are never updated.
type Call struct {
	ID            id.VendorCallID
	CaseID        id.CaseID
	API           API
	RequestRef    string // digest of the request payload
	Status        CallStatus
	Response      json.RawMessage
	Signals       []string
	ErrorCategory ErrorCategory
	ErrorReason   string
	ErrorMessage  string
	Duration      time.Duration
	CreatedAt     time.Time
}

// Result rebuilds the in-memory call outcome from the stored record.
func (c Call) Result() CallResult {
	if c.Status == CallSucceeded {
		return CallResult{
			Call:     c,
			Response: &Response{API: c.API, Body: c.Response, Signals: c.Signals},
		}
	}
	e := NewError(c.ErrorCategory, c.API, c.ErrorMessage, nil)
	e.Reason = c.ErrorReason
	return CallResult{Call: c, Err: e}
}

// CallResult is either a successful Response or a vendor Error, never both.
type CallResult struct {
	Call     Call
	Response *Response
	Err      *Error
}

func (r CallResult) OK() bool { return r.Err == nil }

func (r CallResult) API() API { return r.Call.API }

// CallStore persists vendor call records.
type CallStore interface {
	Append(ctx context.Context, call Call) error
	ListByCase(ctx context.Context, caseID id.CaseID) ([]Call, error)
	// LatestByCase returns the most recent call per API for the case.
	LatestByCase(ctx context.Context, caseID id.CaseID) ([]Call, error)
}

// LatestPerAPI keeps the newest call for each API, preserving first-seen order.
func LatestPerAPI(calls []Call) []Call {
	index := make(map[API]int)
	var out []Call
	for _, c := range calls {
		i, seen := index[c.API]
		if !seen {
			index[c.API] = len(out)
			out = append(out, c)
			continue
		}
		if !c.CreatedAt.Before(out[i].CreatedAt) {
			out[i] = c
		}
	}
	return out
}

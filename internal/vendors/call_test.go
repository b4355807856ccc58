package vendors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatestPerAPI(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := []Call{
		{API: IdologyExpectID, Status: CallFailed, CreatedAt: t0},
		{API: IncodeWatchlistCheck, Status: CallSucceeded, CreatedAt: t0},
		{API: IdologyExpectID, Status: CallSucceeded, CreatedAt: t0.Add(time.Minute)},
	}

	latest := LatestPerAPI(calls)
	assert.Len(t, latest, 2)
	assert.Equal(t, IdologyExpectID, latest[0].API)
	assert.Equal(t, CallSucceeded, latest[0].Status)
	assert.Equal(t, IncodeWatchlistCheck, latest[1].API)
}

func TestCallResult(t *testing.T) {
	ok := Call{API: ExperianPreciseID, Status: CallSucceeded, Signals: []string{"address_match"}}.Result()
	assert.True(t, ok.OK())
	assert.Equal(t, []string{"address_match"}, ok.Response.Signals)

	failed := Call{API: IncodeFetchScores, Status: CallFailed, ErrorCategory: ErrorRejected, ErrorReason: "ID_SCORE_FAIL"}.Result()
	assert.False(t, failed.OK())
	assert.Equal(t, "ID_SCORE_FAIL", failed.Err.Reason)
	assert.Equal(t, IncodeFetchScores, failed.API())
}

func TestAPIVendor(t *testing.T) {
	assert.Equal(t, "incode", IncodeFetchScores.Vendor())
	assert.Equal(t, "middesk", MiddeskBusiness.Vendor())
	assert.True(t, ExperianPreciseID.IsValid())
	assert.False(t, API("acme_lookup").IsValid())
}

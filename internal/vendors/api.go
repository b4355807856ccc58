package vendors

import "strings"

// API identifies one vendor endpoint. Policy (fatal vs tolerable, timeouts)
// is configured per API, not per vendor.
type API string

const (
	IncodeStartOnboarding   API = "incode_start_onboarding"
	IncodeAddFront          API = "incode_add_front"
	IncodeAddBack           API = "incode_add_back"
	IncodeAddPrivacyConsent API = "incode_add_privacy_consent"
	IncodeAddSelfie         API = "incode_add_selfie"
	IncodeProcessID         API = "incode_process_id"
	IncodeFetchScores       API = "incode_fetch_scores"
	IncodeFetchOCR          API = "incode_fetch_ocr"
	IncodeWatchlistCheck    API = "incode_watchlist_check"
	IdologyExpectID         API = "idology_expectid"
	ExperianPreciseID       API = "experian_precise_id"
	MiddeskBusiness         API = "middesk_business"
)

var allAPIs = []API{
	IncodeStartOnboarding,
	IncodeAddFront,
	IncodeAddBack,
	IncodeAddPrivacyConsent,
	IncodeAddSelfie,
	IncodeProcessID,
	IncodeFetchScores,
	IncodeFetchOCR,
	IncodeWatchlistCheck,
	IdologyExpectID,
	ExperianPreciseID,
	MiddeskBusiness,
}

// AllAPIs returns every known vendor API.
func AllAPIs() []API {
	return append([]API(nil), allAPIs...)
}

func (a API) IsValid() bool {
	for _, known := range allAPIs {
		if a == known {
			return true
		}
	}
	return false
}

// Vendor returns the vendor name prefix, e.g. "incode".
func (a API) Vendor() string {
	v, _, _ := strings.Cut(string(a), "_")
	return v
}

func (a API) String() string { return string(a) }

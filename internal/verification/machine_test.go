package verification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	"kycflow/internal/vendors/classify"
	vendorstore "kycflow/internal/vendors/store"
	"kycflow/internal/vendors/vendortest"
	"kycflow/internal/verification"
	"kycflow/internal/verification/images"
	"kycflow/internal/verification/metrics"
	"kycflow/internal/verification/store"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	auditmemory "kycflow/pkg/platform/audit/store/memory"
	"kycflow/pkg/platform/tx"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type MachineSuite struct {
	suite.Suite
	ctx      context.Context
	vendor   *vendortest.Fake
	gateway  *vendors.Gateway
	policy   *classify.PolicyTable
	sessions *store.InMemory
	vault    *vault.InMemory
	runner   *tx.MemoryRunner
	audit    *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	machine  *verification.Machine
	service  *verification.Service
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.ctx = context.Background()
	s.vendor = vendortest.NewFake()
	registry := vendors.NewRegistry()
	s.vendor.Register(registry)
	s.gateway = vendors.NewGateway(registry, vendorstore.NewInMemory())
	s.policy = &classify.PolicyTable{APIs: map[vendors.API]classify.APIPolicy{
		vendors.IncodeFetchScores: {Fatal: true},
	}}
	s.sessions = store.NewInMemory()
	s.vault = vault.NewInMemory()
	s.runner = tx.NewMemoryRunner()
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.machine = s.newMachine()
	s.service = verification.NewService(s.sessions, images.NewInMemory(), s.runner,
		verification.WithServiceAuditor(s.audit))
}

func (s *MachineSuite) newMachine() *verification.Machine {
	return verification.NewMachine(s.sessions, s.gateway, s.policy, s.vault, s.runner,
		verification.WithAuditor(s.audit),
		verification.WithMetrics(s.metrics),
	)
}

func (s *MachineSuite) newSession(docType verification.DocumentType, selfie bool) *verification.Session {
	session := verification.NewSession(id.NewCaseID(), id.NewApplicantID(), docType, selfie, testTime)
	s.Require().NoError(s.sessions.Create(s.ctx, session))
	return session
}

func (s *MachineSuite) upload(session *verification.Session, sides ...verification.Side) {
	for _, side := range sides {
		_, err := s.service.UploadImage(s.ctx, session.ID, side, []byte("image bytes for "+string(side)))
		s.Require().NoError(err)
	}
}

func (s *MachineSuite) consent(session *verification.Session) {
	s.Require().NoError(s.vault.WriteFields(s.ctx, session.ApplicantID, map[vault.Field]string{
		vault.FieldDocConsent: "granted",
	}))
}

func (s *MachineSuite) reload(session *verification.Session) *verification.Session {
	got, err := s.sessions.Get(s.ctx, session.ID)
	s.Require().NoError(err)
	return got
}

func (s *MachineSuite) TestWaitsForFrontImage() {
	session := s.newSession(verification.DocumentDriversLicense, true)

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)

	s.Equal(verification.DriveWaitingForInput, res.Status)
	s.True(res.IsStuck())
	s.Empty(res.Committed)
	s.Equal(verification.StepSubmitFront, s.reload(session).Step)
	s.Empty(s.vendor.Calls())
}

func (s *MachineSuite) TestDrivesToCompletion() {
	session := s.newSession(verification.DocumentDriversLicense, true)
	s.upload(session, verification.SideFront, verification.SideBack, verification.SideSelfie)
	s.consent(session)

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)

	s.Equal(verification.DriveComplete, res.Status)
	s.Equal([]verification.Step{
		verification.StepSubmitBack,
		verification.StepSubmitConsent,
		verification.StepSubmitSelfie,
		verification.StepProcess,
		verification.StepFetchScores,
		verification.StepFetchOCR,
		verification.StepComplete,
	}, res.Committed)
	s.Equal([]vendors.API{
		vendors.IncodeStartOnboarding,
		vendors.IncodeAddFront,
		vendors.IncodeAddBack,
		vendors.IncodeAddPrivacyConsent,
		vendors.IncodeAddSelfie,
		vendors.IncodeProcessID,
		vendors.IncodeFetchScores,
		vendors.IncodeFetchOCR,
	}, s.vendor.Calls())

	persisted := s.reload(session)
	s.True(persisted.IsComplete())
	s.Equal("incode-session-token", persisted.VendorSession)
	s.Empty(persisted.LastFailure)
	s.EqualValues(9, persisted.Version)

	name, ok := s.vault.Get(session.ApplicantID, vault.FieldOCRFullName)
	s.True(ok)
	s.Equal("Ada Lovelace", name)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.DriveOutcomes.WithLabelValues("complete")))

	again, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveComplete, again.Status)
	s.Len(s.vendor.Calls(), 8, "a complete session makes no further calls")
}

func (s *MachineSuite) TestPassportWithoutSelfieSkipsSteps() {
	session := s.newSession(verification.DocumentPassport, false)
	s.upload(session, verification.SideFront)
	s.consent(session)

	_, err := s.service.UploadImage(s.ctx, session.ID, verification.SideBack, []byte("back"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveComplete, res.Status)
	s.Zero(s.vendor.Count(vendors.IncodeAddBack))
	s.Zero(s.vendor.Count(vendors.IncodeAddSelfie))
}

func (s *MachineSuite) TestWaitsForConsent() {
	session := s.newSession(verification.DocumentIDCard, false)
	s.upload(session, verification.SideFront, verification.SideBack)

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveWaitingForInput, res.Status)
	s.Equal(verification.StepSubmitConsent, s.reload(session).Step)
	s.Zero(s.vendor.Count(vendors.IncodeAddPrivacyConsent))
}

func (s *MachineSuite) TestFatalScoresFailureResetsToFront() {
	session := s.newSession(verification.DocumentDriversLicense, false)
	s.upload(session, verification.SideFront, verification.SideBack)
	s.consent(session)
	s.vendor.FailNext(vendors.IncodeFetchScores, errors.New("scoring backend unavailable"))

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)

	s.Equal(verification.DriveWaitingForResubmission, res.Status)
	s.Equal(verification.StepSubmitFront, res.Committed[len(res.Committed)-1])

	persisted := s.reload(session)
	s.Equal(verification.StepSubmitFront, persisted.Step)
	s.Equal(verification.FailureScoresUnavailable, persisted.LastFailure)
	s.True(persisted.NeedsResubmission())

	active, err := s.sessions.ActiveImages(s.ctx, session.ID)
	s.Require().NoError(err)
	s.NotContains(active, verification.SideFront)
	s.Contains(active, verification.SideBack, "only the declared side is cleared")
	s.Contains(s.audit.Actions(session.CaseID), "session_retry_requested")

	// no new input: still waiting, and no vendor call is repeated
	callsBefore := len(s.vendor.Calls())
	res, err = s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveWaitingForResubmission, res.Status)
	s.Len(s.vendor.Calls(), callsBefore)

	s.upload(session, verification.SideFront)
	res, err = s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveComplete, res.Status)
	s.Empty(s.reload(session).LastFailure)
	s.Equal(1, s.vendor.Count(vendors.IncodeStartOnboarding), "vendor session is reused after a retry")
}

func (s *MachineSuite) TestTransientFrontFailureKeepsVendorSession() {
	session := s.newSession(verification.DocumentPassport, false)
	s.upload(session, verification.SideFront)
	s.consent(session)
	s.vendor.FailNext(vendors.IncodeAddFront, context.DeadlineExceeded)

	_, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeVendorFailure))

	persisted := s.reload(session)
	s.Equal(verification.StepSubmitFront, persisted.Step)
	s.Equal("incode-session-token", persisted.VendorSession)
	s.Equal(1, s.vendor.Count(vendors.IncodeStartOnboarding))

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveComplete, res.Status)
	s.Equal(1, s.vendor.Count(vendors.IncodeStartOnboarding), "onboarding is not repeated")
	s.Equal(2, s.vendor.Count(vendors.IncodeAddFront))
}

func (s *MachineSuite) TestRejectedFrontCarriesVendorReason() {
	session := s.newSession(verification.DocumentIDCard, false)
	s.upload(session, verification.SideFront, verification.SideBack)
	s.vendor.FailNext(vendors.IncodeAddFront, vendors.Rejected(vendors.IncodeAddFront, "document_glare", "glare detected"))

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveWaitingForResubmission, res.Status)

	persisted := s.reload(session)
	s.Equal(verification.StepSubmitFront, persisted.Step)
	s.Equal(verification.FailureDocumentGlare, persisted.LastFailure)
	s.Equal("incode-session-token", persisted.VendorSession, "onboarding token is kept on retry")
}

func (s *MachineSuite) TestProcessFailureClearsBothDocumentSides() {
	session := s.newSession(verification.DocumentDriversLicense, true)
	s.upload(session, verification.SideFront, verification.SideBack, verification.SideSelfie)
	s.consent(session)
	s.vendor.FailNext(vendors.IncodeProcessID, vendors.Rejected(vendors.IncodeProcessID, "", "could not process"))

	_, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)

	persisted := s.reload(session)
	s.Equal(verification.StepSubmitFront, persisted.Step)
	s.Equal(verification.FailureProcessingFailed, persisted.LastFailure)

	active, err := s.sessions.ActiveImages(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Len(active, 1)
	s.Contains(active, verification.SideSelfie)
}

func (s *MachineSuite) TestTransientFailureLeavesStepPending() {
	session := s.newSession(verification.DocumentPassport, false)
	s.upload(session, verification.SideFront)
	s.consent(session)
	s.vendor.FailNext(vendors.IncodeProcessID, context.DeadlineExceeded)

	res, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeVendorFailure))
	s.Equal(verification.StepProcess, res.Session.Step)

	persisted := s.reload(session)
	s.Equal(verification.StepProcess, persisted.Step)
	s.Empty(persisted.LastFailure)

	res, err = s.machine.Drive(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveComplete, res.Status)
}

func (s *MachineSuite) TestConcurrentCommitIsRejected() {
	session := s.newSession(verification.DocumentPassport, false)
	s.upload(session, verification.SideFront)
	s.vendor.OnCall(vendors.IncodeAddFront, func(ctx context.Context, _ vendors.Request) {
		// another worker commits the same step while this attempt is in flight
		other, err := s.sessions.Get(ctx, session.ID)
		s.Require().NoError(err)
		other.Step = verification.StepSubmitConsent
		other.Version++
		s.Require().NoError(s.sessions.Update(ctx, other))
	})

	_, err := s.machine.Drive(s.ctx, session.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrentStateChange))
	persisted := s.reload(session)
	s.Equal(verification.StepSubmitConsent, persisted.Step, "the losing commit writes nothing")
	s.Empty(persisted.LastFailure)
}

func (s *MachineSuite) TestResumesAfterInterruption() {
	uninterrupted := s.newSession(verification.DocumentDriversLicense, true)
	s.upload(uninterrupted, verification.SideFront, verification.SideBack, verification.SideSelfie)
	s.consent(uninterrupted)
	full, err := s.machine.Drive(s.ctx, uninterrupted.ID)
	s.Require().NoError(err)
	fullCalls := s.vendor.Calls()

	s.SetupTest()
	resumed := s.newSession(verification.DocumentDriversLicense, true)
	s.upload(resumed, verification.SideFront, verification.SideBack)
	first, err := s.machine.Drive(s.ctx, resumed.ID)
	s.Require().NoError(err)
	s.Equal(verification.DriveWaitingForInput, first.Status)
	s.Equal(verification.StepSubmitConsent, s.reload(resumed).Step)

	// a fresh machine rebuilds everything from the persisted session
	s.consent(resumed)
	s.upload(resumed, verification.SideSelfie)
	second, err := s.newMachine().Drive(s.ctx, resumed.ID)
	s.Require().NoError(err)

	s.Equal(verification.DriveComplete, second.Status)
	s.Equal(full.Committed, append(first.Committed, second.Committed...))
	s.Equal(fullCalls, s.vendor.Calls())
}

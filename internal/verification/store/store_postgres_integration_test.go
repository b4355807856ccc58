//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/verification"
	"kycflow/internal/verification/store"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
	"kycflow/pkg/testutil/containers"
)

type PostgresSessionStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	runner   *tx.SQLRunner
	now      time.Time
}

func TestPostgresSessionStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSessionStoreSuite))
}

func (s *PostgresSessionStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.runner = tx.NewSQLRunner(s.postgres.DB, 5*time.Second)
}

func (s *PostgresSessionStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background()))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

// insertCase satisfies the sessions foreign key without going through the engine.
func (s *PostgresSessionStoreSuite) insertCase() id.CaseID {
	caseID := id.NewCaseID()
	_, err := s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO cases (id, kind, tenant_id, applicant_id, config, state_kind, state_name, version, created_at, updated_at)
		VALUES ($1, 'document', $2, $3, '{"kind":"document"}', 'document', 'document_verification', 1, $4, $4)
	`, uuid.UUID(caseID), uuid.New(), uuid.New(), s.now)
	s.Require().NoError(err)
	return caseID
}

func (s *PostgresSessionStoreSuite) TestCreateGetAndUpdate() {
	ctx := context.Background()
	caseID := s.insertCase()
	session := verification.NewSession(caseID, id.NewApplicantID(), verification.DocumentDriversLicense, true, s.now)
	s.Require().NoError(s.store.Create(ctx, session))

	got, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.StepSubmitFront, got.Step)
	s.True(got.RequiresSelfie)
	s.EqualValues(1, got.Version)

	got.Step = verification.StepSubmitBack
	got.VendorSession = "vendor-token"
	got.LastFailure = verification.FailureDocumentUnreadable
	got.Version = 2
	got.UpdatedAt = s.now.Add(time.Second)
	s.Require().NoError(s.store.Update(ctx, got))

	reloaded, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.StepSubmitBack, reloaded.Step)
	s.Equal("vendor-token", reloaded.VendorSession)
	s.Equal(got.LastFailure, reloaded.LastFailure)
	s.EqualValues(2, reloaded.Version)
}

func (s *PostgresSessionStoreSuite) TestLatestForCase() {
	ctx := context.Background()
	caseID := s.insertCase()

	_, err := s.store.LatestForCase(ctx, caseID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	older := verification.NewSession(caseID, id.NewApplicantID(), verification.DocumentPassport, false, s.now)
	newer := verification.NewSession(caseID, older.ApplicantID, verification.DocumentPassport, false, s.now.Add(time.Minute))
	s.Require().NoError(s.store.Create(ctx, older))
	s.Require().NoError(s.store.Create(ctx, newer))

	latest, err := s.store.LatestForCase(ctx, caseID)
	s.Require().NoError(err)
	s.Equal(newer.ID, latest.ID)
}

func (s *PostgresSessionStoreSuite) TestImagesAndDeactivation() {
	ctx := context.Background()
	session := verification.NewSession(s.insertCase(), id.NewApplicantID(), verification.DocumentIDCard, true, s.now)
	s.Require().NoError(s.store.Create(ctx, session))

	for _, side := range []verification.Side{verification.SideFront, verification.SideBack, verification.SideSelfie} {
		s.Require().NoError(s.store.AddImage(ctx, verification.Image{
			ID:        id.NewImageID(),
			SessionID: session.ID,
			Side:      side,
			ObjectKey: "sessions/" + session.ID.String() + "/" + string(side),
			Active:    true,
			CreatedAt: s.now,
		}))
	}

	n, err := s.store.DeactivateSides(ctx, session.ID, []verification.Side{verification.SideBack, verification.SideSelfie})
	s.Require().NoError(err)
	s.Equal(2, n)

	active, err := s.store.ActiveImages(ctx, session.ID)
	s.Require().NoError(err)
	s.Len(active, 1)
	s.Contains(active, verification.SideFront)

	// a new upload may take the freed side
	s.Require().NoError(s.store.AddImage(ctx, verification.Image{
		ID: id.NewImageID(), SessionID: session.ID, Side: verification.SideBack,
		ObjectKey: "sessions/back-2", Active: true, CreatedAt: s.now,
	}))
	active, err = s.store.ActiveImages(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal("sessions/back-2", active[verification.SideBack].ObjectKey)
}

func (s *PostgresSessionStoreSuite) TestGetForUpdateInsideTransaction() {
	ctx := context.Background()
	session := verification.NewSession(s.insertCase(), id.NewApplicantID(), verification.DocumentPassport, false, s.now)
	s.Require().NoError(s.store.Create(ctx, session))

	errRollback := errors.New("rollback")
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.GetForUpdate(ctx, session.ID)
		if err != nil {
			return err
		}
		locked.Step = verification.StepProcess
		locked.Version++
		if err := s.store.Update(ctx, locked); err != nil {
			return err
		}
		return errRollback
	})
	s.Require().ErrorIs(err, errRollback)

	got, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(verification.StepSubmitFront, got.Step)
}

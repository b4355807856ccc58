//go:build integration

package vault_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycflow/internal/vault"
	id "kycflow/pkg/domain"
	txcontext "kycflow/pkg/platform/tx"
	"kycflow/pkg/testutil/containers"
)

type PostgresVaultSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	vault    *vault.Postgres
	runner   *txcontext.SQLRunner
}

func TestPostgresVaultSuite(t *testing.T) {
	suite.Run(t, new(PostgresVaultSuite))
}

func (s *PostgresVaultSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.vault = vault.NewPostgres(s.postgres.DB)
	s.runner = txcontext.NewSQLRunner(s.postgres.DB, 5*time.Second)
}

func (s *PostgresVaultSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "vault_fields"))
}

func (s *PostgresVaultSuite) TestMissingAndWrite() {
	ctx := context.Background()
	applicant := id.NewApplicantID()

	missing, err := s.vault.Missing(ctx, applicant, vault.FieldFirstName, vault.FieldDOB)
	s.Require().NoError(err)
	s.Equal([]vault.Field{vault.FieldFirstName, vault.FieldDOB}, missing)

	s.Require().NoError(s.vault.WriteFields(ctx, applicant, map[vault.Field]string{vault.FieldFirstName: "Ada"}))
	s.Require().NoError(s.vault.WriteFields(ctx, applicant, map[vault.Field]string{vault.FieldFirstName: "Grace"}))

	missing, err = s.vault.Missing(ctx, applicant, vault.FieldFirstName, vault.FieldDOB)
	s.Require().NoError(err)
	s.Equal([]vault.Field{vault.FieldDOB}, missing)
}

func (s *PostgresVaultSuite) TestWritesRollBackWithTransaction() {
	ctx := context.Background()
	applicant := id.NewApplicantID()

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.vault.WriteFields(ctx, applicant, map[vault.Field]string{vault.FieldOCRFullName: "ADA LOVELACE"}); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Require().ErrorIs(err, context.Canceled)

	missing, err := s.vault.Missing(ctx, applicant, vault.FieldOCRFullName)
	s.Require().NoError(err)
	s.Equal([]vault.Field{vault.FieldOCRFullName}, missing)
}

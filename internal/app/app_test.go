package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/coordinator"
	"kycflow/internal/decision"
	"kycflow/internal/platform/config"
	"kycflow/internal/vault"
	"kycflow/internal/vendors"
	"kycflow/internal/vendors/vendortest"
	"kycflow/internal/workflow"
	id "kycflow/pkg/domain"
)

type AppSuite struct {
	suite.Suite
	cfg config.Config
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupTest() {
	s.cfg = config.Config{
		Workflow: config.Workflow{
			PolicyPath:       "../../config/policy.yaml",
			MaxCascade:       16,
			MaxParallelCalls: 4,
			QueueBackend:     config.QueueMemory,
			RetryBaseDelay:   time.Second,
			RetryMaxDelay:    time.Minute,
			RetryMaxAttempts: 3,
			TaskPollInterval: 10 * time.Millisecond,
		},
	}
}

func (s *AppSuite) newApp() *App {
	a, err := New(context.Background(), s.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	s.Require().NoError(err)
	s.T().Cleanup(func() { s.NoError(a.Close()) })
	return a
}

func (s *AppSuite) TestInMemoryWiringDecidesACase() {
	a := s.newApp()
	s.Nil(a.Relay)
	s.Empty(a.Checks)

	fake := vendortest.NewFake()
	fake.Register(a.Vendors)

	ctx := context.Background()
	applicantID := id.NewApplicantID()
	s.Require().NoError(a.Vault.WriteFields(ctx, applicantID, map[vault.Field]string{
		vault.FieldFirstName: "Ada",
		vault.FieldLastName:  "Lovelace",
	}))
	inst, err := a.Engine.Create(ctx, workflow.NewCase{
		Kind:        workflow.KindKYC,
		TenantID:    id.NewTenantID(),
		ApplicantID: applicantID,
		Config: workflow.Config{
			Kind:           workflow.KindKYC,
			RequiredFields: []vault.Field{vault.FieldFirstName, vault.FieldLastName},
			VendorAPIs:     []vendors.API{vendors.IdologyExpectID, vendors.IncodeWatchlistCheck},
			RuleSet:        "kyc",
		},
	})
	s.Require().NoError(err)

	out, err := a.Coordinator.HandleEvent(ctx, inst.Case.ID, coordinator.Event{Kind: coordinator.EventUserAuthorized})
	s.Require().NoError(err)
	s.Equal(coordinator.StatusAdvanced, out.Status)

	complete, ok := out.Instance.State.(workflow.KYCComplete)
	s.Require().True(ok, "state %T", out.Instance.State)
	s.Equal(decision.StatusPass, complete.Status)
}

func (s *AppSuite) TestRunStopsOnCancel() {
	a := s.newApp()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("run did not stop")
	}
}

func (s *AppSuite) TestConfigurationErrors() {
	s.Run("missing policy file", func() {
		s.cfg.Workflow.PolicyPath = "does-not-exist.yaml"
		_, err := New(context.Background(), s.cfg, slog.Default(), prometheus.NewRegistry())
		s.Error(err)
	})

	s.Run("postgres queue without a database", func() {
		s.SetupTest()
		s.cfg.Workflow.QueueBackend = config.QueuePostgres
		_, err := New(context.Background(), s.cfg, slog.Default(), prometheus.NewRegistry())
		s.Error(err)
	})
}

package verification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/verification"
	"kycflow/internal/verification/images"
	"kycflow/internal/verification/store"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	auditmemory "kycflow/pkg/platform/audit/store/memory"
	"kycflow/pkg/platform/tx"
)

func TestUploadImage(t *testing.T) {
	ctx := context.Background()
	newFixture := func(t *testing.T) (*verification.Service, *store.InMemory, *images.InMemory, *verification.Session) {
		sessions := store.NewInMemory()
		blobs := images.NewInMemory()
		svc := verification.NewService(sessions, blobs, tx.NewMemoryRunner(),
			verification.WithServiceAuditor(auditmemory.NewInMemoryStore()))
		session := verification.NewSession(id.NewCaseID(), id.NewApplicantID(), verification.DocumentIDCard, false, testTime)
		require.NoError(t, sessions.Create(ctx, session))
		return svc, sessions, blobs, session
	}

	t.Run("stores content and activates the image", func(t *testing.T) {
		svc, sessions, blobs, session := newFixture(t)

		img, err := svc.UploadImage(ctx, session.ID, verification.SideFront, []byte("front"))
		require.NoError(t, err)
		assert.True(t, img.Active)

		content, err := blobs.Get(ctx, img.ObjectKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("front"), content)

		active, err := sessions.ActiveImages(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, img.ID, active[verification.SideFront].ID)
	})

	t.Run("replaces the previous image of the side", func(t *testing.T) {
		svc, sessions, _, session := newFixture(t)

		first, err := svc.UploadImage(ctx, session.ID, verification.SideFront, []byte("blurry"))
		require.NoError(t, err)
		second, err := svc.UploadImage(ctx, session.ID, verification.SideFront, []byte("sharp"))
		require.NoError(t, err)

		active, err := sessions.ActiveImages(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active[verification.SideFront].ID)

		all := sessions.Images(session.ID)
		require.Len(t, all, 2)
		assert.Equal(t, first.ID, all[0].ID)
		assert.False(t, all[0].Active)
	})

	t.Run("rejects sides the session does not take", func(t *testing.T) {
		svc, _, _, session := newFixture(t)
		_, err := svc.UploadImage(ctx, session.ID, verification.SideSelfie, []byte("selfie"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects empty content", func(t *testing.T) {
		svc, _, _, session := newFixture(t)
		_, err := svc.UploadImage(ctx, session.ID, verification.SideFront, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("unknown session", func(t *testing.T) {
		svc, _, _, _ := newFixture(t)
		_, err := svc.UploadImage(ctx, id.NewVerificationSessionID(), verification.SideFront, []byte("front"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("complete session takes no uploads", func(t *testing.T) {
		svc, sessions, _, session := newFixture(t)
		session.Step = verification.StepComplete
		require.NoError(t, sessions.Update(ctx, session))

		_, err := svc.UploadImage(ctx, session.ID, verification.SideFront, []byte("front"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

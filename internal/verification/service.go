package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"kycflow/internal/verification/images"
	"kycflow/internal/verification/metrics"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
	"kycflow/pkg/requestcontext"
)

const maxImageBytes = 10 << 20

// Service accepts applicant input for sessions.
type Service struct {
	sessions SessionStore
	blobs    images.BlobStore
	runner   tx.Runner
	audit    audit.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type ServiceOption func(*Service)

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithServiceAuditor(store audit.Store) ServiceOption {
	return func(s *Service) { s.audit = store }
}

func NewService(sessions SessionStore, blobs images.BlobStore, runner tx.Runner, opts ...ServiceOption) *Service {
	s := &Service{
		sessions: sessions,
		blobs:    blobs,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadImage stores content for side and makes it the session's active image
// of that side, replacing any previous one.
func (s *Service) UploadImage(ctx context.Context, sessionID id.VerificationSessionID, side Side, content []byte) (*Image, error) {
	if !side.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown image side %q", side)
	}
	if len(content) == 0 || len(content) > maxImageBytes {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "image must be between 1 and %d bytes", maxImageBytes)
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, s.translateErr(err, sessionID)
	}
	if err := checkAcceptsUpload(session, side); err != nil {
		return nil, err
	}

	img := Image{
		ID:        id.NewImageID(),
		SessionID: sessionID,
		Side:      side,
		Active:    true,
		CreatedAt: requestcontext.Now(ctx),
	}
	img.ObjectKey = path.Join("sessions", sessionID.String(), string(side), img.ID.String())

	// An orphaned blob from a failed transaction is harmless; the metadata row
	// is what makes an image active.
	if err := s.blobs.Put(ctx, img.ObjectKey, content, http.DetectContentType(content)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store image")
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.sessions.GetForUpdate(ctx, sessionID)
		if err != nil {
			return s.translateErr(err, sessionID)
		}
		if err := checkAcceptsUpload(locked, side); err != nil {
			return err
		}
		if _, err := s.sessions.DeactivateSides(ctx, sessionID, []Side{side}); err != nil {
			return fmt.Errorf("deactivate previous %s image: %w", side, err)
		}
		if err := s.sessions.AddImage(ctx, img); err != nil {
			return fmt.Errorf("add image: %w", err)
		}
		if s.audit == nil {
			return nil
		}
		return s.audit.Append(ctx, audit.Event{
			CaseID:    locked.CaseID,
			Timestamp: img.CreatedAt,
			Subject:   img.ID.String(),
			Action:    string(audit.EventImageUploaded),
			Decision:  string(side),
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementImageUpload(string(side))
	s.logger.InfoContext(ctx, "document image uploaded",
		"session_id", sessionID,
		"side", side,
	)
	return &img, nil
}

func checkAcceptsUpload(session *Session, side Side) error {
	if session.IsComplete() {
		return dErrors.Newf(dErrors.CodeConflict, "session %s is already complete", session.ID)
	}
	if !session.AcceptsSide(side) {
		return dErrors.Newf(dErrors.CodeInvalidInput, "session %s does not take a %s image", session.ID, side)
	}
	return nil
}

func (s *Service) translateErr(err error, sessionID id.VerificationSessionID) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "verification session %s not found", sessionID)
	}
	return fmt.Errorf("load session: %w", err)
}

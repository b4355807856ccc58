package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kycflow/internal/verification"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	txcontext "kycflow/pkg/platform/tx"
)

// PostgresStore persists sessions and image metadata in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const sessionColumns = `id, case_id, applicant_id, step, document_type, requires_selfie,
	vendor_session, last_failure, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, session *verification.Session) error {
	query := `
		INSERT INTO verification_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(session.ID),
		uuid.UUID(session.CaseID),
		uuid.UUID(session.ApplicantID),
		string(session.Step),
		string(session.DocumentType),
		session.RequiresSelfie,
		session.VendorSession,
		string(session.LastFailure),
		session.Version,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID id.VerificationSessionID) (*verification.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE id = $1`
	return s.getSession(ctx, query, uuid.UUID(sessionID))
}

// GetForUpdate must run inside a transaction; outside one the lock is
// released immediately.
func (s *PostgresStore) GetForUpdate(ctx context.Context, sessionID id.VerificationSessionID) (*verification.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE id = $1 FOR UPDATE`
	return s.getSession(ctx, query, uuid.UUID(sessionID))
}

func (s *PostgresStore) LatestForCase(ctx context.Context, caseID id.CaseID) (*verification.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM verification_sessions
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.getSession(ctx, query, uuid.UUID(caseID))
}

func (s *PostgresStore) getSession(ctx context.Context, query string, arg any) (*verification.Session, error) {
	var (
		session                        verification.Session
		sessionID, caseID, applicantID uuid.UUID
		step, docType, lastFailure     string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, arg).Scan(
		&sessionID,
		&caseID,
		&applicantID,
		&step,
		&docType,
		&session.RequiresSelfie,
		&session.VendorSession,
		&lastFailure,
		&session.Version,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select verification session: %w", err)
	}
	session.ID = id.VerificationSessionID(sessionID)
	session.CaseID = id.CaseID(caseID)
	session.ApplicantID = id.ApplicantID(applicantID)
	session.Step = verification.Step(step)
	session.DocumentType = verification.DocumentType(docType)
	session.LastFailure = verification.FailureReason(lastFailure)
	return &session, nil
}

func (s *PostgresStore) Update(ctx context.Context, session *verification.Session) error {
	query := `
		UPDATE verification_sessions
		SET step = $2, vendor_session = $3, last_failure = $4, version = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(session.ID),
		string(session.Step),
		session.VendorSession,
		string(session.LastFailure),
		session.Version,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update verification session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification session: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddImage(ctx context.Context, img verification.Image) error {
	query := `
		INSERT INTO document_images (id, session_id, side, object_key, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(img.ID),
		uuid.UUID(img.SessionID),
		string(img.Side),
		img.ObjectKey,
		img.Active,
		img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document image: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveImages(ctx context.Context, sessionID id.VerificationSessionID) (map[verification.Side]verification.Image, error) {
	query := `
		SELECT id, side, object_key, created_at
		FROM document_images
		WHERE session_id = $1 AND active
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("query document images: %w", err)
	}
	defer rows.Close()

	out := make(map[verification.Side]verification.Image)
	for rows.Next() {
		var (
			imageID uuid.UUID
			side    string
			img     = verification.Image{SessionID: sessionID, Active: true}
		)
		if err := rows.Scan(&imageID, &side, &img.ObjectKey, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document image: %w", err)
		}
		img.ID = id.ImageID(imageID)
		img.Side = verification.Side(side)
		out[img.Side] = img
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document images: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeactivateSides(ctx context.Context, sessionID id.VerificationSessionID, sides []verification.Side) (int, error) {
	if len(sides) == 0 {
		return 0, nil
	}
	names := make([]string, len(sides))
	for i, side := range sides {
		names[i] = string(side)
	}
	query := `
		UPDATE document_images
		SET active = FALSE
		WHERE session_id = $1 AND active AND side = ANY($2)
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(sessionID), names)
	if err != nil {
		return 0, fmt.Errorf("deactivate document images: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate document images: %w", err)
	}
	return int(rows), nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/workflow"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	txcontext "kycflow/pkg/platform/tx"
)

// PostgresStore persists cases in PostgreSQL. State data and configuration
// are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const caseColumns = `id, kind, tenant_id, applicant_id, config, state_kind, state_name, state_data,
	version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *workflow.Case) error {
	config, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal case config: %w", err)
	}
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		string(c.Kind),
		uuid.UUID(c.TenantID),
		uuid.UUID(c.ApplicantID),
		config,
		string(c.State.Kind),
		string(c.State.Name),
		stateData(c.State.Data),
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, caseID id.CaseID) (*workflow.Case, error) {
	return s.get(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, caseID)
}

// GetForUpdate must run inside a transaction; outside one the lock is
// released immediately.
func (s *PostgresStore) GetForUpdate(ctx context.Context, caseID id.CaseID) (*workflow.Case, error) {
	return s.get(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, caseID)
}

func (s *PostgresStore) get(ctx context.Context, query string, caseID id.CaseID) (*workflow.Case, error) {
	var (
		c                            workflow.Case
		rowID, tenantID, applicantID uuid.UUID
		kind, stateKind, stateName   string
		config, data                 []byte
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(caseID)).Scan(
		&rowID,
		&kind,
		&tenantID,
		&applicantID,
		&config,
		&stateKind,
		&stateName,
		&data,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select case: %w", err)
	}
	if err := json.Unmarshal(config, &c.Config); err != nil {
		return nil, fmt.Errorf("decode case config: %w", err)
	}
	c.ID = id.CaseID(rowID)
	c.Kind = workflow.CaseKind(kind)
	c.TenantID = id.TenantID(tenantID)
	c.ApplicantID = id.ApplicantID(applicantID)
	c.State = workflow.PersistedState{
		Kind: workflow.CaseKind(stateKind),
		Name: workflow.StateName(stateName),
		Data: json.RawMessage(data),
	}
	return &c, nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, caseID id.CaseID, state workflow.PersistedState, version int64, updatedAt time.Time) error {
	query := `
		UPDATE cases
		SET state_kind = $2, state_name = $3, state_data = $4, version = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(caseID),
		string(state.Kind),
		string(state.Name),
		stateData(state.Data),
		version,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update case state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case state: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func stateData(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}

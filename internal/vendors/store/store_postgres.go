package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/vendors"
	id "kycflow/pkg/domain"
	txcontext "kycflow/pkg/platform/tx"
)

// PostgresStore persists vendor call records in the vendor_calls table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, call vendors.Call) error {
	signals, err := json.Marshal(call.Signals)
	if err != nil {
		return fmt.Errorf("marshal vendor call signals: %w", err)
	}
	var response []byte
	if len(call.Response) > 0 {
		response = call.Response
	}

	query := `
		INSERT INTO vendor_calls (
			id, case_id, api, request_ref, status, response, signals,
			error_category, error_reason, error_message, duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(call.ID),
		uuid.UUID(call.CaseID),
		string(call.API),
		call.RequestRef,
		string(call.Status),
		response,
		signals,
		string(call.ErrorCategory),
		call.ErrorReason,
		call.ErrorMessage,
		call.Duration.Milliseconds(),
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vendor call: %w", err)
	}
	return nil
}

const selectCalls = `
	SELECT id, case_id, api, request_ref, status, response, signals,
		   error_category, error_reason, error_message, duration_ms, created_at
	FROM vendor_calls
`

func (s *PostgresStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]vendors.Call, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, selectCalls+`WHERE case_id = $1 ORDER BY created_at, id`, uuid.UUID(caseID))
	if err != nil {
		return nil, fmt.Errorf("query vendor calls: %w", err)
	}
	defer rows.Close()
	return scanCalls(rows)
}

func (s *PostgresStore) LatestByCase(ctx context.Context, caseID id.CaseID) ([]vendors.Call, error) {
	query := `
		SELECT DISTINCT ON (api) id, case_id, api, request_ref, status, response, signals,
			   error_category, error_reason, error_message, duration_ms, created_at
		FROM vendor_calls
		WHERE case_id = $1
		ORDER BY api, created_at DESC, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(caseID))
	if err != nil {
		return nil, fmt.Errorf("query latest vendor calls: %w", err)
	}
	defer rows.Close()
	return scanCalls(rows)
}

func scanCalls(rows *sql.Rows) ([]vendors.Call, error) {
	var calls []vendors.Call
	for rows.Next() {
		var (
			call       vendors.Call
			callID     uuid.UUID
			caseID     uuid.UUID
			api        string
			status     string
			response   []byte
			signals    []byte
			category   string
			durationMs int64
		)
		err := rows.Scan(
			&callID,
			&caseID,
			&api,
			&call.RequestRef,
			&status,
			&response,
			&signals,
			&category,
			&call.ErrorReason,
			&call.ErrorMessage,
			&durationMs,
			&call.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vendor call: %w", err)
		}
		call.ID = id.VendorCallID(callID)
		call.CaseID = id.CaseID(caseID)
		call.API = vendors.API(api)
		call.Status = vendors.CallStatus(status)
		call.ErrorCategory = vendors.ErrorCategory(category)
		call.Duration = time.Duration(durationMs) * time.Millisecond
		if len(response) > 0 {
			call.Response = json.RawMessage(response)
		}
		if len(signals) > 0 {
			if err := json.Unmarshal(signals, &call.Signals); err != nil {
				return nil, fmt.Errorf("decode vendor call signals: %w", err)
			}
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendor calls: %w", err)
	}
	return calls, nil
}

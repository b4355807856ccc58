package vault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "kycflow/pkg/domain"
	txcontext "kycflow/pkg/platform/tx"
)

// Postgres keeps collected fields in the vault_fields table. Writes join the
// transaction carried by ctx so OCR write-back commits with the session step.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (v *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return v.db
}

func (v *Postgres) Missing(ctx context.Context, applicantID id.ApplicantID, fields ...Field) ([]Field, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	rows, err := v.execer(ctx).QueryContext(ctx,
		`SELECT field FROM vault_fields WHERE applicant_id = $1 AND field = ANY($2)`,
		uuid.UUID(applicantID), pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("query vault fields: %w", err)
	}
	defer rows.Close()

	present := make(map[Field]bool, len(fields))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan vault field: %w", err)
		}
		present[Field(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault fields: %w", err)
	}

	var missing []Field
	for _, f := range fields {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

func (v *Postgres) WriteFields(ctx context.Context, applicantID id.ApplicantID, values map[Field]string) error {
	query := `
		INSERT INTO vault_fields (applicant_id, field, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (applicant_id, field) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	exec := v.execer(ctx)
	for f, val := range values {
		if _, err := exec.ExecContext(ctx, query, uuid.UUID(applicantID), string(f), val); err != nil {
			return fmt.Errorf("write vault field %s: %w", f, err)
		}
	}
	return nil
}

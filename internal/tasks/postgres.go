package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresQueue stores tasks in the tasks table. Claims lock one due row with
// FOR UPDATE SKIP LOCKED so concurrent workers never pick the same task.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	payload := []byte(t.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, payload, scheduled_for, attempts, enqueued_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, string(t.Kind), payload, t.ScheduledFor, t.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

func (q *PostgresQueue) Claim(ctx context.Context, now time.Time, lease time.Duration) (*Task, error) {
	var (
		t       Task
		kind    string
		payload []byte
	)
	err := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET attempts = attempts + 1, scheduled_for = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE scheduled_for <= $1
			ORDER BY scheduled_for
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, kind, payload, scheduled_for, attempts, enqueued_at
	`, now, now.Add(lease)).Scan(&t.ID, &kind, &payload, &t.ScheduledFor, &t.Attempts, &t.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	t.Kind = Kind(kind)
	t.Payload = payload
	return &t, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ack task %s: %w", id, err)
	}
	return nil
}

func (q *PostgresQueue) Reschedule(ctx context.Context, id string, at time.Time) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE tasks SET scheduled_for = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("reschedule task %s: %w", id, err)
	}
	return nil
}

func (q *PostgresQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

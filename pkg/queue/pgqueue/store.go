// Package pgqueue stores queue tasks in PostgreSQL. Workers claim tasks
// with FOR UPDATE SKIP LOCKED, so any number of instances can share a
// queue.
package pgqueue

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

//go:embed migrations/*.sql
var Migrations embed.FS

const (
	MigrationsDir   = "migrations"
	MigrationsTable = "notify_queue_migrations"
)

// Migrate applies the queue migrations, tracked apart from the
// notification schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	cfg.MigrationsTable = MigrationsTable
	return pg.Migrate(ctx, pool, Migrations, MigrationsDir, cfg, log)
}

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements queue.EnqueuerRepository and queue.WorkerRepository.
type Store struct {
	db  DB
	now func() time.Time
}

var (
	_ queue.EnqueuerRepository = (*Store)(nil)
	_ queue.WorkerRepository   = (*Store)(nil)
)

func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

const taskColumns = `id, queue, task_name, payload, status, priority, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func (s *Store) CreateTask(ctx context.Context, t *queue.Task) error {
	if t == nil {
		return queue.ErrPayloadNil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO queue_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		t.ID, t.Queue, t.TaskName, t.Payload, string(t.Status), int16(t.Priority), int16(t.RetryCount), int16(t.MaxRetries),
		t.ScheduledAt, t.LockedUntil, t.LockedBy, t.ProcessedAt, t.Error, t.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("task %s already exists: %w", t.ID, err)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask locks the highest-priority due task. Processing tasks whose
// lock expired are claimable again.
func (s *Store) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lock time.Duration) (*queue.Task, error) {
	now := s.now()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_tasks
		SET status = 'processing', locked_until = $3, locked_by = $4
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($1::TEXT[])
				AND scheduled_at <= $2
				AND (status = 'pending' OR (status = 'processing' AND locked_until <= $2))
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		queues, now, now.Add(lock), workerID,
	)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (s *Store) CompleteTask(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE queue_tasks
		SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1
	`, id, s.now())
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

// FailTask reschedules the task after retry² seconds, or marks it failed
// once retries are exhausted.
func (s *Store) FailTask(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE queue_tasks
		SET error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count >= max_retries THEN 'failed' ELSE 'pending' END,
			processed_at = CASE WHEN retry_count >= max_retries THEN $3 ELSE NULL END,
			scheduled_at = CASE WHEN retry_count >= max_retries THEN scheduled_at
				ELSE $3 + make_interval(secs => (retry_count + 1) * (retry_count + 1)) END,
			retry_count = CASE WHEN retry_count >= max_retries THEN retry_count ELSE retry_count + 1 END
		WHERE id = $1
	`, id, errMsg, s.now())
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

// DeleteFinished removes completed and failed tasks processed before cutoff.
func (s *Store) DeleteFinished(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM queue_tasks
		WHERE status IN ('completed', 'failed') AND processed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		t      queue.Task
		status string

		priority, retryCount, maxRetries int16
	)
	err := row.Scan(
		&t.ID, &t.Queue, &t.TaskName, &t.Payload, &status, &priority, &retryCount, &maxRetries,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = queue.TaskStatus(status)
	t.Priority = queue.Priority(priority)
	t.RetryCount = int8(retryCount)
	t.MaxRetries = int8(maxRetries)
	return &t, nil
}

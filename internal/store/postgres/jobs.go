package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/store"
)

const jobColumns = `id, public_id, type, payload, priority, status, attempts, max_attempts,
	not_before, COALESCE(idempotency_key, ''), heartbeat_at, last_error, created_at, updated_at, done_at`

type JobStore struct {
	db                 *sql.DB
	defaultMaxAttempts int
}

func NewJobStore(db *sql.DB, defaultMaxAttempts int) *JobStore {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 5
	}
	return &JobStore{db: db, defaultMaxAttempts: defaultMaxAttempts}
}

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.PublicID, &job.Type, &job.Payload, &job.Priority, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.NotBefore, &job.IdempotencyKey,
		&job.HeartbeatAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.DoneAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobStore) EnqueueJob(ctx context.Context, params store.EnqueueJobParams) (*models.Job, error) {
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}
	payload := params.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	notBefore := time.Now().UTC()
	if params.NotBefore != nil {
		notBefore = params.NotBefore.UTC()
	}

	job, err := scanJob(s.db.QueryRowContext(ctx,
		`INSERT INTO jobs (type, payload, priority, max_attempts, not_before, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		 ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		 RETURNING `+jobColumns,
		params.Type, []byte(payload), params.Priority, maxAttempts, notBefore, params.IdempotencyKey,
	))
	if err == nil {
		return job, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Conflict on the idempotency key: return the job that already exists.
	job, err = scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`,
		params.IdempotencyKey,
	))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return job, err
}

func (s *JobStore) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx,
		`WITH next_job AS (
			SELECT id
			FROM jobs
			WHERE status = 'queued'
			  AND not_before <= NOW()
			ORDER BY priority DESC, not_before ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = 'running',
			attempts = j.attempts + 1,
			heartbeat_at = NOW(),
			updated_at = NOW()
		FROM next_job
		WHERE j.id = next_job.id
		RETURNING j.id, j.public_id, j.type, j.payload, j.priority, j.status, j.attempts, j.max_attempts,
			j.not_before, COALESCE(j.idempotency_key, ''), j.heartbeat_at, j.last_error, j.created_at, j.updated_at, j.done_at`,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, commitErr
			}
			return nil, nil
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobStore) HeartbeatJob(ctx context.Context, id int64) error {
	return s.conditionalUpdate(ctx,
		`UPDATE jobs SET heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id)
}

func (s *JobStore) CompleteJob(ctx context.Context, id int64) error {
	return s.conditionalUpdate(ctx,
		`UPDATE jobs
		 SET status = 'completed', last_error = '', done_at = NOW(), heartbeat_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id)
}

func (s *JobStore) FailJob(ctx context.Context, id int64, lastError string) error {
	return s.conditionalUpdate(ctx,
		`UPDATE jobs
		 SET status = 'failed', last_error = $2, done_at = NOW(), heartbeat_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id, lastError)
}

func (s *JobStore) RetryJob(ctx context.Context, id int64, notBefore time.Time, lastError string) error {
	return s.conditionalUpdate(ctx,
		`UPDATE jobs
		 SET status = 'queued', not_before = $2, last_error = $3, heartbeat_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id, notBefore.UTC(), lastError)
}

// CancelJob cancels a queued or running job. Cancellation of a running job is
// cooperative: the row flips to canceled and the worker's eventual
// complete/fail update matches no row, discarding the result.
func (s *JobStore) CancelJob(ctx context.Context, id int64) error {
	return s.conditionalUpdate(ctx,
		`UPDATE jobs
		 SET status = 'canceled', done_at = NOW(), heartbeat_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'running')`, id)
}

func (s *JobStore) GetJobByID(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return job, err
}

func (s *JobStore) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = 'queued', heartbeat_at = NULL, updated_at = NOW()
		 WHERE status = 'running' AND heartbeat_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *JobStore) conditionalUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrInvalidTransition
	}
	return nil
}
